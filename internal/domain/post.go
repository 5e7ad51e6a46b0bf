package domain

import (
	"time"
)

// PostSafety is the content rating assigned to a post.
type PostSafety string

const (
	PostSafetySafe     PostSafety = "safe"
	PostSafetySketchy  PostSafety = "sketchy"
	PostSafetyUnsafe   PostSafety = "unsafe"
	PostSafetyDefault             = PostSafetySafe
)

// Post represents a stored media post. Tag, pool and comment relations are
// owned by other subsystems; this model carries only what the similarity
// engine and the upload path need.
type Post struct {
	ID         int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	StorageKey string     `gorm:"type:text;not null" json:"storage_key"`
	MimeType   string     `gorm:"type:text;not null" json:"mime_type"`
	FileSize   int64      `json:"file_size"`
	Width      int        `json:"width"`
	Height     int        `json:"height"`
	FrameCount int        `json:"frame_count"`
	Checksum   string     `gorm:"type:text;not null;uniqueIndex:idx_posts_checksum" json:"checksum"`
	Safety     PostSafety `gorm:"type:text;default:safe" json:"safety"`
	Source     string     `gorm:"type:text" json:"source,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// TableName returns the database table name for Post.
func (Post) TableName() string {
	return "posts"
}

// PostSignature is a persisted perceptual signature for one sampled frame of a
// post. Still images store exactly one row (frame_index 0); animated media
// store one row per sampled frame. The index structures are rebuilt from these
// rows at startup.
type PostSignature struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	PostID     int64     `gorm:"not null;index:idx_post_signatures_post" json:"post_id"`
	FrameIndex int       `gorm:"not null" json:"frame_index"`
	Signature  string    `gorm:"type:text;not null" json:"signature"` // hex-encoded bit vector
	CreatedAt  time.Time `json:"created_at"`
}

// TableName returns the database table name for PostSignature.
func (PostSignature) TableName() string {
	return "post_signatures"
}
