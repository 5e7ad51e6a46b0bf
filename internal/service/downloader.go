package service

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/go-resty/resty/v2"
)

// Downloader fetches remote media for upload-by-URL requests.
type Downloader struct {
	client  *resty.Client
	maxSize int64
}

// NewDownloader creates a Downloader with the given request timeout and
// maximum download size in bytes.
func NewDownloader(timeout time.Duration, maxSize int64) *Downloader {
	client := resty.New().
		SetTimeout(timeout).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(5)).
		SetHeader("User-Agent", "booru/1.0")
	return &Downloader{client: client, maxSize: maxSize}
}

// Fetch downloads the content at url, enforcing the size limit. Returns the
// body and the reported content type.
func (d *Downloader) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	resp, err := d.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		return nil, "", fmt.Errorf("download failed: %w", err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, "", fmt.Errorf("download failed: unexpected status %d", resp.StatusCode())
	}

	data, err := io.ReadAll(io.LimitReader(body, d.maxSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("download failed: %w", err)
	}
	if int64(len(data)) > d.maxSize {
		return nil, "", fmt.Errorf("download exceeds limit of %d bytes", d.maxSize)
	}

	return data, resp.Header().Get("Content-Type"), nil
}
