package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/ent0n29/voxcollect/internal/reliability"
)

// upload fetches a Telegram file through its direct download URL.
type upload struct {
	adapter *Adapter
	fileID  string
	ext     string
}

func (u *upload) FileID() string { return u.fileID }

func (u *upload) Extension() string { return u.ext }

func (u *upload) Open(ctx context.Context) (io.ReadCloser, error) {
	url, err := u.adapter.api.GetFileDirectURL(u.fileID)
	if err != nil {
		return nil, classify("resolve file", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", redact(err))
	}
	resp, err := u.adapter.download.Do(req)
	if err != nil {
		return nil, reliability.Transport("download file", redact(err))
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		err := fmt.Errorf("download file: unexpected status %d", resp.StatusCode)
		if reliability.IsRetryableHTTPStatus(resp.StatusCode) {
			return nil, reliability.Transport("download file", err)
		}
		return nil, err
	}
	return resp.Body, nil
}

var mimeExtensions = map[string]string{
	"audio/ogg":   "ogg",
	"audio/opus":  "ogg",
	"audio/mpeg":  "mp3",
	"audio/mp3":   "mp3",
	"audio/mp4":   "m4a",
	"audio/x-m4a": "m4a",
	"audio/wav":   "wav",
	"audio/x-wav": "wav",
	"audio/flac":  "flac",
	"audio/webm":  "webm",
}

// extensionFor picks a file extension from the MIME type, then the file
// name, then fallback.
func extensionFor(mimeType, fileName, fallback string) string {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if ext, ok := mimeExtensions[mimeType]; ok {
		return ext
	}
	if ext := strings.TrimPrefix(strings.ToLower(path.Ext(fileName)), "."); ext != "" {
		return ext
	}
	return fallback
}
