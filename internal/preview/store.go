// Package preview keeps a copy of each submitted image so the browser can render it
// while the analysis runs. A handle must be released once the session no longer
// shows it.
package preview

import (
	"context"
	"errors"
	"time"

	"github.com/example/mammo-check/internal/upload"
)

// ErrNotFound is returned by Get for unknown or released previews.
var ErrNotFound = errors.New("preview not found")

// Handle identifies a stored preview.
type Handle struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
}

// Preview is a stored image.
type Preview struct {
	Handle
	Data []byte `json:"data"`
}

// Store holds previews. Release is idempotent.
type Store interface {
	Put(ctx context.Context, sessionID string, file *upload.File) (Handle, error)
	Get(ctx context.Context, id string) (*Preview, error)
	Release(ctx context.Context, id string) error
}

func newHandle(id, sessionID string, file *upload.File, now time.Time) Handle {
	return Handle{
		ID:          id,
		SessionID:   sessionID,
		FileName:    file.Name,
		ContentType: file.ContentType,
		Size:        int64(len(file.Data)),
		CreatedAt:   now,
	}
}
