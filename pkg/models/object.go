package models

import (
	"time"
)

// Object describes a stored payload
type Object struct {
	ID          string    `json:"id"`
	Namespace   string    `json:"namespace"`
	Key         string    `json:"key"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type,omitempty"`
	Checksum    string    `json:"checksum"` // hex sha256
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// UploadResult is returned to the client after a successful upload
type UploadResult struct {
	ID        string `json:"id"`
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
	Size      int64  `json:"size"`
	Checksum  string `json:"checksum"`
}

// Result returns the client-facing view of o
func (o *Object) Result() UploadResult {
	return UploadResult{
		ID:        o.ID,
		Namespace: o.Namespace,
		Key:       o.Key,
		Size:      o.Size,
		Checksum:  o.Checksum,
	}
}
