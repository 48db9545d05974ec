// Package repository stores land title registrations.
package repository

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/helm-app/landregistry/common/landtitle"
)

var (
	// ErrDuplicateSubmission means a registration for the submission ID already exists.
	ErrDuplicateSubmission = errors.New("registration already stored for submission")

	// ErrNotFound means no registration matches the lookup.
	ErrNotFound = errors.New("registration not found")

	// ErrUnavailable wraps failures that may succeed on retry.
	ErrUnavailable = errors.New("registration store unavailable")

	// ErrInvalidRecord means the store refused the record itself; retrying cannot help.
	ErrInvalidRecord = errors.New("registration rejected by store")
)

// Registration is a stored land title registration.
type Registration struct {
	ID           int64  `json:"id"`
	SubmissionID string `json:"submission_id"`
	landtitle.Fields
	ReceivedAt      time.Time          `json:"received_at"`
	CreatedAt       time.Time          `json:"created_at"`
	AttachmentCount int                `json:"attachment_count"`
	Attachments     []AttachmentRecord `json:"attachments,omitempty"`
}

// AttachmentRecord is the stored metadata of one attachment. Data is only
// populated for inline attachments written by SaveRegistration.
type AttachmentRecord struct {
	Position     int    `json:"position"`
	OriginalName string `json:"original_name"`
	ContentType  string `json:"content_type"`
	Size         int64  `json:"size"`
	ObjectKey    string `json:"object_key,omitempty"`
	Data         []byte `json:"-"`
}

// Repository defines the interface for registration storage
type Repository interface {
	// SaveRegistration stores sub and its attachments atomically. A second
	// save of the same submission ID returns ErrDuplicateSubmission.
	SaveRegistration(ctx context.Context, sub landtitle.Submission) (*Registration, error)
	GetRegistration(ctx context.Context, submissionID string) (*Registration, error)
	ListRegistrations(ctx context.Context, limit, offset int) ([]Registration, int, error)

	// Health check
	Ping(ctx context.Context) error
	Close() error
}

// BlobStore holds attachment bytes outside the database.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// AttachmentKey is the object key of an attachment. It depends only on the
// submission and position so a retried save overwrites the same object.
func AttachmentKey(submissionID string, position int, name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." || base == "/" {
		base = "attachment"
	}
	return fmt.Sprintf("registrations/%s/%02d-%s", submissionID, position, base)
}

func newRegistration(sub landtitle.Submission) *Registration {
	return &Registration{
		SubmissionID:    sub.ID,
		Fields:          sub.Fields,
		ReceivedAt:      sub.ReceivedAt.UTC(),
		AttachmentCount: len(sub.Attachments),
	}
}
