/*
Package pod stores proof-of-delivery attachments.

PURPOSE:
  The dispatch core treats a POD as an opaque file reference. This package
  is where the bytes behind those references live. Upload handlers Put the
  file here and pass the returned Info.Key to the trip lifecycle.

DRIVERS:
  memory - in-process map (tests, demo mode)
  s3     - S3 or any S3-compatible service such as MinIO

KEY LAYOUT:
  pod/<tanker-day-id>/<trip-seq>/<uuid>-<sanitized-filename>

  Keys are create-only: a second Put to the same key fails with ErrExists.
*/
package pod

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Driver string

const (
	DriverMemory Driver = "memory"
	DriverS3     Driver = "s3"
)

var (
	ErrNotFound = errors.New("pod: object not found")
	ErrExists   = errors.New("pod: object already exists")
)

type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// Info describes a stored attachment.
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
}

type Store interface {
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Head(ctx context.Context, key string) (Info, error)
	List(ctx context.Context, prefix string) ([]Info, error)
	Driver() Driver
}

// Key builds a fresh object key for one uploaded file.
func Key(tankerDayID string, tripSeq int, filename string) string {
	return path.Join(Prefix(tankerDayID, tripSeq), uuid.NewString()+"-"+sanitize(filename))
}

// Prefix is the key prefix shared by all attachments of one trip.
func Prefix(tankerDayID string, tripSeq int) string {
	return fmt.Sprintf("pod/%s/%d", tankerDayID, tripSeq)
}

func sanitize(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	s := strings.Trim(b.String(), ".")
	if s == "" {
		return "file"
	}
	return s
}
