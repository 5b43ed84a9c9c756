package domain

import (
	"context"
	"io"
	"time"
)

// BlobObject describes an object in the archive store.
type BlobObject struct {
	Key         string
	Size        int64
	ETag        string
	ContentType string
	ModifiedAt  time.Time
	// Meta is user metadata attached at upload, e.g. the payload checksum.
	Meta map[string]string
}

// Upload is a single object to store. Size may be -1 when the length is not
// known up front.
type Upload struct {
	Key         string
	Body        io.Reader
	Size        int64
	ContentType string
	Meta        map[string]string
}

// BlobWriter stores archive objects.
type BlobWriter interface {
	Upload(ctx context.Context, u Upload) error
}

// BlobReader reads archive objects back. Open and Stat return ErrNotFound
// for a missing key.
type BlobReader interface {
	Open(ctx context.Context, key string) (io.ReadCloser, BlobObject, error)
	Stat(ctx context.Context, key string) (BlobObject, error)
	List(ctx context.Context, prefix string) ([]BlobObject, error)
}
