package s3blob

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/poolmarket/internal/domain"
)

const (
	// minPartSize is the smallest part S3 accepts in a multipart upload.
	minPartSize int64 = 5 * 1024 * 1024

	// multipartThreshold is the size above which uploads are split into
	// parts. Bodies of unknown size always are.
	multipartThreshold int64 = 16 * 1024 * 1024
)

// Writer implements domain.BlobWriter.
type Writer struct {
	client   *s3.Client
	bucket   string
	uploader *manager.Uploader
}

// NewWriter returns a Writer for c's bucket.
func NewWriter(c *Client) *Writer {
	return &Writer{
		client: c.s3,
		bucket: c.bucket,
		uploader: manager.NewUploader(c.s3, func(u *manager.Uploader) {
			u.PartSize = minPartSize
		}),
	}
}

// Upload stores u with one PutObject when its size is known and small, and
// through the multipart uploader otherwise.
func (w *Writer) Upload(ctx context.Context, u domain.Upload) error {
	in := &s3.PutObjectInput{
		Bucket:   aws.String(w.bucket),
		Key:      aws.String(u.Key),
		Body:     u.Body,
		Metadata: u.Meta,
	}
	if u.ContentType != "" {
		in.ContentType = aws.String(u.ContentType)
	}

	if u.Size >= 0 && u.Size <= multipartThreshold {
		in.ContentLength = aws.Int64(u.Size)
		if _, err := w.client.PutObject(ctx, in); err != nil {
			return fmt.Errorf("s3blob: put %s: %w", u.Key, err)
		}
		return nil
	}
	if _, err := w.uploader.Upload(ctx, in); err != nil {
		return fmt.Errorf("s3blob: multipart upload %s: %w", u.Key, err)
	}
	return nil
}

var _ domain.BlobWriter = (*Writer)(nil)
