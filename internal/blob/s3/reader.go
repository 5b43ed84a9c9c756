package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/alanyoungcy/poolmarket/internal/domain"
)

// Reader implements domain.BlobReader.
type Reader struct {
	client *s3.Client
	bucket string
}

// NewReader returns a Reader for c's bucket.
func NewReader(c *Client) *Reader {
	return &Reader{client: c.s3, bucket: c.bucket}
}

// Open streams the object at key together with its attributes. The caller
// closes the body.
func (r *Reader) Open(ctx context.Context, key string) (io.ReadCloser, domain.BlobObject, error) {
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, domain.BlobObject{}, wrapErr("open", key, err)
	}
	obj := domain.BlobObject{
		Key:         key,
		Size:        aws.ToInt64(out.ContentLength),
		ETag:        strings.Trim(aws.ToString(out.ETag), `"`),
		ContentType: aws.ToString(out.ContentType),
		Meta:        out.Metadata,
	}
	if out.LastModified != nil {
		obj.ModifiedAt = *out.LastModified
	}
	return out.Body, obj, nil
}

// Stat returns the attributes of the object at key without its body.
func (r *Reader) Stat(ctx context.Context, key string) (domain.BlobObject, error) {
	out, err := r.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return domain.BlobObject{}, wrapErr("stat", key, err)
	}
	obj := domain.BlobObject{
		Key:         key,
		Size:        aws.ToInt64(out.ContentLength),
		ETag:        strings.Trim(aws.ToString(out.ETag), `"`),
		ContentType: aws.ToString(out.ContentType),
		Meta:        out.Metadata,
	}
	if out.LastModified != nil {
		obj.ModifiedAt = *out.LastModified
	}
	return obj, nil
}

// List returns every object under prefix. Listing does not carry user
// metadata; Stat an object to read it.
func (r *Reader) List(ctx context.Context, prefix string) ([]domain.BlobObject, error) {
	var objs []domain.BlobObject
	pages := s3.NewListObjectsV2Paginator(r.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(r.bucket),
		Prefix: aws.String(prefix),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3blob: list %s: %w", prefix, err)
		}
		for _, o := range page.Contents {
			obj := domain.BlobObject{
				Key:  aws.ToString(o.Key),
				Size: aws.ToInt64(o.Size),
				ETag: strings.Trim(aws.ToString(o.ETag), `"`),
			}
			if o.LastModified != nil {
				obj.ModifiedAt = *o.LastModified
			}
			objs = append(objs, obj)
		}
	}
	return objs, nil
}

// wrapErr maps the provider's missing-object errors to domain.ErrNotFound.
func wrapErr(op, key string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("s3blob: %s %s: %w", op, key, domain.ErrNotFound)
	}
	return fmt.Errorf("s3blob: %s %s: %w", op, key, err)
}

// isNotFound matches NoSuchKey, the bare 404 HeadObject returns, and
// providers that only surface the HTTP status.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var httpErr interface{ HTTPStatusCode() int }
	return errors.As(err, &httpErr) && httpErr.HTTPStatusCode() == 404
}

var _ domain.BlobReader = (*Reader)(nil)
