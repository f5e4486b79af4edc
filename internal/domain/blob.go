package domain

import (
	"context"
	"io"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// ImageHost stores an inbound image attachment and returns a durable URL.
type ImageHost interface {
	Upload(ctx context.Context, att Attachment) (string, error)
}

// FileFetcher downloads the bytes behind a transport attachment.
type FileFetcher interface {
	Fetch(ctx context.Context, att Attachment) (body io.ReadCloser, contentType string, err error)
}
