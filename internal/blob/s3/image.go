package s3blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/domain"
)

var _ domain.ImageHost = (*ImageHost)(nil)

// DefaultMaxImageBytes caps an uploaded market image.
const DefaultMaxImageBytes = 10 << 20

// multipartThreshold switches large images to the multipart uploader.
const multipartThreshold = 8 << 20

// ErrNotImage is returned for attachments that are not images.
var ErrNotImage = errors.New("s3blob: attachment is not an image")

// ErrImageTooLarge is returned for attachments over the size cap.
var ErrImageTooLarge = errors.New("s3blob: image too large")

// ImageHost copies chat attachments into object storage under markets/.
type ImageHost struct {
	writer     domain.BlobWriter
	fetcher    domain.FileFetcher
	publicBase string
	maxBytes   int64
	newKey     func() string
	logger     *slog.Logger
}

// NewImageHost creates an ImageHost writing through w and serving objects
// from publicBase.
func NewImageHost(w domain.BlobWriter, f domain.FileFetcher, publicBase string, maxBytes int64, logger *slog.Logger) *ImageHost {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxImageBytes
	}
	return &ImageHost{
		writer:     w,
		fetcher:    f,
		publicBase: publicBase,
		maxBytes:   maxBytes,
		newKey:     func() string { return uuid.NewString() },
		logger:     logger.With(slog.String("component", "image_host")),
	}
}

// Upload fetches the attachment from the transport, stores it, and returns
// its public URL.
func (h *ImageHost) Upload(ctx context.Context, att domain.Attachment) (string, error) {
	body, contentType, err := h.fetcher.Fetch(ctx, att)
	if err != nil {
		return "", fmt.Errorf("s3blob: fetch attachment: %w", err)
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, h.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("s3blob: read attachment: %w", err)
	}
	if int64(len(data)) > h.maxBytes {
		return "", ErrImageTooLarge
	}

	contentType = imageType(contentType, att.MimeType, data)
	if contentType == "" {
		return "", ErrNotImage
	}

	key := "markets/" + h.newKey() + extension(contentType)
	if len(data) >= multipartThreshold {
		err = h.writer.PutMultipart(ctx, key, bytes.NewReader(data), 0)
	} else {
		err = h.writer.Put(ctx, key, bytes.NewReader(data), contentType)
	}
	if err != nil {
		return "", err
	}

	h.logger.InfoContext(ctx, "image stored",
		slog.String("key", key),
		slog.Int("bytes", len(data)),
	)
	return publicURL(h.publicBase, key), nil
}

// imageType picks the first image content type among the transport header,
// the attachment metadata, and sniffing the bytes.
func imageType(header, declared string, data []byte) string {
	for _, ct := range []string{header, declared, http.DetectContentType(data)} {
		ct = strings.TrimSpace(strings.SplitN(ct, ";", 2)[0])
		if strings.HasPrefix(ct, "image/") {
			return ct
		}
	}
	return ""
}

func extension(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ""
	}
}
