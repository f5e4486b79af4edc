package s3blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/domain"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type fakeFetcher struct {
	data        []byte
	contentType string
	err         error
}

func (f *fakeFetcher) Fetch(context.Context, domain.Attachment) (io.ReadCloser, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	return io.NopCloser(bytes.NewReader(f.data)), f.contentType, nil
}

type putCall struct {
	path        string
	contentType string
	size        int
	multipart   bool
}

type fakeWriter struct {
	puts []putCall
	err  error
}

func (w *fakeWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	b, _ := io.ReadAll(data)
	w.puts = append(w.puts, putCall{path: path, contentType: contentType, size: len(b)})
	return w.err
}

func (w *fakeWriter) PutMultipart(_ context.Context, path string, data io.Reader, _ int64) error {
	b, _ := io.ReadAll(data)
	w.puts = append(w.puts, putCall{path: path, size: len(b), multipart: true})
	return w.err
}

func newTestHost(w *fakeWriter, f *fakeFetcher, max int64) *ImageHost {
	h := NewImageHost(w, f, "https://cdn.example.com/", max, slog.New(slog.NewTextHandler(io.Discard, nil)))
	h.newKey = func() string { return "fixed" }
	return h
}

func TestUploadStoresImage(t *testing.T) {
	w := &fakeWriter{}
	h := newTestHost(w, &fakeFetcher{data: pngHeader}, 0)

	got, err := h.Upload(context.Background(), domain.Attachment{FileID: "f1"})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if got != "https://cdn.example.com/markets/fixed.png" {
		t.Fatalf("Upload() = %q", got)
	}
	if len(w.puts) != 1 || w.puts[0].path != "markets/fixed.png" || w.puts[0].contentType != "image/png" {
		t.Fatalf("puts = %+v", w.puts)
	}
}

func TestUploadPrefersDeclaredType(t *testing.T) {
	w := &fakeWriter{}
	h := newTestHost(w, &fakeFetcher{data: []byte("not sniffable"), contentType: "application/octet-stream"}, 0)

	got, err := h.Upload(context.Background(), domain.Attachment{MimeType: "image/jpeg"})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if got != "https://cdn.example.com/markets/fixed.jpg" {
		t.Fatalf("Upload() = %q", got)
	}
}

func TestUploadRejects(t *testing.T) {
	tests := []struct {
		name    string
		fetcher *fakeFetcher
		max     int64
		want    error
	}{
		{name: "not an image", fetcher: &fakeFetcher{data: []byte("hello world")}, want: ErrNotImage},
		{name: "too large", fetcher: &fakeFetcher{data: bytes.Repeat([]byte{0}, 32)}, max: 16, want: ErrImageTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &fakeWriter{}
			_, err := newTestHost(w, tt.fetcher, tt.max).Upload(context.Background(), domain.Attachment{})
			if !errors.Is(err, tt.want) {
				t.Fatalf("Upload() error = %v, want %v", err, tt.want)
			}
			if len(w.puts) != 0 {
				t.Fatal("stored a rejected attachment")
			}
		})
	}
}

func TestUploadFetchFailure(t *testing.T) {
	w := &fakeWriter{}
	_, err := newTestHost(w, &fakeFetcher{err: errors.New("gone")}, 0).Upload(context.Background(), domain.Attachment{})
	if err == nil {
		t.Fatal("Upload() succeeded after a fetch failure")
	}
}

func TestNormaliseEndpoint(t *testing.T) {
	if got := normaliseEndpoint("minio:9000", false); got != "http://minio:9000" {
		t.Fatalf("normaliseEndpoint() = %q", got)
	}
	if got := normaliseEndpoint("https://r2.example.com", false); got != "https://r2.example.com" {
		t.Fatalf("normaliseEndpoint() = %q", got)
	}
}
