package decoder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/hszk-dev/mediacache/internal/domain/model"
	"github.com/hszk-dev/mediacache/internal/domain/repository"
)

// signatureLength is how many leading bytes are sampled for format sniffing.
const signatureLength = 16

// Locator turns a media URI into an input a decoder process can open and
// samples the content signature used for plugin selection.
type Locator interface {
	Resolve(ctx context.Context, uri string) (string, error)
	Signature(ctx context.Context, uri string) ([]byte, error)
}

// FileLocator serves file:// URIs and bare paths.
type FileLocator struct{}

var _ Locator = FileLocator{}

func (FileLocator) Resolve(_ context.Context, uri string) (string, error) {
	path, err := filePath(uri)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fileError(path, err)
	}
	if info.IsDir() {
		return "", model.NewMediaError(model.CodeUnreadable, fmt.Sprintf("path is a directory: %s", path), nil)
	}
	return path, nil
}

func (FileLocator) Signature(_ context.Context, uri string) ([]byte, error) {
	path, err := filePath(uri)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fileError(path, err)
	}
	defer f.Close()

	buf := make([]byte, signatureLength)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, model.NewMediaError(model.CodeUnreadable, "", err)
	}
	return buf[:n], nil
}

func filePath(uri string) (string, error) {
	if !strings.Contains(uri, "://") {
		return uri, nil
	}
	u, err := url.Parse(uri)
	if err != nil {
		return "", model.NewMediaError(model.CodeMissing, fmt.Sprintf("invalid uri %q", uri), err)
	}
	if u.Scheme != "file" {
		return "", model.NewMediaError(model.CodeUnsupported, fmt.Sprintf("unsupported scheme %q", u.Scheme), nil)
	}
	return u.Path, nil
}

func fileError(path string, err error) error {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return model.NewMediaError(model.CodeMissing, fmt.Sprintf("file does not exist: %s", path), nil)
	case errors.Is(err, os.ErrPermission):
		return model.NewMediaError(model.CodeUnreadable, fmt.Sprintf("permission denied: %s", path), nil)
	default:
		return model.NewMediaError(model.CodeUnreadable, "", err)
	}
}

// ObjectLocator serves s3://bucket/key URIs from object storage. Decoders
// stream the object through a presigned URL.
type ObjectLocator struct {
	storage repository.ObjectStorage
	expiry  time.Duration
}

var _ Locator = (*ObjectLocator)(nil)

// NewObjectLocator creates an ObjectLocator whose presigned URLs live for expiry.
func NewObjectLocator(storage repository.ObjectStorage, expiry time.Duration) *ObjectLocator {
	return &ObjectLocator{storage: storage, expiry: expiry}
}

func (l *ObjectLocator) Resolve(ctx context.Context, uri string) (string, error) {
	key, err := l.objectKey(uri)
	if err != nil {
		return "", err
	}

	exists, err := l.storage.Exists(ctx, key)
	if err != nil {
		return "", model.NewMediaError(model.CodeUnreadable, "", err)
	}
	if !exists {
		return "", model.NewMediaError(model.CodeMissing, fmt.Sprintf("object does not exist: %s", key), nil)
	}

	u, err := l.storage.GeneratePresignedDownloadURL(ctx, key, l.expiry)
	if err != nil {
		return "", model.NewMediaError(model.CodeUnreadable, "", err)
	}
	return u, nil
}

func (l *ObjectLocator) Signature(ctx context.Context, uri string) ([]byte, error) {
	key, err := l.objectKey(uri)
	if err != nil {
		return nil, err
	}

	head, err := l.storage.ReadHead(ctx, key, signatureLength)
	if err != nil {
		if errors.Is(err, repository.ErrObjectNotFound) {
			return nil, model.NewMediaError(model.CodeMissing, fmt.Sprintf("object does not exist: %s", key), nil)
		}
		return nil, model.NewMediaError(model.CodeUnreadable, "", err)
	}
	return head, nil
}

func (l *ObjectLocator) objectKey(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != "s3" {
		return "", model.NewMediaError(model.CodeMissing, fmt.Sprintf("invalid object uri %q", uri), err)
	}
	if u.Host != l.storage.Bucket() {
		return "", model.NewMediaError(model.CodeMissing, fmt.Sprintf("unknown bucket %q", u.Host), nil)
	}
	return strings.TrimPrefix(u.Path, "/"), nil
}

// SchemeLocator dispatches on the URI scheme. URIs without a scheme use the
// "file" entry. Schemes without an entry are passed through untouched with an
// empty signature.
type SchemeLocator map[string]Locator

var _ Locator = SchemeLocator{}

func (s SchemeLocator) Resolve(ctx context.Context, uri string) (string, error) {
	if l, ok := s[scheme(uri)]; ok {
		return l.Resolve(ctx, uri)
	}
	return uri, nil
}

func (s SchemeLocator) Signature(ctx context.Context, uri string) ([]byte, error) {
	if l, ok := s[scheme(uri)]; ok {
		return l.Signature(ctx, uri)
	}
	return nil, nil
}

func scheme(uri string) string {
	i := strings.Index(uri, "://")
	if i < 0 {
		return "file"
	}
	return uri[:i]
}
