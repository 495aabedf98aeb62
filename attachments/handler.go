//go:generate go run go.uber.org/mock/mockgen -source=handler.go -destination=../mocks/mock_blob_store.go -package=mocks

// Package attachments coordinates out-of-band file uploads. It sits in
// front of the blob store: size is checked before any byte is transferred,
// the kind is classified from content, and the returned reference is what
// a subsequent message carries.
package attachments

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"negochat/domain"
	"negochat/errors"
)

// BlobStore is the byte storage behind an attachment reference. The
// handler never interprets the returned URL, it only hands it out.
type BlobStore interface {
	Put(ctx context.Context, name string, r io.Reader) (url string, written int64, err error)
}

type Handler struct {
	store   BlobStore
	maxSize int64
	log     *slog.Logger
}

func NewHandler(store BlobStore, maxSize int64, log *slog.Logger) *Handler {
	return &Handler{store: store, maxSize: maxSize, log: log}
}

// Upload stores one file and returns its stable reference.
//
// The declared size is rejected before reading anything, so an oversized
// upload costs no transfer. The limit is enforced again while copying in
// case the declaration lied. Classification inspects content, not the
// filename: the filename is client input and only kept for display.
func (h *Handler) Upload(ctx context.Context, filename string, declaredSize int64, r io.Reader) (domain.Attachment, error) {
	if declaredSize > h.maxSize {
		return domain.Attachment{}, fmt.Errorf("%w: declared %d bytes, limit %d",
			errors.ErrAttachmentTooLarge, declaredSize, h.maxSize)
	}

	// Sniff enough of the head for mimetype detection, then stitch the
	// reader back together for the store.
	head := make([]byte, 3072)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return domain.Attachment{}, fmt.Errorf("upload read failed: %w", err)
	}
	head = head[:n]
	kind := classify(mimetype.Detect(head))

	// One extra byte past the limit turns the copy into a rejection.
	body := io.MultiReader(bytes.NewReader(head), io.LimitReader(r, h.maxSize-int64(n)+1))

	name := storedName(filename)
	url, written, err := h.store.Put(ctx, name, body)
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("blob store write failed: %w", err)
	}
	if written > h.maxSize {
		return domain.Attachment{}, fmt.Errorf("%w: stream exceeded %d bytes",
			errors.ErrAttachmentTooLarge, h.maxSize)
	}

	h.log.Debug("Attachment stored",
		"name", filename,
		"kind", string(kind),
		"bytes", written)

	return domain.Attachment{
		URL:  url,
		Name: filename,
		Kind: kind,
		Size: written,
	}, nil
}

func classify(mt *mimetype.MIME) domain.AttachmentKind {
	switch {
	case strings.HasPrefix(mt.String(), "image/"):
		return domain.AttachmentImage
	case mt.Is("application/pdf"):
		return domain.AttachmentPDF
	default:
		return domain.AttachmentOther
	}
}

// storedName keeps the extension for serving convenience but replaces the
// client-chosen base name with a uuid, so references never collide.
func storedName(filename string) string {
	ext := filepath.Ext(filename)
	return uuid.NewString() + ext
}
