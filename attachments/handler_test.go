package attachments

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"negochat/domain"
	"negochat/errors"
)

// recordingStore counts every byte that actually reaches storage, so tests
// can assert that rejected uploads transferred nothing.
type recordingStore struct {
	puts    int
	written int64
}

func (s *recordingStore) Put(_ context.Context, name string, r io.Reader) (string, int64, error) {
	n, err := io.Copy(io.Discard, r)
	if err != nil {
		return "", 0, err
	}
	s.puts++
	s.written += n
	return "/uploads/" + name, n, nil
}

const maxSize = 10 << 20

// pngHeader is a minimal valid PNG signature plus IHDR chunk start.
var pngHeader = []byte{
	0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n',
	0x00, 0x00, 0x00, 0x0d, 'I', 'H', 'D', 'R',
	0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00,
}

func Test_Upload_Rejects_Oversized_Declaration_Before_Transfer(t *testing.T) {
	req := require.New(t)
	store := &recordingStore{}
	handler := NewHandler(store, maxSize, slog.Default())

	// When a 50 MB upload is declared
	_, err := handler.Upload(context.Background(), "huge.bin", 50<<20, strings.NewReader("never read"))

	// Then it fails pre-transfer with zero bytes moved
	req.ErrorIs(err, errors.ErrAttachmentTooLarge)
	req.Zero(store.puts)
	req.Zero(store.written)
}

func Test_Upload_Rejects_Stream_That_Lied_About_Size(t *testing.T) {
	req := require.New(t)
	store := &recordingStore{}
	handler := NewHandler(store, 1024, slog.Default())

	// Given a stream longer than its declaration
	body := bytes.NewReader(bytes.Repeat([]byte{'x'}, 4096))

	_, err := handler.Upload(context.Background(), "sneaky.bin", 512, body)

	req.ErrorIs(err, errors.ErrAttachmentTooLarge)
}

func Test_Upload_Classifies_Png_As_Image(t *testing.T) {
	req := require.New(t)
	store := &recordingStore{}
	handler := NewHandler(store, maxSize, slog.Default())

	ref, err := handler.Upload(context.Background(), "moodboard.png", int64(len(pngHeader)), bytes.NewReader(pngHeader))

	req.NoError(err)
	req.Equal(domain.AttachmentImage, ref.Kind)
	req.Equal("moodboard.png", ref.Name)
	req.Equal(int64(len(pngHeader)), ref.Size)
	req.Contains(ref.URL, "/uploads/")
}

func Test_Upload_Classifies_Pdf_By_Content_Not_Filename(t *testing.T) {
	req := require.New(t)
	store := &recordingStore{}
	handler := NewHandler(store, maxSize, slog.Default())

	// Given PDF content behind a misleading image filename
	content := []byte("%PDF-1.7\n1 0 obj\n<< /Type /Catalog >>\nendobj\n")
	ref, err := handler.Upload(context.Background(), "totally-a-photo.jpg", int64(len(content)), bytes.NewReader(content))

	req.NoError(err)
	req.Equal(domain.AttachmentPDF, ref.Kind)
}

func Test_Upload_Falls_Back_To_Other(t *testing.T) {
	req := require.New(t)
	store := &recordingStore{}
	handler := NewHandler(store, maxSize, slog.Default())

	content := []byte("campaign deliverables:\n- 2 posts\n- 1 reel\n")
	ref, err := handler.Upload(context.Background(), "notes.txt", int64(len(content)), bytes.NewReader(content))

	req.NoError(err)
	req.Equal(domain.AttachmentOther, ref.Kind)
}

func Test_Upload_Generates_Collision_Free_Stored_Names(t *testing.T) {
	req := require.New(t)
	store := &recordingStore{}
	handler := NewHandler(store, maxSize, slog.Default())

	first, err := handler.Upload(context.Background(), "brief.pdf", 4, strings.NewReader("data"))
	req.NoError(err)
	second, err := handler.Upload(context.Background(), "brief.pdf", 4, strings.NewReader("data"))
	req.NoError(err)

	req.NotEqual(first.URL, second.URL)
	req.True(strings.HasSuffix(first.URL, ".pdf"))
}
