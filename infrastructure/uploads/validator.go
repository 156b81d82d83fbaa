package uploads

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"social-lab/domain/mimetypes"
	"social-lab/errors"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// ChatImagePrefix is the public path under which chat images are served.
const ChatImagePrefix = "/uploads/social_chat/"

const sniffSize = 512

// ImageValidator checks that a chat image url points to an image already stored
// by the upload service. The url path maps to a file under root.
type ImageValidator struct {
	root string
	log  *slog.Logger
}

func NewImageValidator(root string, log *slog.Logger) *ImageValidator {
	return &ImageValidator{root: root, log: log}
}

func (v *ImageValidator) ValidateImage(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name, ok := v.fileName(url)
	if !ok {
		return fmt.Errorf("%w: unexpected path", errors.ErrInvalidImage)
	}

	file, err := os.Open(filepath.Join(v.root, filepath.FromSlash(name)))
	if err != nil {
		v.log.Debug("Chat image not found", "url", url, "error", err)
		return fmt.Errorf("%w: unknown upload", errors.ErrInvalidImage)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil || !info.Mode().IsRegular() {
		return fmt.Errorf("%w: not a file", errors.ErrInvalidImage)
	}

	sniffBuf := make([]byte, sniffSize)
	n, err := io.ReadFull(file, sniffBuf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: unreadable", errors.ErrInvalidImage)
	}

	detected := mimetype.Detect(sniffBuf[:n]).String()
	if _, ok := mimetypes.MatchesAny(detected, mimetypes.ChatImages); !ok {
		v.log.Debug("Chat image rejected", "url", url, "mime", detected)
		return fmt.Errorf("%w: %s", errors.ErrInvalidImage, detected)
	}
	return nil
}

// fileName returns the path relative to root, refusing anything leaving the chat folder.
func (v *ImageValidator) fileName(url string) (string, bool) {
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		url = url[:i]
	}
	if !strings.HasPrefix(url, ChatImagePrefix) {
		return "", false
	}
	cleaned := path.Clean(url)
	if !strings.HasPrefix(cleaned, ChatImagePrefix) || cleaned == strings.TrimSuffix(ChatImagePrefix, "/") {
		return "", false
	}
	return strings.TrimPrefix(cleaned, "/uploads/"), true
}
