package uploads

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"social-lab/errors"
	"testing"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

// Smallest valid PNG header, enough for sniffing.
var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func TestImageValidator_ValidateImage(t *testing.T) {
	root := t.TempDir()
	req := require.New(t)
	req.NoError(os.MkdirAll(filepath.Join(root, "social_chat"), 0o755))
	req.NoError(os.WriteFile(filepath.Join(root, "social_chat", "cat.png"), pngHeader, 0o644))
	req.NoError(os.WriteFile(filepath.Join(root, "social_chat", "notes.txt"), []byte("just text"), 0o644))
	req.NoError(os.WriteFile(filepath.Join(root, "secret.png"), pngHeader, 0o644))

	validator := NewImageValidator(root, logs.GetLoggerFromLevel(slog.LevelDebug))

	tests := []struct {
		name  string
		url   string
		valid bool
	}{
		{name: "stored png", url: "/uploads/social_chat/cat.png", valid: true},
		{name: "stored png with query", url: "/uploads/social_chat/cat.png?v=2", valid: true},
		{name: "text file", url: "/uploads/social_chat/notes.txt"},
		{name: "missing file", url: "/uploads/social_chat/dog.png"},
		{name: "outside prefix", url: "/uploads/secret.png"},
		{name: "path traversal", url: "/uploads/social_chat/../secret.png"},
		{name: "remote url", url: "https://example.com/uploads/social_chat/cat.png"},
		{name: "prefix only", url: "/uploads/social_chat/"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.ValidateImage(context.Background(), tt.url)
			if tt.valid {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, errors.ErrInvalidImage)
			require.Equal(t, errors.KindValidation, errors.KindOf(err))
		})
	}
}
