package moderation

import (
	"fmt"
	"log/slog"
	"testing"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func BenchmarkModerator_Censor(b *testing.B) {
	wordCount := 100_000
	words := make([]string, 0, wordCount)
	for i := 0; i < wordCount; i++ {
		words = append(words, fmt.Sprintf("word%dx", i))
	}
	mod, err := NewModerator(words, replacementChar, logs.GetLoggerFromLevel(slog.LevelError))
	require.NoError(b, err)

	text := "a perfectly normal sentence hiding word42x and word99999x among friends"
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		mod.Censor(text)
	}
}
