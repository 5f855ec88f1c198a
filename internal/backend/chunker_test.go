package backend

import (
	"strings"
	"testing"
)

func TestChunkContent(t *testing.T) {
	tests := []struct {
		name       string
		content    string
		size       int
		wantChunks int
	}{
		{"empty", "", 100, 0},
		{"whitespace only", "   \n\n  ", 100, 0},
		{"single short paragraph", "hello world", 100, 1},
		{"two paragraphs packed", "first\n\nsecond", 100, 1},
		{"two paragraphs split", strings.Repeat("a", 60) + "\n\n" + strings.Repeat("b", 60), 100, 2},
		{"oversized paragraph hard split", strings.Repeat("x", 250), 100, 3},
		{"defaults applied for zero size", "hello", 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := chunkContent(tt.content, tt.size)
			if len(chunks) != tt.wantChunks {
				t.Errorf("chunkContent() = %d chunks, want %d", len(chunks), tt.wantChunks)
			}
		})
	}
}

func TestChunkContent_NoChunkExceedsTwiceTarget(t *testing.T) {
	content := strings.Repeat("word ", 2000)
	for _, chunk := range chunkContent(content, 100) {
		if n := len([]rune(chunk)); n > 200 {
			t.Errorf("chunk length %d exceeds twice the target", n)
		}
	}
}

func TestChunkContent_PreservesAllText(t *testing.T) {
	content := "alpha\n\nbeta\n\n" + strings.Repeat("gamma ", 300)
	joined := strings.Join(chunkContent(content, 120), "")
	for _, word := range []string{"alpha", "beta", "gamma"} {
		if !strings.Contains(joined, word) {
			t.Errorf("chunks lost %q", word)
		}
	}
}

func TestHardSplit_RuneBoundaries(t *testing.T) {
	content := strings.Repeat("héllo wörld ", 50)
	for _, chunk := range hardSplit(content, 37) {
		if !strings.ContainsAny(chunk, "hélowrd ") {
			t.Errorf("unexpected chunk content %q", chunk)
		}
		for _, r := range chunk {
			if r == '�' {
				t.Fatalf("chunk split inside a rune: %q", chunk)
			}
		}
	}
}
