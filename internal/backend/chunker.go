package backend

import (
	"strings"
)

// defaultChunkSize is the target chunk length in runes. Chunk boundaries
// are a backend implementation detail; callers only ever see the count.
const defaultChunkSize = 1200

// chunkContent splits document text into retrieval-sized chunks.
//
// Splitting prefers paragraph boundaries (blank lines) and packs adjacent
// paragraphs until the target size is reached. Paragraphs longer than the
// target are hard-split on rune boundaries so no chunk exceeds twice the
// target.
func chunkContent(content string, size int) []string {
	if size <= 0 {
		size = defaultChunkSize
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	paragraphs := splitParagraphs(content)

	var chunks []string
	var current strings.Builder
	for _, p := range paragraphs {
		if len([]rune(p)) > size {
			if current.Len() > 0 {
				chunks = append(chunks, current.String())
				current.Reset()
			}
			chunks = append(chunks, hardSplit(p, size)...)
			continue
		}

		if current.Len() > 0 && len([]rune(current.String()))+len([]rune(p))+2 > size {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(p)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}

	return chunks
}

// splitParagraphs splits on blank lines, dropping empty segments.
func splitParagraphs(content string) []string {
	raw := strings.Split(content, "\n\n")
	paragraphs := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return paragraphs
}

// hardSplit cuts an oversized paragraph on rune boundaries.
func hardSplit(p string, size int) []string {
	runes := []rune(p)
	chunks := make([]string, 0, len(runes)/size+1)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
