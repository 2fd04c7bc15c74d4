package chunker

import (
	"strings"
	"unicode/utf8"
)

// WrapChunker packs whitespace-separated words greedily into chunks of at
// most width runes. Words are never split: a word longer than width becomes
// a chunk of its own.
type WrapChunker struct {
	width int
}

func NewWrapChunker(width int) *WrapChunker {
	if width <= 0 {
		width = 1000
	}
	return &WrapChunker{width: width}
}

func (c *WrapChunker) Width() int {
	return c.width
}

// Chunk returns nil for text with no words.
func (c *WrapChunker) Chunk(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var chunks []string
	var current strings.Builder
	currentLen := 0

	for _, word := range words {
		wordLen := utf8.RuneCountInString(word)

		if currentLen > 0 && currentLen+1+wordLen > c.width {
			chunks = append(chunks, current.String())
			current.Reset()
			currentLen = 0
		}

		if currentLen > 0 {
			current.WriteByte(' ')
			currentLen++
		}
		current.WriteString(word)
		currentLen += wordLen
	}

	if currentLen > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}
