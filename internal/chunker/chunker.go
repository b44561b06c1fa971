// Package chunker implements a shared text chunker, used by the simple_ingest, url_ingest, and markitdown_ingest
// plugins, since they all need to split long text into overlapping windows.
package chunker

import (
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// SplitterType selects how ChunkText measures "size": by rune count
// (recursive/char) or by token count (token), per simple_ingest's
// splitter_type parameter.
type SplitterType string

const (
	SplitterRecursive SplitterType = "recursive"
	SplitterChar      SplitterType = "char"
	SplitterToken     SplitterType = "token"
)

// ChunkerConfig configures the text chunker.
type ChunkerConfig struct {
	ChunkSize    int          // target chunk size, in runes or tokens depending on Splitter
	ChunkOverlap int          // overlap between chunks, same unit as ChunkSize
	Separator    string       // separator to split on (default "\n\n"), ignored for char/token
	Splitter     SplitterType // default SplitterRecursive
	Passthrough  bool         // if true, return the entire text as one chunk
}

// DefaultChunkerConfig returns simple_ingest's documented defaults:
// recursive splitting, size 1000, overlap 200.
func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{
		ChunkSize:    1000,
		ChunkOverlap: 200,
		Separator:    "\n\n",
		Splitter:     SplitterRecursive,
	}
}

// Chunk holds a single chunk of text with its position.
type Chunk struct {
	Text     string
	Index    int
	Metadata map[string]string
}

// ChunkText splits text into overlapping chunks using the configured
// splitter. Supports passthrough mode (returns entire text as single chunk).
func ChunkText(text string, config ChunkerConfig) []Chunk {
	if config.ChunkSize <= 0 {
		config.ChunkSize = 1000
	}
	if config.ChunkOverlap < 0 {
		config.ChunkOverlap = 0
	}
	if config.Splitter == "" {
		config.Splitter = SplitterRecursive
	}

	if config.Passthrough {
		return []Chunk{{Text: text, Index: 0, Metadata: map[string]string{}}}
	}

	switch config.Splitter {
	case SplitterToken:
		return tokenSplit(text, config.ChunkSize, config.ChunkOverlap)
	case SplitterChar:
		return charSplit(text, config.ChunkSize, config.ChunkOverlap)
	default:
		if utf8.RuneCountInString(text) <= config.ChunkSize {
			return []Chunk{{Text: text, Index: 0, Metadata: map[string]string{}}}
		}
		separators := []string{"\n\n", "\n", ". ", " ", ""}
		if config.Separator != "" {
			separators = append([]string{config.Separator}, separators...)
		}
		return recursiveSplit(text, separators, config.ChunkSize, config.ChunkOverlap)
	}
}

// recursiveSplit splits text on the first separator in the list that occurs
// in it (the final "" separator splits into single runes) and merges the
// pieces into chunks of up to chunkSize runes. A piece longer than chunkSize
// on its own is kept whole as one chunk; it is not split again with the
// later separators.
func recursiveSplit(text string, separators []string, chunkSize, overlap int) []Chunk {
	if utf8.RuneCountInString(text) <= chunkSize {
		return []Chunk{{Text: text, Metadata: map[string]string{}}}
	}

	// Find the best separator (first one that produces segments)
	var segments []string
	var usedSep string
	for _, sep := range separators {
		if sep == "" {
			// Character-level split
			segments = splitByRunes(text, chunkSize)
			usedSep = ""
			break
		}
		parts := strings.Split(text, sep)
		if len(parts) > 1 {
			segments = parts
			usedSep = sep
			break
		}
	}

	if len(segments) == 0 {
		return []Chunk{{Text: text, Metadata: map[string]string{}}}
	}

	// Merge segments into chunks of target size
	var chunks []Chunk
	var current strings.Builder
	for _, seg := range segments {
		candidate := current.String()
		if candidate != "" {
			candidate += usedSep
		}
		candidate += seg

		if utf8.RuneCountInString(candidate) > chunkSize && current.Len() > 0 {
			// Flush current chunk
			chunks = append(chunks, Chunk{Text: current.String(), Metadata: map[string]string{}})

			// Apply overlap: keep the tail of the current chunk
			tail := overlapTail(current.String(), overlap)
			current.Reset()
			if tail != "" {
				current.WriteString(tail)
				current.WriteString(usedSep)
			}
			current.WriteString(seg)
		} else {
			if current.Len() > 0 {
				current.WriteString(usedSep)
			}
			current.WriteString(seg)
		}
	}
	if current.Len() > 0 {
		chunks = append(chunks, Chunk{Text: current.String(), Metadata: map[string]string{}})
	}

	// Set indices
	for i := range chunks {
		chunks[i].Index = i
	}
	return chunks
}

// charSplit breaks text into fixed-size rune windows with overlap, ignoring
// natural boundaries entirely (simple_ingest's "char" splitter_type).
func charSplit(text string, chunkSize, overlap int) []Chunk {
	runes := []rune(text)
	if len(runes) <= chunkSize {
		return []Chunk{{Text: text, Index: 0, Metadata: map[string]string{}}}
	}
	step := chunkSize - overlap
	if step <= 0 {
		step = chunkSize
	}
	var chunks []Chunk
	for start := 0; start < len(runes); start += step {
		end := start + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, Chunk{Text: string(runes[start:end]), Index: len(chunks), Metadata: map[string]string{}})
		if end == len(runes) {
			break
		}
	}
	return chunks
}

var tokenEncoding, _ = tiktoken.GetEncoding("cl100k_base")

// tokenSplit measures chunk size in cl100k_base tokens rather than runes
// (simple_ingest's "token" splitter_type).
func tokenSplit(text string, chunkSize, overlap int) []Chunk {
	if tokenEncoding == nil {
		return charSplit(text, chunkSize, overlap)
	}
	tokens := tokenEncoding.Encode(text, nil, nil)
	if len(tokens) <= chunkSize {
		return []Chunk{{Text: text, Index: 0, Metadata: map[string]string{}}}
	}
	step := chunkSize - overlap
	if step <= 0 {
		step = chunkSize
	}
	var chunks []Chunk
	for start := 0; start < len(tokens); start += step {
		end := start + chunkSize
		if end > len(tokens) {
			end = len(tokens)
		}
		chunks = append(chunks, Chunk{Text: tokenEncoding.Decode(tokens[start:end]), Index: len(chunks), Metadata: map[string]string{}})
		if end == len(tokens) {
			break
		}
	}
	return chunks
}

// overlapTail returns the last `n` characters of s.
func overlapTail(s string, n int) string {
	runes := []rune(s)
	if n >= len(runes) {
		return s
	}
	return string(runes[len(runes)-n:])
}

// splitByRunes splits text into segments of n runes each.
func splitByRunes(text string, n int) []string {
	runes := []rune(text)
	var segments []string
	for i := 0; i < len(runes); i += n {
		end := i + n
		if end > len(runes) {
			end = len(runes)
		}
		segments = append(segments, string(runes[i:end]))
	}
	return segments
}
