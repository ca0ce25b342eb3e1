// Package chunking splits extracted text into retrieval-sized chunks.
package chunking

import (
	"strings"
	"unicode/utf8"
)

const (
	DefaultChunkSize = 1000
	DefaultOverlap   = 200
)

// DefaultSeparators are tried in order: paragraph, line, sentence, word,
// then single characters.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// RecursiveSplitter splits on the coarsest separator that yields pieces
// shorter than ChunkSize and merges neighbouring pieces back up to ChunkSize
// runes, carrying up to Overlap runes into the next chunk.
type RecursiveSplitter struct {
	ChunkSize  int
	Overlap    int
	Separators []string
}

func NewRecursiveSplitter(chunkSize, overlap int) *RecursiveSplitter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &RecursiveSplitter{
		ChunkSize:  chunkSize,
		Overlap:    overlap,
		Separators: DefaultSeparators,
	}
}

func (s *RecursiveSplitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	separators := s.Separators
	if len(separators) == 0 {
		separators = DefaultSeparators
	}
	return s.splitText(text, separators)
}

func (s *RecursiveSplitter) splitText(text string, separators []string) []string {
	separator := ""
	var rest []string
	for i, sep := range separators {
		if sep == "" {
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			rest = separators[i+1:]
			break
		}
	}

	var pieces []string
	if separator == "" {
		pieces = strings.Split(text, "")
	} else {
		pieces = strings.SplitAfter(text, separator)
	}

	var (
		final []string
		good  []string
	)
	for _, piece := range pieces {
		if piece == "" {
			continue
		}
		if utf8.RuneCountInString(piece) < s.ChunkSize {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			final = append(final, s.merge(good)...)
			good = nil
		}
		if len(rest) == 0 {
			final = append(final, s.hardSplit(piece)...)
			continue
		}
		final = append(final, s.splitText(piece, rest)...)
	}
	if len(good) > 0 {
		final = append(final, s.merge(good)...)
	}
	return final
}

// merge packs pieces into chunks of at most ChunkSize runes. Pieces keep
// their trailing separator, so joining them restores the source text.
func (s *RecursiveSplitter) merge(pieces []string) []string {
	var (
		out     []string
		current []string
		total   int
	)
	flush := func() {
		if chunk := strings.TrimSpace(strings.Join(current, "")); chunk != "" {
			out = append(out, chunk)
		}
	}

	for _, piece := range pieces {
		length := utf8.RuneCountInString(piece)
		if total+length > s.ChunkSize && len(current) > 0 {
			flush()
			for len(current) > 0 && (total > s.Overlap || total+length > s.ChunkSize) {
				total -= utf8.RuneCountInString(current[0])
				current = current[1:]
			}
		}
		current = append(current, piece)
		total += length
	}
	if len(current) > 0 {
		flush()
	}
	return out
}

func (s *RecursiveSplitter) hardSplit(text string) []string {
	runes := []rune(text)
	step := s.ChunkSize - s.Overlap
	if step <= 0 {
		step = s.ChunkSize
	}

	out := make([]string, 0, len(runes)/step+1)
	for start := 0; start < len(runes); start += step {
		end := min(start+s.ChunkSize, len(runes))
		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			out = append(out, chunk)
		}
		if end == len(runes) {
			break
		}
	}
	return out
}
