package chunk

import (
	"bytes"
	"context"
	"strings"
)

// LineChunker splits a file into fixed-size, line-overlapping windows. It is
// the fallback for languages the tree-sitter-backed CodeChunker and
// MarkdownChunker do not recognize, so every scanned file with non-blank
// content produces at least one chunk.
type LineChunker struct {
	MaxChars     int
	OverlapLines int
	MinChars     int
}

// NewLineChunker builds a LineChunker from the chunk section of the config.
func NewLineChunker(maxChars, overlapLines, minChars int) *LineChunker {
	return &LineChunker{MaxChars: maxChars, OverlapLines: overlapLines, MinChars: minChars}
}

// SupportedExtensions returns nil: LineChunker is invoked explicitly as the
// catch-all, not matched by extension.
func (l *LineChunker) SupportedExtensions() []string { return nil }

// Chunk splits file.Content into MaxChars-bounded windows of whole lines,
// each overlapping the previous by OverlapLines lines. A trailing window
// shorter than MinChars is merged into the preceding one rather than
// dropped, so no file content is silently discarded.
func (l *LineChunker) Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error) {
	lines := strings.Split(string(file.Content), "\n")
	if len(lines) == 0 || (len(lines) == 1 && lines[0] == "") {
		return nil, nil
	}

	maxChars := l.MaxChars
	if maxChars <= 0 {
		maxChars = DefaultMaxChunkTokens * TokensPerChar
	}
	overlap := l.OverlapLines
	if overlap < 0 {
		overlap = 0
	}

	var chunks []*Chunk
	start := 0
	for start < len(lines) {
		end := start
		size := 0
		for end < len(lines) {
			lineSize := len(lines[end]) + 1
			if size+lineSize > maxChars && end > start {
				break
			}
			size += lineSize
			end++
		}

		content := strings.Join(lines[start:end], "\n")
		if len(bytes.TrimSpace([]byte(content))) > 0 {
			if len(chunks) > 0 && len(content) < l.MinChars {
				prev := chunks[len(chunks)-1]
				prev.Content = prev.Content + "\n" + content
				prev.EndLine = end
			} else {
				chunks = append(chunks, &Chunk{
					FilePath:    file.Path,
					Content:     content,
					ContentType: ContentTypeText,
					Language:    file.Language,
					StartLine:   start + 1,
					EndLine:     end,
				})
			}
		}

		if end >= len(lines) {
			break
		}
		next := end - overlap
		if len(chunks) > 0 && next <= chunks[len(chunks)-1].StartLine-1 {
			next = end
		}
		start = next
	}

	return chunks, nil
}
