package rag

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	// DefaultChunkSize and DefaultChunkOverlap are character budgets, not
	// token budgets. Sizes are measured in runes so Korean text is not
	// penalized by its UTF-8 width.
	DefaultChunkSize    = 900
	DefaultChunkOverlap = 120
)

var mdHeadingPattern = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)

var paragraphSplit = regexp.MustCompile(`\n\s*\n`)

// Chunk is one indexable piece of a document.
type Chunk struct {
	ID     string                 `json:"id"`
	Text   string                 `json:"text"`
	Source string                 `json:"source"`
	Meta   map[string]interface{} `json:"meta"`
}

// StableChunkIDs derives deterministic identifiers for a chunk so
// re-indexing overwrites instead of duplicating. The point id is a UUIDv5
// (valid as a vector store point id), the chunk id a short display key.
func StableChunkIDs(docset, source, headingPath string, chunkIndex int) (pointID, chunkID string) {
	base := fmt.Sprintf("%s|%s|%s|%d", docset, source, headingPath, chunkIndex)
	pointID = uuid.NewSHA1(uuid.NameSpaceURL, []byte(base)).String()
	digest := sha1.Sum([]byte(base))
	chunkID = "ch_" + hex.EncodeToString(digest[:])[:24]
	return pointID, chunkID
}

type mdBlock struct {
	code bool
	text string
}

// splitMarkdownBlocks separates fenced code blocks from prose. Fence lines
// stay with their code block.
func splitMarkdownBlocks(text string) []mdBlock {
	var out []mdBlock
	var buf []string
	inCode := false

	flush := func(code bool) {
		if len(buf) == 0 {
			return
		}
		out = append(out, mdBlock{code: code, text: strings.Trim(strings.Join(buf, "\n"), "\n")})
		buf = nil
	}

	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			if inCode {
				buf = append(buf, line)
				flush(true)
				inCode = false
			} else {
				flush(false)
				inCode = true
				buf = append(buf, line)
			}
			continue
		}
		buf = append(buf, line)
	}
	flush(inCode)
	return out
}

func paragraphs(text string) []string {
	var out []string
	for _, p := range paragraphSplit.Split(text, -1) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func runeLen(s string) int {
	return len([]rune(s))
}

func runeTail(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}

type rawChunk struct {
	text        string
	headingPath string
}

// chunkMarkdown splits markdown into chunks bounded by chunkSize runes.
// Headings delimit sections and contribute the heading_path ("H1 > H2")
// carried in each chunk's metadata. Code blocks stay whole unless they alone
// exceed the budget, in which case they are hard-split. The overlap is a
// rune-level tail of the previous chunk prefixed onto the next one.
func chunkMarkdown(text string, chunkSize, overlap int) []rawChunk {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	blocks := splitMarkdownBlocks(text)

	type heading struct {
		level int
		title string
	}
	var headingStack []heading

	headingPath := func() string {
		parts := make([]string, 0, len(headingStack))
		for _, h := range headingStack {
			if h.title != "" {
				parts = append(parts, h.title)
			}
		}
		return strings.Join(parts, " > ")
	}

	setHeading := func(level int, title string) {
		for len(headingStack) > 0 && headingStack[len(headingStack)-1].level >= level {
			headingStack = headingStack[:len(headingStack)-1]
		}
		headingStack = append(headingStack, heading{level: level, title: strings.TrimSpace(title)})
	}

	var chunks []rawChunk
	buf := ""
	curSection := ""

	emit := func(piece, section string) {
		if piece = strings.TrimSpace(piece); piece != "" {
			chunks = append(chunks, rawChunk{text: piece, headingPath: section})
		}
	}

	flushBuf := func() {
		if strings.TrimSpace(buf) != "" {
			emit(buf, curSection)
		}
		buf = ""
	}

	accumulate := func(p string) {
		switch {
		case buf == "":
			buf = p
		case runeLen(buf)+2+runeLen(p) <= chunkSize:
			buf = buf + "\n\n" + p
		default:
			flushBuf()
			buf = p
		}
	}

	for _, block := range blocks {
		if block.code {
			code := strings.Trim(block.text, "\n")
			if strings.TrimSpace(code) == "" {
				continue
			}
			if runeLen(code) > chunkSize {
				flushBuf()
				runes := []rune(code)
				for start := 0; start < len(runes); start += chunkSize {
					end := start + chunkSize
					if end > len(runes) {
						end = len(runes)
					}
					emit(string(runes[start:end]), curSection)
				}
			} else {
				if buf != "" && runeLen(buf)+2+runeLen(code) > chunkSize {
					flushBuf()
				}
				if buf == "" {
					buf = code
				} else {
					buf = buf + "\n\n" + code
				}
			}
			continue
		}

		var tmp []string
		for _, line := range strings.Split(block.text, "\n") {
			if m := mdHeadingPattern.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
				for _, p := range paragraphs(strings.Join(tmp, "\n")) {
					accumulate(p)
				}
				tmp = nil
				// Section boundary: never mix content across headings.
				flushBuf()
				setHeading(len(m[1]), m[2])
				curSection = headingPath()
				continue
			}
			tmp = append(tmp, line)
		}
		for _, p := range paragraphs(strings.Join(tmp, "\n")) {
			accumulate(p)
		}
	}
	flushBuf()

	return applyOverlap(chunks, overlap)
}

// chunkTextFallback is paragraph-based chunking for non-markdown text.
func chunkTextFallback(text string, chunkSize, overlap int) []rawChunk {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	var raw []rawChunk
	buf := ""
	for _, p := range paragraphs(text) {
		switch {
		case buf == "":
			buf = p
		case runeLen(buf)+2+runeLen(p) <= chunkSize:
			buf = buf + "\n\n" + p
		default:
			raw = append(raw, rawChunk{text: buf})
			buf = p
		}
	}
	if buf != "" {
		raw = append(raw, rawChunk{text: buf})
	}

	return applyOverlap(raw, overlap)
}

// applyOverlap prefixes each chunk with the tail of its predecessor. The
// tail is taken from the pre-overlap text so prefixes do not compound.
func applyOverlap(chunks []rawChunk, overlap int) []rawChunk {
	if overlap <= 0 || len(chunks) <= 1 {
		return chunks
	}
	out := make([]rawChunk, 0, len(chunks))
	prevTail := ""
	for _, ch := range chunks {
		next := ch
		if prevTail != "" {
			next.text = prevTail + ch.text
		}
		out = append(out, next)
		prevTail = runeTail(ch.text, overlap)
	}
	return out
}

// ChunkDocument chunks one source file and assigns stable ids and metadata.
// Markdown files get heading-aware chunking, everything else the paragraph
// fallback.
func ChunkDocument(text, source, docset string, markdown bool, chunkSize, overlap int) []Chunk {
	var raw []rawChunk
	if markdown {
		raw = chunkMarkdown(text, chunkSize, overlap)
	} else {
		raw = chunkTextFallback(text, chunkSize, overlap)
	}

	out := make([]Chunk, 0, len(raw))
	for idx, ch := range raw {
		pointID, chunkID := StableChunkIDs(docset, source, ch.headingPath, idx)
		meta := map[string]interface{}{
			"docset":      docset,
			"chunk_index": idx,
			"chunk_id":    chunkID,
		}
		if markdown {
			meta["heading_path"] = ch.headingPath
		}
		out = append(out, Chunk{
			ID:     pointID,
			Text:   ch.text,
			Source: source,
			Meta:   meta,
		})
	}
	return out
}
