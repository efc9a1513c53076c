// Package ingest turns pending pages into embedded vector records. The
// chunker splits page markdown on paragraph boundaries; the processor drains
// pending batches through the embedder into the vector index.
package ingest

import (
	"strings"
)

// Chunk is one embeddable slice of a page.
type Chunk struct {
	PageID        string
	Index         int
	Text          string
	SectionHeader string
	ChunkType     string
}

const (
	ChunkTypeContent = "content"
	ChunkTypeTitle   = "title"
)

// ChunkText splits text into chunks of at most maxSize characters without
// breaking paragraphs. Text that already fits is returned as a single chunk.
// A lone paragraph longer than maxSize is kept whole rather than split
// mid-sentence.
func ChunkText(text string, maxSize int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= maxSize {
		return []string{text}
	}

	text = strings.ReplaceAll(text, "\r\n", "\n")
	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}

	var chunks []string
	var current strings.Builder
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if current.Len() == 0 {
			current.WriteString(para)
			continue
		}
		if current.Len()+2+len(para) <= maxSize {
			current.WriteString("\n\n")
			current.WriteString(para)
			continue
		}
		chunks = append(chunks, current.String())
		current.Reset()
		current.WriteString(para)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

// ChunkPage chunks a page and annotates each chunk with the nearest markdown
// section header above it. Headers are tracked from lines starting with '#'.
func ChunkPage(pageID, title, content string, maxSize int) []Chunk {
	texts := ChunkText(content, maxSize)
	chunks := make([]Chunk, 0, len(texts))
	header := title
	for i, text := range texts {
		section := header
		if h := leadingHeader(text); h != "" {
			section = h
		}
		if h := lastHeader(text); h != "" {
			header = h
		}
		chunks = append(chunks, Chunk{
			PageID:        pageID,
			Index:         i,
			Text:          text,
			SectionHeader: section,
			ChunkType:     ChunkTypeContent,
		})
	}
	return chunks
}

// leadingHeader returns the header when the chunk opens a new section,
// empty when it continues the previous one.
func leadingHeader(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		return headerText(line)
	}
	return ""
}

func lastHeader(text string) string {
	var last string
	for _, line := range strings.Split(text, "\n") {
		if h := headerText(line); h != "" {
			last = h
		}
	}
	return last
}

func headerText(line string) string {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "#") {
		return ""
	}
	return strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
}
