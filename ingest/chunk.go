package ingest

import "strings"

// chunker splits normalized text into bounded chunks that overlap by a
// fixed number of characters.
type chunker struct {
	maxSize int
	overlap int
}

// Split returns the text in one piece when it fits, otherwise accumulates
// paragraphs up to maxSize, starting each new chunk with the last overlap
// characters of the chunk just emitted. A paragraph larger than maxSize is
// hard-split at the last space before the limit, or exactly at the limit
// when that space sits in the first half of the chunk. Every character of
// the input appears in at least one chunk.
func (c chunker) Split(text string) []string {
	if len(text) <= c.maxSize {
		return []string{text}
	}

	paragraphs := strings.Split(text, "\n\n")

	var chunks []string
	current := ""

	emit := func(chunk string) string {
		chunks = append(chunks, chunk)
		if len(chunk) <= c.overlap {
			return chunk
		}
		return chunk[len(chunk)-c.overlap:]
	}

	for _, para := range paragraphs {
		switch {
		case current == "":
			current = para
		case len(current)+2+len(para) > c.maxSize:
			tail := emit(current)
			current = tail + "\n\n" + para
		default:
			current = current + "\n\n" + para
		}

		// Hard-split oversize accumulations (single oversize paragraph,
		// or overlap plus paragraph exceeding the limit).
		for len(current) > c.maxSize {
			cut := strings.LastIndex(current[:c.maxSize], " ")
			if cut < c.maxSize/2 {
				cut = c.maxSize
			}
			tail := emit(current[:cut])
			current = tail + current[cut:]
		}
	}

	if final := strings.TrimSpace(current); final != "" {
		chunks = append(chunks, final)
	}
	return chunks
}
