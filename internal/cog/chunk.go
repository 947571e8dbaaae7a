package cog

import "strings"

// maxChunk keeps chunks safely under the 2000-character message cap,
// leaving room for formatting the caller may add.
const maxChunk = 1800

// ChunkMessage splits content into sendable pieces, preferring line
// boundaries and falling back to hard cuts for pathological lines.
func ChunkMessage(content string) []string {
	if len(content) <= maxChunk {
		return []string{content}
	}

	var chunks []string
	var b strings.Builder
	for _, line := range strings.Split(content, "\n") {
		for len(line) > maxChunk {
			if b.Len() > 0 {
				chunks = append(chunks, b.String())
				b.Reset()
			}
			chunks = append(chunks, line[:maxChunk])
			line = line[maxChunk:]
		}
		if b.Len() > 0 && b.Len()+len(line)+1 > maxChunk {
			chunks = append(chunks, b.String())
			b.Reset()
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	if b.Len() > 0 {
		chunks = append(chunks, b.String())
	}
	return chunks
}
