package chunker

import "strings"

// fallbackSeparators are tried in order; the empty separator means a
// hard character cut and always matches.
var fallbackSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// recursiveSplit splits text into spans of at most roughly size
// characters, preferring paragraph boundaries, then lines, sentences
// and words before resorting to hard cuts. Each emitted span starts
// with up to overlap characters carried from the previous span.
// With zero overlap the concatenation of the result is exactly text.
func recursiveSplit(text string, separators []string, size, overlap int) []string {
	if text == "" {
		return nil
	}
	if len(text) <= size {
		return []string{text}
	}

	sep := ""
	next := separators
	for i, s := range separators {
		if s == "" {
			sep, next = "", nil
			break
		}
		if strings.Contains(text, s) {
			sep, next = s, separators[i+1:]
			break
		}
	}

	if sep == "" {
		return hardCut(text, size, overlap)
	}

	// SplitAfter keeps each separator attached to the piece before it,
	// so no characters are lost in reassembly.
	parts := strings.SplitAfter(text, sep)

	var out []string
	carried := "" // overlap tail prefixing the next span
	buf := ""

	for _, part := range parts {
		if len(part) > size {
			if buf != "" {
				out = append(out, carried+buf)
				carried, buf = "", ""
			}
			out = append(out, recursiveSplit(part, next, size, overlap)...)
			continue
		}
		if buf != "" && len(carried)+len(buf)+len(part) > size {
			out = append(out, carried+buf)
			carried = ""
			if overlap > 0 && len(buf) > overlap {
				carried = buf[len(buf)-overlap:]
			}
			buf = ""
		}
		buf += part
	}
	if buf != "" {
		out = append(out, carried+buf)
	}
	return out
}

func hardCut(text string, size, overlap int) []string {
	step := size - overlap
	if step <= 0 {
		step = size
	}
	var out []string
	for start := 0; ; start += step {
		end := start + size
		if end >= len(text) {
			out = append(out, text[start:])
			return out
		}
		out = append(out, text[start:end])
	}
}
