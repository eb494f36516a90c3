package chunker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

var errDegenerate = errors.New("not enough sentences for semantic boundaries")

// semantic splits text at topic shifts: embed each sentence, measure
// cosine dissimilarity between consecutive sentences, and cut a
// boundary wherever the dissimilarity exceeds the configured percentile
// of all dissimilarities in the document. Adjacent sentences between
// boundaries form one chunk; undersized chunks merge into a neighbor.
func (c *Chunker) semantic(ctx context.Context, text string) ([]string, error) {
	sentences := splitSentences(text)
	if len(sentences) < 2 {
		return nil, errDegenerate
	}

	vectors, err := c.embedder.Embed(ctx, sentences)
	if err != nil {
		return nil, fmt.Errorf("embed sentences: %w", err)
	}
	if len(vectors) != len(sentences) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d sentences", len(vectors), len(sentences))
	}

	distances := make([]float64, len(sentences)-1)
	for i := range distances {
		sim, err := cosineSimilarity(vectors[i], vectors[i+1])
		if err != nil {
			return nil, err
		}
		distances[i] = 1 - sim
	}

	threshold := percentile(distances, c.cfg.BreakpointPercentile)

	var chunks []string
	start := 0
	for i, d := range distances {
		if d > threshold {
			chunks = append(chunks, strings.Join(sentences[start:i+1], " "))
			start = i + 1
		}
	}
	chunks = append(chunks, strings.Join(sentences[start:], " "))

	return mergeSmallChunks(chunks, c.cfg.MinChunkSize), nil
}

// splitSentences does basic terminator-based sentence splitting.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	runes := []rune(strings.TrimSpace(text))
	for i, r := range runes {
		current.WriteRune(r)
		if (r == '.' || r == '!' || r == '?') && i+1 < len(runes) &&
			(runes[i+1] == ' ' || runes[i+1] == '\n') {
			if s := strings.TrimSpace(current.String()); s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

func cosineSimilarity(a, b []float64) (float64, error) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, fmt.Errorf("vector length mismatch: %d vs %d", len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0, errors.New("zero-magnitude embedding vector")
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}

// percentile returns the p-th percentile of values using linear
// interpolation between closest ranks.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// mergeSmallChunks folds chunks under minSize characters into the
// following chunk (or the preceding one for a small tail), so topical
// fragments do not produce noise iterations downstream.
func mergeSmallChunks(chunks []string, minSize int) []string {
	if len(chunks) == 0 {
		return nil
	}

	var result []string
	buffer := ""
	for _, chunk := range chunks {
		if buffer == "" {
			buffer = chunk
			continue
		}
		if len(buffer) < minSize {
			buffer = buffer + "\n\n" + chunk
			continue
		}
		result = append(result, buffer)
		buffer = chunk
	}
	if buffer != "" {
		if len(result) > 0 && len(buffer) < minSize {
			result[len(result)-1] = result[len(result)-1] + "\n\n" + buffer
		} else {
			result = append(result, buffer)
		}
	}
	return result
}
