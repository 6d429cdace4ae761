package ocr

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/receiptflow/ocr-worker/internal/errors"
)

// Reconstruct filters raw engine output and orders it into a page transcript.
//
// Tokens with blank text or negative confidence are dropped. Tokens whose
// confidence cannot be parsed are dropped and reported in the returned
// warnings. Line keys use pageIndex, not the page number the engine reported.
// Lines are ordered by (block, paragraph, line) and words by word index, so
// the result does not depend on the order of raw.
func Reconstruct(raw []RawToken, pageIndex int) (*PageResult, []*errors.ProcessingError) {
	var warnings []*errors.ProcessingError
	tokens := make([]WordToken, 0, len(raw))

	for _, r := range raw {
		text := strings.TrimSpace(r.Text)
		if text == "" {
			continue
		}

		conf, err := parseConfidence(r.Confidence)
		if err != nil {
			warnings = append(warnings, errors.NewMalformedConfidenceWarning(text, r.Confidence, err))
			continue
		}
		if conf < 0 {
			continue
		}

		tokens = append(tokens, WordToken{
			Text:       text,
			Confidence: conf / 100.0,
			BBox: BBox{
				X1: r.Left,
				Y1: r.Top,
				X2: r.Left + r.Width,
				Y2: r.Top + r.Height,
			},
			LineKey: LineKey{
				Page:      pageIndex,
				Block:     r.Block,
				Paragraph: r.Paragraph,
				Line:      r.Line,
			},
			WordOrder: r.Word,
		})
	}

	sort.Slice(tokens, func(i, j int) bool {
		return tokenLess(tokens[i], tokens[j])
	})

	return &PageResult{
		PageIndex: pageIndex,
		FullText:  joinLines(tokens),
		Items:     tokens,
	}, warnings
}

// parseConfidence reads a 0-100 score. Negative values pass through as the
// engine's "not a word" sentinel.
func parseConfidence(raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("confidence is not finite")
	}
	if v > 100 {
		return 0, fmt.Errorf("confidence %g exceeds 100", v)
	}
	return v, nil
}

// tokenLess is a total order: line key, word index, then geometry and text
// for the degenerate case of repeated word indices.
func tokenLess(a, b WordToken) bool {
	if a.LineKey != b.LineKey {
		return a.LineKey.Less(b.LineKey)
	}
	if a.WordOrder != b.WordOrder {
		return a.WordOrder < b.WordOrder
	}
	if a.BBox.X1 != b.BBox.X1 {
		return a.BBox.X1 < b.BBox.X1
	}
	if a.BBox.Y1 != b.BBox.Y1 {
		return a.BBox.Y1 < b.BBox.Y1
	}
	return a.Text < b.Text
}

// joinLines expects tokens already in reading order.
func joinLines(tokens []WordToken) string {
	var b strings.Builder
	for i, t := range tokens {
		if i > 0 {
			if t.LineKey == tokens[i-1].LineKey {
				b.WriteByte(' ')
			} else {
				b.WriteByte('\n')
			}
		}
		b.WriteString(t.Text)
	}
	return b.String()
}

// TextFromItems rebuilds a page transcript from serialized items alone,
// grouping by line key and ordering lines by (block, paragraph, line).
// Words inside a line keep their order in items.
func TextFromItems(items []WordToken) string {
	groups := make(map[LineKey][]string)
	var keys []LineKey
	for _, it := range items {
		if _, ok := groups[it.LineKey]; !ok {
			keys = append(keys, it.LineKey)
		}
		groups[it.LineKey] = append(groups[it.LineKey], it.Text)
	}

	sort.SliceStable(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	lines := make([]string, len(keys))
	for i, k := range keys {
		lines[i] = strings.Join(groups[k], " ")
	}
	return strings.Join(lines, "\n")
}
