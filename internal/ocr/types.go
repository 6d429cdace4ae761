/**
 * OCR Types - Shared data structures for OCR operations
 *
 * RawToken is what a recognition engine reports; WordToken, PageResult and
 * DocumentResult are the ordered, JSON-serializable artifact built from it.
 */

package ocr

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// PageBreak separates page transcripts in the aggregated document text.
const PageBreak = "\n\n----- PAGE BREAK -----\n\n"

// RawToken is one word as reported by a recognition engine, before filtering.
// Records arrive as an unordered bag; no meaning is attached to slice order.
type RawToken struct {
	Text string
	// Confidence is the engine's score on a 0-100 scale as reported, e.g. "91.5".
	// Negative values mark entries that are not words.
	Confidence string

	Left   int
	Top    int
	Width  int
	Height int

	// Page is the engine's own page number. It is ignored when building line keys.
	Page      int
	Block     int
	Paragraph int
	Line      int
	Word      int
}

// BBox is an axis-aligned rectangle in page pixel coordinates.
// It serializes as [x1, y1, x2, y2].
type BBox struct {
	X1, Y1, X2, Y2 int
}

func (b BBox) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]int{b.X1, b.Y1, b.X2, b.Y2})
}

func (b *BBox) UnmarshalJSON(data []byte) error {
	var coords [4]int
	if err := json.Unmarshal(data, &coords); err != nil {
		return fmt.Errorf("bbox must be [x1,y1,x2,y2]: %w", err)
	}
	b.X1, b.Y1, b.X2, b.Y2 = coords[0], coords[1], coords[2], coords[3]
	return nil
}

// LineKey identifies the printed line a word belongs to.
// It serializes as "page:block:paragraph:line".
type LineKey struct {
	Page      int
	Block     int
	Paragraph int
	Line      int
}

func (k LineKey) String() string {
	return fmt.Sprintf("%d:%d:%d:%d", k.Page, k.Block, k.Paragraph, k.Line)
}

// Less orders keys by (block, paragraph, line) as integers.
func (k LineKey) Less(o LineKey) bool {
	if k.Block != o.Block {
		return k.Block < o.Block
	}
	if k.Paragraph != o.Paragraph {
		return k.Paragraph < o.Paragraph
	}
	return k.Line < o.Line
}

func (k LineKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *LineKey) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseLineKey(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseLineKey parses the "page:block:paragraph:line" form.
func ParseLineKey(s string) (LineKey, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 4 {
		return LineKey{}, fmt.Errorf("line key %q: want 4 fields, got %d", s, len(parts))
	}
	var nums [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return LineKey{}, fmt.Errorf("line key %q: %w", s, err)
		}
		nums[i] = n
	}
	return LineKey{Page: nums[0], Block: nums[1], Paragraph: nums[2], Line: nums[3]}, nil
}

// WordToken is one retained word on a page.
type WordToken struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	BBox       BBox    `json:"bbox"`
	LineKey    LineKey `json:"line_key"`

	// WordOrder is the engine's intra-line index; used for sorting only.
	WordOrder int `json:"-"`
}

// PageResult is one page's transcript and ordered tokens.
type PageResult struct {
	PageIndex int         `json:"page_index"`
	FullText  string      `json:"full_text"`
	Items     []WordToken `json:"items"`
}

// DocumentResult is the artifact for one source document. It is built once and
// never modified; reprocessing produces a new value.
type DocumentResult struct {
	Engine string       `json:"engine"`
	Pages  []PageResult `json:"pages"`
}

// AggregatedText joins every page transcript with PageBreak, in page order.
func (d *DocumentResult) AggregatedText() string {
	texts := make([]string, len(d.Pages))
	for i, p := range d.Pages {
		texts[i] = p.FullText
	}
	return strings.Join(texts, PageBreak)
}

// WordCount returns the number of retained tokens across all pages.
func (d *DocumentResult) WordCount() int {
	n := 0
	for _, p := range d.Pages {
		n += len(p.Items)
	}
	return n
}
