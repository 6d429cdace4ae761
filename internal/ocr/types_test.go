package ocr

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestAggregatedText(t *testing.T) {
	tests := []struct {
		name  string
		pages []string
		want  string
	}{
		{"two pages", []string{"A", "B"}, "A\n\n----- PAGE BREAK -----\n\nB"},
		{"single page", []string{"TOT 12.34"}, "TOT 12.34"},
		{"empty middle page", []string{"A", "", "C"}, "A" + PageBreak + PageBreak + "C"},
		{"no pages", nil, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			doc := &DocumentResult{Engine: "tesseract"}
			for i, text := range tc.pages {
				doc.Pages = append(doc.Pages, PageResult{PageIndex: i + 1, FullText: text, Items: []WordToken{}})
			}
			if got := doc.AggregatedText(); got != tc.want {
				t.Fatalf("AggregatedText() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestDocumentResultJSONShape(t *testing.T) {
	page, _ := Reconstruct([]RawToken{
		{Text: "TOT", Confidence: "90", Left: 0, Top: 0, Width: 10, Height: 10, Block: 1, Paragraph: 1, Line: 1, Word: 1},
	}, 1)
	doc := &DocumentResult{Engine: "tesseract", Pages: []PageResult{*page}}

	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	want := `{"engine":"tesseract","pages":[{"page_index":1,"full_text":"TOT","items":[{"text":"TOT","confidence":0.9,"bbox":[0,0,10,10],"line_key":"1:1:1:1"}]}]}`
	if string(data) != want {
		t.Fatalf("JSON = %s\nwant   %s", data, want)
	}
	if strings.Contains(string(data), "WordOrder") {
		t.Fatalf("word order leaked into artifact: %s", data)
	}

	var back DocumentResult
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if back.Pages[0].Items[0].LineKey != (LineKey{Page: 1, Block: 1, Paragraph: 1, Line: 1}) {
		t.Errorf("line key = %+v", back.Pages[0].Items[0].LineKey)
	}
	if TextFromItems(back.Pages[0].Items) != back.Pages[0].FullText {
		t.Errorf("transcript does not rebuild from deserialized items")
	}
}

func TestEmptyPageSerializesEmptyItems(t *testing.T) {
	page, _ := Reconstruct(nil, 1)
	data, err := json.Marshal(page)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(data) != `{"page_index":1,"full_text":"","items":[]}` {
		t.Fatalf("JSON = %s", data)
	}
}

func TestParseLineKey(t *testing.T) {
	k, err := ParseLineKey("2:10:3:9")
	if err != nil {
		t.Fatalf("ParseLineKey() error = %v", err)
	}
	if k != (LineKey{Page: 2, Block: 10, Paragraph: 3, Line: 9}) {
		t.Fatalf("ParseLineKey() = %+v", k)
	}

	for _, bad := range []string{"", "1:2:3", "1:2:x:4", "1:2:3:4:5"} {
		if _, err := ParseLineKey(bad); err == nil {
			t.Errorf("ParseLineKey(%q) expected error", bad)
		}
	}
}
