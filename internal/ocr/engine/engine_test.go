package engine

import (
	"context"
	"image"
	"image/color"
	"os/exec"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		want    string
		wantErr bool
	}{
		{"default is gosseract", Config{}, "*engine.GosseractEngine", false},
		{"gosseract", Config{Type: TypeGosseract, Language: "ita"}, "*engine.GosseractEngine", false},
		{"cli", Config{Type: TypeTesseractCLI}, "*engine.CLIEngine", false},
		{"unknown", Config{Type: "paddle"}, "", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e, err := New(tc.cfg)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("New(%+v) expected error", tc.cfg)
				}
				return
			}
			if err != nil {
				t.Fatalf("New(%+v) error = %v", tc.cfg, err)
			}
			if got := typeName(e); got != tc.want {
				t.Errorf("New(%+v) = %s, want %s", tc.cfg, got, tc.want)
			}
			if e.Name() != "tesseract" {
				t.Errorf("Name() = %q, want tesseract", e.Name())
			}
		})
	}
}

func TestCLIEngineArgs(t *testing.T) {
	e := NewCLIEngine(Config{Language: "ita+eng"})
	if e.binary != "tesseract" {
		t.Errorf("binary = %q, want tesseract", e.binary)
	}

	want := []string{"stdin", "stdout", "-l", "ita+eng", "--psm", "6", "tsv"}
	got := e.args()
	if len(got) != len(want) {
		t.Fatalf("args = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("args = %v, want %v", got, want)
		}
	}

	if NewCLIEngine(Config{TesseractPath: "/opt/tess/bin/tesseract"}).binary != "/opt/tess/bin/tesseract" {
		t.Error("TesseractPath not passed through")
	}
}

func TestCLIEngineMissingBinary(t *testing.T) {
	e := NewCLIEngine(Config{Language: "eng", TesseractPath: "/nonexistent/tesseract"})
	if _, err := e.Recognize(context.Background(), blankPage()); err == nil {
		t.Fatal("Recognize() expected error for missing binary")
	}
}

func TestEnginesRejectEmptyPage(t *testing.T) {
	if _, err := NewCLIEngine(Config{}).Recognize(context.Background(), image.NewGray(image.Rect(0, 0, 0, 0))); err == nil {
		t.Error("CLI engine accepted an empty page")
	}
	if _, err := NewGosseractEngine(Config{}).Recognize(context.Background(), nil); err == nil {
		t.Error("gosseract engine accepted a nil page")
	}
}

func TestCLIEngineBlankPage(t *testing.T) {
	if _, err := exec.LookPath("tesseract"); err != nil {
		t.Skip("tesseract binary not installed")
	}

	tokens, err := NewCLIEngine(Config{Language: "eng"}).Recognize(context.Background(), blankPage())
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	for _, tok := range tokens {
		if tok.Word == 0 {
			t.Errorf("non-word row returned: %+v", tok)
		}
	}
}

func blankPage() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, 200, 100))
	for i := range img.Pix {
		img.Pix[i] = color.White.Y
	}
	return img
}

func typeName(v interface{}) string {
	switch v.(type) {
	case *GosseractEngine:
		return "*engine.GosseractEngine"
	case *CLIEngine:
		return "*engine.CLIEngine"
	default:
		return "unknown"
	}
}
