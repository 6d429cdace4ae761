package engine

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/receiptflow/ocr-worker/internal/ocr"
)

// Tesseract TSV columns.
const (
	colLevel = iota
	colPage
	colBlock
	colPar
	colLine
	colWord
	colLeft
	colTop
	colWidth
	colHeight
	colConf
	colText
	tsvColumns
)

// wordLevel is the TSV level of word rows.
const wordLevel = 5

// TSVRowError describes a word row that could not be read.
type TSVRowError struct {
	Line   int
	Reason string
}

func (e *TSVRowError) Error() string {
	return fmt.Sprintf("tsv line %d: %s", e.Line, e.Reason)
}

// ParseTSV reads word rows from Tesseract's TSV output. Rows at other
// levels are ignored. Word rows with unreadable geometry are skipped and
// returned as rowErrs. Confidence is kept as written so that malformed
// values surface during reconstruction.
func ParseTSV(r io.Reader) (tokens []ocr.RawToken, rowErrs []*TSVRowError, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" || strings.HasPrefix(line, "level\t") {
			continue
		}

		fields := strings.SplitN(line, "\t", tsvColumns)
		level, convErr := strconv.Atoi(fields[colLevel])
		if convErr != nil {
			rowErrs = append(rowErrs, &TSVRowError{Line: lineNo, Reason: "unreadable level"})
			continue
		}
		if level != wordLevel {
			continue
		}
		if len(fields) < colConf+1 {
			rowErrs = append(rowErrs, &TSVRowError{Line: lineNo, Reason: fmt.Sprintf("want %d columns, got %d", tsvColumns, len(fields))})
			continue
		}

		var nums [colConf]int
		bad := ""
		for c := colPage; c < colConf; c++ {
			n, convErr := strconv.Atoi(strings.TrimSpace(fields[c]))
			if convErr != nil {
				bad = fmt.Sprintf("column %d is not an integer: %q", c, fields[c])
				break
			}
			nums[c] = n
		}
		if bad != "" {
			rowErrs = append(rowErrs, &TSVRowError{Line: lineNo, Reason: bad})
			continue
		}

		text := ""
		if len(fields) > colText {
			text = fields[colText]
		}

		tokens = append(tokens, ocr.RawToken{
			Text:       text,
			Confidence: fields[colConf],
			Left:       nums[colLeft],
			Top:        nums[colTop],
			Width:      nums[colWidth],
			Height:     nums[colHeight],
			Page:       nums[colPage],
			Block:      nums[colBlock],
			Paragraph:  nums[colPar],
			Line:       nums[colLine],
			Word:       nums[colWord],
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read tsv: %w", err)
	}
	return tokens, rowErrs, nil
}
