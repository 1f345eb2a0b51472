package pdfmeta

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"docworkspace/internal/util"
)

type Info struct {
	Pages int
	Title string
}

// Inspect opens path as a PDF and reports its page count and a heuristic title
// (first non-empty line of the first page with text). Files the reader cannot
// parse fail with util.ErrNotPDF.
func Inspect(path string) (info Info, err error) {
	defer recoverMalformed(path, &err)

	f, r, err := pdf.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("%w: %s: %v", util.ErrNotPDF, path, err)
	}
	defer f.Close()

	info.Pages = r.NumPage()
	if info.Pages == 0 {
		return info, util.ErrEmptyDocument
	}
	for i := 1; i <= info.Pages && info.Title == ""; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		info.Title = firstLine(util.SanitizeText(text))
	}
	return info, nil
}

// PageTexts returns the sanitized plain text of every page, index 0 being page 1.
// Pages without extractable text yield "".
func PageTexts(path string) (pages []string, err error) {
	defer recoverMalformed(path, &err)

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", util.ErrNotPDF, path, err)
	}
	defer f.Close()

	n := r.NumPage()
	pages = make([]string, 0, n)
	for i := 1; i <= n; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract page %d: %w", i, err)
		}
		pages = append(pages, util.SanitizeText(text))
	}
	return pages, nil
}

// the reader panics on some truncated xref tables
func recoverMalformed(path string, err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%w: %s: %v", util.ErrNotPDF, path, r)
	}
}

func firstLine(text string) string {
	s := bufio.NewScanner(strings.NewReader(text))
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line != "" {
			return util.Snippet(line, 120)
		}
	}
	return ""
}
