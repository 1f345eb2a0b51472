package util

import "errors"

var (
	ErrNotPDF            = errors.New("file is not a readable PDF")
	ErrEmptyDocument     = errors.New("document has no pages")
	ErrUnsupportedSuffix = errors.New("only .pdf documents are accepted")
)
