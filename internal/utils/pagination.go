// Package utils holds small helpers shared by the HTTP and service layers.
package utils

import "strconv"

// Page bounds.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Page is a 1-based page window over an ordered listing.
type Page struct {
	Number int
	Size   int
}

// NewPage clamps number to >= 1 and size to [1, MaxPageSize]; a size <= 0
// becomes DefaultPageSize.
func NewPage(number, size int) Page {
	if number < 1 {
		number = 1
	}
	switch {
	case size <= 0:
		size = DefaultPageSize
	case size > MaxPageSize:
		size = MaxPageSize
	}
	return Page{Number: number, Size: size}
}

// ParsePage reads page and page_size query values. Unparseable values fall
// back to the defaults before clamping.
func ParsePage(number, size string) Page {
	return NewPage(AtoiDefault(number, 1), AtoiDefault(size, DefaultPageSize))
}

// Offset is the number of rows to skip.
func (p Page) Offset() int { return (p.Number - 1) * p.Size }

// TotalPages returns how many pages of p.Size cover total rows.
func (p Page) TotalPages(total int64) int {
	if total <= 0 || p.Size <= 0 {
		return 0
	}
	return int((total + int64(p.Size) - 1) / int64(p.Size))
}

// AtoiDefault parses s as a decimal int, returning def when s is empty or
// invalid. Whitespace is not trimmed.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}
