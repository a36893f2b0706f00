// Package utils provides small helpers shared by the HTTP and service layers.
// They carry no domain logic.
package utils

import "strconv"

// Page bounds applied to every paginated listing.
const (
	DefaultPage     = 1
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// AtoiDefault converts s with strconv.Atoi and returns def when s is empty or
// not an integer.
//
//	utils.AtoiDefault("42", 0) // 42
//	utils.AtoiDefault("x", 5)  // 5
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// ClampPage parses raw page and page_size query values. Unparseable values
// take the defaults; the page is at least 1 and the size is kept within
// [1, MaxPageSize].
func ClampPage(rawPage, rawSize string) (page, size int) {
	page = AtoiDefault(rawPage, DefaultPage)
	if page < 1 {
		page = 1
	}
	size = AtoiDefault(rawSize, DefaultPageSize)
	if size < 1 {
		size = 1
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return page, size
}

// Offset turns a 1-based page into an offset and limit. A page below 1 is
// treated as the first page and a non-positive size as DefaultPageSize.
func Offset(page, size int) (offset, limit int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	return (page - 1) * size, size
}

// TotalPages is ceil(total/size), or 0 when size is not positive.
func TotalPages(total int64, size int) int {
	if size <= 0 || total <= 0 {
		return 0
	}
	return int((total + int64(size) - 1) / int64(size))
}
