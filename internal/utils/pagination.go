// Package utils provides small helpers shared by the HTTP handlers:
// lenient numeric coercion for query and form fields, and the bounded
// paging window used by the listing endpoints.
package utils

import "strconv"

// AtoiDefault converts a string to an int, falling back to def when the
// string is empty or not a valid integer. Handlers use it for fields
// where a missing value has a documented default.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// PageWindow resolves raw page / page_size query values into a bounded
// listing window. The page floors at 1 and the size is clamped to
// [1, maxSize]; unparseable values take the defaults. Checkup and
// transaction listings share these bounds so clients cannot request
// unbounded result sets.
func PageWindow(pageStr, sizeStr string, defSize, maxSize int) (page, size int) {
	page = AtoiDefault(pageStr, 1)
	if page < 1 {
		page = 1
	}
	size = AtoiDefault(sizeStr, defSize)
	if size < 1 {
		size = 1
	}
	if size > maxSize {
		size = maxSize
	}
	return page, size
}
