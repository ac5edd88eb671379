package utils

import (
	"strconv"

	"github.com/medmind/go-derm-backend/internal/sysutil"
)

// AtofDefault converts a string to a float64 using strconv.ParseFloat.
// If the string is empty or cannot be parsed, it returns the provided
// default value instead.
func AtofDefault(s string, def float64) float64 {
	if s == "" {
		return def
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return def
}

// FormBool reports whether a form or query value should be considered true.
// It shares the truthy spellings with the environment toggles.
func FormBool(v string) bool {
	return sysutil.IsTruthy(v)
}
