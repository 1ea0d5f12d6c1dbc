package zroi

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	Kilo = 1 << 10
	Mega = 1 << 20
	Giga = 1 << 30
)

// ConvertToAbsolute returns an absolute path for the given path, treating a
// relative path as relative to the given base directory.
func ConvertToAbsolute(path, baseDir string) (string, error) {
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}
	if baseDir == "" {
		return filepath.Abs(path)
	}
	return filepath.Abs(filepath.Join(baseDir, path))
}

// ParseFloats parses a list of floats separated by the given separator,
// e.g., "1,0.65,0.65".  An empty string returns a nil slice.
func ParseFloats(s, sep string) ([]float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, sep)
	floats := make([]float64, len(parts))
	for i, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("bad float %q in %q: %v", part, s, err)
		}
		floats[i] = f
	}
	return floats, nil
}

// FormatInts returns a comma-separated list of the integers.
func FormatInts(ints []int) string {
	strs := make([]string, len(ints))
	for i, v := range ints {
		strs[i] = strconv.Itoa(v)
	}
	return strings.Join(strs, ",")
}

// FormatFloats returns a comma-separated list of the floats in shortest form.
func FormatFloats(floats []float64) string {
	strs := make([]string, len(floats))
	for i, v := range floats {
		strs[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(strs, ",")
}
