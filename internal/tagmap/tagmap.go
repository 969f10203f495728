// Package tagmap turns arbitrary column names into valid, unique XML element names.
package tagmap

import (
	"strconv"
	"strings"
)

// Sanitize returns name with every character outside [A-Za-z0-9_.-] replaced by '_'.
// If the result is empty or does not start with a letter or underscore, it is prefixed with '_'.
func Sanitize(name string) string {
	var b strings.Builder
	b.Grow(len(name) + 1)
	for _, r := range name {
		if isNameChar(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "" || !isNameStart(out[0]) {
		out = "_" + out
	}
	return out
}

// Valid reports whether tag is a name Sanitize could have produced.
func Valid(tag string) bool {
	if tag == "" || !isNameStart(tag[0]) {
		return false
	}
	for _, r := range tag {
		if !isNameChar(r) {
			return false
		}
	}
	return true
}

// Ordered sanitizes columns in order and resolves collisions by appending
// _1, _2, ... to the sanitized base until the tag is unused.
// The i-th tag belongs to the i-th column.
func Ordered(columns []string) []string {
	seen := make(map[string]struct{}, len(columns))
	tags := make([]string, len(columns))
	for i, col := range columns {
		base := Sanitize(col)
		tag := base
		for n := 1; ; n++ {
			if _, taken := seen[tag]; !taken {
				break
			}
			tag = base + "_" + strconv.Itoa(n)
		}
		seen[tag] = struct{}{}
		tags[i] = tag
	}
	return tags
}

// UniqueMap returns the column -> tag mapping for columns.
// When the same column name appears more than once the first occurrence wins.
func UniqueMap(columns []string) map[string]string {
	tags := Ordered(columns)
	m := make(map[string]string, len(columns))
	for i, col := range columns {
		if _, ok := m[col]; !ok {
			m[col] = tags[i]
		}
	}
	return m
}

func isNameStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isNameChar(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '_', r == '-', r == '.':
		return true
	}
	return false
}
