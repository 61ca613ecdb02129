package util

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

const maxFileNameLen = 255

// SanitizeFileName strips path components, invalid UTF-8 and control
// characters from a client-supplied display name and caps it at 255 bytes
// without splitting a rune.
func SanitizeFileName(name string) (string, error) {
	s := strings.TrimSpace(strings.ToValidUTF8(name, ""))
	if i := strings.LastIndexAny(s, `/\`); i >= 0 {
		s = s[i+1:]
	}
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	if s == "" || s == "." || s == ".." {
		return "", errors.New("invalid file name")
	}
	if len(s) > maxFileNameLen {
		cut := maxFileNameLen
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = strings.TrimSpace(s[:cut])
	}
	return s, nil
}
