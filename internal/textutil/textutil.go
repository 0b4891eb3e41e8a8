// Package textutil holds the punctuation and emoji handling shared by the
// transcript filters and the stt echo.
package textutil

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// IsPunctuationOrEmoji reports whether r is dropped when comparing or
// echoing recognized text.
func IsPunctuationOrEmoji(r rune) bool {
	if unicode.IsSpace(r) || unicode.IsPunct(r) {
		return true
	}
	switch {
	case r >= 0x1F300 && r <= 0x1FAFF, // pictographs, emoticons, transport, supplemental
		r >= 0x2600 && r <= 0x27BF, // misc symbols, dingbats
		r >= 0xFE00 && r <= 0xFE0F, // variation selectors
		r == 0x200D:
		return true
	}
	return unicode.Is(unicode.So, r)
}

// StripPunctuation removes every punctuation, whitespace and emoji rune.
func StripPunctuation(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if !IsPunctuationOrEmoji(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// TrimPunctuation removes punctuation and emoji from both ends only.
func TrimPunctuation(s string) string {
	return strings.TrimFunc(s, IsPunctuationOrEmoji)
}

// Len returns the number of code points left after StripPunctuation.
func Len(s string) int {
	return utf8.RuneCountInString(StripPunctuation(s))
}
