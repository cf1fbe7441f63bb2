// Package fuzzy matches member names against partial or initial-consonant search terms.
package fuzzy

import (
	"strings"

	"golang.org/x/text/cases"
)

const (
	hangulBase  = 0xAC00
	hangulLast  = 0xD7A3
	medialFinal = 21 * 28
)

var leadingConsonants = [19]rune{
	'ㄱ', 'ㄲ', 'ㄴ', 'ㄷ', 'ㄸ', 'ㄹ', 'ㅁ', 'ㅂ', 'ㅃ', 'ㅅ',
	'ㅆ', 'ㅇ', 'ㅈ', 'ㅉ', 'ㅊ', 'ㅋ', 'ㅌ', 'ㅍ', 'ㅎ',
}

// Skeleton reduces every Hangul syllable in s to its leading consonant.
// Any other rune is kept as is.
func Skeleton(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= hangulBase && r <= hangulLast {
			b.WriteRune(leadingConsonants[(r-hangulBase)/medialFinal])
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Matches reports whether query is found in target, either literally after
// case folding or on the initial-consonant skeletons of both strings.
// An empty query matches every target.
func Matches(target, query string) bool {
	// A Caser keeps state between calls and is not shared.
	fold := cases.Fold()
	t := fold.String(target)
	q := fold.String(query)
	if strings.Contains(t, q) {
		return true
	}
	return strings.Contains(Skeleton(t), Skeleton(q))
}
