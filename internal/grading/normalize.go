package grading

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Locale holds the locale-specific parts of answer canonicalization: which
// list markers are stripped, which runes are dropped or unified, and the
// boolean synonym table.
type Locale struct {
	Name       string
	marker     *regexp.Regexp
	dropRune   func(r rune) bool
	mapRune    func(r rune) rune
	trueToken  string
	falseToken string
	synonyms   map[string]string
}

// Latin strips list markers made of one letter, a separator, then
// whitespace or the end of the answer, so "X-ray" keeps its first letter.
var Latin = newLocale(
	"latin",
	`^[A-Za-z][.\-)](\s+|$)`,
	nil,
	nil,
	"true", []string{"true", "correct", "yes", "right"},
	"false", []string{"false", "incorrect", "no", "wrong"},
)

var Arabic = newLocale(
	"arabic",
	`^[A-Za-z\x{0621}-\x{064A}][.\-)](\s+|$)`,
	isArabicDiacritic,
	unifyArabicLetter,
	"صح", []string{"صح", "صحيح", "نعم", "صواب"},
	"خطأ", []string{"خطأ", "خاطئ", "غير صحيح", "لا"},
)

func newLocale(name, marker string, drop func(rune) bool, mapRune func(rune) rune, trueToken string, trueWords []string, falseToken string, falseWords []string) *Locale {
	l := &Locale{
		Name:       name,
		marker:     regexp.MustCompile(marker),
		dropRune:   drop,
		mapRune:    mapRune,
		trueToken:  trueToken,
		falseToken: falseToken,
		synonyms:   make(map[string]string, len(trueWords)+len(falseWords)),
	}
	for _, w := range trueWords {
		l.synonyms[l.letters(w)] = trueToken
	}
	for _, w := range falseWords {
		l.synonyms[l.letters(w)] = falseToken
	}
	return l
}

// Normalize canonicalizes an answer for equality comparison within this
// locale.
func (l *Locale) Normalize(value string) string {
	s := strings.TrimSpace(norm.NFC.String(value))
	s = l.letters(l.marker.ReplaceAllString(s, ""))
	if canonical, ok := l.synonyms[s]; ok {
		return canonical
	}
	return s
}

// letters keeps letters, digits and spacing, applies the locale's rune
// rules, then case folds and collapses whitespace.
func (l *Locale) letters(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if l.dropRune != nil && l.dropRune(r) {
			continue
		}
		if l.mapRune != nil {
			r = l.mapRune(r)
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) || r == '_' {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(fold(b.String())), " ")
}

// Equal compares two answers after normalization.
func (l *Locale) Equal(a, b string) bool {
	return l.Normalize(a) == l.Normalize(b)
}

// LocaleFor resolves a BCP 47 tag (for example "ar-EG" or "en") to a
// normalization locale. Unknown or empty tags resolve to Latin.
func LocaleFor(tag string) *Locale {
	tag = strings.TrimSpace(tag)
	switch strings.ToLower(tag) {
	case "":
		return Latin
	case Arabic.Name:
		return Arabic
	}
	t, err := language.Parse(tag)
	if err != nil {
		return Latin
	}
	base, _ := t.Base()
	if base.String() == "ar" {
		return Arabic
	}
	return Latin
}

// DetectLocale picks Arabic when any sample contains Arabic script.
func DetectLocale(samples ...string) *Locale {
	for _, s := range samples {
		for _, r := range s {
			if unicode.Is(unicode.Arabic, r) {
				return Arabic
			}
		}
	}
	return Latin
}

func isArabicDiacritic(r rune) bool {
	return r >= 0x064B && r <= 0x0652
}

// unifyArabicLetter maps hamza-carrying alef forms to bare alef and alef
// maqsura to yeh.
func unifyArabicLetter(r rune) rune {
	switch r {
	case 'أ', 'إ', 'آ', 'ٱ':
		return 'ا'
	case 'ى':
		return 'ي'
	}
	return r
}

func fold(s string) string {
	return cases.Fold().String(s)
}
