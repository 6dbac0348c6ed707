package grading

import "testing"

func TestLatinNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "list marker dot", in: "A. Paris", want: "paris"},
		{name: "list marker dash", in: "B- Rome", want: "rome"},
		{name: "bare list marker", in: "B-", want: ""},
		{name: "hyphenated word kept", in: "X-ray", want: "xray"},
		{name: "hyphenated word kept lower", in: "T-shirt", want: "tshirt"},
		{name: "abbreviation kept", in: "e.g.", want: "eg"},
		{name: "list marker paren", in: "c) Berlin", want: "berlin"},
		{name: "surrounding spaces", in: "   Paris  ", want: "paris"},
		{name: "punctuation stripped", in: "Paris!?", want: "paris"},
		{name: "inner spaces collapsed", in: "New   York", want: "new york"},
		{name: "true synonym", in: "Yes", want: "true"},
		{name: "true synonym punct", in: "Correct.", want: "true"},
		{name: "false synonym", in: "WRONG", want: "false"},
		{name: "false synonym no", in: "no", want: "false"},
		{name: "plain word kept", in: "Photosynthesis", want: "photosynthesis"},
		{name: "digits kept", in: "42", want: "42"},
		{name: "accented letters kept", in: "Café", want: "café"},
		{name: "empty", in: "   ", want: ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Latin.Normalize(tc.in); got != tc.want {
				t.Fatalf("Latin.Normalize(%q)=%q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestArabicNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "true canonical", in: "صح", want: "صح"},
		{name: "true synonym", in: "صحيح", want: "صح"},
		{name: "true synonym yes", in: "نعم", want: "صح"},
		{name: "false synonym", in: "خاطئ", want: "خطأ"},
		{name: "false two words", in: "غير  صحيح", want: "خطأ"},
		{name: "false no", in: "لا", want: "خطأ"},
		{name: "diacritics stripped", in: "صَحِيحٌ", want: "صح"},
		{name: "arabic list marker", in: "أ. القاهرة", want: "القاهرة"},
		{name: "latin list marker", in: "B) القاهرة", want: "القاهرة"},
		{name: "arabic punctuation", in: "القاهرة؟", want: "القاهرة"},
		{name: "hamza alef unified", in: "أحمد", want: "احمد"},
		{name: "hamza below unified", in: "إسلام", want: "اسلام"},
		{name: "madda unified", in: "آمن", want: "امن"},
		{name: "alef maqsura unified", in: "مصطفى", want: "مصطفي"},
		{name: "false canonical with bare alef", in: "خطا", want: "خطأ"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Arabic.Normalize(tc.in); got != tc.want {
				t.Fatalf("Arabic.Normalize(%q)=%q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestNormalizeEquivalenceClasses(t *testing.T) {
	if Latin.Normalize("A. Paris") != Latin.Normalize("Paris") {
		t.Fatalf("list marker should not change equivalence class")
	}
	if Latin.Normalize("True") != Latin.Normalize("Yes") {
		t.Fatalf("True and Yes should share a class in latin")
	}
	if Arabic.Normalize("صح") != Arabic.Normalize("صواب") {
		t.Fatalf("arabic true synonyms should share a class")
	}
	if !Arabic.Equal("إسلام", "اسلام") || !Arabic.Equal("على", "علي") {
		t.Fatalf("arabic letter variants should share a class")
	}
	if Latin.Equal("X-ray", "ray") {
		t.Fatalf("a hyphenated word must not lose its first letter")
	}
	if Latin.Normalize("True") == Arabic.Normalize("صح") {
		t.Fatalf("canonical tokens must differ across locales")
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	inputs := []string{"A. Paris", "Yes", "غير صحيح", "  c) New   York!! ", "صَحِيحٌ", "X-ray", "إسلام", "خطأ"}
	for _, loc := range []*Locale{Latin, Arabic} {
		for _, in := range inputs {
			once := loc.Normalize(in)
			if twice := loc.Normalize(once); twice != once {
				t.Fatalf("%s: normalize not idempotent for %q: %q then %q", loc.Name, in, once, twice)
			}
		}
	}
}

func TestLocaleFor(t *testing.T) {
	tests := []struct {
		tag  string
		want *Locale
	}{
		{tag: "", want: Latin},
		{tag: "en", want: Latin},
		{tag: "en-US", want: Latin},
		{tag: "ar", want: Arabic},
		{tag: "ar-EG", want: Arabic},
		{tag: "arabic", want: Arabic},
		{tag: "not a tag!", want: Latin},
	}
	for _, tc := range tests {
		if got := LocaleFor(tc.tag); got != tc.want {
			t.Fatalf("LocaleFor(%q)=%s, want %s", tc.tag, got.Name, tc.want.Name)
		}
	}
}

func TestDetectLocale(t *testing.T) {
	if got := DetectLocale("What is the capital?", "Paris"); got != Latin {
		t.Fatalf("expected latin, got %s", got.Name)
	}
	if got := DetectLocale("What is it?", "ما عاصمة مصر؟"); got != Arabic {
		t.Fatalf("expected arabic, got %s", got.Name)
	}
}
