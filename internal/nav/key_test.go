package nav

import "testing"

func TestParseFooter(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Key
	}{
		{"page", "Page 12 of 340", Key{KindPage, 12, 340}},
		{"page lowercase", "page 3 of 9", Key{KindPage, 3, 9}},
		{"page extra whitespace", "  Page   7   of  21 ", Key{KindPage, 7, 21}},
		{"location", "Location 102 of 4201", Key{KindLocation, 102, 4201}},
		{"roman front matter", "Page xiv of 340", Key{KindLocation, 14, 340}},
		{"roman single", "Page i of 12", Key{KindLocation, 1, 12}},
		{"embedded in longer label", "Chapter 3 - Page 45 of 312", Key{KindPage, 45, 312}},
		{"empty", "", Key{}},
		{"unrelated", "3 mins left in chapter", Key{}},
		{"inverted page range", "Page 120 of 12", Key{}},
		{"inverted location range", "Location 5000 of 4201", Key{}},
		{"inverted roman range", "Page xl of 14", Key{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseFooter(tt.text); got != tt.want {
				t.Errorf("ParseFooter(%q) = %+v, want %+v", tt.text, got, tt.want)
			}
		})
	}
}

func TestFilenameRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		key  Key
		file string
	}{
		{"page", Key{KindPage, 12, 340}, "page-0012-of-0340.png"},
		{"page large", Key{KindPage, 1024, 1200}, "page-1024-of-1200.png"},
		{"location narrow", Key{KindLocation, 5, 900}, "loc-0005-of-0900.png"},
		{"location wide", Key{KindLocation, 102, 42013}, "loc-00102-of-42013.png"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.Filename(); got != tt.file {
				t.Fatalf("Filename() = %q, want %q", got, tt.file)
			}
			parsed, ok := ParseFilename(tt.file)
			if !ok {
				t.Fatalf("ParseFilename(%q) failed", tt.file)
			}
			if parsed != tt.key {
				t.Errorf("ParseFilename(%q) = %+v, want %+v", tt.file, parsed, tt.key)
			}
		})
	}

	if _, ok := ParseFilename("cover.png"); ok {
		t.Error("ParseFilename accepted a non-canonical name")
	}
	if got := (Key{}).Filename(); got != "" {
		t.Errorf("zero key Filename() = %q, want empty", got)
	}
}

func TestDeromanize(t *testing.T) {
	tests := []struct {
		roman string
		want  int
		ok    bool
	}{
		{"i", 1, true},
		{"iv", 4, true},
		{"ix", 9, true},
		{"xiv", 14, true},
		{"XL", 40, true},
		{"mcmxciv", 1994, true},
		{"", 0, false},
		{"abc", 0, false},
	}
	for _, tt := range tests {
		got, ok := Deromanize(tt.roman)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Deromanize(%q) = (%d, %v), want (%d, %v)", tt.roman, got, ok, tt.want, tt.ok)
		}
	}
}

func TestCompare(t *testing.T) {
	ordered := []Key{
		{KindLocation, 1, 14},
		{KindLocation, 14, 14},
		{KindPage, 1, 340},
		{KindPage, 2, 340},
		{KindPage, 340, 340},
	}
	for i := 1; i < len(ordered); i++ {
		if Compare(ordered[i-1], ordered[i]) >= 0 {
			t.Errorf("Compare(%v, %v) >= 0, want < 0", ordered[i-1], ordered[i])
		}
	}
	if Compare(ordered[2], ordered[2]) != 0 {
		t.Error("Compare of equal keys != 0")
	}
}

func TestReaches(t *testing.T) {
	boundary := Key{KindPage, 300, 340}
	tests := []struct {
		name string
		key  Key
		want bool
	}{
		{"before", Key{KindPage, 299, 340}, false},
		{"at", Key{KindPage, 300, 340}, true},
		{"past", Key{KindPage, 310, 340}, true},
		{"kind mismatch", Key{KindLocation, 4000, 4201}, false},
		{"zero key", Key{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.Reaches(boundary); got != tt.want {
				t.Errorf("Reaches = %v, want %v", got, tt.want)
			}
		})
	}
	if (Key{KindPage, 1, 340}).Reaches(Key{}) {
		t.Error("Reaches(zero boundary) = true, want false")
	}
}

func TestAtEnd(t *testing.T) {
	if (Key{KindPage, 339, 340}).AtEnd() {
		t.Error("mid-book key reported AtEnd")
	}
	if !(Key{KindPage, 340, 340}).AtEnd() {
		t.Error("final page not reported AtEnd")
	}
	if (Key{}).AtEnd() {
		t.Error("zero key reported AtEnd")
	}
}
