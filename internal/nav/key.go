// Package nav defines canonical navigation keys for reader views.
//
// A key identifies one rendered view of a book: either a page position or a
// location position. Keys drive capture filenames, the capture ledger, and
// reading-order sorting, so their formatting and comparison rules live here
// and nowhere else.
package nav

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Kind distinguishes the two navigation coordinate systems a reader exposes.
type Kind string

const (
	KindPage     Kind = "page"
	KindLocation Kind = "loc"
)

// Key is a canonical navigation key. Exactly one kind is populated; a zero
// Key means the position is unknown.
type Key struct {
	Kind    Kind `json:"kind"`
	Current int  `json:"current"`
	Total   int  `json:"total"`
}

// Zero reports whether the key carries no position.
func (k Key) Zero() bool {
	return k.Kind == "" || k.Current <= 0 || k.Total <= 0
}

// String renders the key the way the reader footer does.
func (k Key) String() string {
	switch k.Kind {
	case KindPage:
		return fmt.Sprintf("Page %d of %d", k.Current, k.Total)
	case KindLocation:
		return fmt.Sprintf("Location %d of %d", k.Current, k.Total)
	default:
		return "unknown position"
	}
}

// Filename returns the canonical capture filename for this key. Page keys
// use fixed 4-digit padding; location keys widen with the location total so
// lexical order matches numeric order.
func (k Key) Filename() string {
	switch k.Kind {
	case KindPage:
		return fmt.Sprintf("page-%04d-of-%04d.png", k.Current, k.Total)
	case KindLocation:
		width := len(strconv.Itoa(k.Total))
		if width < 4 {
			width = 4
		}
		return fmt.Sprintf("loc-%0*d-of-%0*d.png", width, k.Current, width, k.Total)
	default:
		return ""
	}
}

var (
	pageFilePattern = regexp.MustCompile(`^page-(\d+)-of-(\d+)\.png$`)
	locFilePattern  = regexp.MustCompile(`^loc-(\d+)-of-(\d+)\.png$`)

	pageFooterPattern  = regexp.MustCompile(`(?i)page\s+(\d+)\s+of\s+(\d+)`)
	locFooterPattern   = regexp.MustCompile(`(?i)location\s+(\d+)\s+of\s+(\d+)`)
	romanFooterPattern = regexp.MustCompile(`(?i)page\s+([ivxlcdm]+)\s+of\s+(\d+)`)
)

// ParseFilename parses a canonical capture filename back into a Key.
func ParseFilename(name string) (Key, bool) {
	if m := pageFilePattern.FindStringSubmatch(name); m != nil {
		return Key{Kind: KindPage, Current: atoi(m[1]), Total: atoi(m[2])}, true
	}
	if m := locFilePattern.FindStringSubmatch(name); m != nil {
		return Key{Kind: KindLocation, Current: atoi(m[1]), Total: atoi(m[2])}, true
	}
	return Key{}, false
}

// ParseFooter parses reader footer text into a Key. Front matter pages with
// roman numeral numbering are treated as location keys so they never collide
// with arabic page numbers. Returns a zero Key when nothing matches or the
// matched values are inconsistent.
func ParseFooter(text string) Key {
	normalized := strings.Join(strings.Fields(text), " ")
	if normalized == "" {
		return Key{}
	}
	if m := pageFooterPattern.FindStringSubmatch(normalized); m != nil {
		return footerKey(KindPage, atoi(m[1]), atoi(m[2]))
	}
	if m := locFooterPattern.FindStringSubmatch(normalized); m != nil {
		return footerKey(KindLocation, atoi(m[1]), atoi(m[2]))
	}
	if m := romanFooterPattern.FindStringSubmatch(normalized); m != nil {
		if value, ok := Deromanize(m[1]); ok {
			return footerKey(KindLocation, value, atoi(m[2]))
		}
	}
	return Key{}
}

// footerKey builds a Key from parsed footer values, rejecting garbled
// readings where current exceeds total.
func footerKey(kind Kind, current, total int) Key {
	if current <= 0 || total <= 0 || current > total {
		return Key{}
	}
	return Key{Kind: kind, Current: current, Total: total}
}

var romanValues = map[byte]int{
	'I': 1, 'V': 5, 'X': 10, 'L': 50, 'C': 100, 'D': 500, 'M': 1000,
}

// Deromanize converts a roman numeral to an integer.
func Deromanize(s string) (int, bool) {
	upper := strings.ToUpper(s)
	value := 0
	previous := 0
	for i := len(upper) - 1; i >= 0; i-- {
		numeral, ok := romanValues[upper[i]]
		if !ok {
			return 0, false
		}
		if numeral < previous {
			value -= numeral
		} else {
			value += numeral
			previous = numeral
		}
	}
	if value <= 0 {
		return 0, false
	}
	return value, true
}

// Compare orders keys for reading order: location keys (front matter) before
// page keys, then by current position, then by total.
func Compare(a, b Key) int {
	if ra, rb := kindRank(a.Kind), kindRank(b.Kind); ra != rb {
		return ra - rb
	}
	if a.Current != b.Current {
		return a.Current - b.Current
	}
	return a.Total - b.Total
}

func kindRank(k Kind) int {
	switch k {
	case KindLocation:
		return 0
	case KindPage:
		return 1
	default:
		return 2
	}
}

// Reaches reports whether this key has reached or passed a boundary key.
// Keys of different kinds never reach each other, and zero keys reach
// nothing.
func (k Key) Reaches(boundary Key) bool {
	if k.Zero() || boundary.Zero() || k.Kind != boundary.Kind {
		return false
	}
	return k.Current >= boundary.Current
}

// AtEnd reports whether the key sits on the final view of its range.
func (k Key) AtEnd() bool {
	return !k.Zero() && k.Current >= k.Total
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
