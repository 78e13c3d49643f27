// Package camelot maps musical keys onto the Camelot wheel used for
// harmonic mixing. Codes run 1-12 with an A (minor) or B (major) suffix;
// adjacent numbers and the relative major/minor share most of their notes
// and mix cleanly.
package camelot

import (
	"fmt"
	"strconv"
	"strings"
)

var noteOrder = []string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// Flat spellings fold onto their sharp pitch class.
var flatAliases = map[string]string{
	"DB": "C#",
	"EB": "D#",
	"GB": "F#",
	"AB": "G#",
	"BB": "A#",
	"CB": "B",
	"FB": "E",
}

// Wheel numbers indexed by pitch class (0 = C).
var (
	majorWheel = [12]int{8, 3, 10, 5, 12, 7, 2, 9, 4, 11, 6, 1}
	minorWheel = [12]int{5, 12, 7, 2, 9, 4, 11, 6, 1, 8, 3, 10}
)

func noteIndex(note string) int {
	n := strings.ToUpper(strings.TrimSpace(note))
	if alias, ok := flatAliases[n]; ok {
		n = alias
	}
	for i, name := range noteOrder {
		if name == n {
			return i
		}
	}
	return -1
}

// FromKey returns the Camelot code for a key, or "" when the note or scale
// is unrecognized. Scale accepts "major"/"minor" and the "maj"/"min"
// shorthand tags commonly embed.
func FromKey(note, scale string) string {
	idx := noteIndex(note)
	if idx < 0 {
		return ""
	}
	switch strings.ToLower(strings.TrimSpace(scale)) {
	case "major", "maj", "":
		return strconv.Itoa(majorWheel[idx]) + "B"
	case "minor", "min":
		return strconv.Itoa(minorWheel[idx]) + "A"
	}
	return ""
}

// Parse splits a Camelot code into its wheel number and mode.
func Parse(code string) (num int, minor bool, err error) {
	c := strings.ToUpper(strings.TrimSpace(code))
	if len(c) < 2 {
		return 0, false, fmt.Errorf("invalid camelot code %q", code)
	}
	switch c[len(c)-1] {
	case 'A':
		minor = true
	case 'B':
		minor = false
	default:
		return 0, false, fmt.Errorf("invalid camelot code %q", code)
	}
	num, convErr := strconv.Atoi(c[:len(c)-1])
	if convErr != nil || num < 1 || num > 12 {
		return 0, false, fmt.Errorf("invalid camelot code %q", code)
	}
	return num, minor, nil
}

// Distance is the mixing cost between two codes: circular steps around the
// wheel plus one for crossing between the A and B rings. Unparseable codes
// are maximally distant.
func Distance(a, b string) int {
	const worst = 7 // 6 wheel steps + ring cross

	numA, minorA, errA := Parse(a)
	numB, minorB, errB := Parse(b)
	if errA != nil || errB != nil {
		return worst
	}

	d := numA - numB
	if d < 0 {
		d = -d
	}
	if d > 6 {
		d = 12 - d
	}
	if minorA != minorB {
		d++
	}
	return d
}

// Compatible reports whether two codes are harmonic-mixing neighbours:
// the same slot, one step around the wheel, or the relative key across
// the rings.
func Compatible(a, b string) bool {
	numA, minorA, errA := Parse(a)
	numB, minorB, errB := Parse(b)
	if errA != nil || errB != nil {
		return false
	}
	if minorA == minorB {
		d := numA - numB
		if d < 0 {
			d = -d
		}
		if d > 6 {
			d = 12 - d
		}
		return d <= 1
	}
	return numA == numB
}

// Neighbours returns the codes Compatible accepts for a given code, the
// code itself included. Order: self, previous, next, relative.
func Neighbours(code string) []string {
	num, minor, err := Parse(code)
	if err != nil {
		return nil
	}

	suffix, other := "B", "A"
	if minor {
		suffix, other = "A", "B"
	}
	prev := num - 1
	if prev < 1 {
		prev = 12
	}
	next := num + 1
	if next > 12 {
		next = 1
	}

	return []string{
		strconv.Itoa(num) + suffix,
		strconv.Itoa(prev) + suffix,
		strconv.Itoa(next) + suffix,
		strconv.Itoa(num) + other,
	}
}
