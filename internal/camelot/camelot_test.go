package camelot

import "testing"

func TestFromKey(t *testing.T) {
	tests := []struct { //nolint:govet // test table readability
		note  string
		scale string
		want  string
	}{
		{"C", "major", "8B"},
		{"A", "minor", "8A"},
		{"G", "major", "9B"},
		{"E", "minor", "9A"},
		{"F#", "minor", "11A"},
		{"B", "major", "1B"},
		{"Ab", "major", "4B"},  // flat alias
		{"Eb", "minor", "2A"},  // flat alias
		{"c#", "MAJOR", "3B"},  // case-insensitive
		{"D", "maj", "10B"},    // shorthand scale
		{"A", "min", "8A"},     // shorthand scale
		{"H", "major", ""},     // unknown note
		{"C", "dorian", ""},    // unknown scale
		{"", "major", ""},
	}

	for _, tt := range tests {
		got := FromKey(tt.note, tt.scale)
		if got != tt.want {
			t.Errorf("FromKey(%q, %q) = %q, want %q", tt.note, tt.scale, got, tt.want)
		}
	}
}

func TestParse(t *testing.T) {
	num, minor, err := Parse("8A")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if num != 8 || !minor {
		t.Errorf("Parse(8A) = (%d, %v), want (8, true)", num, minor)
	}

	num, minor, err = Parse("12b")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if num != 12 || minor {
		t.Errorf("Parse(12b) = (%d, %v), want (12, false)", num, minor)
	}

	for _, bad := range []string{"", "A", "0A", "13B", "8C", "8", "xA"} {
		if _, _, err := Parse(bad); err == nil {
			t.Errorf("Parse(%q) expected error", bad)
		}
	}
}

func TestDistance(t *testing.T) {
	tests := []struct { //nolint:govet // test table readability
		a    string
		b    string
		want int
	}{
		{"8A", "8A", 0},
		{"8A", "9A", 1},
		{"8A", "7A", 1},
		{"8A", "8B", 1},
		{"8A", "9B", 2},
		{"1A", "12A", 1}, // wraps around the wheel
		{"1B", "7B", 6},  // opposite side
		{"8A", "??", 7},  // invalid is maximally distant
	}

	for _, tt := range tests {
		if got := Distance(tt.a, tt.b); got != tt.want {
			t.Errorf("Distance(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
		// Distance is symmetric
		if got := Distance(tt.b, tt.a); got != tt.want {
			t.Errorf("Distance(%q, %q) = %d, want %d", tt.b, tt.a, got, tt.want)
		}
	}
}

func TestCompatible(t *testing.T) {
	compatible := [][2]string{
		{"8A", "8A"},
		{"8A", "7A"},
		{"8A", "9A"},
		{"8A", "8B"},
		{"12B", "1B"}, // wheel wrap
	}
	for _, pair := range compatible {
		if !Compatible(pair[0], pair[1]) {
			t.Errorf("Expected %s and %s to be compatible", pair[0], pair[1])
		}
	}

	incompatible := [][2]string{
		{"8A", "10A"},
		{"8A", "9B"},
		{"8A", "2B"},
		{"8A", "bad"},
	}
	for _, pair := range incompatible {
		if Compatible(pair[0], pair[1]) {
			t.Errorf("Expected %s and %s to be incompatible", pair[0], pair[1])
		}
	}
}

func TestNeighbours(t *testing.T) {
	got := Neighbours("8A")
	want := []string{"8A", "7A", "9A", "8B"}
	if len(got) != len(want) {
		t.Fatalf("Expected %d neighbours, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Neighbours(8A)[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	// Wrap at the wheel edges
	got = Neighbours("1B")
	want = []string{"1B", "12B", "2B", "1A"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Neighbours(1B)[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	if Neighbours("junk") != nil {
		t.Error("Expected nil for invalid code")
	}
}
