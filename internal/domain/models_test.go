package domain

import (
	"testing"
)

func TestTaskStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		name     string
		status   TaskStatus
		terminal bool
	}{
		{"pending", TaskStatusPending, false},
		{"running", TaskStatusRunning, false},
		{"succeeded", TaskStatusSucceeded, true},
		{"failed", TaskStatusFailed, true},
		{"cancelled", TaskStatusCancelled, true},
		{"partial", TaskStatusPartial, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.terminal {
				t.Errorf("IsTerminal(%s) = %v, want %v", tt.status, got, tt.terminal)
			}
		})
	}
}

func TestBatchPolicy_IsValid(t *testing.T) {
	tests := []struct {
		name   string
		policy BatchPolicy
		valid  bool
	}{
		{"partial", BatchPolicyPartial, true},
		{"failfast", BatchPolicyFailFast, true},
		{"empty", BatchPolicy(""), false},
		{"unknown", BatchPolicy("strict"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.IsValid(); got != tt.valid {
				t.Errorf("IsValid(%s) = %v, want %v", tt.policy, got, tt.valid)
			}
		})
	}
}

func TestStringSlice_RoundTrip(t *testing.T) {
	s := StringSlice{"/music/house", "/music/techno"}

	val, err := s.Value()
	if err != nil {
		t.Fatalf("Value() error = %v", err)
	}

	var got StringSlice
	if err := got.Scan(val); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	if len(got) != 2 || got[0] != "/music/house" || got[1] != "/music/techno" {
		t.Errorf("round trip = %v, want %v", got, s)
	}
}

func TestStringSlice_ScanNil(t *testing.T) {
	var s StringSlice
	if err := s.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) error = %v", err)
	}
	if s != nil {
		t.Errorf("Scan(nil) = %v, want nil", s)
	}
}

func TestFloatSlice_RoundTrip(t *testing.T) {
	f := FloatSlice{0.5, 1.25, 2.0}

	val, err := f.Value()
	if err != nil {
		t.Fatalf("Value() error = %v", err)
	}

	var got FloatSlice
	if err := got.Scan(val); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	if len(got) != 3 || got[0] != 0.5 || got[1] != 1.25 || got[2] != 2.0 {
		t.Errorf("round trip = %v, want %v", got, f)
	}
}

func TestFloatSlice_EmptyValue(t *testing.T) {
	var f FloatSlice
	val, err := f.Value()
	if err != nil {
		t.Fatalf("Value() error = %v", err)
	}
	if val != "[]" {
		t.Errorf("empty Value() = %v, want []", val)
	}
}

func TestAnalysis_Track(t *testing.T) {
	a := &Analysis{
		Path:     "/music/track.mp3",
		Filename: "track.mp3",
		Title:    "Test Track",
		Artist:   "Test Artist",
		Duration: 312.4,
		BPM:      126.0,
		KeyName:  "A",
		KeyScale: "minor",
		Camelot:  "8A",
		Energy:   0.71,
	}

	tr := a.Track()
	if tr.Path != a.Path {
		t.Errorf("Track().Path = %q, want %q", tr.Path, a.Path)
	}
	if tr.BPM != 126.0 {
		t.Errorf("Track().BPM = %v, want 126.0", tr.BPM)
	}
	if tr.Camelot != "8A" {
		t.Errorf("Track().Camelot = %q, want 8A", tr.Camelot)
	}
}
