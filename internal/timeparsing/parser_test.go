package timeparsing

import (
	"errors"
	"testing"
	"time"
)

var ref = time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC) // a Wednesday

func TestParseCompactDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"+6h", ref.Add(6 * time.Hour)},
		{"-1d", ref.AddDate(0, 0, -1)},
		{"2w", ref.AddDate(0, 0, 14)},
		{"3m", ref.AddDate(0, 3, 0)},
		{"+1y", ref.AddDate(1, 0, 0)},
	}
	for _, tt := range tests {
		got, err := ParseCompactDuration(tt.in, ref)
		if err != nil {
			t.Fatalf("%s: %v", tt.in, err)
		}
		if !got.Equal(tt.want) {
			t.Errorf("%s = %v, want %v", tt.in, got, tt.want)
		}
	}
	for _, bad := range []string{"", "6", "h", "+6x", "6 h", "1.5d"} {
		if _, err := ParseCompactDuration(bad, ref); err == nil {
			t.Errorf("%q should not parse", bad)
		}
	}
}

func TestParseTimeLayers(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"90s", ref.Add(90 * time.Second)},
		{"1h30m", ref.Add(90 * time.Minute)},
		{"+2d", ref.AddDate(0, 0, 2)},
		{"2025-02-01", time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)},
		{"2025-02-01 08:30", time.Date(2025, 2, 1, 8, 30, 0, 0, time.UTC)},
		{"2025-02-01T08:30:00Z", time.Date(2025, 2, 1, 8, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := ParseTime(tt.in, ref)
		if err != nil {
			t.Fatalf("%s: %v", tt.in, err)
		}
		if !got.Equal(tt.want) {
			t.Errorf("%s = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseNaturalLanguage(t *testing.T) {
	got, err := ParseTime("tomorrow", ref)
	if err != nil {
		t.Fatal(err)
	}
	if got.Day() != 16 || got.Month() != time.January {
		t.Errorf("tomorrow = %v, want Jan 16", got)
	}

	if _, err := ParseTime("not a time at all", ref); !errors.Is(err, ErrUnparseable) {
		t.Errorf("gibberish error = %v, want ErrUnparseable", err)
	}
	if _, err := ParseTime("  ", ref); !errors.Is(err, ErrUnparseable) {
		t.Errorf("blank error = %v, want ErrUnparseable", err)
	}
}

func TestParseTTL(t *testing.T) {
	d, err := ParseTTL("10m", ref)
	if err != nil || d != 10*time.Minute {
		t.Errorf("10m = %v, %v", d, err)
	}
	d, err = ParseTTL("+1d", ref)
	if err != nil || d != 24*time.Hour {
		t.Errorf("+1d = %v, %v", d, err)
	}
	if _, err := ParseTTL("-1h", ref); err == nil {
		t.Error("a past instant is not a TTL")
	}
}

func TestParseSince(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2h", ref.Add(-2 * time.Hour)},
		{"-30m", ref.Add(-30 * time.Minute)},
		{"1d", ref.AddDate(0, 0, -1)},
		{"+1w", ref.AddDate(0, 0, -7)},
		{"2025-01-01", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := ParseSince(tt.in, ref)
		if err != nil {
			t.Fatalf("%s: %v", tt.in, err)
		}
		if !got.Equal(tt.want) {
			t.Errorf("%s = %v, want %v", tt.in, got, tt.want)
		}
	}
}
