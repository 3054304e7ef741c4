package bridge

import (
	"strings"
	"testing"
	"time"
)

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0.0s"},
		{5200 * time.Millisecond, "5.2s"},
		{59 * time.Second, "59.0s"},
		{150500 * time.Millisecond, "2m30.5s"},
		{61 * time.Second, "1m01.0s"},
		{time.Hour + 5*time.Minute + 30*time.Second, "1h05m"},
		{26 * time.Hour, "26h00m"},
	}
	for _, tt := range tests {
		if got := FormatElapsed(tt.d); got != tt.want {
			t.Errorf("FormatElapsed(%s) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestFormatShredName(t *testing.T) {
	tests := []struct {
		name string
		max  int
		want string
	}{
		{"compiled.code", 56, "compiled.code"},
		{"/home/me/songs/drums.ck", 56, "songs/drums.ck"},
		{"loops/bass.ck", 56, "loops/bass.ck"},
		{"/kick.ck", 56, "kick.ck"},
		{"a/very-long-file-name.ck", 8, "a/very-l"},
	}
	for _, tt := range tests {
		if got := FormatShredName(tt.name, tt.max); got != tt.want {
			t.Errorf("FormatShredName(%q, %d) = %q, want %q", tt.name, tt.max, got, tt.want)
		}
	}
}

func TestFormatShredTable(t *testing.T) {
	if got := FormatShredTable(nil, 0, 44100, false); got != "No active shreds" {
		t.Errorf("empty table = %q", got)
	}

	shreds := []ShredHandle{
		{ID: 12, Name: "/tmp/x/pad.ck", SporkTime: 44100},
		{ID: 3, Name: "compiled.code", SporkTime: 0},
	}
	now := uint64(44100 * 90)

	piped := strings.Split(FormatShredTable(shreds, now, 44100, true), "\n")
	if len(piped) != 4 {
		t.Fatalf("piped table has %d lines, want 4:\n%s", len(piped), strings.Join(piped, "\n"))
	}
	if !strings.HasPrefix(piped[0], "ID   | Name") || !strings.HasSuffix(piped[0], "| Elapsed") {
		t.Errorf("header = %q", piped[0])
	}
	if piped[1] != strings.Repeat("-", 78) {
		t.Errorf("rule = %q", piped[1])
	}
	want := "3     | compiled.code" + strings.Repeat(" ", 56-len("compiled.code")) + " | 1m30.0s"
	if piped[2] != want {
		t.Errorf("row = %q\nwant  %q", piped[2], want)
	}
	if !strings.HasPrefix(piped[3], "12    | x/pad.ck ") || !strings.HasSuffix(piped[3], "| 1m29.0s") {
		t.Errorf("row = %q", piped[3])
	}

	plain := strings.Split(FormatShredTable(shreds, now, 44100, false), "\n")
	if plain[0] != "ID    Name"+strings.Repeat(" ", 52)+"Elapsed" {
		t.Errorf("plain header = %q", plain[0])
	}
	if plain[1] != strings.Repeat("─", 78) {
		t.Errorf("plain rule = %q", plain[1])
	}
	if !strings.HasPrefix(plain[2], "3     compiled.code ") {
		t.Errorf("plain row = %q", plain[2])
	}
}

func TestSamplesToDuration(t *testing.T) {
	if got := SamplesToDuration(22050, 44100); got != 500*time.Millisecond {
		t.Errorf("SamplesToDuration = %s, want 500ms", got)
	}
	if got := SamplesToDuration(100, 0); got != 0 {
		t.Errorf("zero sample rate = %s, want 0", got)
	}
}
