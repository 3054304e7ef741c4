package bridge

import (
	"cmp"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// ShredNameWidth is the column width of shred names in FormatShredTable.
const ShredNameWidth = 56

// FormatElapsed renders d as "5.2s", "2m30.5s" or "1h05m".
func FormatElapsed(d time.Duration) string {
	sec := d.Seconds()
	switch {
	case sec < 60:
		return fmt.Sprintf("%.1fs", sec)
	case sec < 3600:
		mins := int(sec / 60)
		return fmt.Sprintf("%dm%04.1fs", mins, sec-float64(mins*60))
	}
	hours := int(sec / 3600)
	mins := int((sec - float64(hours*3600)) / 60)
	return fmt.Sprintf("%dh%02dm", hours, mins)
}

// FormatShredName shortens a shred name to its parent directory and base
// name, truncated to maxLen bytes.
func FormatShredName(name string, maxLen int) string {
	base := filepath.Base(name)
	if parent := filepath.Base(filepath.Dir(name)); parent != "." && parent != string(filepath.Separator) {
		base = parent + "/" + base
	}
	if len(base) > maxLen {
		base = base[:maxLen]
	}
	return base
}

// SamplesToDuration converts a sample count at sampleRate into wall time.
func SamplesToDuration(samples uint64, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(samples) / float64(sampleRate) * float64(time.Second))
}

// FormatShredTable renders shreds in ID order with their elapsed VM time
// at now. With pipes set the columns are separated by "|".
func FormatShredTable(shreds []ShredHandle, now uint64, sampleRate int, pipes bool) string {
	if len(shreds) == 0 {
		return "No active shreds"
	}
	sorted := slices.Clone(shreds)
	slices.SortFunc(sorted, func(a, b ShredHandle) int { return cmp.Compare(a.ID, b.ID) })

	var sb strings.Builder
	if pipes {
		fmt.Fprintf(&sb, "%-5s| %-*s| %s\n", "ID", ShredNameWidth, "Name", "Elapsed")
		sb.WriteString(strings.Repeat("-", 78))
	} else {
		fmt.Fprintf(&sb, "%-6s%-*s%s\n", "ID", ShredNameWidth, "Name", "Elapsed")
		sb.WriteString(strings.Repeat("─", 78))
	}
	for _, s := range sorted {
		var elapsed uint64
		if now > s.SporkTime {
			elapsed = now - s.SporkTime
		}
		name := FormatShredName(s.Name, ShredNameWidth)
		t := FormatElapsed(SamplesToDuration(elapsed, sampleRate))
		if pipes {
			fmt.Fprintf(&sb, "\n%-5d | %-*s | %s", s.ID, ShredNameWidth, name, t)
		} else {
			fmt.Fprintf(&sb, "\n%-5d %-*s %s", s.ID, ShredNameWidth, name, t)
		}
	}
	return sb.String()
}
