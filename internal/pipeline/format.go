package pipeline

import (
	"fmt"
	"time"
)

// FormatCompletionTime renders a millisecond duration for display,
// e.g. "850ms", "12.3s", "4m 05s", "1h 02m 03s".
func FormatCompletionTime(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	d := time.Duration(ms) * time.Millisecond
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", ms)
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		m := int(d / time.Minute)
		s := int((d % time.Minute) / time.Second)
		return fmt.Sprintf("%dm %02ds", m, s)
	default:
		h := int(d / time.Hour)
		m := int((d % time.Hour) / time.Minute)
		s := int((d % time.Minute) / time.Second)
		return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
	}
}
