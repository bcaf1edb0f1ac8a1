package monitor

import (
	"fmt"
	"time"
)

// FormatDuration formats d as "X.Xms" below one second, "X.Xs" below one
// minute and "Xm Ys" above.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%.1fms", float64(d)/float64(time.Millisecond))
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		minutes := int64(d / time.Minute)
		seconds := int64((d % time.Minute) / time.Second)
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
}

// FormatAge formats how long before now t was: "just now", "Xm ago",
// "Xh ago" or "Xd ago". A nil t is "undated"; times after now are "just now".
func FormatAge(t *time.Time, now time.Time) string {
	if t == nil {
		return "undated"
	}
	age := now.Sub(*t)
	switch {
	case age < time.Minute:
		return "just now"
	case age < time.Hour:
		return fmt.Sprintf("%dm ago", int64(age/time.Minute))
	case age < 48*time.Hour:
		return fmt.Sprintf("%dh ago", int64(age/time.Hour))
	default:
		return fmt.Sprintf("%dd ago", int64(age/(24*time.Hour)))
	}
}

// FormatPercentage formats a ratio (0-1) as percentage
func FormatPercentage(ratio float64) string {
	return fmt.Sprintf("%.1f%%", ratio*100)
}

// truncate shortens s to at most n runes, marking the cut with "…".
func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}
