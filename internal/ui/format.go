package ui

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

func formatBytes(n uint64) string {
	return humanize.IBytes(n)
}

// formatSpeed renders a transfer rate; idle transfers show a dash.
func formatSpeed(bps uint64) string {
	if bps == 0 {
		return "-"
	}
	return humanize.IBytes(bps) + "/s"
}

// formatLimit renders a rate limit where zero means unlimited.
func formatLimit(bps uint64) string {
	if bps == 0 {
		return "unlimited"
	}
	return humanize.IBytes(bps) + "/s"
}

func formatETA(secs *uint64) string {
	if secs == nil {
		return "-"
	}
	if *secs > uint64(math.MaxInt64/int64(time.Second)) {
		return "∞"
	}
	return humanizeDuration(time.Duration(*secs) * time.Second)
}

func formatPercent(frac float64) string {
	return fmt.Sprintf("%.1f%%", clampFraction(frac)*100)
}

// formatAge renders t relative to now; unknown times render empty.
func formatAge(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	if now.Sub(t) < time.Second {
		return "now"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

func humanizeDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return "now"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		h := int(d.Hours())
		if m := int(d.Minutes()) % 60; m > 0 {
			return fmt.Sprintf("%dh %dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

// progressBar draws frac as a fixed-width bar.
func progressBar(frac float64, width int) string {
	if width <= 0 {
		return ""
	}
	filled := int(math.Round(clampFraction(frac) * float64(width)))
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func clampFraction(frac float64) float64 {
	switch {
	case math.IsNaN(frac) || frac < 0:
		return 0
	case frac > 1:
		return 1
	default:
		return frac
	}
}

// truncate shortens a string to the given limit, adding ellipsis if needed.
func truncate(value string, limit int) string {
	value = strings.TrimSpace(value)
	if limit <= 0 {
		return value
	}
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	if limit <= 3 {
		return string(runes[:limit])
	}
	return string(runes[:limit-3]) + "..."
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
