package output

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/foreigner-chat/chatload/internal/metrics"
)

// formatDuration formats a wall-clock duration for the header and progress.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
}

// formatMillis formats a time-trend statistic held in milliseconds.
func formatMillis(ms float64) string {
	switch {
	case ms <= 0:
		return "0s"
	case ms < 1:
		return fmt.Sprintf("%.2fµs", ms*1000)
	case ms < 1000:
		return fmt.Sprintf("%.2fms", ms)
	case ms < 60_000:
		return fmt.Sprintf("%.2fs", ms/1000)
	default:
		return fmt.Sprintf("%.1fm", ms/60_000)
	}
}

// formatBytes formats a byte count using binary prefixes.
func formatBytes(n float64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%.0f B", n)
	}
	div, exp := float64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", n/div, "KMGTPE"[exp])
}

// formatNumber formats an integer with thousands separators.
func formatNumber(n int64) string {
	str := strconv.FormatInt(n, 10)
	neg := strings.HasPrefix(str, "-")
	str = strings.TrimPrefix(str, "-")
	if len(str) <= 3 {
		if neg {
			return "-" + str
		}
		return str
	}

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	offset := len(str) % 3
	if offset > 0 {
		b.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(str[i : i+3])
	}
	return b.String()
}

// formatStat renders one statistic of a metric in the metric's unit.
func formatStat(typ metrics.Type, contains metrics.ValueType, key string, v float64) string {
	switch {
	case typ == metrics.Rate && key == "rate":
		return fmt.Sprintf("%.2f%%", v*100)
	case typ == metrics.Counter && contains == metrics.Data:
		if key == "rate" {
			return formatBytes(v) + "/s"
		}
		return formatBytes(v)
	case typ == metrics.Counter && key == "rate":
		return fmt.Sprintf("%.2f/s", v)
	case key == "count" || key == "passes" || key == "fails":
		return formatNumber(int64(v))
	case contains == metrics.Time:
		return formatMillis(v)
	case contains == metrics.Data:
		return formatBytes(v)
	default:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
}

// stripANSI removes ANSI escape sequences, for measuring visible width.
func stripANSI(s string) string {
	var b strings.Builder
	inEscape := false
	for i := 0; i < len(s); i++ {
		if s[i] == '\033' {
			inEscape = true
			continue
		}
		if inEscape {
			if (s[i] >= 'a' && s[i] <= 'z') || (s[i] >= 'A' && s[i] <= 'Z') {
				inEscape = false
			}
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// padRight pads s with dots to width, ignoring color codes.
func padRight(s string, width int) string {
	visible := len([]rune(stripANSI(s)))
	if visible >= width {
		return s + " "
	}
	return s + " " + strings.Repeat(".", width-visible-1) + " "
}
