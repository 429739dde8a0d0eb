package util

import (
	"fmt"
	"time"

	units "github.com/docker/go-units"
)

var sizeAbbrs = []string{"Bytes", "KB", "MB", "GB", "TB"}

// OrDash returns the string if non-empty, otherwise returns "-".
func OrDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// FormatBytes formats a file size with binary multiples, e.g. "1.5 KB" or "25 MB".
func FormatBytes(bytes int64) string {
	if bytes == 0 {
		return "0 Bytes"
	}
	return units.CustomSize("%.4g %s", float64(bytes), 1024.0, sizeAbbrs)
}

// FormatRemaining renders a remaining duration as whole minutes, rounding up,
// the way the progress line shows it.
func FormatRemaining(d time.Duration) string {
	if d <= 0 {
		return "0 minutes"
	}
	minutes := int((d + time.Minute - 1) / time.Minute)
	if minutes == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", minutes)
}

// FormatLocal formats a timestamp in the local timezone.
func FormatLocal(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}
