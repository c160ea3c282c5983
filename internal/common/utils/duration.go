// Package utils holds small helpers shared by the config layer, the admin
// API and tier construction.
package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDuration extends time.ParseDuration with days ("7d"), weeks ("2w") and
// bare integers, which are read as seconds.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)

	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	if seconds, err := strconv.Atoi(s); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}

	if len(s) > 1 {
		n, err := strconv.Atoi(s[:len(s)-1])
		if err == nil {
			switch s[len(s)-1] {
			case 'd':
				return time.Duration(n) * 24 * time.Hour, nil
			case 'w':
				return time.Duration(n) * 7 * 24 * time.Hour, nil
			}
		}
	}

	return 0, fmt.Errorf("invalid duration: %q", s)
}

// FormatDuration renders d in its largest sensible unit, "never" for zero.
//
//	FormatDuration(30 * time.Second) // "30s"
//	FormatDuration(90 * time.Minute) // "1.5h"
//	FormatDuration(36 * time.Hour)   // "1.5d"
func FormatDuration(d time.Duration) string {
	switch {
	case d == 0:
		return "never"
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.0fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%.0fm", d.Minutes())
	case d < 24*time.Hour:
		return fmt.Sprintf("%.1fh", d.Hours())
	default:
		return fmt.Sprintf("%.1fd", d.Hours()/24)
	}
}
