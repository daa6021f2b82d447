// Package format renders runtime sizes and durations for the process
// stats report printed at shutdown.
package format

import (
	"fmt"
	"time"

	"github.com/docker/go-units"
)

// Bytes renders a byte count using the nearest decimal (1000-based) unit
// (kB/MB/...).
func Bytes(bytes uint64) string {
	return units.HumanSize(float64(bytes))
}

// Duration renders d as NhNmNs, dropping leading zero components; a value
// under one second is rendered by time.Duration.String.
func Duration(d time.Duration) string {
	if d < time.Second {
		return d.String()
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
