package util

import "time"

// DefaultMaxBackoffSeconds caps any computed backoff interval.
const DefaultMaxBackoffSeconds = 5 * time.Minute
