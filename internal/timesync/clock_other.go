//go:build !linux

package timesync

import (
	"errors"
	"time"
)

func monotonicNow() (time.Duration, error) {
	return 0, errors.New("kernel monotonic clock is only readable on linux")
}
