package timesync

import (
	"time"
)

// Converter handles conversion from monotonic timestamps to wall-clock time.
type Converter struct {
	bootTime time.Time
}

// NewConverter anchors the monotonic clock to the wall clock once. If the
// monotonic clock cannot be read, boot time is estimated conservatively.
func NewConverter() (*Converter, error) {
	now := time.Now()
	mono, err := monotonicNow()
	if err != nil {
		return &Converter{bootTime: now.Add(-time.Hour)}, nil
	}

	return &Converter{
		bootTime: now.Add(-mono),
	}, nil
}

// NewConverterAt returns a converter anchored at a known boot time.
func NewConverterAt(bootTime time.Time) *Converter {
	return &Converter{bootTime: bootTime}
}

// MonotonicToWallClock converts a monotonic timestamp (nanoseconds since boot) to wall-clock time.
func (c *Converter) MonotonicToWallClock(monotonicNanos uint64) time.Time {
	//nolint:gosec // uint64 to int64 conversion for time.Duration is safe for reasonable timestamps
	return c.bootTime.Add(time.Duration(monotonicNanos))
}

// BootTime returns the system boot time used for conversions.
func (c *Converter) BootTime() time.Time {
	return c.bootTime
}
