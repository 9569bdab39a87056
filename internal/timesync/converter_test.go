package timesync

import (
	"testing"
	"time"
)

func TestConverter_MonotonicToWallClock(t *testing.T) {
	bootTime := time.Unix(1000000000, 0)
	converter := NewConverterAt(bootTime)

	tests := []struct {
		name           string
		monotonicNanos uint64
		want           time.Time
	}{
		{
			name:           "zero nanoseconds",
			monotonicNanos: 0,
			want:           bootTime,
		},
		{
			name:           "one second",
			monotonicNanos: 1_000_000_000,
			want:           bootTime.Add(1 * time.Second),
		},
		{
			name:           "mixed time",
			monotonicNanos: 123_456_789_000,
			want:           bootTime.Add(123*time.Second + 456*time.Millisecond + 789*time.Microsecond),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := converter.MonotonicToWallClock(tt.monotonicNanos)
			if !got.Equal(tt.want) {
				t.Errorf("MonotonicToWallClock() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewConverter(t *testing.T) {
	converter, err := NewConverter()
	if err != nil {
		t.Fatalf("NewConverter() error = %v", err)
	}

	bootTime := converter.BootTime()
	if bootTime.IsZero() {
		t.Error("BootTime() is zero")
	}
	if bootTime.After(time.Now()) {
		t.Error("BootTime() is in the future")
	}
}

func TestNewConverter_ConvertsCurrentMonotonicTime(t *testing.T) {
	mono, err := monotonicNow()
	if err != nil {
		t.Skipf("monotonic clock unavailable: %v", err)
	}

	converter, err := NewConverter()
	if err != nil {
		t.Fatalf("NewConverter() error = %v", err)
	}

	//nolint:gosec // monotonic time is positive
	got := converter.MonotonicToWallClock(uint64(mono))
	if drift := time.Since(got); drift < -time.Second || drift > time.Second {
		t.Errorf("converted monotonic now drifts %v from wall clock", drift)
	}
}
