package clock_test

import (
	"context"
	"testing"
	"time"

	"contentengine/internal/clock"
)

func TestNextUTCMidnight(t *testing.T) {
	cases := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{
			name: "mid-day rolls to next midnight",
			now:  time.Date(2026, 3, 5, 14, 30, 0, 0, time.UTC),
			want: time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "exactly midnight rolls to the following day",
			now:  time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC),
			want: time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "non-UTC input normalized before comparison",
			now:  time.Date(2026, 3, 5, 23, 0, 0, 0, time.FixedZone("X", -3*3600)),
			want: time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := clock.NextUTCMidnight(tc.now)
			if !got.Equal(tc.want) {
				t.Fatalf("NextUTCMidnight(%v) = %v, want %v", tc.now, got, tc.want)
			}
		})
	}
}

func TestBackoffDelayDeterministic(t *testing.T) {
	cases := []struct {
		name    string
		attempt int
		base    time.Duration
		max     time.Duration
		factor  float64
		want    time.Duration
	}{
		{"first attempt returns base", 0, time.Second, time.Minute, 2, time.Second},
		{"second attempt doubles", 1, time.Second, time.Minute, 2, 2 * time.Second},
		{"third attempt quadruples", 2, time.Second, time.Minute, 2, 4 * time.Second},
		{"capped at max", 10, time.Second, 5 * time.Second, 2, 5 * time.Second},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := clock.BackoffDelay(tc.attempt, tc.base, tc.max, tc.factor, false)
			if got != tc.want {
				t.Fatalf("BackoffDelay(%d) = %v, want %v", tc.attempt, got, tc.want)
			}
		})
	}
}

func TestBackoffDelayJitterWithinBounds(t *testing.T) {
	base := time.Second
	max := time.Minute
	for i := 0; i < 50; i++ {
		got := clock.BackoffDelay(3, base, max, 2, true)
		undelayed := clock.BackoffDelay(3, base, max, 2, false)
		if got < undelayed/2 || got > undelayed {
			t.Fatalf("jittered delay %v outside [%v, %v]", got, undelayed/2, undelayed)
		}
	}
}

func TestRealSleepHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := clock.Real().Sleep(ctx, time.Hour)
	if err == nil {
		t.Fatal("expected error from cancelled context, got nil")
	}
}

func TestRealSleepCompletesNormally(t *testing.T) {
	start := clock.Real().Now()
	if err := clock.Real().Sleep(context.Background(), 5*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := clock.Real().Now().Sub(start); elapsed < 5*time.Millisecond {
		t.Fatalf("slept for %v, want at least 5ms", elapsed)
	}
}

func TestJitterDurationWithinBounds(t *testing.T) {
	if got := clock.JitterDuration(0); got != 0 {
		t.Fatalf("JitterDuration(0) = %v, want 0", got)
	}
	max := 100 * time.Millisecond
	for i := 0; i < 50; i++ {
		got := clock.JitterDuration(max)
		if got < 0 || got >= max {
			t.Fatalf("JitterDuration(%v) = %v out of bounds", max, got)
		}
	}
}
