package dispatch

import (
	"testing"
	"time"
)

func TestParseWhen(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)

	cases := []struct {
		in           string
		wantAt       time.Time
		wantInterval time.Duration
		wantErr      bool
	}{
		{in: "in 10 minutes", wantAt: now.Add(10 * time.Minute)},
		{in: "in 2 hours", wantAt: now.Add(2 * time.Hour)},
		{in: "in 1 day", wantAt: now.Add(24 * time.Hour)},
		{in: "45m", wantAt: now.Add(45 * time.Minute)},
		{in: "1h30m", wantAt: now.Add(90 * time.Minute)},
		{in: "every hour", wantAt: now.Add(time.Hour), wantInterval: time.Hour},
		{in: "every 30 minutes", wantAt: now.Add(30 * time.Minute), wantInterval: 30 * time.Minute},
		{in: "@every 30s", wantAt: now.Add(30 * time.Second), wantInterval: 30 * time.Second},
		{in: "tomorrow", wantAt: time.Date(2025, 3, 11, 9, 0, 0, 0, time.UTC)},
		{in: "tomorrow at 6pm", wantAt: time.Date(2025, 3, 11, 18, 0, 0, 0, time.UTC)},
		{in: "at 18:30", wantAt: time.Date(2025, 3, 10, 18, 30, 0, 0, time.UTC)},
		// 9am already passed at 14:00, rolls to next day
		{in: "at 9am", wantAt: time.Date(2025, 3, 11, 9, 0, 0, 0, time.UTC)},
		{in: "9:30pm", wantAt: time.Date(2025, 3, 10, 21, 30, 0, 0, time.UTC)},
		{in: "2025-04-01T08:00:00Z", wantAt: time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)},
		// Absolute times must land in the future.
		{in: "2020-01-01T00:00:00Z", wantErr: true},
		{in: "2025-03-10T14:00:00Z", wantErr: true},
		{in: "whenever", wantErr: true},
		{in: "", wantErr: true},
		{in: "at 25:99", wantErr: true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			got, err := parseWhenAt(tc.in, now)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("parseWhenAt(%q) = %+v, want error", tc.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseWhenAt(%q): %v", tc.in, err)
			}
			if !got.At.Equal(tc.wantAt) {
				t.Fatalf("At = %v, want %v", got.At, tc.wantAt)
			}
			if got.Interval != tc.wantInterval {
				t.Fatalf("Interval = %v, want %v", got.Interval, tc.wantInterval)
			}
		})
	}
}

func TestWhenCanonicalRoundTrip(t *testing.T) {
	t.Parallel()
	now := time.Now()

	oneShot := When{At: now.Add(time.Hour).Truncate(time.Second)}
	got, err := ParseWhen(oneShot.Canonical())
	if err != nil {
		t.Fatalf("ParseWhen(canonical one-shot): %v", err)
	}
	if !got.At.Equal(oneShot.At) || got.Interval != 0 {
		t.Fatalf("round trip = %+v, want %+v", got, oneShot)
	}

	rec := When{At: now.Add(30 * time.Minute), Interval: 30 * time.Minute}
	got, err = ParseWhen(rec.Canonical())
	if err != nil {
		t.Fatalf("ParseWhen(canonical recurring): %v", err)
	}
	if got.Interval != rec.Interval {
		t.Fatalf("Interval = %v, want %v", got.Interval, rec.Interval)
	}
}
