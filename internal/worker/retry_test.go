package worker

import (
	"testing"
	"time"
)

func TestBackoffDoublesPerAttempt(t *testing.T) {
	t.Parallel()

	base := 5 * time.Second
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 5 * time.Second},
		{1, 10 * time.Second},
		{2, 20 * time.Second},
		{3, 40 * time.Second},
	}
	for _, tc := range cases {
		if got := Backoff(base, tc.attempt); got != tc.want {
			t.Fatalf("Backoff(%v, %d) = %v, want %v", base, tc.attempt, got, tc.want)
		}
	}
}

func TestBackoffCapped(t *testing.T) {
	t.Parallel()

	if got := Backoff(time.Minute, 20); got != 5*time.Minute {
		t.Fatalf("expected cap at 5m, got %v", got)
	}
}
