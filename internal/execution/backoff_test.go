package execution

import (
	"testing"
	"time"
)

func TestDelay(t *testing.T) {
	base := 5 * time.Second
	maxDelay := 2 * time.Minute

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 5 * time.Second}, // clamped to the first attempt
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{4, 40 * time.Second},
		{5, 80 * time.Second},
		{6, 2 * time.Minute}, // 160s capped
		{20, 2 * time.Minute},
		{100, 2 * time.Minute}, // no overflow for huge attempts
	}
	for _, c := range cases {
		if got := Delay(base, maxDelay, c.attempt); got != c.want {
			t.Errorf("Delay(attempt=%d): got %v, want %v", c.attempt, got, c.want)
		}
	}
}
