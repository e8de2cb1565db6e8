package ttl

import (
	"testing"
	"time"
)

func TestEffective(t *testing.T) {
	// 2021-12-20T11:33:20Z
	now := time.Unix(1640000000, 0)

	tests := []struct {
		name        string
		lastUpdated int64
		declared    int64
		minimum     int64
		want        time.Duration
	}{
		{"expired feed returns floor", now.Unix() - 3600, 10, 3600, 3600 * time.Second},
		{"remaining below floor returns floor", now.Unix() - 20, 10, 3600, 3600 * time.Second},
		{"remaining above floor returns remaining", now.Unix() - 10, 30, 10, 20 * time.Second},
		{"remaining equal to floor returns floor", now.Unix() - 10, 20, 10, 10 * time.Second},
		{"zero floor, fresh feed", now.Unix(), 60, 0, 60 * time.Second},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Effective(now, tc.lastUpdated, tc.declared, tc.minimum)
			if got != tc.want {
				t.Fatalf("Effective(%d, %d, %d) = %v, want %v",
					tc.lastUpdated, tc.declared, tc.minimum, got, tc.want)
			}
		})
	}
}
