package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"blockctl/internal/utils"
)

func TestMemcachedExpiration(t *testing.T) {
	tests := []struct {
		name string
		ttl  time.Duration
		want int32
	}{
		{"NoExpiry", 0, 0},
		{"Negative", -time.Second, 0},
		{"SubSecondRoundsUp", 300 * time.Millisecond, 1},
		{"WholeSeconds", 10 * time.Minute, 600},
		{"FractionRoundsUp", 1500 * time.Millisecond, 2},
		{"ThirtyDays", 30 * 24 * time.Hour, maxRelativeExpiration},
		{"OverThirtyDaysCapped", 90 * 24 * time.Hour, maxRelativeExpiration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := expiration(tt.ttl); got != tt.want {
				t.Errorf("expiration(%s) = %d, want %d", tt.ttl, got, tt.want)
			}
		})
	}
}

func TestMemcachedRejectsOversizedValue(t *testing.T) {
	// Nothing listens here; the size check runs before any network call.
	mc, err := NewMemcached(50*time.Millisecond, "127.0.0.1:1")
	if err != nil {
		t.Fatal(err)
	}

	err = mc.Set(context.Background(), "Config", make([]byte, utils.MaxCacheValueSize+1), time.Minute)
	if !errors.Is(err, ErrValueTooLarge) {
		t.Errorf("expected ErrValueTooLarge, got %v", err)
	}
}
