package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestLinkQuotaRetryAfterSeconds(t *testing.T) {
	tests := []struct {
		retryAfter time.Duration
		want       int
	}{
		{0, 1},
		{time.Millisecond, 1},
		{999 * time.Millisecond, 1},
		{time.Second, 1},
		{1001 * time.Millisecond, 2},
		{59500 * time.Millisecond, 60},
	}

	for _, tt := range tests {
		if got := (LinkQuota{RetryAfter: tt.retryAfter}).RetryAfterSeconds(); got != tt.want {
			t.Fatalf("RetryAfterSeconds(%s) = %d, want %d", tt.retryAfter, got, tt.want)
		}
	}
}

func TestQuotaFromReply(t *testing.T) {
	window := time.Minute

	tests := []struct {
		name    string
		reply   interface{}
		want    LinkQuota
		wantErr bool
	}{
		{"allowed", []interface{}{int64(1), int64(3), int64(42000)}, LinkQuota{Allowed: true, Used: 3}, false},
		{"denied", []interface{}{int64(0), int64(20), int64(41500)}, LinkQuota{Used: 20, RetryAfter: 41500 * time.Millisecond}, false},
		{"denied without ttl", []interface{}{int64(0), int64(20), int64(-1)}, LinkQuota{Used: 20, RetryAfter: window}, false},
		{"short reply", []interface{}{int64(1), int64(3)}, LinkQuota{}, true},
		{"wrong type", []interface{}{"1", int64(3), int64(100)}, LinkQuota{}, true},
		{"not a list", "OK", LinkQuota{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := quotaFromReply(tt.reply, window)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("quotaFromReply returned error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestRedisRateLimiterBookingKey(t *testing.T) {
	bookingID := uuid.MustParse("0b9f6d2e-3c41-4d7a-8e5f-6a7b8c9d0e1f")

	limiter := NewRedisRateLimiter(nil, " settlement:limits: ")
	if got := limiter.bookingKey(bookingID); got != "settlement:limits:payment_links:booking:0b9f6d2e-3c41-4d7a-8e5f-6a7b8c9d0e1f" {
		t.Fatalf("unexpected key %s", got)
	}
	if got := NewRedisRateLimiter(nil, "").bookingKey(bookingID); got != "settlement:rate_limit:payment_links:booking:0b9f6d2e-3c41-4d7a-8e5f-6a7b8c9d0e1f" {
		t.Fatalf("unexpected default key %s", got)
	}
}

func TestRedisRateLimiterWithoutClientAllows(t *testing.T) {
	var nilLimiter *RedisRateLimiter
	quota, err := nilLimiter.ReserveLinkCreation(context.Background(), uuid.New(), 20, time.Minute)
	if err != nil || !quota.Allowed {
		t.Fatalf("nil limiter should allow, got %+v %v", quota, err)
	}

	quota, err = NewRedisRateLimiter(nil, "").ReserveLinkCreation(context.Background(), uuid.New(), 20, time.Minute)
	if err != nil || !quota.Allowed {
		t.Fatalf("limiter without client should allow, got %+v %v", quota, err)
	}
}
