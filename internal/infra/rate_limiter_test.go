package infra

import (
	"testing"
	"time"
)

func TestRateLimiter_BurstThenDeny(t *testing.T) {
	rl := NewRateLimiter(3, 1.0)

	for i := 0; i < 3; i++ {
		if !rl.TryAcquire() {
			t.Fatalf("token %d should be available from the initial burst", i)
		}
	}
	if rl.TryAcquire() {
		t.Error("burst exhausted, TryAcquire should fail")
	}
}

func TestRateLimiter_Refills(t *testing.T) {
	rl := NewRateLimiter(1, 50.0) // 50 tokens/sec

	if !rl.TryAcquire() {
		t.Fatal("first token should be available")
	}
	if rl.TryAcquire() {
		t.Fatal("second immediate acquire should fail")
	}

	time.Sleep(40 * time.Millisecond) // ~2 tokens refilled, capped at 1
	if !rl.TryAcquire() {
		t.Error("token should have refilled")
	}
}

func TestRateLimiter_WaitBlocksUntilToken(t *testing.T) {
	rl := NewRateLimiter(1, 20.0)
	rl.Wait() // consumes the burst token

	start := time.Now()
	rl.Wait()
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("Wait returned after %s, expected it to block for the refill", elapsed)
	}
}
