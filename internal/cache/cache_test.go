package cache

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*VerifierCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewWithClient(rdb, 10*time.Minute)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestPutAndTake(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	if err := c.Put(ctx, "deid_subj-1", "verifier-abc"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := c.Take(ctx, "deid_subj-1")
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	if got != "verifier-abc" {
		t.Errorf("verifier = %q", got)
	}

	// Verifiers are single-use.
	if _, err := c.Take(ctx, "deid_subj-1"); !errors.Is(err, ErrVerifierMissing) {
		t.Fatalf("second Take = %v, want ErrVerifierMissing", err)
	}
}

func TestTakeUnknownState(t *testing.T) {
	c, _ := newTestCache(t)
	if _, err := c.Take(context.Background(), "deid_nobody"); !errors.Is(err, ErrVerifierMissing) {
		t.Fatalf("Take = %v, want ErrVerifierMissing", err)
	}
}

func TestVerifierExpires(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	if err := c.Put(ctx, "deid_subj-1", "verifier-abc"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	mr.FastForward(11 * time.Minute)
	if _, err := c.Take(ctx, "deid_subj-1"); !errors.Is(err, ErrVerifierMissing) {
		t.Fatalf("Take after expiry = %v, want ErrVerifierMissing", err)
	}
}

func TestGeneratePKCE(t *testing.T) {
	verifier, challenge, err := GeneratePKCE()
	if err != nil {
		t.Fatalf("GeneratePKCE: %v", err)
	}
	if len(verifier) != 43 {
		t.Errorf("len(verifier) = %d, want 43", len(verifier))
	}
	sum := sha256.Sum256([]byte(verifier))
	if want := base64.RawURLEncoding.EncodeToString(sum[:]); challenge != want {
		t.Errorf("challenge = %q, want %q", challenge, want)
	}

	other, _, err := GeneratePKCE()
	if err != nil {
		t.Fatalf("GeneratePKCE second: %v", err)
	}
	if other == verifier {
		t.Error("verifiers are not random")
	}
}
