package cache

import (
	"context"
	"testing"
)

func TestHashIP_Deterministic(t *testing.T) {
	t.Parallel()

	ip := "192.168.1.100"

	hash1 := hashIP(ip)
	hash2 := hashIP(ip)

	if hash1 != hash2 {
		t.Error("Same IP should produce same hash")
	}
}

func TestHashIP_Length(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ip   string
	}{
		{"IPv4", "192.168.1.1"},
		{"IPv4 localhost", "127.0.0.1"},
		{"IPv6 localhost", "::1"},
		{"IPv6 full", "2001:0db8:85a3:0000:0000:8a2e:0370:7334"},
		{"empty", ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			hash := hashIP(tt.ip)
			// hashIP uses first 8 bytes of SHA256, encoded as 16 hex chars
			if len(hash) != 16 {
				t.Errorf("hashIP(%q) length = %d, want 16", tt.ip, len(hash))
			}
		})
	}
}

func TestHashIP_Different(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ip1  string
		ip2  string
	}{
		{"different IPv4", "192.168.1.1", "192.168.1.2"},
		{"different last octet", "10.0.0.1", "10.0.0.2"},
		{"IPv4 vs IPv6", "127.0.0.1", "::1"},
		{"public vs private", "8.8.8.8", "192.168.1.1"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			hash1 := hashIP(tt.ip1)
			hash2 := hashIP(tt.ip2)

			if hash1 == hash2 {
				t.Errorf("Different IPs should produce different hashes: %q and %q both produced %s", tt.ip1, tt.ip2, hash1)
			}
		})
	}
}

func TestPerSecond(t *testing.T) {
	t.Parallel()

	tests := []struct {
		perMinute int
		want      float64
	}{
		{60, 1},
		{30, 0.5},
		{120, 2},
	}

	for _, tt := range tests {
		if got := perSecond(tt.perMinute); got != tt.want {
			t.Errorf("perSecond(%d) = %v, want %v", tt.perMinute, got, tt.want)
		}
	}
}

func TestCheckRateLimit_DisabledLimitSkipsRedis(t *testing.T) {
	t.Parallel()

	// A nil client would panic if the script ran.
	c := &Cache{}
	res, err := c.CheckUserRateLimit(context.Background(), "user-1", Limit{PerMinute: 0, Burst: 3})
	if err != nil {
		t.Fatalf("CheckUserRateLimit: %v", err)
	}
	if !res.Allowed || res.Remaining != 3 {
		t.Errorf("result = %+v, want allowed with 3 remaining", res)
	}
}

func TestTryLock_RejectsNonPositiveTTL(t *testing.T) {
	t.Parallel()

	c := &Cache{}
	if _, _, err := c.TryLock(context.Background(), "k", 0); err == nil {
		t.Fatal("expected error for zero ttl")
	}
}
