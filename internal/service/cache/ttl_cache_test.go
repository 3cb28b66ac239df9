package cache

import (
	"testing"
	"time"
)

func TestTTLCacheSetGet(t *testing.T) {
	c := NewTTLCache()
	if err := c.SetBytes("k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("SetBytes: %v", err)
	}
	b, ok, err := c.GetBytes("k")
	if err != nil || !ok {
		t.Fatalf("GetBytes = %v, %v, %v", b, ok, err)
	}
	if string(b) != "v" {
		t.Fatalf("got %q, want v", b)
	}
}

func TestTTLCacheExpiry(t *testing.T) {
	c := NewTTLCache()
	if err := c.SetBytes("k", []byte("v"), time.Nanosecond); err != nil {
		t.Fatalf("SetBytes: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, ok, _ := c.GetBytes("k"); ok {
		t.Fatal("expected expired entry to miss")
	}
}

func TestTTLCacheMiss(t *testing.T) {
	c := NewTTLCache()
	if _, ok, _ := c.GetBytes("absent"); ok {
		t.Fatal("expected miss for absent key")
	}
}
