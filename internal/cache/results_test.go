package cache

import (
	"testing"
	"time"
)

func TestResultsExpiry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := New(time.Minute)
	c.now = func() time.Time { return now }

	c.Set("1934795512955801600:*build-log*:[Ee]rror", `{"job_runs":[]}`)
	if v, ok := c.Get("1934795512955801600:*build-log*:[Ee]rror"); !ok || v != `{"job_runs":[]}` {
		t.Fatalf("Get = %q, %v", v, ok)
	}

	now = now.Add(2 * time.Minute)
	if _, ok := c.Get("1934795512955801600:*build-log*:[Ee]rror"); ok {
		t.Fatal("expected expired entry")
	}
	if c.Len() != 0 {
		t.Fatalf("Len = %d, expired entry should be dropped", c.Len())
	}
}

func TestResultsDefaultTTL(t *testing.T) {
	if c := New(0); c.ttl != DefaultTTL {
		t.Fatalf("ttl = %v", c.ttl)
	}
}
