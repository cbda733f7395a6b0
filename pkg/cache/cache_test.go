package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func newTestCache(t *testing.T, opts Options) *Cache {
	t.Helper()
	c, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestKey(t *testing.T) {
	t.Run("same parts same key", func(t *testing.T) {
		a := Key([]byte("query"), []byte("10"))
		b := Key([]byte("query"), []byte("10"))
		if a != b {
			t.Errorf("Key mismatch: %s vs %s", a, b)
		}
	})

	t.Run("different parts different key", func(t *testing.T) {
		a := Key([]byte("query"), []byte("10"))
		b := Key([]byte("query"), []byte("11"))
		if a == b {
			t.Error("distinct inputs produced the same key")
		}
	})
}

func TestGetSet(t *testing.T) {
	c := newTestCache(t, Options{MaxEntries: 10})

	t.Run("set then get", func(t *testing.T) {
		c.Set("k", []byte("value"), 0)
		v, ok := c.Get("k")
		if !ok {
			t.Fatal("expected hit")
		}
		if string(v) != "value" {
			t.Errorf("got %q, want %q", v, "value")
		}
	})

	t.Run("absent key misses", func(t *testing.T) {
		if _, ok := c.Get("nope"); ok {
			t.Error("expected miss")
		}
	})

	t.Run("overwrite wins", func(t *testing.T) {
		c.Set("k", []byte("v1"), 0)
		c.Set("k", []byte("v2"), 0)
		v, _ := c.Get("k")
		if string(v) != "v2" {
			t.Errorf("got %q, want v2", v)
		}
	})
}

func TestTTL(t *testing.T) {
	t.Run("expired entry is absent before eviction", func(t *testing.T) {
		c := newTestCache(t, Options{MaxEntries: 10})
		c.Set("k", []byte("v"), 20*time.Millisecond)

		if _, ok := c.Get("k"); !ok {
			t.Fatal("expected hit before expiry")
		}
		time.Sleep(30 * time.Millisecond)
		if _, ok := c.Get("k"); ok {
			t.Error("expected miss after expiry")
		}
	})

	t.Run("default TTL applies", func(t *testing.T) {
		c := newTestCache(t, Options{MaxEntries: 10, DefaultTTL: 20 * time.Millisecond})
		c.Set("k", []byte("v"), 0)
		time.Sleep(30 * time.Millisecond)
		if _, ok := c.Get("k"); ok {
			t.Error("expected miss after default TTL")
		}
	})

	t.Run("negative TTL never expires", func(t *testing.T) {
		c := newTestCache(t, Options{MaxEntries: 10, DefaultTTL: 10 * time.Millisecond})
		c.Set("k", []byte("v"), -1)
		time.Sleep(20 * time.Millisecond)
		if _, ok := c.Get("k"); !ok {
			t.Error("expected hit, negative TTL should pin the entry")
		}
	})
}

func TestLRUEviction(t *testing.T) {
	t.Run("entry budget evicts oldest", func(t *testing.T) {
		c := newTestCache(t, Options{MaxEntries: 3})
		for i := 0; i < 4; i++ {
			c.Set(fmt.Sprintf("k%d", i), []byte("v"), 0)
		}

		if _, ok := c.Get("k0"); ok {
			t.Error("k0 should have been evicted")
		}
		for i := 1; i < 4; i++ {
			if _, ok := c.Get(fmt.Sprintf("k%d", i)); !ok {
				t.Errorf("k%d should still be resident", i)
			}
		}
	})

	t.Run("get refreshes recency", func(t *testing.T) {
		c := newTestCache(t, Options{MaxEntries: 3})
		c.Set("a", []byte("v"), 0)
		c.Set("b", []byte("v"), 0)
		c.Set("c", []byte("v"), 0)

		c.Get("a") // a becomes most recent
		c.Set("d", []byte("v"), 0)

		if _, ok := c.Get("a"); !ok {
			t.Error("a was refreshed and should survive")
		}
		if _, ok := c.Get("b"); ok {
			t.Error("b was the LRU entry and should be gone")
		}
	})

	t.Run("byte budget evicts", func(t *testing.T) {
		c := newTestCache(t, Options{MaxEntries: 100, MaxBytes: 64})
		big := make([]byte, 40)
		c.Set("one", big, 0)
		c.Set("two", big, 0) // pushes total over 64 bytes

		if _, ok := c.Get("one"); ok {
			t.Error("one should have been evicted by the byte budget")
		}
		if _, ok := c.Get("two"); !ok {
			t.Error("two should be resident")
		}
	})
}

func TestStats(t *testing.T) {
	c := newTestCache(t, Options{MaxEntries: 2})

	c.Set("a", []byte("v"), 0)
	c.Get("a")    // hit
	c.Get("miss") // miss
	c.Set("b", []byte("v"), 0)
	c.Set("c", []byte("v"), 0) // evicts

	s := c.Stats()
	if s.Hits != 1 {
		t.Errorf("Hits = %d, want 1", s.Hits)
	}
	if s.Misses != 1 {
		t.Errorf("Misses = %d, want 1", s.Misses)
	}
	if s.HitRate != 0.5 {
		t.Errorf("HitRate = %v, want 0.5", s.HitRate)
	}
	if s.Evictions != 1 {
		t.Errorf("Evictions = %d, want 1", s.Evictions)
	}
	if s.Size != 2 {
		t.Errorf("Size = %d, want 2", s.Size)
	}
	if s.Bytes <= 0 {
		t.Errorf("Bytes = %d, want > 0", s.Bytes)
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := newTestCache(t, Options{MaxEntries: 128})

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", i%32)
				c.Set(key, []byte(fmt.Sprintf("w%d-%d", w, i)), 0)
				if v, ok := c.Get(key); ok && len(v) == 0 {
					t.Error("observed torn value")
				}
			}
		}(w)
	}
	wg.Wait()

	if c.Len() > 128 {
		t.Errorf("len = %d exceeds budget", c.Len())
	}
}

func TestDiskSpill(t *testing.T) {
	t.Run("evicted entries rehydrate from disk", func(t *testing.T) {
		c := newTestCache(t, Options{MaxEntries: 2, SpillDir: t.TempDir()})

		c.Set("a", []byte("va"), 0)
		c.Set("b", []byte("vb"), 0)
		c.Set("c", []byte("vc"), 0) // evicts a to disk

		v, ok := c.Get("a")
		if !ok {
			t.Fatal("expected spilled entry to rehydrate")
		}
		if string(v) != "va" {
			t.Errorf("got %q, want va", v)
		}
		if s := c.Stats(); s.Spills == 0 {
			t.Errorf("Spills = %d, want > 0", s.Spills)
		}
	})

	t.Run("spilled entries survive restart", func(t *testing.T) {
		dir := t.TempDir()

		c1, err := New(Options{MaxEntries: 1, SpillDir: dir})
		if err != nil {
			t.Fatal(err)
		}
		c1.Set("keep", []byte("payload"), 0)
		c1.Set("fill", []byte("x"), 0) // spills keep
		if err := c1.Close(); err != nil {
			t.Fatal(err)
		}

		c2 := newTestCache(t, Options{MaxEntries: 10, SpillDir: dir})
		v, ok := c2.Get("keep")
		if !ok {
			t.Fatal("expected spilled entry after restart")
		}
		if string(v) != "payload" {
			t.Errorf("got %q, want payload", v)
		}
	})

	t.Run("ttl survives the disk round trip", func(t *testing.T) {
		c := newTestCache(t, Options{MaxEntries: 1, SpillDir: t.TempDir()})

		c.Set("short", []byte("v"), 30*time.Millisecond)
		c.Set("fill", []byte("x"), 0) // spills short
		time.Sleep(40 * time.Millisecond)

		if _, ok := c.Get("short"); ok {
			t.Error("expected spilled entry to honor its TTL")
		}
	})

	t.Run("unusable spill dir degrades to memory-only", func(t *testing.T) {
		c := newTestCache(t, Options{MaxEntries: 4, SpillDir: "/dev/null/not-a-dir"})
		c.Set("k", []byte("v"), 0)
		if _, ok := c.Get("k"); !ok {
			t.Error("memory path should keep working")
		}
	})
}

func TestClearAndDelete(t *testing.T) {
	c := newTestCache(t, Options{MaxEntries: 4, SpillDir: t.TempDir()})

	c.Set("a", []byte("v"), 0)
	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Error("deleted key should miss")
	}

	c.Set("b", []byte("v"), 0)
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("len after Clear = %d, want 0", c.Len())
	}
	if _, ok := c.Get("b"); ok {
		t.Error("cleared key should miss")
	}
}

func TestSpillNeverResurfacesStaleValues(t *testing.T) {
	t.Run("overwriting a spilled key deletes the disk copy", func(t *testing.T) {
		c := newTestCache(t, Options{MaxEntries: 1, SpillDir: t.TempDir()})

		c.Set("k", []byte("v1"), 0)
		c.Set("fill", []byte("x"), 0) // evicts k, spilling v1
		c.Set("k", []byte("v2"), 20*time.Millisecond)

		time.Sleep(30 * time.Millisecond)
		if v, ok := c.Get("k"); ok {
			t.Fatalf("Get after expiry returned %q, want absent", v)
		}
		// The disk copy of v1 must be gone too, not just the resident v2.
		if v, ok := c.Get("k"); ok {
			t.Fatalf("second Get returned %q, want absent", v)
		}
	})

	t.Run("overwriting a spilled key before expiry serves the new value", func(t *testing.T) {
		c := newTestCache(t, Options{MaxEntries: 1, SpillDir: t.TempDir()})

		c.Set("k", []byte("v1"), 0)
		c.Set("fill", []byte("x"), 0) // evicts k, spilling v1
		c.Set("k", []byte("v2"), 0)

		if v, ok := c.Get("k"); !ok || string(v) != "v2" {
			t.Fatalf("Get = %q, %v; want v2 after overwrite", v, ok)
		}
	})

	t.Run("superseded value does not survive restart", func(t *testing.T) {
		dir := t.TempDir()

		c1, err := New(Options{MaxEntries: 1, SpillDir: dir})
		if err != nil {
			t.Fatal(err)
		}
		c1.Set("k", []byte("v1"), 0)
		c1.Set("fill", []byte("x"), 0) // evicts k, spilling v1
		c1.Set("k", []byte("v2"), 0)
		if err := c1.Close(); err != nil {
			t.Fatal(err)
		}

		// v2 was resident-only and dies with the process; the spilled v1
		// it replaced must not come back in its place.
		c2 := newTestCache(t, Options{MaxEntries: 10, SpillDir: dir})
		if v, ok := c2.Get("k"); ok {
			t.Fatalf("Get after restart returned %q, want absent", v)
		}
	})

	t.Run("entries that expire while resident are never spilled", func(t *testing.T) {
		c := newTestCache(t, Options{MaxEntries: 1, SpillDir: t.TempDir()})

		c.Set("k", []byte("v"), 20*time.Millisecond)
		time.Sleep(30 * time.Millisecond)
		c.Set("fill", []byte("x"), 0) // evicts the expired k

		if _, ok := c.Get("k"); ok {
			t.Fatal("expired entry came back from disk")
		}
		if s := c.Stats(); s.Spills != 0 {
			t.Errorf("Spills = %d, want 0 for expired evictions", s.Spills)
		}
	})
}
