package cache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestResponseCacheTTL(t *testing.T) {
	c := NewResponseCache()
	c.Set("k", "v", 20*time.Millisecond)

	if v, ok := c.Get("k"); !ok || v != "v" {
		t.Fatalf("Get = %v,%v, want v,true", v, ok)
	}
	time.Sleep(30 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Fatal("expired entry still served")
	}
}

func TestResponseCacheDoCollapsesInFlight(t *testing.T) {
	c := NewResponseCache()
	var calls int32
	release := make(chan struct{})

	fn := func() (any, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return "result", nil
	}

	var wg sync.WaitGroup
	results := make([]any, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.Do("posture:alice:full", time.Minute, fn)
			if err != nil {
				t.Errorf("Do: %v", err)
			}
			results[i] = v
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("computation ran %d times, want 1", n)
	}
	for i, v := range results {
		if v != "result" {
			t.Fatalf("caller %d got %v", i, v)
		}
	}
}

func TestResponseCacheDoServesCachedWithoutCompute(t *testing.T) {
	c := NewResponseCache()
	var calls int32
	fn := func() (any, error) {
		atomic.AddInt32(&calls, 1)
		return 42, nil
	}

	for i := 0; i < 3; i++ {
		v, err := c.Do("k", time.Minute, fn)
		if err != nil {
			t.Fatalf("Do: %v", err)
		}
		if v != 42 {
			t.Fatalf("Do = %v, want 42", v)
		}
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("computation ran %d times, want 1", n)
	}
}

func TestResponseCacheDoDoesNotCacheErrors(t *testing.T) {
	c := NewResponseCache()
	var calls int32
	fail := errors.New("upstream down")
	fn := func() (any, error) {
		atomic.AddInt32(&calls, 1)
		return nil, fail
	}

	for i := 0; i < 2; i++ {
		if _, err := c.Do("k", time.Minute, fn); !errors.Is(err, fail) {
			t.Fatalf("Do error = %v, want %v", err, fail)
		}
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Fatalf("failed computation ran %d times, want 2 (errors are not cached)", n)
	}
}

func TestResponseCacheKeysAreIndependent(t *testing.T) {
	c := NewResponseCache()
	// Distinct mode flags must produce distinct cache entries.
	c.Set("posture:alice:full", "full", time.Minute)
	c.Set("posture:alice:cacheOnly", "degraded", time.Minute)

	if v, _ := c.Get("posture:alice:full"); v != "full" {
		t.Fatalf("full entry = %v", v)
	}
	if v, _ := c.Get("posture:alice:cacheOnly"); v != "degraded" {
		t.Fatalf("cacheOnly entry = %v", v)
	}
}
