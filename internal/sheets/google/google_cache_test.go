package google

import (
	"context"
	"testing"
	"time"
)

func TestRowCacheExpiration(t *testing.T) {
	c := &Client{
		cacheValidDuration: 100 * time.Millisecond, // Short TTL for testing
	}

	// Initial state: cache should be expired
	c.mu.Lock()
	isValid := time.Now().Before(c.cacheExpiresAt)
	c.mu.Unlock()
	if isValid {
		t.Error("cache should start expired")
	}

	// Manually set cache to valid state
	c.mu.Lock()
	c.cachedSheet = "2026 Transactions"
	c.cachedRowCount = 10
	c.cacheExpiresAt = time.Now().Add(c.cacheValidDuration)
	c.mu.Unlock()

	// Cache should be valid now
	c.mu.Lock()
	isValid = time.Now().Before(c.cacheExpiresAt)
	rowCount := c.cachedRowCount
	c.mu.Unlock()
	if !isValid {
		t.Error("cache should be valid immediately after update")
	}
	if rowCount != 10 {
		t.Errorf("cached row count should be 10, got %d", rowCount)
	}

	// Wait for cache to expire
	time.Sleep(150 * time.Millisecond)

	// Cache should be expired now
	c.mu.Lock()
	isValid = time.Now().Before(c.cacheExpiresAt)
	c.mu.Unlock()
	if isValid {
		t.Error("cache should be expired after TTL")
	}
}

func TestNextRowServedFromCache(t *testing.T) {
	// svc stays nil: a cache hit must not touch the Sheets API at all.
	c := &Client{cacheValidDuration: 2 * time.Minute}

	c.mu.Lock()
	c.cachedSheet = "2026 Transactions"
	c.cachedRowCount = 10
	c.cacheExpiresAt = time.Now().Add(c.cacheValidDuration)
	c.mu.Unlock()

	row, err := c.nextRow(context.Background(), "2026 Transactions")
	if err != nil {
		t.Fatalf("nextRow: %v", err)
	}
	if row != 11 {
		t.Errorf("expected next row 11, got %d", row)
	}

	// A successful append advances the count for the same tab only.
	c.bumpRowCount("2026 Transactions")
	c.bumpRowCount("2025 Transactions")

	row, err = c.nextRow(context.Background(), "2026 Transactions")
	if err != nil {
		t.Fatalf("nextRow after bump: %v", err)
	}
	if row != 12 {
		t.Errorf("expected next row 12 after bump, got %d", row)
	}
}

func TestInvalidateRowCache(t *testing.T) {
	c := &Client{
		cacheValidDuration: 10 * time.Minute,
	}

	// Set cache to valid state
	c.mu.Lock()
	c.cachedRowCount = 42
	c.cacheExpiresAt = time.Now().Add(c.cacheValidDuration)
	c.mu.Unlock()

	// Verify cache is valid
	c.mu.Lock()
	isValid := time.Now().Before(c.cacheExpiresAt)
	c.mu.Unlock()
	if !isValid {
		t.Error("cache should be valid before invalidation")
	}

	// Invalidate
	c.InvalidateRowCache()

	// Verify cache is now expired
	c.mu.Lock()
	isValid = time.Now().Before(c.cacheExpiresAt)
	c.mu.Unlock()
	if isValid {
		t.Error("cache should be expired after invalidation")
	}
}

func TestCacheInitialState(t *testing.T) {
	c := &Client{
		cacheValidDuration: 2 * time.Minute,
	}

	// Verify initial state
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cachedRowCount != 0 {
		t.Errorf("initial cachedRowCount should be 0, got %d", c.cachedRowCount)
	}

	if time.Now().Before(c.cacheExpiresAt) {
		t.Error("initial cacheExpiresAt should be in the past (expired)")
	}

	if c.cacheValidDuration != 2*time.Minute {
		t.Errorf("cache duration should be 2 minutes, got %v", c.cacheValidDuration)
	}
}

func TestCacheMutexProtection(t *testing.T) {
	c := &Client{
		cacheValidDuration: 2 * time.Minute,
	}

	// Write, read and invalidate concurrently to verify mutex protection
	done := make(chan struct{})

	go func() {
		for i := 0; i < 100; i++ {
			c.mu.Lock()
			c.cachedRowCount = i
			c.cacheExpiresAt = time.Now().Add(c.cacheValidDuration)
			c.mu.Unlock()
		}
		done <- struct{}{}
	}()

	go func() {
		for i := 0; i < 100; i++ {
			c.mu.Lock()
			_ = c.cachedRowCount
			_ = c.cacheExpiresAt
			c.mu.Unlock()
		}
		done <- struct{}{}
	}()

	go func() {
		for i := 0; i < 50; i++ {
			c.InvalidateRowCache()
			time.Sleep(1 * time.Millisecond)
		}
		done <- struct{}{}
	}()

	<-done
	<-done
	<-done
}
