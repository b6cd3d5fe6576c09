package cache

import "testing"

func TestReadCache_InvalidateTable(t *testing.T) {
	c, err := NewReadCache(8)
	if err != nil {
		t.Fatalf("NewReadCache() error = %v", err)
	}

	c.Add("cars", "summary", 10)
	c.Add("cars", "latest", "2024-01")
	c.Add("coe", "summary", 3)

	c.InvalidateTable("cars")

	if _, ok := c.Get("cars", "summary"); ok {
		t.Error("cars summary should be invalidated")
	}
	if _, ok := c.Get("cars", "latest"); ok {
		t.Error("cars latest should be invalidated")
	}
	if c.Contains("cars") {
		t.Error("Contains(cars) = true after invalidation")
	}
	if v, ok := c.Get("coe", "summary"); !ok || v != 3 {
		t.Errorf("coe summary = %v, %v; want untouched", v, ok)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestReadCache_AddAt(t *testing.T) {
	c, err := NewReadCache(8)
	if err != nil {
		t.Fatalf("NewReadCache() error = %v", err)
	}

	stale := c.Generation("cars")
	c.InvalidateTable("cars")

	if c.AddAt("cars", "summary", 10, stale) {
		t.Error("AddAt() with a generation from before invalidation = true")
	}
	if _, ok := c.Get("cars", "summary"); ok {
		t.Error("result read before invalidation must not be cached")
	}

	current := c.Generation("cars")
	if current == stale {
		t.Fatalf("Generation() = %d after invalidation, want it bumped", current)
	}
	if !c.AddAt("cars", "summary", 11, current) {
		t.Error("AddAt() with the current generation = false")
	}
	if v, ok := c.Get("cars", "summary"); !ok || v != 11 {
		t.Errorf("cars summary = %v, %v; want 11", v, ok)
	}

	if !c.AddAt("coe", "summary", 3, c.Generation("coe")) {
		t.Error("invalidating cars must not change the coe generation")
	}
}

func TestReadCache_TablePrefixesDoNotCollide(t *testing.T) {
	c, err := NewReadCache(8)
	if err != nil {
		t.Fatalf("NewReadCache() error = %v", err)
	}

	c.Add("coe", "summary", 1)
	c.Add("coe_pqp", "summary", 2)

	c.InvalidateTable("coe")

	if _, ok := c.Get("coe_pqp", "summary"); !ok {
		t.Error("invalidating coe must not drop coe_pqp")
	}
}

func TestReadCache_Evicts(t *testing.T) {
	c, err := NewReadCache(2)
	if err != nil {
		t.Fatalf("NewReadCache() error = %v", err)
	}

	c.Add("a", "k", 1)
	c.Add("b", "k", 2)
	c.Add("c", "k", 3)

	if _, ok := c.Get("a", "k"); ok {
		t.Error("oldest entry should be evicted")
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}

func TestNewReadCache_InvalidSize(t *testing.T) {
	if _, err := NewReadCache(0); err == nil {
		t.Error("NewReadCache(0) expected error")
	}
}
