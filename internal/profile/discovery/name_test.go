package discovery

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/taskscope/taskscope/internal/procfs"
)

func TestByNameDefaultPrefix(t *testing.T) {
	// spec.md §8 S1
	threads := []procfs.Thread{
		{TID: 11, Comm: "main"},
		{TID: 12, Comm: "tokio-runtime-w"},
		{TID: 13, Comm: "tokio-runtime-w"},
		{TID: 14, Comm: "tokio-runtime-w"},
	}

	workers, err := ByName(threads, "", zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(workers) != 3 {
		t.Fatalf("expected 3 workers, got %d", len(workers))
	}
	for i, w := range workers {
		if w.WorkerID != uint32(i) {
			t.Errorf("worker %d: expected id %d, got %d", i, i, w.WorkerID)
		}
		if w.TID != uint32(12+i) {
			t.Errorf("worker %d: expected tid %d, got %d", i, 12+i, w.TID)
		}
	}
}

func TestByNameAutoDiscoversCustomPool(t *testing.T) {
	// spec.md §8 S2
	threads := []procfs.Thread{
		{TID: 20, Comm: "main"},
		{TID: 21, Comm: "my-pool-0"},
		{TID: 22, Comm: "my-pool-1"},
		{TID: 23, Comm: "my-pool-2"},
		{TID: 24, Comm: "my-pool-3"},
		{TID: 25, Comm: "logger"},
	}

	workers, err := ByName(threads, "", zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(workers) != 4 {
		t.Fatalf("expected 4 workers, got %d", len(workers))
	}
	for i, w := range workers {
		if w.WorkerID != uint32(i) {
			t.Errorf("worker %d: expected id %d, got %d", i, i, w.WorkerID)
		}
		if w.TID != uint32(21+i) {
			t.Errorf("worker %d: expected tid %d, got %d", i, 21+i, w.TID)
		}
	}
}

func TestByNameExplicitPrefixNoAutoDiscovery(t *testing.T) {
	threads := []procfs.Thread{
		{TID: 1, Comm: "main"},
		{TID: 2, Comm: "my-pool-0"},
		{TID: 3, Comm: "my-pool-1"},
	}

	_, err := ByName(threads, "does-not-exist", zerolog.Nop())
	if err == nil {
		t.Fatalf("expected error: explicit prefix should not fall back to auto-discovery")
	}
}

func TestStripNumericSuffix(t *testing.T) {
	cases := []struct {
		in       string
		wantBase string
		wantOK   bool
	}{
		{"my-pool-0", "my-pool", true},
		{"my-pool-12", "my-pool", true},
		{"tokio-runtime-w", "", false},
		{"no-suffix-", "", false},
		{"plain", "", false},
	}
	for _, c := range cases {
		base, ok := stripNumericSuffix(c.in)
		if ok != c.wantOK || base != c.wantBase {
			t.Errorf("stripNumericSuffix(%q) = (%q, %v), want (%q, %v)", c.in, base, ok, c.wantBase, c.wantOK)
		}
	}
}

func TestDiscoverPrefixPicksLargestGroup(t *testing.T) {
	threads := []procfs.Thread{
		{TID: 1, Comm: "small-0"},
		{TID: 2, Comm: "small-1"},
		{TID: 3, Comm: "big-0"},
		{TID: 4, Comm: "big-1"},
		{TID: 5, Comm: "big-2"},
	}
	base, ok := discoverPrefix(threads)
	if !ok || base != "big" {
		t.Fatalf("expected largest group 'big', got %q ok=%v", base, ok)
	}
}

func TestDiscoverPrefixNoGroupMeetsMinimum(t *testing.T) {
	threads := []procfs.Thread{
		{TID: 1, Comm: "solo-0"},
		{TID: 2, Comm: "other"},
	}
	_, ok := discoverPrefix(threads)
	if ok {
		t.Fatalf("expected no prefix discovered below MinPoolSize")
	}
}
