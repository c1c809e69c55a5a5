package procfs

import (
	"reflect"
	"testing"
)

func TestParseCPUSetRanges(t *testing.T) {
	got, err := ParseCPUSet("0-3,8-9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []int{0, 1, 2, 3, 8, 9}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestParseCPUSetSingle(t *testing.T) {
	got, err := ParseCPUSet("5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got, []int{5}) {
		t.Fatalf("got %v, want [5]", got)
	}
}

func TestParseCPUSetDedupesOverlap(t *testing.T) {
	got, err := ParseCPUSet("0-2,1-3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []int{0, 1, 2, 3}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestParseCPUSetEmpty(t *testing.T) {
	got, err := ParseCPUSet("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty set, got %v", got)
	}
}

func TestParseCPUSetRejectsGarbage(t *testing.T) {
	if _, err := ParseCPUSet("a-3"); err == nil {
		t.Fatalf("expected error for non-numeric range")
	}
}

func TestParseMajorMinor(t *testing.T) {
	cases := []struct {
		release    string
		wantMajor  int
		wantMinor  int
		shouldFail bool
	}{
		{"6.8.0-generic", 6, 8, false},
		{"5.15.0-1042-aws", 5, 15, false},
		{"5.8", 5, 8, false},
		{"bogus", 0, 0, true},
	}
	for _, c := range cases {
		major, minor, err := parseMajorMinor(c.release)
		if c.shouldFail {
			if err == nil {
				t.Errorf("release %q: expected error", c.release)
			}
			continue
		}
		if err != nil {
			t.Errorf("release %q: unexpected error: %v", c.release, err)
			continue
		}
		if major != c.wantMajor || minor != c.wantMinor {
			t.Errorf("release %q: got %d.%d, want %d.%d", c.release, major, minor, c.wantMajor, c.wantMinor)
		}
	}
}
