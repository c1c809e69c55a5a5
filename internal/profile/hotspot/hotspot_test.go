package hotspot

import (
	"testing"

	"github.com/taskscope/taskscope/internal/profile/schema"
)

func TestClassifyFrameCargoRegistryThirdParty(t *testing.T) {
	got := ClassifyFrame("some_crate::run", "/home/u/.cargo/registry/src/some_crate-1.0/lib.rs", true)
	if got != OriginThirdParty {
		t.Fatalf("expected OriginThirdParty, got %v", got)
	}
}

func TestClassifyFrameCargoRegistryRuntimeLib(t *testing.T) {
	got := ClassifyFrame("tokio::runtime::Runtime::block_on", "/home/u/.cargo/registry/src/tokio-1.40/lib.rs", true)
	if got != OriginRuntimeLib {
		t.Fatalf("expected OriginRuntimeLib, got %v", got)
	}
}

func TestClassifyFrameToolchainStdLib(t *testing.T) {
	got := ClassifyFrame("core::option::Option::unwrap", "/home/u/.rustup-toolchain/lib/rustlib/src/rust/library/core/src/option.rs", true)
	if got != OriginStdLib {
		t.Fatalf("expected OriginStdLib, got %v", got)
	}
}

func TestClassifyFrameUserCode(t *testing.T) {
	got := ClassifyFrame("my_app::io::read", "src/io.rs", true)
	if got != OriginUserCode {
		t.Fatalf("expected OriginUserCode, got %v", got)
	}
}

func TestClassifyFrameUnknownMarker(t *testing.T) {
	got := ClassifyFrame("<unknown>", "", true)
	if got != OriginUnknown {
		t.Fatalf("expected OriginUnknown, got %v", got)
	}
	got = ClassifyFrame("0xdeadbeef", "", true)
	if got != OriginUnknown {
		t.Fatalf("expected OriginUnknown for hex address, got %v", got)
	}
}

func TestClassifyFramePrefixFallbackNoFile(t *testing.T) {
	got := ClassifyFrame("std::io::Read::read", "", true)
	if got != OriginStdLib {
		t.Fatalf("expected OriginStdLib from prefix fallback, got %v", got)
	}
}

func TestClassifyFrameInExecutableFallback(t *testing.T) {
	got := ClassifyFrame("some_func", "", true)
	if got != OriginUserCode {
		t.Fatalf("expected OriginUserCode fallback for in-executable frame, got %v", got)
	}
	got = ClassifyFrame("some_func", "", false)
	if got != OriginUnknown {
		t.Fatalf("expected OriginUnknown fallback for out-of-executable frame, got %v", got)
	}
}

func TestAggregatorSnapshotPercentagesAndOrder(t *testing.T) {
	a := New()
	a.Record(schema.Frame{Function: "hot_fn", Loc: &schema.Location{File: "a.rs", Line: 10}}, true, true, 0)
	a.Record(schema.Frame{Function: "hot_fn"}, true, true, 1)
	a.Record(schema.Frame{Function: "hot_fn"}, true, true, 0)
	a.Record(schema.Frame{Function: "cold_fn"}, true, true, 0)

	snap := a.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 hotspots, got %d", len(snap))
	}
	if snap[0].Name != "hot_fn" || snap[0].SampleCount != 3 {
		t.Fatalf("expected hot_fn first with count 3, got %+v", snap[0])
	}
	if snap[0].Percentage != 75.0 {
		t.Fatalf("expected 75%% for hot_fn, got %v", snap[0].Percentage)
	}
	if snap[0].File != "a.rs" || snap[0].Line != 10 {
		t.Fatalf("expected file/line from first occurrence, got %+v", snap[0])
	}
	if snap[0].PerWorker[0] != 2 || snap[0].PerWorker[1] != 1 {
		t.Fatalf("unexpected per-worker counts: %+v", snap[0].PerWorker)
	}
}

func TestAggregatorConservation(t *testing.T) {
	// spec.md §8 property 3: sum of hotspot.count equals ingested samples.
	a := New()
	for i := 0; i < 10; i++ {
		a.Record(schema.Frame{Function: "f"}, true, true, 0)
	}
	sum := 0
	for _, h := range a.Snapshot() {
		sum += h.SampleCount
	}
	if sum != a.TotalSamples() || sum != 10 {
		t.Fatalf("expected conservation: sum=%d total=%d", sum, a.TotalSamples())
	}
}

func TestAggregatorSnapshotClassifiesOrigin(t *testing.T) {
	a := New()
	a.Record(schema.Frame{Function: "my_app::io::read", Loc: &schema.Location{File: "src/io.rs"}}, true, true, 0)
	a.Record(schema.Frame{Function: "core::option::Option::unwrap", Loc: &schema.Location{File: "/home/u/.rustup-toolchain/lib/rustlib/src/rust/library/core/src/option.rs"}}, true, true, 0)

	byName := make(map[string]schema.FunctionHotspot)
	for _, h := range a.Snapshot() {
		byName[h.Name] = h
	}
	if byName["my_app::io::read"].Origin != OriginUserCode {
		t.Fatalf("expected OriginUserCode, got %v", byName["my_app::io::read"].Origin)
	}
	if byName["core::option::Option::unwrap"].Origin != OriginStdLib {
		t.Fatalf("expected OriginStdLib, got %v", byName["core::option::Option::unwrap"].Origin)
	}
}

func TestAggregatorFileSnapshotGroupsByExemplarUserCodeFile(t *testing.T) {
	a := New()
	a.RecordStack(schema.Frame{Function: "hot_fn"}, true, true, 0, 1)
	a.RecordStack(schema.Frame{Function: "hot_fn"}, true, true, 0, 1)
	a.RecordStack(schema.Frame{Function: "other_fn"}, true, true, 0, 2)

	resolve := func(stackID int64) ([]schema.Frame, string) {
		switch stackID {
		case 1:
			return []schema.Frame{
				{Function: "tokio::runtime::Runtime::block_on", Loc: &schema.Location{File: "/home/u/.cargo/registry/src/tokio-1.40/lib.rs"}},
				{Function: "hot_fn", Loc: &schema.Location{File: "src/worker.rs"}},
			}, ""
		case 2:
			return []schema.Frame{{Function: "other_fn", Loc: &schema.Location{File: "src/other.rs"}}}, ""
		}
		return nil, "lookup failed"
	}

	files := a.FileSnapshot(resolve)
	byFile := make(map[string]schema.FileHotspot)
	for _, f := range files {
		byFile[f.File] = f
	}
	if got := byFile["src/worker.rs"].SampleCount; got != 2 {
		t.Fatalf("expected hot_fn's 2 samples grouped under src/worker.rs, got %d (%+v)", got, byFile)
	}
	if got := byFile["src/other.rs"].SampleCount; got != 1 {
		t.Fatalf("expected other_fn grouped under src/other.rs, got %d", got)
	}
}

func TestAggregatorFileSnapshotFallsBackToHotspotFileThenUnknown(t *testing.T) {
	a := New()
	// No exemplar stacks at all: falls back to the hotspot's own file.
	a.Record(schema.Frame{Function: "f", Loc: &schema.Location{File: "src/f.rs"}}, true, true, 0)
	// No exemplar stacks and no recorded file: falls back to schema.UnknownFile.
	a.Record(schema.Frame{Function: "g"}, true, true, 0)

	resolve := func(int64) ([]schema.Frame, string) { return nil, "" }
	files := a.FileSnapshot(resolve)
	byFile := make(map[string]schema.FileHotspot)
	for _, f := range files {
		byFile[f.File] = f
	}
	if _, ok := byFile["src/f.rs"]; !ok {
		t.Fatalf("expected fallback to hotspot file src/f.rs, got %+v", files)
	}
	if _, ok := byFile[schema.UnknownFile]; !ok {
		t.Fatalf("expected fallback to %q, got %+v", schema.UnknownFile, files)
	}
}
