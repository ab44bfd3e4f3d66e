package internaldefs

import (
	"strings"
	"testing"
)

func TestCounterDefsCoverEveryCounter(t *testing.T) {
	seen := make(map[string]struct{}, len(CounterDefs))
	for _, def := range CounterDefs {
		if !strings.HasPrefix(def.Name, Namespace+"_") || !strings.HasSuffix(def.Name, "_total") {
			t.Fatalf("bad counter name %q", def.Name)
		}
		if def.Help == "" {
			t.Fatalf("counter %q has no help text", def.Name)
		}
		if _, dup := seen[def.Name]; dup {
			t.Fatalf("duplicate counter name %q", def.Name)
		}
		seen[def.Name] = struct{}{}
	}
	if _, ok := seen["authcore_sign_in_success_total"]; !ok {
		t.Fatal("expected authcore_sign_in_success_total")
	}
}

func TestBucketsInSeconds(t *testing.T) {
	if HistogramBounds[0] != 0.005 || HistogramBounds[len(HistogramBounds)-1] != 0.5 {
		t.Fatalf("unexpected bounds %v", HistogramBounds)
	}
	if len(HistogramBoundSuffix) != BucketCount || HistogramBoundSuffix[0] != "0_005" || HistogramBoundSuffix[BucketCount-1] != "inf" {
		t.Fatalf("unexpected suffixes %v", HistogramBoundSuffix)
	}
}

func TestCumulativeBuckets(t *testing.T) {
	raw := NormalizeBuckets([]uint64{1, 0, 2, 0, 0, 0, 0, 3, 99})
	got := CumulativeBuckets(raw)
	if got[0] != 1 || got[2] != 3 || got[BucketCount-1] != 6 {
		t.Fatalf("unexpected cumulative buckets %v", got)
	}
}
