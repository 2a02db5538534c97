package cache

import (
	"testing"
	"time"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	m, err := NewManager(Config{
		RawCacheSizeMB: 8,
		RawTTL:         time.Minute,
		ParsedEntries:  8,
		FeatureEntries: 8,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestRawAndParsedRoundTrip(t *testing.T) {
	m := newTestManager(t)

	if _, ok := m.GetRaw("host/metadata.tsv"); ok {
		t.Fatalf("expected miss on empty cache")
	}
	if err := m.SetRaw("host/metadata.tsv", []byte("sample\tcondition\n")); err != nil {
		t.Fatalf("SetRaw: %v", err)
	}
	got, ok := m.GetRaw("host/metadata.tsv")
	if !ok || string(got) != "sample\tcondition\n" {
		t.Fatalf("unexpected raw entry: %q ok=%v", got, ok)
	}

	m.SetParsed("host/metadata.tsv", 42)
	v, ok := m.GetParsed("host/metadata.tsv")
	if !ok || v.(int) != 42 {
		t.Fatalf("unexpected parsed entry: %v ok=%v", v, ok)
	}
}

func TestInvalidatePaths(t *testing.T) {
	m := newTestManager(t)

	for _, p := range []string{"host/gene/umap.tsv", "host/gene/counts/IL6.tsv", "host/transcript/umap.tsv", "host/metadata.tsv"} {
		if err := m.SetRaw(p, []byte(p)); err != nil {
			t.Fatalf("SetRaw %s: %v", p, err)
		}
		m.SetParsed(p, p)
	}

	if n := m.InvalidatePaths("host/gene/"); n != 2 {
		t.Fatalf("expected 2 parsed entries removed, got %d", n)
	}
	for _, p := range []string{"host/gene/umap.tsv", "host/gene/counts/IL6.tsv"} {
		if _, ok := m.GetRaw(p); ok {
			t.Fatalf("expected raw miss for %s", p)
		}
		if _, ok := m.GetParsed(p); ok {
			t.Fatalf("expected parsed miss for %s", p)
		}
	}
	for _, p := range []string{"host/transcript/umap.tsv", "host/metadata.tsv"} {
		if _, ok := m.GetRaw(p); !ok {
			t.Fatalf("expected raw hit for %s", p)
		}
		if _, ok := m.GetParsed(p); !ok {
			t.Fatalf("expected parsed hit for %s", p)
		}
	}
}

func TestStats(t *testing.T) {
	m := newTestManager(t)
	m.SetParsed("host/metadata.tsv", 1)
	m.SetFeature("host:gene", "IL6", []float64{1})

	s := m.Stats()
	if s["parsed_cache_len"] != 1 || s["feature_cache_len"] != 1 {
		t.Fatalf("unexpected stats: %v", s)
	}
}

func TestInvalidateDataset(t *testing.T) {
	m := newTestManager(t)

	m.SetFeature("host:gene", "IL6", []float64{1, 2})
	m.SetFeature("host:gene", "TNF", []float64{3, 4})
	m.SetFeature("bacteria:genus", "Prevotella", []float64{5})

	if n := m.InvalidateDataset("host:gene"); n != 2 {
		t.Fatalf("expected 2 removed, got %d", n)
	}
	if _, ok := m.GetFeature("host:gene", "IL6"); ok {
		t.Fatalf("expected IL6 evicted")
	}
	if _, ok := m.GetFeature("bacteria:genus", "Prevotella"); !ok {
		t.Fatalf("expected other dataset untouched")
	}
}

func TestKeysAreNamespaced(t *testing.T) {
	if RawKey("a") == ParsedKey("a") {
		t.Fatalf("raw and parsed keys must differ")
	}
	if FeatureKey("host:gene", "IL6") == FeatureKey("host:gene", "IL6R") {
		t.Fatalf("feature keys must differ")
	}
}
