package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omics-dash/server/internal/cache"
	"github.com/omics-dash/server/internal/cluster"
	"github.com/omics-dash/server/internal/data/tsv"
	"github.com/omics-dash/server/internal/legend"
	"github.com/omics-dash/server/internal/palette"
	"github.com/omics-dash/server/internal/view"
)

type fakeFetcher struct {
	mu            sync.Mutex
	samples       *tsv.SampleTable
	embedding     []tsv.EmbeddingRow
	counts        map[string]map[string]float64
	calls       int
	holders     map[string]int
	slowStarted chan struct{}
	// release unblocks the SLOW feature; releaseEmbedding the "slow"
	// projection.
	release          chan struct{}
	releaseEmbedding chan struct{}
}

func newFakeFetcher() *fakeFetcher {
	meta := []struct{ id, cond, tissue, age string }{
		{"S1", "control", "lung", "30"},
		{"S2", "control", "blood", "35"},
		{"S3", "infected", "lung", "50"},
		{"S4", "infected", "blood", "55"},
		{"S5", "mock", "lung", "20"},
		{"S6", "mock", "blood", "NA"},
	}
	st := &tsv.SampleTable{Fields: []string{"condition", "tissue", "age"}}
	for _, m := range meta {
		st.Rows = append(st.Rows, tsv.SampleRow{ID: m.id, Values: map[string]string{
			"condition": m.cond, "tissue": m.tissue, "age": m.age,
		}})
	}
	return &fakeFetcher{
		samples: st,
		embedding: []tsv.EmbeddingRow{
			{ID: "S1", X: 0, Y: 0}, {ID: "S2", X: 1, Y: 0}, {ID: "S3", X: 0, Y: 1},
			{ID: "S4", X: 5, Y: 5}, {ID: "S5", X: 6, Y: 5}, {ID: "S6", X: -2, Y: -2},
		},
		counts: map[string]map[string]float64{
			"IL6":  {"S1": 1, "S2": 2, "S3": 100, "S4": 120, "S5": 5, "S6": 3},
			"TNF":  {"S1": 2, "S2": 1, "S3": 80, "S4": 90, "S5": 4, "S6": 2},
			"ACTB": {"S1": 50, "S2": 55, "S3": 52, "S4": 49, "S5": 51, "S6": 50},
		},
		holders:          map[string]int{},
		slowStarted:      make(chan struct{}, 1),
		release:          make(chan struct{}),
		releaseEmbedding: make(chan struct{}),
	}
}

func (f *fakeFetcher) Samples(ctx context.Context, kingdom string) (*tsv.SampleTable, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if kingdom != "host" {
		return nil, fmt.Errorf("%w: %s/metadata.tsv", tsv.ErrDataUnavailable, kingdom)
	}
	return f.samples, nil
}

func (f *fakeFetcher) Embedding(ctx context.Context, kingdom, rank, projection string) ([]tsv.EmbeddingRow, error) {
	if projection == "slow" {
		f.slowStarted <- struct{}{}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-f.releaseEmbedding:
			return f.embedding, nil
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if projection != "umap" {
		return nil, fmt.Errorf("%w: %s", tsv.ErrDataUnavailable, projection)
	}
	return f.embedding, nil
}

func (f *fakeFetcher) Counts(ctx context.Context, kingdom, rank, feature string) (map[string]float64, error) {
	if feature == "SLOW" {
		f.slowStarted <- struct{}{}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-f.release:
			return f.counts["IL6"], nil
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	c, ok := f.counts[feature]
	if !ok {
		return nil, fmt.Errorf("%w: counts/%s.tsv", tsv.ErrDataUnavailable, feature)
	}
	return c, nil
}

func (f *fakeFetcher) Retain(kingdom, rank string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.holders[kingdom+":"+rank]++
}

func (f *fakeFetcher) Release(kingdom, rank string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := kingdom + ":" + rank
	f.holders[key]--
	if f.holders[key] > 0 {
		return false
	}
	delete(f.holders, key)
	return true
}

func (f *fakeFetcher) held(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.holders[key]
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testConfig() Config {
	return Config{
		Kingdoms: map[string]Kingdom{
			"host": {
				Ranks:           []string{"gene", "transcript"},
				Projections:     []string{"umap", "tsne"},
				Contrasts:       []string{"infected_vs_control"},
				DefaultVariable: "condition",
				ConditionField:  "condition",
				ConditionOrder:  []string{"infected", "control"},
			},
			"fungi": {Ranks: []string{"genus"}},
		},
		Layout: cluster.LayoutConfig{
			RowHeight: 20, ColumnWidth: 12, DendrogramSize: 80, SizeLegendWidth: 60,
			MarginTop: 40, MarginBottom: 120, MarginLeft: 160, MarginRight: 40,
			MaxHeight: 1200, MaxWidth: 1600, MinLabelPixels: 8,
		},
		MaxHeatmapFeatures: 20,
	}
}

func newLoaded(t *testing.T) (*Engine, *fakeFetcher) {
	t.Helper()
	f := newFakeFetcher()
	e := New(testConfig(), f)
	_, err := e.Apply(context.Background(), DatasetChanged{Dataset: DatasetKey{"host", "gene"}})
	require.NoError(t, err)
	return e, f
}

func apply(t *testing.T, e *Engine, tr Trigger) *Snapshot {
	t.Helper()
	s, err := e.Apply(context.Background(), tr)
	require.NoError(t, err)
	return s
}

var window = &view.Range{X0: -0.5, X1: 1.5, Y0: -0.5, Y1: 1.5}

func TestDatasetLoad(t *testing.T) {
	e, _ := newLoaded(t)
	s := e.Snapshot()

	assert.Equal(t, "umap", s.Projection)
	assert.Equal(t, "condition", s.Variable)
	assert.Equal(t, []string{"infected", "control", "mock"}, s.Domain.Values)
	require.Len(t, s.Legend.Entries, 3)
	assert.Equal(t, 6, s.Views[ViewMetadata].VisibleCount)
	assert.Equal(t, "select a feature", s.Views[ViewFeature].Placeholder)
	assert.Equal(t, []string{"condition"}, s.Heatmap.Annotations)
	assert.Equal(t, cluster.ErrEmptySelection.Error(), s.Heatmap.Placeholder)
}

func TestUnknownDatasetRejected(t *testing.T) {
	e := New(testConfig(), newFakeFetcher())
	before := e.Snapshot()
	_, err := e.Apply(context.Background(), DatasetChanged{Dataset: DatasetKey{"archaea", "genus"}})
	assert.ErrorIs(t, err, ErrUnknownDataset)
	assert.Same(t, before, e.Snapshot())
}

func TestZoomPropagatesAndIsIdempotent(t *testing.T) {
	e, f := newLoaded(t)
	calls := f.callCount()

	once := apply(t, e, ZoomChanged{View: ViewFeature, Range: window})
	for _, id := range LinkedViews {
		require.NotNil(t, once.Views[id].Zoom, id)
		assert.Equal(t, *window, *once.Views[id].Zoom, id)
	}
	assert.Equal(t, 3, once.Views[ViewMetadata].VisibleCount)

	twice := apply(t, e, ZoomChanged{View: ViewFeature, Range: window})
	assert.Equal(t, once.Views, twice.Views)
	assert.Equal(t, calls, f.callCount(), "zoom never fetches")

	_, err := e.Apply(context.Background(), ZoomChanged{View: "nope", Range: window})
	assert.ErrorIs(t, err, ErrUnknownView)

	reset := apply(t, e, ZoomChanged{View: ViewMetadata})
	assert.Nil(t, reset.Views[ViewFeature].Zoom)
}

func TestVisibleCountCombinesLegendAndZoom(t *testing.T) {
	e, _ := newLoaded(t)

	zoomed := apply(t, e, ZoomChanged{View: ViewMetadata, Range: window})
	visBefore := zoomed.Views[ViewMetadata].Visible

	toggled := apply(t, e, LegendToggled{Value: "infected"})
	assert.Equal(t, 2, toggled.Views[ViewMetadata].VisibleCount)
	assert.Equal(t, zoomed.Views[ViewMetadata].Zoom, toggled.Views[ViewMetadata].Zoom, "legend keeps zoom")
	assert.Equal(t, toggled.Views[ViewMetadata].Visible, toggled.Views[ViewFeature].Visible)

	rezoomed := apply(t, e, ZoomChanged{View: ViewMetadata, Range: &view.Range{X0: -10, X1: 10, Y0: -10, Y1: 10}})
	assert.Equal(t, toggled.Views[ViewMetadata].Visible, rezoomed.Views[ViewMetadata].Visible, "zoom keeps visibility")
	assert.Equal(t, 4, rezoomed.Views[ViewMetadata].VisibleCount)
	assert.Nil(t, visBefore)
}

func TestHideUnselectedLocksLegend(t *testing.T) {
	e, _ := newLoaded(t)
	apply(t, e, LegendToggled{Value: "mock"})
	hidden := apply(t, e, HideUnselectedToggled{On: true})
	assert.True(t, hidden.Views[ViewMetadata].HideUnselected)

	for _, tr := range hidden.Traces(ViewMetadata) {
		assert.NotEqual(t, "mock", tr.Category)
	}

	_, err := e.Apply(context.Background(), LegendToggled{Value: "control"})
	assert.ErrorIs(t, err, legend.ErrLocked)
	assert.Same(t, hidden, e.Snapshot())

	apply(t, e, HideUnselectedToggled{On: false})
	apply(t, e, LegendToggled{Value: "control"})
}

func TestVariableChangeZoomRules(t *testing.T) {
	e, _ := newLoaded(t)

	apply(t, e, ZoomChanged{View: ViewMetadata, Range: window})
	cont := apply(t, e, VariableChanged{Variable: "age"})
	require.True(t, cont.Legend.IsColorbar(), "continuous variable gets a colorbar")
	assert.Empty(t, cont.Legend.Entries)
	for _, id := range LinkedViews {
		assert.Nil(t, cont.Views[id].Zoom, "discrete to continuous autoranges")
	}
	assert.Equal(t, 6, cont.Views[ViewMetadata].VisibleCount)

	apply(t, e, ZoomChanged{View: ViewMetadata, Range: window})
	disc := apply(t, e, VariableChanged{Variable: "tissue"})
	assert.Nil(t, disc.Views[ViewMetadata].Zoom, "continuous to discrete autoranges")

	apply(t, e, ZoomChanged{View: ViewMetadata, Range: window})
	same := apply(t, e, VariableChanged{Variable: "condition"})
	require.NotNil(t, same.Views[ViewMetadata].Zoom, "discrete to discrete keeps zoom")
	assert.Equal(t, *window, *same.Views[ViewFeature].Zoom)

	_, err := e.Apply(context.Background(), VariableChanged{Variable: "nope"})
	assert.ErrorIs(t, err, palette.ErrUnknownVariable)
}

func TestHeatmapSelectionLimits(t *testing.T) {
	e, f := newLoaded(t)

	single := apply(t, e, FeaturesSelected{Features: []string{"IL6"}})
	assert.Nil(t, single.Heatmap.Order)
	assert.Equal(t, cluster.ErrEmptySelection.Error(), single.Heatmap.Placeholder)

	ok := apply(t, e, FeaturesSelected{Features: []string{"IL6", "TNF"}})
	require.NotNil(t, ok.Heatmap.Order)

	many := make([]string, 21)
	for i := range many {
		many[i] = fmt.Sprintf("F%d", i)
	}
	calls := f.callCount()
	got, err := e.Apply(context.Background(), FeaturesSelected{Features: many})
	assert.ErrorIs(t, err, cluster.ErrTooManyFeatures)
	assert.Same(t, ok, got, "rejected selection leaves the state untouched")
	assert.Same(t, ok, e.Snapshot())
	assert.Equal(t, calls, f.callCount(), "rejected before fetching")
}

func TestClusteringToggle(t *testing.T) {
	e, _ := newLoaded(t)

	clustered := apply(t, e, FeaturesSelected{Features: []string{"IL6", "TNF", "ACTB"}})
	order := clustered.Heatmap.Order
	require.NotNil(t, order)
	assert.True(t, order.Clustered)
	assert.NotEmpty(t, order.SampleBranches)
	require.NotNil(t, clustered.Heatmap.Geometry.ColumnDendrogram)

	filtered := apply(t, e, LegendToggled{Value: "mock"})
	assert.Same(t, order, filtered.Heatmap.Order, "legend filter does not re-cluster")

	sorted := apply(t, e, ClusteringToggled{On: false})
	require.NotNil(t, sorted.Heatmap.Order)
	assert.False(t, sorted.Heatmap.Order.Clustered)
	assert.Empty(t, sorted.Heatmap.Order.SampleBranches)
	assert.Empty(t, sorted.Heatmap.Order.FeatureBranches)
	assert.Nil(t, sorted.Heatmap.Geometry.ColumnDendrogram)
	assert.Equal(t, []string{"S3", "S4", "S1", "S2", "S5", "S6"}, sorted.Heatmap.Order.Samples)
	assert.Equal(t, []string{"IL6", "TNF", "ACTB"}, sorted.Heatmap.Order.Features)
	assert.False(t, sorted.Legend.Visibility()["mock"], "visibility preserved")
	assert.Equal(t, filtered.Views[ViewMetadata].Visible, sorted.Views[ViewMetadata].Visible)

	again := apply(t, e, ClusteringToggled{On: true})
	assert.Equal(t, order.Samples, again.Heatmap.Order.Samples, "clustering is deterministic")
	assert.NotSame(t, order, again.Heatmap.Order)
}

func TestHeatmapOrderReuse(t *testing.T) {
	e, _ := newLoaded(t)
	base := apply(t, e, FeaturesSelected{Features: []string{"IL6", "TNF", "ACTB"}})
	order := base.Heatmap.Order

	resized := apply(t, e, SizeChanged{Height: 500, Width: 900})
	assert.Same(t, order, resized.Heatmap.Order, "size change only re-lays out")
	assert.Equal(t, 500, resized.Heatmap.Geometry.Height)
	assert.Equal(t, 900, resized.Heatmap.Geometry.Width)

	annotated := apply(t, e, AnnotationsChanged{Fields: []string{"condition", "tissue", "bogus"}})
	assert.Same(t, order, annotated.Heatmap.Order)
	require.Len(t, annotated.Heatmap.Tracks, 2)
	assert.Equal(t, "condition", annotated.Heatmap.Tracks[1].Field)
	assert.NotEmpty(t, annotated.Warnings)

	apply(t, e, ContrastChanged{Contrast: Contrast{A: "infected", B: "control"}})
	compared := apply(t, e, ComparisonToggled{On: true})
	require.NotNil(t, compared.Heatmap.Order)
	assert.NotSame(t, order, compared.Heatmap.Order, "new sample subset is re-clustered")
	assert.Len(t, compared.Heatmap.Order.Samples, 4)
	assert.Equal(t, 4, compared.Views[ViewMetadata].VisibleCount)
	assert.False(t, order.ValidFor(compared.ActiveSamples(), compared.Heatmap.Features))

	_, err := e.Apply(context.Background(), ContrastChanged{Contrast: Contrast{A: "mock", B: "control"}})
	assert.ErrorIs(t, err, ErrUnknownContrast)
}

func TestFetchFailureIsolated(t *testing.T) {
	e, _ := newLoaded(t)

	broken := apply(t, e, FeatureChanged{Feature: "MISSING"})
	assert.Contains(t, broken.Views[ViewFeature].Error, tsv.ErrDataUnavailable.Error())
	assert.Empty(t, broken.Views[ViewMetadata].Error)
	assert.Equal(t, 6, broken.Views[ViewMetadata].VisibleCount)

	fixed := apply(t, e, FeatureChanged{Feature: "IL6"})
	assert.Empty(t, fixed.Views[ViewFeature].Error)
	assert.Equal(t, 6, fixed.Views[ViewFeature].VisibleCount)
	pts := fixed.Points(ViewFeature)
	require.Len(t, pts, 6)
	assert.InDelta(t, 1.0, pts[0].Value, 1e-9, "log2(1+1)")

	tsne := apply(t, e, DatasetChanged{Dataset: DatasetKey{"host", "gene"}, Projection: "tsne"})
	assert.NotEmpty(t, tsne.Views[ViewMetadata].Error)
	assert.NotEmpty(t, tsne.Domain, "legend still built when only the embedding fails")

	missing := apply(t, e, DatasetChanged{Dataset: DatasetKey{"fungi", "genus"}})
	assert.NotEmpty(t, missing.Views[ViewMetadata].Error)
	assert.NotEmpty(t, missing.Heatmap.Error)
}

func TestStaleFetchIsDiscarded(t *testing.T) {
	e, f := newLoaded(t)

	errc := make(chan error, 1)
	go func() {
		_, err := e.Apply(context.Background(), FeatureChanged{Feature: "SLOW"})
		errc <- err
	}()
	<-f.slowStarted

	latest := apply(t, e, FeatureChanged{Feature: "TNF"})
	assert.True(t, errors.Is(<-errc, ErrSuperseded))
	assert.Equal(t, "TNF", e.Snapshot().Feature)
	assert.Same(t, latest, e.Snapshot())
}

func applyAsync(e *Engine, tr Trigger) <-chan error {
	errc := make(chan error, 1)
	go func() {
		_, err := e.Apply(context.Background(), tr)
		errc <- err
	}()
	return errc
}

func TestFetchSupersessionSlots(t *testing.T) {
	transcript := DatasetKey{"host", "transcript"}

	t.Run("heatmapKeepsFeatureFetch", func(t *testing.T) {
		e, f := newLoaded(t)
		errc := applyAsync(e, FeatureChanged{Feature: "SLOW"})
		<-f.slowStarted

		sel := apply(t, e, FeaturesSelected{Features: []string{"IL6", "TNF"}})
		require.NotNil(t, sel.Heatmap.Order)

		close(f.release)
		require.NoError(t, <-errc)
		s := e.Snapshot()
		assert.Equal(t, "SLOW", s.Feature)
		assert.Empty(t, s.Views[ViewFeature].Error)
		assert.Equal(t, []string{"IL6", "TNF"}, s.Heatmap.Features)
		assert.NotNil(t, s.Heatmap.Order)
	})

	t.Run("featureKeepsHeatmapFetch", func(t *testing.T) {
		e, f := newLoaded(t)
		errc := applyAsync(e, FeaturesSelected{Features: []string{"SLOW", "TNF"}})
		<-f.slowStarted

		apply(t, e, FeatureChanged{Feature: "TNF"})

		close(f.release)
		require.NoError(t, <-errc)
		s := e.Snapshot()
		assert.Equal(t, "TNF", s.Feature)
		assert.Equal(t, []string{"SLOW", "TNF"}, s.Heatmap.Features)
		assert.NotNil(t, s.Heatmap.Order)
	})

	t.Run("datasetSupersedesFeature", func(t *testing.T) {
		e, f := newLoaded(t)
		errc := applyAsync(e, FeatureChanged{Feature: "SLOW"})
		<-f.slowStarted

		switched := apply(t, e, DatasetChanged{Dataset: transcript})
		assert.ErrorIs(t, <-errc, ErrSuperseded)
		assert.Same(t, switched, e.Snapshot())
		assert.Empty(t, e.Snapshot().Feature)
	})

	t.Run("datasetSupersedesHeatmap", func(t *testing.T) {
		e, f := newLoaded(t)
		errc := applyAsync(e, FeaturesSelected{Features: []string{"SLOW", "TNF"}})
		<-f.slowStarted

		switched := apply(t, e, DatasetChanged{Dataset: transcript})
		assert.ErrorIs(t, <-errc, ErrSuperseded)
		assert.Same(t, switched, e.Snapshot())
		assert.Empty(t, switched.Heatmap.Features)
		assert.Nil(t, switched.Heatmap.Order)
	})

	t.Run("featureDoesNotCancelDataset", func(t *testing.T) {
		e, f := newLoaded(t)
		dsErr := applyAsync(e, DatasetChanged{Dataset: transcript, Projection: "slow"})
		<-f.slowStarted
		featErr := applyAsync(e, FeatureChanged{Feature: "SLOW"})
		<-f.slowStarted

		close(f.releaseEmbedding)
		require.NoError(t, <-dsErr)
		close(f.release)
		assert.ErrorIs(t, <-featErr, ErrSuperseded, "feature of the old dataset never commits")

		s := e.Snapshot()
		assert.Equal(t, transcript, s.Dataset)
		assert.Empty(t, s.Feature)
	})

	t.Run("heatmapDoesNotCancelDataset", func(t *testing.T) {
		e, f := newLoaded(t)
		dsErr := applyAsync(e, DatasetChanged{Dataset: transcript, Projection: "slow"})
		<-f.slowStarted
		selErr := applyAsync(e, FeaturesSelected{Features: []string{"SLOW", "TNF"}})
		<-f.slowStarted

		close(f.releaseEmbedding)
		require.NoError(t, <-dsErr)
		close(f.release)
		assert.ErrorIs(t, <-selErr, ErrSuperseded)

		s := e.Snapshot()
		assert.Equal(t, transcript, s.Dataset)
		assert.Empty(t, s.Heatmap.Features)
	})

	t.Run("datasetSupersedesDataset", func(t *testing.T) {
		e, f := newLoaded(t)
		dsErr := applyAsync(e, DatasetChanged{Dataset: transcript, Projection: "slow"})
		<-f.slowStarted

		apply(t, e, DatasetChanged{Dataset: DatasetKey{"host", "gene"}, Projection: "umap"})
		assert.ErrorIs(t, <-dsErr, ErrSuperseded)
		assert.Equal(t, DatasetKey{"host", "gene"}, e.Snapshot().Dataset)
		assert.Equal(t, 1, f.held("host:gene"))
		assert.Zero(t, f.held("host:transcript"))
	})
}

func TestDatasetSwitchResetsLegend(t *testing.T) {
	e, _ := newLoaded(t)
	apply(t, e, LegendToggled{Value: "mock"})
	locked := apply(t, e, HideUnselectedToggled{On: true})
	require.True(t, locked.Legend.HideUnselected)

	switched := apply(t, e, DatasetChanged{Dataset: DatasetKey{"host", "transcript"}})
	assert.False(t, switched.Legend.HideUnselected)
	for _, en := range switched.Legend.Entries {
		assert.True(t, en.Visible, en.Value)
	}
	for _, id := range LinkedViews {
		assert.False(t, switched.Views[id].HideUnselected, id)
		assert.Nil(t, switched.Views[id].Visible, id)
	}
	assert.Equal(t, 6, switched.Views[ViewMetadata].VisibleCount)

	toggled := apply(t, e, LegendToggled{Value: "mock"})
	assert.Equal(t, 4, toggled.Views[ViewMetadata].VisibleCount)

	reloaded := apply(t, e, DatasetChanged{Dataset: DatasetKey{"host", "transcript"}})
	assert.False(t, reloaded.Legend.Visibility()["mock"], "same dataset keeps the selection")
}

func TestDatasetReleaseRespectsOtherSessions(t *testing.T) {
	c, err := cache.NewManager(cache.Config{RawCacheSizeMB: 8, ParsedEntries: 8, FeatureEntries: 8})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	cfg := testConfig()
	cfg.Features = c
	f := newFakeFetcher()
	a, b := New(cfg, f), New(cfg, f)
	gene := DatasetKey{"host", "gene"}
	apply(t, a, DatasetChanged{Dataset: gene})
	apply(t, b, DatasetChanged{Dataset: gene})
	assert.Equal(t, 2, f.held("host:gene"))

	apply(t, a, FeatureChanged{Feature: "IL6"})
	_, ok := c.GetFeature(gene.String(), "IL6")
	require.True(t, ok)

	apply(t, a, DatasetChanged{Dataset: DatasetKey{"host", "transcript"}})
	assert.Equal(t, 1, f.held("host:gene"))
	_, ok = c.GetFeature(gene.String(), "IL6")
	assert.True(t, ok, "another session still views host:gene")

	switched := apply(t, b, DatasetChanged{Dataset: DatasetKey{"fungi", "genus"}})
	assert.Zero(t, f.held("host:gene"))
	_, ok = c.GetFeature(gene.String(), "IL6")
	assert.False(t, ok, "unheld dataset is dropped")
	assert.Empty(t, switched.Heatmap.Features)

	a.Close()
	a.Close()
	assert.Zero(t, f.held("host:transcript"))
	b.Close()
	assert.Zero(t, f.held("fungi:genus"))
}

func TestContinuousVariablePoints(t *testing.T) {
	e, _ := newLoaded(t)
	s := apply(t, e, VariableChanged{Variable: "age"})
	assert.Equal(t, []string{"condition", "tissue", "age"}, s.Variables)

	pts := s.Points(ViewMetadata)
	require.Len(t, pts, 6)
	assert.Equal(t, 30.0, pts[0].Value)
	assert.Equal(t, 55.0, pts[3].Value)
	assert.True(t, math.IsNaN(pts[5].Value), "NA stays missing")

	traces := s.Traces(ViewMetadata)
	require.Len(t, traces, 1, "no trace per distinct number")
	assert.Equal(t, "age", traces[0].Category)
	assert.Len(t, traces[0].Points, 6)

	disc := apply(t, e, VariableChanged{Variable: "condition"})
	assert.True(t, math.IsNaN(disc.Points(ViewMetadata)[0].Value))
	assert.Len(t, disc.Traces(ViewMetadata), 3)
}

func TestLegendShown(t *testing.T) {
	e, f := newLoaded(t)
	calls := f.callCount()

	off := apply(t, e, LegendShown{On: false})
	for _, id := range LinkedViews {
		assert.False(t, off.Views[id].ShowLegend, id)
	}

	on := apply(t, e, LegendShown{View: ViewFeature, On: true})
	assert.True(t, on.Views[ViewFeature].ShowLegend)
	assert.False(t, on.Views[ViewMetadata].ShowLegend)
	assert.Equal(t, off.Views[ViewMetadata].VisibleCount, on.Views[ViewMetadata].VisibleCount)
	assert.Equal(t, calls, f.callCount(), "legend display never fetches")

	_, err := e.Apply(context.Background(), LegendShown{View: "nope"})
	assert.ErrorIs(t, err, ErrUnknownView)
}

func TestControlsReplay(t *testing.T) {
	e, _ := newLoaded(t)
	apply(t, e, VariableChanged{Variable: "tissue"})
	apply(t, e, LegendToggled{Value: "blood"})
	apply(t, e, ContrastChanged{Contrast: Contrast{A: "infected", B: "control"}})
	apply(t, e, FeatureChanged{Feature: "IL6"})
	apply(t, e, FeaturesSelected{Features: []string{"IL6", "TNF", "ACTB"}})
	apply(t, e, ClusteringToggled{On: false})
	apply(t, e, SizeChanged{Height: 600})
	apply(t, e, LegendShown{View: ViewFeature, On: false})
	src := apply(t, e, ZoomChanged{View: ViewMetadata, Range: window})

	triggers, err := src.Controls().Replay()
	require.NoError(t, err)

	replayed := New(testConfig(), newFakeFetcher())
	var last *Snapshot
	for _, tr := range triggers {
		last = apply(t, replayed, tr)
	}
	assert.Equal(t, src.Controls(), last.Controls())
	assert.Equal(t, src.Heatmap.Order.Samples, last.Heatmap.Order.Samples)
}

func TestParseKeys(t *testing.T) {
	k, err := ParseDatasetKey("bacteria:genus")
	require.NoError(t, err)
	assert.Equal(t, DatasetKey{"bacteria", "genus"}, k)
	assert.Equal(t, "bacteria:genus", k.String())
	for _, bad := range []string{"", "bacteria", ":genus", "bacteria:"} {
		_, err := ParseDatasetKey(bad)
		assert.Error(t, err, bad)
	}

	c, err := ParseContrast("infected_vs_control")
	require.NoError(t, err)
	assert.True(t, c.Includes("control"))
	assert.False(t, c.Includes("mock"))
	assert.Equal(t, "infected_vs_control", c.String())
	_, err = ParseContrast("infected-control")
	assert.Error(t, err)
}
