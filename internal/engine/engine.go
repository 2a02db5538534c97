// Package engine keeps the linked views of one dashboard session consistent.
//
// Every user action is a Trigger. Apply classifies it, fetches data when the
// trigger needs it, and commits a new immutable Snapshot with a single
// pointer swap. Fetches are superseded per slot: a newer feature fetch
// cancels the older feature fetch, a newer heatmap selection the older
// selection, and a dataset change every in-flight fetch. Results of
// superseded fetches are discarded.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/omics-dash/server/internal/cache"
	"github.com/omics-dash/server/internal/cluster"
	"github.com/omics-dash/server/internal/data/tsv"
	"github.com/omics-dash/server/internal/legend"
	"github.com/omics-dash/server/internal/palette"
	"github.com/omics-dash/server/internal/view"
)

var (
	// ErrSuperseded is returned when a newer trigger replaced this one's fetch.
	ErrSuperseded = errors.New("superseded by a newer request")
	// ErrUnknownDataset is returned for datasets missing from the catalog.
	ErrUnknownDataset = errors.New("unknown dataset")
	// ErrUnknownView is returned for zoom events on an unknown view.
	ErrUnknownView = errors.New("unknown view")
	// ErrUnknownContrast is returned for contrasts the dataset does not declare.
	ErrUnknownContrast = errors.New("unknown contrast")
	// ErrNoDataset is returned for triggers that need a loaded dataset.
	ErrNoDataset = errors.New("no dataset loaded")
)

// Fetcher is the data access the engine needs. *tsv.Store implements it.
type Fetcher interface {
	Samples(ctx context.Context, kingdom string) (*tsv.SampleTable, error)
	Embedding(ctx context.Context, kingdom, rank, projection string) ([]tsv.EmbeddingRow, error)
	Counts(ctx context.Context, kingdom, rank, feature string) (map[string]float64, error)
	// Retain and Release bracket the time a session views a dataset.
	// Release reports whether the last holder let go.
	Retain(kingdom, rank string)
	Release(kingdom, rank string) bool
}

// Kingdom describes the datasets of one organism group.
type Kingdom struct {
	Ranks           []string
	Projections     []string
	Contrasts       []string
	DefaultVariable string
	ConditionField  string
	ConditionOrder  []string
}

// Config configures an Engine.
type Config struct {
	Kingdoms           map[string]Kingdom
	Palette            palette.Options
	Layout             cluster.LayoutConfig
	MaxHeatmapFeatures int
	// Features caches per-feature vectors across sessions. Optional.
	Features *cache.Manager
}

const defaultMaxHeatmapFeatures = 20

// Engine owns the state of one session.
type Engine struct {
	cfg   Config
	fetch Fetcher

	mu     sync.Mutex
	snap   *Snapshot
	seq    uint64
	gen    [numSlots]uint64
	cancel [numSlots]context.CancelFunc
	// epoch counts committed dataset changes; fetches started against an
	// older dataset never commit.
	epoch  uint64
	held   DatasetKey
	closed bool
}

// New creates an engine with an empty session.
func New(cfg Config, f Fetcher) *Engine {
	if cfg.MaxHeatmapFeatures <= 0 {
		cfg.MaxHeatmapFeatures = defaultMaxHeatmapFeatures
	}
	return &Engine{cfg: cfg, fetch: f, snap: emptySnapshot()}
}

func emptySnapshot() *Snapshot {
	s := &Snapshot{
		Legend:  &legend.Model{Kind: palette.Discrete.String()},
		Views:   make(map[string]view.State, len(LinkedViews)),
		Heatmap: Heatmap{Clustered: true, Placeholder: cluster.ErrEmptySelection.Error()},
	}
	for _, id := range LinkedViews {
		s.Views[id] = view.State{ID: id, ShowLegend: true, Placeholder: "select a dataset"}
	}
	return s
}

// Snapshot returns the current state.
func (e *Engine) Snapshot() *Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap
}

// Close cancels any in-flight fetch and releases the viewed dataset.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, cancel := range e.cancel {
		if cancel != nil {
			cancel()
			e.cancel[i] = nil
		}
	}
	e.hold(DatasetKey{})
	e.closed = true
}

// hold moves this session's dataset reference to d. Feature vectors of a
// dataset no session views any more are dropped from the shared cache.
func (e *Engine) hold(d DatasetKey) {
	if e.closed || d == e.held {
		return
	}
	if !d.IsZero() {
		e.fetch.Retain(d.Kingdom, d.Rank)
	}
	old := e.held
	e.held = d
	if old.IsZero() || !e.fetch.Release(old.Kingdom, old.Rank) {
		return
	}
	if e.cfg.Features != nil {
		n := e.cfg.Features.InvalidateDataset(old.String())
		log.Printf("[Engine] dataset %s unheld, dropped %d cached feature(s)", old, n)
	}
}

// Apply processes one trigger. On error the returned snapshot is the
// unchanged current state.
func (e *Engine) Apply(ctx context.Context, t Trigger) (*Snapshot, error) {
	class, err := view.Classify(t.Kind())
	if err != nil {
		return e.Snapshot(), err
	}

	var (
		ld    *loaded
		gen   uint64
		epoch uint64
	)
	sl, fetching := fetchSlot(t)
	// stale reports whether a newer trigger superseded this fetch. Caller
	// holds e.mu.
	stale := func() bool {
		return e.gen[sl] != gen || (sl != slotDataset && e.epoch != epoch)
	}
	if fetching {
		e.mu.Lock()
		prev := e.snap
		if err := e.precheck(prev, t); err != nil {
			e.mu.Unlock()
			return prev, err
		}
		superseded := []slot{sl}
		if sl == slotDataset {
			superseded = []slot{slotDataset, slotFeature, slotHeatmap}
		}
		for _, x := range superseded {
			e.gen[x]++
			if e.cancel[x] != nil {
				e.cancel[x]()
				e.cancel[x] = nil
			}
		}
		gen, epoch = e.gen[sl], e.epoch
		fctx, cancel := context.WithCancel(ctx)
		e.cancel[sl] = cancel
		e.mu.Unlock()
		defer func() {
			cancel()
			e.mu.Lock()
			if e.gen[sl] == gen {
				e.cancel[sl] = nil
			}
			e.mu.Unlock()
		}()

		ld, err = e.load(fctx, prev, t)
		if err != nil {
			e.mu.Lock()
			defer e.mu.Unlock()
			if stale() {
				return e.snap, ErrSuperseded
			}
			return e.snap, err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if fetching && stale() {
		log.Printf("[Engine] discarding stale %s result", t.Kind())
		return e.snap, ErrSuperseded
	}

	next, err := e.transition(e.snap, t, ld)
	if err != nil {
		return e.snap, err
	}
	switch class {
	case view.ClassRebuild, view.ClassFilter, view.ClassHeatmap:
		e.refreshHeatmap(next)
	case view.ClassLayout:
		e.relayout(next)
	}
	recount(next)

	if sl == slotDataset && fetching {
		e.epoch++
		e.hold(next.Dataset)
	}
	e.seq++
	next.Seq = e.seq
	e.snap = next
	return next, nil
}

// precheck rejects fetching triggers before any I/O.
func (e *Engine) precheck(cur *Snapshot, t Trigger) error {
	switch t := t.(type) {
	case DatasetChanged:
		kc, ok := e.cfg.Kingdoms[t.Dataset.Kingdom]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownDataset, t.Dataset)
		}
		if len(kc.Ranks) > 0 && !contains(kc.Ranks, t.Dataset.Rank) {
			return fmt.Errorf("%w: %s", ErrUnknownDataset, t.Dataset)
		}
	case FeatureChanged:
		if cur.Dataset.IsZero() {
			return ErrNoDataset
		}
	case FeaturesSelected:
		if cur.Dataset.IsZero() {
			return ErrNoDataset
		}
		if err := cluster.CheckSelection(len(dedupe(t.Features)), e.cfg.MaxHeatmapFeatures); errors.Is(err, cluster.ErrTooManyFeatures) {
			return err
		}
	}
	return nil
}

// loaded carries fetched data into the commit phase.
type loaded struct {
	projection   string
	samples      *tsv.SampleTable
	samplesErr   error
	embedding    []tsv.EmbeddingRow
	embeddingErr error
	features     map[string]*Feature
	featureErrs  map[string]error
}

// load fetches what t needs. Only context errors are returned; data errors
// are recorded for the affected view.
func (e *Engine) load(ctx context.Context, prev *Snapshot, t Trigger) (*loaded, error) {
	ld := &loaded{features: map[string]*Feature{}, featureErrs: map[string]error{}}
	switch t := t.(type) {
	case DatasetChanged:
		ld.projection = t.Projection
		if ld.projection == "" {
			if ps := e.cfg.Kingdoms[t.Dataset.Kingdom].Projections; len(ps) > 0 {
				ld.projection = ps[0]
			}
		}
		ld.samples, ld.samplesErr = e.fetch.Samples(ctx, t.Dataset.Kingdom)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if ld.samplesErr == nil {
			ld.embedding, ld.embeddingErr = e.fetch.Embedding(ctx, t.Dataset.Kingdom, t.Dataset.Rank, ld.projection)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
		}
	case FeatureChanged:
		if t.Feature != "" {
			e.loadFeature(ctx, prev, t.Feature, ld)
		}
	case FeaturesSelected:
		for _, id := range dedupe(t.Features) {
			e.loadFeature(ctx, prev, id, ld)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
		}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return ld, nil
}

func (e *Engine) loadFeature(ctx context.Context, prev *Snapshot, id string, ld *loaded) {
	key := prev.Dataset.String()
	if e.cfg.Features != nil {
		if vals, ok := e.cfg.Features.GetFeature(key, id); ok && len(vals) == len(prev.samples) {
			ld.features[id] = &Feature{ID: id, Values: vals}
			return
		}
	}
	counts, err := e.fetch.Counts(ctx, prev.Dataset.Kingdom, prev.Dataset.Rank, id)
	if err != nil {
		ld.featureErrs[id] = err
		return
	}
	vals := make([]float64, len(prev.samples))
	for i, s := range prev.samples {
		v, ok := counts[s.ID]
		if !ok {
			v = nan
		}
		vals[i] = v
	}
	if e.cfg.Features != nil {
		e.cfg.Features.SetFeature(key, id, vals)
	}
	ld.features[id] = &Feature{ID: id, Values: vals}
}

// transition derives the next snapshot from cur. cur is never modified.
func (e *Engine) transition(cur *Snapshot, t Trigger, ld *loaded) (*Snapshot, error) {
	switch t := t.(type) {
	case DatasetChanged:
		return e.changeDataset(cur, t, ld), nil
	case VariableChanged:
		return e.changeVariable(cur, t.Variable)
	case FeatureChanged:
		return changeFeature(cur, t.Feature, ld), nil
	case ZoomChanged:
		return zoom(cur, t)
	case LegendToggled:
		return toggleLegend(cur, t.Value)
	case HideUnselectedToggled:
		return hideUnselected(cur, t.On), nil
	case LegendShown:
		return showLegend(cur, t)
	case ComparisonToggled:
		next := cur.clone()
		next.ComparisonOnly = t.On
		if t.On && next.Contrast.IsZero() {
			next.Warnings = append(next.Warnings, "select a contrast to restrict samples")
		}
		return next, nil
	case ContrastChanged:
		return e.changeContrast(cur, t.Contrast)
	case SizeChanged:
		if t.Height < 0 || t.Width < 0 {
			return nil, fmt.Errorf("invalid heatmap size %dx%d", t.Width, t.Height)
		}
		next := cur.clone()
		next.Heatmap.Height, next.Heatmap.Width = t.Height, t.Width
		return next, nil
	case ClusteringToggled:
		next := cur.clone()
		next.Heatmap.Clustered = t.On
		return next, nil
	case FeaturesSelected:
		return selectFeatures(cur, t, ld), nil
	case AnnotationsChanged:
		return changeAnnotations(cur, t.Fields), nil
	}
	return nil, fmt.Errorf("unhandled trigger %T", t)
}

func (e *Engine) changeDataset(cur *Snapshot, t DatasetChanged, ld *loaded) *Snapshot {
	kc := e.cfg.Kingdoms[t.Dataset.Kingdom]
	next := cur.clone()
	next.Dataset = t.Dataset
	next.Projection = ld.projection
	next.condField = kc.ConditionField
	if next.condField == "" {
		next.condField = "condition"
	}
	next.condOrder = kc.ConditionOrder
	next.samples, next.fields, next.resolver, next.Variables = nil, nil, nil, nil
	next.samplesErr, next.embeddingErr = "", ""

	next.Feature, next.feature, next.featureErr = "", nil, ""
	next.Heatmap.Features = nil
	next.Heatmap.values = nil
	next.Heatmap.Order = nil
	if !next.Contrast.IsZero() && len(kc.Contrasts) > 0 && !contains(kc.Contrasts, next.Contrast.String()) {
		next.Contrast = Contrast{}
	}

	if ld.samplesErr != nil {
		log.Printf("[Engine] dataset %s: %v", t.Dataset, ld.samplesErr)
		next.samplesErr = ld.samplesErr.Error()
		next.Variable, next.Domain = "", nil
		next.Legend = &legend.Model{Kind: palette.Discrete.String()}
		next.Heatmap.Annotations = nil
		for _, id := range LinkedViews {
			next.Views[id] = view.Patch(next.Views[id], view.Delta{Autorange: true, SetVisible: true})
		}
		return next
	}

	next.fields = append([]string(nil), ld.samples.Fields...)
	next.samples = make([]Sample, len(ld.samples.Rows))
	index := make(map[string]int, len(ld.samples.Rows))
	columns := make(map[string][]string, len(next.fields))
	for i, row := range ld.samples.Rows {
		next.samples[i] = Sample{ID: row.ID, Metadata: row.Values, Coords: map[string][2]float64{}}
		index[row.ID] = i
		for _, f := range next.fields {
			columns[f] = append(columns[f], row.Values[f])
		}
	}
	if ld.embeddingErr != nil {
		log.Printf("[Engine] embedding %s/%s: %v", t.Dataset, ld.projection, ld.embeddingErr)
		next.embeddingErr = ld.embeddingErr.Error()
	}
	for _, p := range ld.embedding {
		if i, ok := index[p.ID]; ok {
			next.samples[i].Coords[ld.projection] = [2]float64{p.X, p.Y}
		}
	}

	opts := e.cfg.Palette
	if len(next.condOrder) > 0 {
		orders := make(map[string][]string, len(opts.Orders)+1)
		for k, v := range opts.Orders {
			orders[k] = v
		}
		orders[next.condField] = next.condOrder
		opts.Orders = orders
	}
	next.resolver = palette.NewResolver(columns, next.fields, opts)
	next.Variables = next.resolver.Variables()

	variable := cur.Variable
	if !contains(next.fields, variable) {
		variable = firstPresent(next.fields, kc.DefaultVariable, next.condField)
	}
	var annotations []string
	for _, f := range cur.Heatmap.Annotations {
		if contains(next.fields, f) {
			annotations = append(annotations, f)
		}
	}
	if len(annotations) == 0 && contains(next.fields, next.condField) {
		annotations = []string{next.condField}
	}
	next.Heatmap.Annotations = annotations

	sameSpace := cur.Dataset == next.Dataset && cur.Projection == next.Projection
	recolor(next, cur, variable, sameSpace && sameSampleSet(cur.samples, next.samples))
	return next
}

func (e *Engine) changeVariable(cur *Snapshot, variable string) (*Snapshot, error) {
	if cur.resolver == nil {
		return nil, ErrNoDataset
	}
	if _, ok := cur.resolver.Domain(variable); !ok {
		return nil, fmt.Errorf("%w: %s", palette.ErrUnknownVariable, variable)
	}
	next := cur.clone()
	next.Heatmap.Order = nil
	recolor(next, cur, variable, true)
	return next, nil
}

// recolor rebuilds domain, legend and view visibility for variable. The
// previous zoom survives only when reapplyZoom is set and the encoding kind
// is unchanged; otherwise every view autoranges.
func recolor(next, prev *Snapshot, variable string, reapplyZoom bool) {
	d, _ := next.resolver.Domain(variable)
	next.Variable = variable
	next.Domain = d

	// Legend selections belong to one dataset; a switch starts all visible
	// and unlocked.
	sameDataset := prev.Dataset == next.Dataset
	var carry map[string]bool
	if sameDataset && prev.Variable == variable && prev.Legend != nil {
		carry = prev.Legend.Visibility()
	}
	lg := legend.Build(d, carry)
	if sameDataset && prev.Legend != nil && prev.Legend.HideUnselected && !lg.IsColorbar() {
		lg = lg.SetHideUnselected(true)
	}
	next.Legend = lg
	if d != nil && d.Degenerate {
		next.Warnings = append(next.Warnings, fmt.Sprintf("%s: %v", variable, palette.ErrInvalidDomain))
	}

	keepZoom := reapplyZoom && prev.Domain != nil && d != nil && prev.Domain.Kind == d.Kind
	hide := lg.HideUnselected
	for _, id := range LinkedViews {
		delta := view.Delta{SetVisible: true, Visible: lg.VisibleSet(), HideUnselected: &hide}
		if !keepZoom {
			delta.Autorange = true
		}
		next.Views[id] = view.Patch(next.Views[id], delta)
	}
}

func changeFeature(cur *Snapshot, id string, ld *loaded) *Snapshot {
	next := cur.clone()
	next.Feature = id
	next.feature, next.featureErr = nil, ""
	if id == "" {
		return next
	}
	if err, ok := ld.featureErrs[id]; ok {
		log.Printf("[Engine] feature %s: %v", id, err)
		next.featureErr = err.Error()
		return next
	}
	next.feature = ld.features[id]
	return next
}

func zoom(cur *Snapshot, t ZoomChanged) (*Snapshot, error) {
	if _, ok := cur.Views[t.View]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownView, t.View)
	}
	delta := view.Delta{Autorange: t.Range == nil, Zoom: t.Range}
	next := cur.clone()
	for _, id := range LinkedViews {
		next.Views[id] = view.Patch(next.Views[id], delta)
	}
	return next, nil
}

func toggleLegend(cur *Snapshot, value string) (*Snapshot, error) {
	if cur.Legend == nil {
		return nil, ErrNoDataset
	}
	lg, err := cur.Legend.Toggle(value)
	if err != nil {
		return nil, err
	}
	next := cur.clone()
	next.Legend = lg
	for _, id := range LinkedViews {
		next.Views[id] = view.Patch(next.Views[id], view.Delta{SetVisible: true, Visible: lg.VisibleSet()})
	}
	return next, nil
}

func hideUnselected(cur *Snapshot, on bool) *Snapshot {
	next := cur.clone()
	if cur.Legend != nil {
		next.Legend = cur.Legend.SetHideUnselected(on)
	}
	for _, id := range LinkedViews {
		next.Views[id] = view.Patch(next.Views[id], view.Delta{HideUnselected: &on})
	}
	return next
}

func showLegend(cur *Snapshot, t LegendShown) (*Snapshot, error) {
	if _, ok := cur.Views[t.View]; t.View != "" && !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownView, t.View)
	}
	on := t.On
	next := cur.clone()
	for _, id := range LinkedViews {
		if t.View == "" || t.View == id {
			next.Views[id] = view.Patch(next.Views[id], view.Delta{ShowLegend: &on})
		}
	}
	return next, nil
}

func (e *Engine) changeContrast(cur *Snapshot, c Contrast) (*Snapshot, error) {
	if !c.IsZero() && !cur.Dataset.IsZero() {
		declared := e.cfg.Kingdoms[cur.Dataset.Kingdom].Contrasts
		if len(declared) > 0 && !contains(declared, c.String()) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownContrast, c)
		}
	}
	next := cur.clone()
	next.Contrast = c
	return next, nil
}

func selectFeatures(cur *Snapshot, t FeaturesSelected, ld *loaded) *Snapshot {
	next := cur.clone()
	next.Heatmap.Features = dedupe(t.Features)
	next.Heatmap.values = make(map[string]*Feature, len(next.Heatmap.Features))
	var failed []string
	for _, id := range next.Heatmap.Features {
		if f, ok := ld.features[id]; ok {
			next.Heatmap.values[id] = f
			continue
		}
		failed = append(failed, id)
		log.Printf("[Engine] heatmap feature %s: %v", id, ld.featureErrs[id])
	}
	if len(failed) > 0 {
		next.Warnings = append(next.Warnings, fmt.Sprintf("%v: no data for %v", tsv.ErrDataUnavailable, failed))
	}
	return next
}

func changeAnnotations(cur *Snapshot, fields []string) *Snapshot {
	next := cur.clone()
	next.Heatmap.Annotations = nil
	for _, f := range dedupe(fields) {
		if !contains(cur.fields, f) {
			next.Warnings = append(next.Warnings, fmt.Sprintf("%v: %s", palette.ErrUnknownVariable, f))
			continue
		}
		next.Heatmap.Annotations = append(next.Heatmap.Annotations, f)
	}
	return next
}

// refreshHeatmap recomputes the cluster order when its sample or feature set
// or its mode changed, then re-lays out.
func (e *Engine) refreshHeatmap(next *Snapshot) {
	h := &next.Heatmap
	h.Placeholder, h.Error = "", ""
	h.Tracks, h.Geometry = nil, cluster.Geometry{}

	if next.samplesErr != "" {
		h.Order = nil
		h.Error = next.samplesErr
		return
	}
	if err := cluster.CheckSelection(len(h.Features), 0); err != nil {
		h.Order = nil
		h.Placeholder = err.Error()
		return
	}
	for _, id := range h.Features {
		if _, ok := h.values[id]; !ok {
			h.Order = nil
			h.Error = fmt.Sprintf("%v: %s", tsv.ErrDataUnavailable, id)
			return
		}
	}

	samples := next.ActiveSamples()
	if h.Order.ValidFor(samples, h.Features) && h.Order.Clustered == h.Clustered {
		e.relayout(next)
		return
	}

	active := make(map[string]struct{}, len(samples))
	for _, s := range samples {
		active[s] = struct{}{}
	}
	values := make(map[string]map[string]float64, len(h.Features))
	for _, id := range h.Features {
		f := h.values[id]
		row := make(map[string]float64, len(samples))
		for i, s := range next.samples {
			if _, ok := active[s.ID]; ok && i < len(f.Values) {
				row[s.ID] = f.Values[i]
			}
		}
		values[id] = row
	}
	m := cluster.NewMatrix(h.Features, samples, values)

	var (
		order *cluster.Order
		err   error
	)
	if h.Clustered {
		order, err = cluster.Cluster(m)
	} else {
		cond := make(map[string]string, len(next.samples))
		for _, s := range next.samples {
			cond[s.ID] = s.Metadata[next.condField]
		}
		order, err = cluster.Sorted(m, cond, next.condOrder)
	}
	if err != nil {
		h.Order = nil
		h.Placeholder = err.Error()
		return
	}
	h.Order = order
	log.Printf("[Engine] heatmap %d features x %d samples (clustered=%v)", len(order.Features), len(order.Samples), order.Clustered)
	e.relayout(next)
}

// relayout recomputes tracks and geometry on the existing order.
func (e *Engine) relayout(next *Snapshot) {
	h := &next.Heatmap
	if h.Order == nil {
		return
	}
	meta := make(map[string]map[string]string, len(next.samples))
	for _, s := range next.samples {
		meta[s.ID] = s.Metadata
	}
	h.Tracks = cluster.Tracks(h.Annotations, next.condField, h.Order.Samples, meta, next.resolver)
	h.Geometry = cluster.Layout(e.cfg.Layout, cluster.LayoutInput{
		Features:  len(h.Order.Features),
		Samples:   len(h.Order.Samples),
		Tracks:    len(h.Tracks),
		Clustered: h.Clustered,
		Height:    h.Height,
		Width:     h.Width,
	})
}

// recount refreshes placeholders and visible-point counts of every view.
func recount(next *Snapshot) {
	for _, id := range LinkedViews {
		st := next.Views[id]
		st.Placeholder, st.Error, st.VisibleCount = "", "", 0
		switch {
		case next.Dataset.IsZero():
			st.Placeholder = "select a dataset"
		case next.samplesErr != "":
			st.Error = next.samplesErr
		case next.embeddingErr != "":
			st.Error = next.embeddingErr
		case id == ViewFeature && next.featureErr != "":
			st.Error = next.featureErr
		case id == ViewFeature && next.Feature == "":
			st.Placeholder = "select a feature"
		default:
			st.VisibleCount = view.CountVisible(next.Points(id), st.Visible, st.Zoom)
		}
		next.Views[id] = st
	}
}
