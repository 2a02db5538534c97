package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/omics-dash/server/internal/cache"
	"github.com/omics-dash/server/internal/cluster"
	"github.com/omics-dash/server/internal/data/tsv"
	"github.com/omics-dash/server/internal/engine"
	"github.com/omics-dash/server/internal/render"
	"github.com/omics-dash/server/internal/service"
	"github.com/omics-dash/server/internal/sessionstore"
	"github.com/omics-dash/server/internal/view"
)

var testFiles = map[string]string{
	"host/metadata.tsv": "sample\tcondition\ttissue\n" +
		"S1\tcontrol\tlung\nS2\tcontrol\tblood\nS3\tinfected\tlung\nS4\tinfected\tblood\n",
	"host/gene/umap.tsv": "sample\tUMAP_1\tUMAP_2\n" +
		"S1\t0\t0\nS2\t1\t0\nS3\t5\t5\nS4\t6\t5\n",
	"host/gene/counts/IL6.tsv":  "sample\tcounts\nS1\t1\nS2\t2\nS3\t100\nS4\t120\n",
	"host/gene/counts/TNF.tsv":  "sample\tcounts\nS1\t2\nS2\t1\nS3\t80\nS4\t90\n",
	"host/gene/counts/ACTB.tsv": "sample\tcounts\nS1\t50\nS2\t55\nS3\t52\nS4\t49\n",
	"host/gene/dge/infected_vs_control.tsv": "Gene\tbaseMean\tlog2FoldChange\tlfcSE\tpvalue\tpadj\n" +
		"IL6\t60\t5.1\t0.3\t1e-8\t1e-6\n" +
		"TNF\t45\t4.2\t0.4\t1e-5\t0.002\n" +
		"ACTB\t51\t0.01\t0.1\t0.9\t0.95\n" +
		"XIST\t3\t-2.5\t0.8\t0.001\t0.03\n",
	"host/go/infected_vs_control.tsv": "DGE\tProcess\tGenes\tCount\tPercentage\tPValue\n" +
		"Up\timmune response\tIL6,TNF\t2\t50\t0.0001\n" +
		"Down\tdosage compensation\tXIST\t1\t25\t0.02\n",
}

// testServer holds the test server and its dependencies
type testServer struct {
	server   *httptest.Server
	sessions *SessionManager
}

// setupTestServer writes a small data tree and wires the full stack over it.
func setupTestServer(t *testing.T) *testServer {
	t.Helper()

	root := t.TempDir()
	for name, content := range testFiles {
		p := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	cacheManager, err := cache.NewManager(cache.Config{
		RawCacheSizeMB: 16,
		RawTTL:         time.Minute,
		ParsedEntries:  32,
		FeatureEntries: 32,
	})
	if err != nil {
		t.Fatalf("Failed to initialize cache: %v", err)
	}
	t.Cleanup(func() { cacheManager.Close() })
	store := tsv.NewStore(tsv.FileSource{Root: root}, cacheManager)

	registry := NewDatasetRegistry("host", []string{"host"}, "")
	registry.Register("host", engine.Kingdom{
		Ranks:           []string{"gene"},
		Projections:     []string{"umap"},
		Contrasts:       []string{"infected_vs_control"},
		DefaultVariable: "condition",
		ConditionField:  "condition",
		ConditionOrder:  []string{"infected", "control"},
	})

	sessionStore, err := sessionstore.NewStore(filepath.Join(t.TempDir(), "sessions.sqlite"))
	if err != nil {
		t.Fatalf("Failed to open session store: %v", err)
	}
	sessions := NewSessionManager(SessionManagerConfig{
		Engine: engine.Config{
			Kingdoms: registry.Kingdoms(),
			Layout: cluster.LayoutConfig{
				RowHeight: 20, ColumnWidth: 12, DendrogramSize: 40, SizeLegendWidth: 40,
				MarginTop: 20, MarginBottom: 40, MarginLeft: 80, MarginRight: 20,
				MaxHeight: 800, MaxWidth: 800, MinLabelPixels: 8,
			},
			MaxHeatmapFeatures: 20,
			Features:           cacheManager,
		},
		Fetcher: store,
		Store:   sessionStore,
	})
	t.Cleanup(sessions.Stop)

	router := NewRouter(RouterConfig{
		Registry:           registry,
		Sessions:           sessions,
		Tables:             service.NewTableService(store),
		Renderer:           render.NewRenderer(render.Config{ViewSize: 160}),
		Cache:              store.Cache(),
		MaxBoxplotFeatures: 10,
		CORSOrigins:        []string{"http://localhost:3000"},
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &testServer{server: server, sessions: sessions}
}

type snapshotBody struct {
	Session   string   `json:"session"`
	Rejected  string   `json:"rejected"`
	Variable  string   `json:"variable"`
	Variables []string `json:"variables"`
	Views     map[string]struct {
		Zoom         *view.Range `json:"zoom"`
		VisibleCount int         `json:"visibleCount"`
		Placeholder  string      `json:"placeholder"`
		ShowLegend   bool        `json:"showLegend"`
	} `json:"views"`
	Legend struct {
		Entries []struct {
			Value   string `json:"value"`
			Visible bool   `json:"visible"`
		} `json:"entries"`
	} `json:"legend"`
	Heatmap struct {
		Features    []string `json:"features"`
		Placeholder string   `json:"placeholder"`
	} `json:"heatmap"`
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.server.URL+path, rd)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, wantStatus int, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected status %d, got %d: %s", wantStatus, resp.StatusCode, b)
	}
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
}

func (ts *testServer) createSession(t *testing.T) snapshotBody {
	t.Helper()
	var snap snapshotBody
	decodeBody(t, ts.do(t, http.MethodPost, "/api/sessions?dataset=host:gene", nil), http.StatusCreated, &snap)
	if snap.Session == "" {
		t.Fatalf("expected a session id")
	}
	return snap
}

func (ts *testServer) trigger(t *testing.T, id string, body map[string]interface{}) snapshotBody {
	t.Helper()
	var snap snapshotBody
	decodeBody(t, ts.do(t, http.MethodPost, "/api/sessions/"+id+"/triggers", body), http.StatusOK, &snap)
	return snap
}

func TestHealthEndpoint(t *testing.T) {
	ts := setupTestServer(t)
	resp := ts.do(t, http.MethodGet, "/health", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
}

func TestStatusEndpoint(t *testing.T) {
	ts := setupTestServer(t)
	ts.createSession(t)

	var body struct {
		Sessions int            `json:"sessions"`
		Cache    map[string]int `json:"cache"`
	}
	decodeBody(t, ts.do(t, http.MethodGet, "/api/status", nil), http.StatusOK, &body)
	if body.Sessions != 1 {
		t.Errorf("expected 1 live session, got %d", body.Sessions)
	}
	if body.Cache["parsed_cache_len"] < 2 {
		t.Errorf("expected metadata and embedding tables cached, got %v", body.Cache)
	}
}

func TestShowLegendTrigger(t *testing.T) {
	ts := setupTestServer(t)
	snap := ts.createSession(t)
	id := snap.Session
	if !snap.Views[engine.ViewFeature].ShowLegend {
		t.Fatalf("legends start shown")
	}
	if strings.Join(snap.Variables, ",") != "condition,tissue" {
		t.Errorf("unexpected variables: %v", snap.Variables)
	}

	hidden := ts.trigger(t, id, map[string]interface{}{"kind": "show_legend", "view": "feature", "on": false})
	if hidden.Views[engine.ViewFeature].ShowLegend || !hidden.Views[engine.ViewMetadata].ShowLegend {
		t.Errorf("expected only the feature legend hidden, got %+v", hidden.Views)
	}

	resp := ts.do(t, http.MethodPost, "/api/sessions/"+id+"/triggers", map[string]interface{}{"kind": "show_legend"})
	decodeBody(t, resp, http.StatusBadRequest, nil)
}

func TestDatasetsEndpoint(t *testing.T) {
	ts := setupTestServer(t)
	var body struct {
		Default  string        `json:"default"`
		Datasets []DatasetInfo `json:"datasets"`
	}
	decodeBody(t, ts.do(t, http.MethodGet, "/api/datasets", nil), http.StatusOK, &body)
	if body.Default != "host:gene" {
		t.Errorf("expected default host:gene, got %q", body.Default)
	}
	if len(body.Datasets) != 1 || body.Datasets[0].Rank != "gene" {
		t.Errorf("unexpected datasets: %+v", body.Datasets)
	}
}

func TestSessionLinkedViews(t *testing.T) {
	ts := setupTestServer(t)
	snap := ts.createSession(t)
	id := snap.Session

	if got := snap.Views[engine.ViewMetadata].VisibleCount; got != 4 {
		t.Fatalf("expected 4 visible samples, got %d", got)
	}
	if snap.Variable != "condition" {
		t.Errorf("expected default variable condition, got %q", snap.Variable)
	}

	zoomed := ts.trigger(t, id, map[string]interface{}{
		"kind": "zoom", "view": "feature", "range": view.Range{X0: -1, X1: 2, Y0: -1, Y1: 1},
	})
	for _, v := range engine.LinkedViews {
		z := zoomed.Views[v].Zoom
		if z == nil || z.X1 != 2 {
			t.Errorf("view %s: expected propagated zoom, got %+v", v, z)
		}
	}
	if got := zoomed.Views[engine.ViewMetadata].VisibleCount; got != 2 {
		t.Errorf("expected 2 samples inside zoom, got %d", got)
	}

	hidden := ts.trigger(t, id, map[string]interface{}{"kind": "legend", "value": "control"})
	if got := hidden.Views[engine.ViewMetadata].VisibleCount; got != 0 {
		t.Errorf("expected 0 visible after hiding control inside zoom, got %d", got)
	}
	if hidden.Views[engine.ViewMetadata].Zoom == nil {
		t.Errorf("legend toggle must keep zoom")
	}

	var vbody struct {
		Traces []struct {
			Category   string `json:"category"`
			LegendOnly bool   `json:"legendOnly"`
			Points     []struct {
				Value *float64 `json:"value"`
			} `json:"points"`
		} `json:"traces"`
	}
	decodeBody(t, ts.do(t, http.MethodGet, "/api/sessions/"+id+"/views/metadata", nil), http.StatusOK, &vbody)
	legendOnly := map[string]bool{}
	for _, tr := range vbody.Traces {
		legendOnly[tr.Category] = tr.LegendOnly
		for _, p := range tr.Points {
			if p.Value != nil {
				t.Errorf("metadata view points carry no value")
			}
		}
	}
	if !legendOnly["control"] || legendOnly["infected"] {
		t.Errorf("unexpected legend-only traces: %v", legendOnly)
	}
}

func TestTriggerErrors(t *testing.T) {
	ts := setupTestServer(t)
	id := ts.createSession(t).Session

	resp := ts.do(t, http.MethodPost, "/api/sessions/"+id+"/triggers", map[string]interface{}{"kind": "teleport"})
	decodeBody(t, resp, http.StatusBadRequest, nil)

	resp = ts.do(t, http.MethodPost, "/api/sessions/"+id+"/triggers", map[string]interface{}{"kind": "clustering"})
	decodeBody(t, resp, http.StatusBadRequest, nil)

	resp = ts.do(t, http.MethodPost, "/api/sessions/nope/triggers", map[string]interface{}{"kind": "zoom"})
	decodeBody(t, resp, http.StatusNotFound, nil)

	ok := ts.trigger(t, id, map[string]interface{}{"kind": "features", "features": []string{"IL6", "TNF"}})
	if len(ok.Heatmap.Features) != 2 {
		t.Fatalf("expected 2 heatmap features, got %v", ok.Heatmap.Features)
	}

	many := make([]string, 21)
	for i := range many {
		many[i] = fmt.Sprintf("F%d", i)
	}
	rejected := ts.trigger(t, id, map[string]interface{}{"kind": "features", "features": many})
	if rejected.Rejected == "" {
		t.Errorf("expected rejection reason")
	}
	if len(rejected.Heatmap.Features) != 2 {
		t.Errorf("rejected selection must leave state untouched, got %v", rejected.Heatmap.Features)
	}

	unknown := ts.trigger(t, id, map[string]interface{}{"kind": "variable", "variable": "nope"})
	if unknown.Rejected == "" || unknown.Variable != "condition" {
		t.Errorf("unknown variable should be rejected, got %+v", unknown)
	}
}

func TestSaveAndRestoreSession(t *testing.T) {
	ts := setupTestServer(t)
	id := ts.createSession(t).Session
	ts.trigger(t, id, map[string]interface{}{"kind": "variable", "variable": "tissue"})
	ts.trigger(t, id, map[string]interface{}{"kind": "legend", "value": "blood"})
	ts.trigger(t, id, map[string]interface{}{"kind": "features", "features": []string{"IL6", "ACTB"}})

	var saved sessionstore.Session
	decodeBody(t, ts.do(t, http.MethodPost, "/api/sessions/"+id+"/save", map[string]string{"name": "tissue view"}), http.StatusOK, &saved)
	if saved.ID != id || saved.Controls.Variable != "tissue" {
		t.Fatalf("unexpected saved session: %+v", saved)
	}

	var list struct {
		Sessions []sessionstore.Session `json:"sessions"`
	}
	decodeBody(t, ts.do(t, http.MethodGet, "/api/sessions/saved?dataset=host:gene", nil), http.StatusOK, &list)
	if len(list.Sessions) != 1 || list.Sessions[0].Name != "tissue view" {
		t.Fatalf("unexpected saved list: %+v", list.Sessions)
	}

	var restored snapshotBody
	decodeBody(t, ts.do(t, http.MethodPost, "/api/sessions?restore="+id, nil), http.StatusCreated, &restored)
	if restored.Session == id {
		t.Errorf("restore must start a new live session")
	}
	if restored.Variable != "tissue" {
		t.Errorf("expected restored variable tissue, got %q", restored.Variable)
	}
	for _, e := range restored.Legend.Entries {
		if e.Value == "blood" && e.Visible {
			t.Errorf("expected blood hidden after restore")
		}
	}
	if strings.Join(restored.Heatmap.Features, ",") != "IL6,ACTB" {
		t.Errorf("expected restored heatmap selection, got %v", restored.Heatmap.Features)
	}

	decodeBody(t, ts.do(t, http.MethodPost, "/api/sessions?restore=00000000-0000-0000-0000-000000000000", nil), http.StatusNotFound, nil)
	decodeBody(t, ts.do(t, http.MethodDelete, "/api/sessions/saved/"+id, nil), http.StatusNoContent, nil)
}

func TestImagesAndBoxplots(t *testing.T) {
	ts := setupTestServer(t)
	id := ts.createSession(t).Session

	var box struct {
		Boxplots    []service.Boxplot `json:"boxplots"`
		Placeholder string            `json:"placeholder"`
	}
	decodeBody(t, ts.do(t, http.MethodGet, "/api/sessions/"+id+"/boxplots", nil), http.StatusOK, &box)
	if box.Placeholder == "" {
		t.Errorf("expected placeholder for empty selection")
	}

	ts.trigger(t, id, map[string]interface{}{"kind": "features", "features": []string{"IL6", "TNF", "ACTB"}})
	decodeBody(t, ts.do(t, http.MethodGet, "/api/sessions/"+id+"/boxplots", nil), http.StatusOK, &box)
	if len(box.Boxplots) != 3 || len(box.Boxplots[0].Boxes) != 2 {
		t.Fatalf("unexpected boxplots: %+v", box.Boxplots)
	}
	if box.Boxplots[0].Boxes[0].Condition != "infected" {
		t.Errorf("expected declared condition order, got %q", box.Boxplots[0].Boxes[0].Condition)
	}

	for _, path := range []string{"/views/metadata.png", "/views/feature.png", "/heatmap.png"} {
		resp := ts.do(t, http.MethodGet, "/api/sessions/"+id+path, nil)
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
			t.Errorf("%s: expected image/png, got %q", path, ct)
		}
		if len(data) < 8 || string(data[1:4]) != "PNG" {
			t.Errorf("%s: expected PNG data", path)
		}
	}
	decodeBody(t, ts.do(t, http.MethodGet, "/api/sessions/"+id+"/views/nope.png", nil), http.StatusNotFound, nil)
}

func TestDifferentialEndpoint(t *testing.T) {
	ts := setupTestServer(t)

	var res service.DifferentialResult
	decodeBody(t, ts.do(t, http.MethodGet, "/api/d/host:gene/dge/infected_vs_control?padj=0.05", nil), http.StatusOK, &res)
	if len(res.Rows) != 3 || res.Rows[0].Feature != "IL6" {
		t.Fatalf("unexpected rows: %+v", res.Rows)
	}
	if res.Up != 2 || res.Down != 1 {
		t.Errorf("expected 2 up / 1 down, got %d / %d", res.Up, res.Down)
	}

	decodeBody(t, ts.do(t, http.MethodGet, "/api/d/host:gene/dge/infected_vs_control?padj=0.01&direction=up", nil), http.StatusOK, &res)
	if len(res.Rows) != 2 {
		t.Errorf("expected 2 rows at padj 0.01 up, got %d", len(res.Rows))
	}

	decodeBody(t, ts.do(t, http.MethodGet, "/api/d/host:gene/dge/infected_vs_control?padj=0.5", nil), http.StatusBadRequest, nil)
	decodeBody(t, ts.do(t, http.MethodGet, "/api/d/host:gene/dge/mock_vs_control", nil), http.StatusNotFound, nil)
	decodeBody(t, ts.do(t, http.MethodGet, "/api/d/plants:gene/dge/infected_vs_control", nil), http.StatusNotFound, nil)
	decodeBody(t, ts.do(t, http.MethodGet, "/api/d/host/dge/infected_vs_control", nil), http.StatusBadRequest, nil)
}

func TestEnrichmentEndpoint(t *testing.T) {
	ts := setupTestServer(t)
	var res service.EnrichmentResult
	decodeBody(t, ts.do(t, http.MethodGet, "/api/d/host/go/infected_vs_control?search=IMMUNE", nil), http.StatusOK, &res)
	if len(res.Rows) != 1 || res.Rows[0].Process != "immune response" {
		t.Fatalf("unexpected rows: %+v", res.Rows)
	}
}

func TestExportEndpoint(t *testing.T) {
	ts := setupTestServer(t)

	resp := ts.do(t, http.MethodGet, "/api/d/host:gene/dge/infected_vs_control/export?format=tsv&full=1", nil)
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, ".xls") || strings.Contains(cd, ".xlsx") {
		t.Errorf("expected forced .xls attachment, got %q", cd)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 5 {
		t.Errorf("expected header + 4 rows with full=1, got %d lines", len(lines))
	}

	resp = ts.do(t, http.MethodGet, "/api/d/host:gene/dge/infected_vs_control/export", nil)
	resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "spreadsheetml") {
		t.Errorf("expected xlsx content type, got %q", ct)
	}

	decodeBody(t, ts.do(t, http.MethodGet, "/api/d/host:gene/dge/infected_vs_control/export?format=pdf", nil), http.StatusBadRequest, nil)
}

func TestSessionManagerEvictsIdle(t *testing.T) {
	ts := setupTestServer(t)
	id := ts.createSession(t).Session
	if ts.sessions.Len() != 1 {
		t.Fatalf("expected 1 live session")
	}
	ts.sessions.cleanup(time.Now().Add(3 * time.Hour))
	if ts.sessions.Len() != 0 {
		t.Errorf("expected idle session to be closed")
	}
	decodeBody(t, ts.do(t, http.MethodGet, "/api/sessions/"+id, nil), http.StatusNotFound, nil)
}
