// Package api provides HTTP handlers for the dashboard server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"math"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/omics-dash/server/internal/cache"
	"github.com/omics-dash/server/internal/cluster"
	"github.com/omics-dash/server/internal/data/tsv"
	"github.com/omics-dash/server/internal/engine"
	"github.com/omics-dash/server/internal/export"
	"github.com/omics-dash/server/internal/render"
	"github.com/omics-dash/server/internal/service"
	"github.com/omics-dash/server/internal/sessionstore"
	"github.com/omics-dash/server/internal/view"
)

// RouterConfig contains router configuration.
type RouterConfig struct {
	Registry           *DatasetRegistry
	Sessions           *SessionManager
	Tables             *service.TableService
	Renderer           *render.Renderer
	Cache              *cache.Manager // optional; reported by /api/status
	MaxBoxplotFeatures int
	CORSOrigins        []string
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Get("/api/datasets", datasetsHandler(cfg.Registry))
	r.Get("/api/status", statusHandler(cfg.Sessions, cfg.Cache))

	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", createSessionHandler(cfg.Registry, cfg.Sessions))
		r.Get("/saved", savedSessionsHandler(cfg.Sessions))
		r.Delete("/saved/{id}", deleteSavedSessionHandler(cfg.Sessions))

		r.Route("/{id}", func(r chi.Router) {
			r.Use(sessionMiddleware(cfg.Sessions))
			r.Get("/", snapshotHandler)
			r.Delete("/", closeSessionHandler(cfg.Sessions))
			r.Post("/triggers", triggerHandler)
			r.Post("/save", saveSessionHandler(cfg.Sessions))
			r.Get("/views/{view}.png", viewImageHandler(cfg.Renderer))
			r.Get("/views/{view}", viewHandler)
			r.Get("/heatmap.png", heatmapImageHandler(cfg.Renderer))
			r.Get("/boxplots", boxplotsHandler(cfg.MaxBoxplotFeatures))
		})
	})

	// Dataset-scoped tables: {dataset} is "kingdom:rank" for differential
	// tables and "kingdom" for enrichment tables.
	r.Route("/api/d/{dataset}", func(r chi.Router) {
		r.Use(datasetMiddleware(cfg.Registry))
		r.Get("/dge/{contrast}", differentialHandler(cfg.Registry, cfg.Tables))
		r.Get("/dge/{contrast}/export", differentialExportHandler(cfg.Registry, cfg.Tables))
		r.Get("/go/{contrast}", enrichmentHandler(cfg.Registry, cfg.Tables))
		r.Get("/go/{contrast}/export", enrichmentExportHandler(cfg.Registry, cfg.Tables))
	})

	return r
}

// Context keys
type ctxKey string

const (
	datasetKey ctxKey = "dataset"
	engineKey  ctxKey = "engine"
)

// datasetMiddleware resolves the dataset from the URL and injects its key into context.
func datasetMiddleware(registry *DatasetRegistry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := chi.URLParam(r, "dataset")
			key := engine.DatasetKey{Kingdom: strings.TrimSpace(raw)}
			if strings.Contains(raw, ":") {
				var err error
				if key, err = engine.ParseDatasetKey(raw); err != nil {
					http.Error(w, err.Error(), http.StatusBadRequest)
					return
				}
			}
			if err := registry.Resolve(key); err != nil {
				http.Error(w, "dataset not found: "+raw, http.StatusNotFound)
				return
			}
			ctx := context.WithValue(r.Context(), datasetKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func getDataset(r *http.Request) engine.DatasetKey {
	key, _ := r.Context().Value(datasetKey).(engine.DatasetKey)
	return key
}

// sessionMiddleware resolves the live session and injects its engine into context.
func sessionMiddleware(sessions *SessionManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			eng, err := sessions.Get(chi.URLParam(r, "id"))
			if err != nil {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			ctx := context.WithValue(r.Context(), engineKey, eng)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func getEngine(r *http.Request) *engine.Engine {
	if eng, ok := r.Context().Value(engineKey).(*engine.Engine); ok {
		return eng
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[API] encode response: %v", err)
	}
}

// datasetsHandler returns the list of available datasets.
func datasetsHandler(registry *DatasetRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"default":  registry.DefaultDataset().String(),
			"datasets": registry.Datasets(),
			"title":    registry.Title(),
		})
	}
}

// statusHandler reports live sessions and cache occupancy.
func statusHandler(sessions *SessionManager, c *cache.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]interface{}{"sessions": sessions.Len()}
		if c != nil {
			body["cache"] = c.Stats()
		}
		writeJSON(w, http.StatusOK, body)
	}
}

// sessionResponse is a snapshot with its session id. Rejected carries the
// reason a trigger left the state unchanged.
type sessionResponse struct {
	Session  string `json:"session"`
	Rejected string `json:"rejected,omitempty"`
	*engine.Snapshot
}

func createSessionHandler(registry *DatasetRegistry, sessions *SessionManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var key engine.DatasetKey
		if raw := strings.TrimSpace(q.Get("dataset")); raw != "" {
			var err error
			if key, err = engine.ParseDatasetKey(raw); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if err := registry.Resolve(key); err != nil {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
		}

		id, snap, warnings, err := sessions.Create(r.Context(), key, strings.TrimSpace(q.Get("restore")))
		switch {
		case errors.Is(err, sessionstore.ErrNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		case errors.Is(err, ErrPersistenceDisabled):
			http.Error(w, err.Error(), http.StatusNotImplemented)
			return
		case err != nil:
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		resp := sessionResponse{Session: id, Rejected: strings.Join(warnings, "; "), Snapshot: snap}
		writeJSON(w, http.StatusCreated, resp)
	}
}

func snapshotHandler(w http.ResponseWriter, r *http.Request) {
	eng := getEngine(r)
	if eng == nil {
		http.Error(w, "session not found", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Session: chi.URLParam(r, "id"), Snapshot: eng.Snapshot()})
}

func closeSessionHandler(sessions *SessionManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := sessions.Close(chi.URLParam(r, "id")); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

const maxTriggerBodyBytes = 1 << 20

// triggerHandler applies one trigger. Rejected triggers answer 200 with the
// unchanged snapshot and the reason; a superseded fetch answers 409.
func triggerHandler(w http.ResponseWriter, r *http.Request) {
	eng := getEngine(r)
	if eng == nil {
		http.Error(w, "session not found", http.StatusInternalServerError)
		return
	}

	var req triggerRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxTriggerBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid trigger: "+err.Error(), http.StatusBadRequest)
		return
	}
	t, err := req.decode()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	snap, err := eng.Apply(r.Context(), t)
	switch {
	case err == nil:
	case errors.Is(err, engine.ErrSuperseded):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	default:
		resp := sessionResponse{Session: chi.URLParam(r, "id"), Rejected: err.Error(), Snapshot: snap}
		writeJSON(w, http.StatusOK, resp)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Session: chi.URLParam(r, "id"), Snapshot: snap})
}

func saveSessionHandler(sessions *SessionManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Name string `json:"name"`
		}
		if r.ContentLength != 0 {
			if err := json.NewDecoder(io.LimitReader(r.Body, maxTriggerBodyBytes)).Decode(&body); err != nil && err != io.EOF {
				http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
				return
			}
		}
		sess, err := sessions.Save(chi.URLParam(r, "id"), body.Name)
		switch {
		case errors.Is(err, ErrPersistenceDisabled):
			http.Error(w, err.Error(), http.StatusNotImplemented)
			return
		case errors.Is(err, engine.ErrNoDataset):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		case err != nil:
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	}
}

func savedSessionsHandler(sessions *SessionManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := sessions.Saved(strings.TrimSpace(r.URL.Query().Get("dataset")))
		if errors.Is(err, ErrPersistenceDisabled) {
			http.Error(w, err.Error(), http.StatusNotImplemented)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": list})
	}
}

func deleteSavedSessionHandler(sessions *SessionManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := sessions.DeleteSaved(chi.URLParam(r, "id"))
		switch {
		case errors.Is(err, sessionstore.ErrNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, ErrPersistenceDisabled):
			http.Error(w, err.Error(), http.StatusNotImplemented)
		case err != nil:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}
}

// pointDTO is a view point with a missing value encoded as null.
type pointDTO struct {
	ID       string   `json:"id"`
	X        float64  `json:"x"`
	Y        float64  `json:"y"`
	Category string   `json:"category"`
	Value    *float64 `json:"value"`
}

type traceDTO struct {
	Category   string     `json:"category"`
	Color      string     `json:"color,omitempty"`
	LegendOnly bool       `json:"legendOnly,omitempty"`
	Points     []pointDTO `json:"points"`
}

func toTraceDTOs(traces []view.Trace) []traceDTO {
	out := make([]traceDTO, 0, len(traces))
	for _, t := range traces {
		dto := traceDTO{Category: t.Category, Color: t.Color, LegendOnly: t.LegendOnly, Points: make([]pointDTO, len(t.Points))}
		for i, p := range t.Points {
			dto.Points[i] = pointDTO{ID: p.ID, X: p.X, Y: p.Y, Category: p.Category}
			if !math.IsNaN(p.Value) && !math.IsInf(p.Value, 0) {
				v := p.Value
				dto.Points[i].Value = &v
			}
		}
		out = append(out, dto)
	}
	return out
}

// viewHandler returns one linked view: its state, traces and the shared legend.
func viewHandler(w http.ResponseWriter, r *http.Request) {
	eng := getEngine(r)
	if eng == nil {
		http.Error(w, "session not found", http.StatusInternalServerError)
		return
	}
	snap := eng.Snapshot()
	id := chi.URLParam(r, "view")
	st, ok := snap.Views[id]
	if !ok {
		http.Error(w, "unknown view: "+id, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"seq":    snap.Seq,
		"view":   st,
		"traces": toTraceDTOs(snap.Traces(id)),
		"legend": snap.Legend,
	})
}

func writePNG(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(data)
}

func viewImageHandler(renderer *render.Renderer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eng := getEngine(r)
		if eng == nil {
			http.Error(w, "session not found", http.StatusInternalServerError)
			return
		}
		data, err := renderer.RenderView(eng.Snapshot(), chi.URLParam(r, "view"))
		if errors.Is(err, engine.ErrUnknownView) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writePNG(w, data)
	}
}

func heatmapImageHandler(renderer *render.Renderer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eng := getEngine(r)
		if eng == nil {
			http.Error(w, "session not found", http.StatusInternalServerError)
			return
		}
		data, err := renderer.RenderHeatmap(eng.Snapshot())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writePNG(w, data)
	}
}

// boxplotsHandler returns the boxplot panel. An empty selection is a
// placeholder, an oversized one is rejected.
func boxplotsHandler(maxFeatures int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eng := getEngine(r)
		if eng == nil {
			http.Error(w, "session not found", http.StatusInternalServerError)
			return
		}
		plots, err := service.Boxplots(eng.Snapshot(), maxFeatures)
		switch {
		case errors.Is(err, cluster.ErrEmptySelection):
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"boxplots":    []service.Boxplot{},
				"placeholder": err.Error(),
			})
		case errors.Is(err, cluster.ErrTooManyFeatures):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		case err != nil:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		default:
			writeJSON(w, http.StatusOK, map[string]interface{}{"boxplots": plots})
		}
	}
}

// parseContrast reads and validates the {contrast} URL parameter against the
// dataset's declared contrasts.
func parseContrast(registry *DatasetRegistry, w http.ResponseWriter, r *http.Request) (engine.Contrast, bool) {
	c, err := engine.ParseContrast(chi.URLParam(r, "contrast"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return c, false
	}
	if !registry.HasContrast(getDataset(r).Kingdom, c) {
		http.Error(w, "contrast not found: "+c.String(), http.StatusNotFound)
		return c, false
	}
	return c, true
}

func parseDifferentialQuery(registry *DatasetRegistry, w http.ResponseWriter, r *http.Request) (service.DifferentialQuery, bool) {
	key := getDataset(r)
	if key.Rank == "" {
		http.Error(w, "differential tables need a kingdom:rank dataset", http.StatusBadRequest)
		return service.DifferentialQuery{}, false
	}
	c, ok := parseContrast(registry, w, r)
	if !ok {
		return service.DifferentialQuery{}, false
	}
	query := r.URL.Query()
	padj, err := service.ParseStringency(query.Get("padj"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return service.DifferentialQuery{}, false
	}
	dir, err := service.ParseDirection(query.Get("direction"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return service.DifferentialQuery{}, false
	}
	return service.DifferentialQuery{
		Dataset:   key,
		Contrast:  c,
		PAdj:      padj,
		Direction: dir,
		Search:    query.Get("search"),
		Full:      parseBool(query.Get("full")),
	}, true
}

func parseEnrichmentQuery(registry *DatasetRegistry, w http.ResponseWriter, r *http.Request) (service.EnrichmentQuery, bool) {
	c, ok := parseContrast(registry, w, r)
	if !ok {
		return service.EnrichmentQuery{}, false
	}
	query := r.URL.Query()
	dir, err := service.ParseDirection(query.Get("direction"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return service.EnrichmentQuery{}, false
	}
	return service.EnrichmentQuery{
		Kingdom:   getDataset(r).Kingdom,
		Contrast:  c,
		Direction: dir,
		Search:    query.Get("search"),
	}, true
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	return err == nil && b
}

// tableError maps table read failures to status codes.
func tableError(w http.ResponseWriter, err error) {
	if errors.Is(err, tsv.ErrDataUnavailable) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func differentialHandler(registry *DatasetRegistry, tables *service.TableService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, ok := parseDifferentialQuery(registry, w, r)
		if !ok {
			return
		}
		res, err := tables.Differential(r.Context(), q)
		if err != nil {
			tableError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func enrichmentHandler(registry *DatasetRegistry, tables *service.TableService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, ok := parseEnrichmentQuery(registry, w, r)
		if !ok {
			return
		}
		res, err := tables.Enrichment(r.Context(), q)
		if err != nil {
			tableError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func differentialExportHandler(registry *DatasetRegistry, tables *service.TableService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, ok := parseDifferentialQuery(registry, w, r)
		if !ok {
			return
		}
		format, err := export.ParseFormat(r.URL.Query().Get("format"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		res, err := tables.Differential(r.Context(), q)
		if err != nil {
			tableError(w, err)
			return
		}
		writeDownload(w, export.DifferentialTable(res), format)
	}
}

func enrichmentExportHandler(registry *DatasetRegistry, tables *service.TableService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, ok := parseEnrichmentQuery(registry, w, r)
		if !ok {
			return
		}
		format, err := export.ParseFormat(r.URL.Query().Get("format"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		res, err := tables.Enrichment(r.Context(), q)
		if err != nil {
			tableError(w, err)
			return
		}
		writeDownload(w, export.EnrichmentTable(res), format)
	}
}

func writeDownload(w http.ResponseWriter, t export.Table, f export.Format) {
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": t.Filename(f)})
	if disposition != "" {
		w.Header().Set("Content-Disposition", disposition)
	} else {
		w.Header().Set("Content-Disposition", "attachment")
	}
	w.Header().Set("Content-Type", f.ContentType())
	if err := export.Write(w, t, f); err != nil {
		log.Printf("[API] export %s: %v", t.Name, err)
	}
}
