package server

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/bobmcallan/eodscan/internal/app"
	"github.com/bobmcallan/eodscan/internal/common"
	"github.com/bobmcallan/eodscan/internal/models"
	"github.com/bobmcallan/eodscan/internal/storage/sqlite"
)

// registerRoutes sets up all REST API routes on the mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// System
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/version", s.handleVersion)
	mux.HandleFunc("/debug/memstats", s.handleMemstats)
	mux.Handle("/metrics", s.app.Metrics.Handler())

	// Scans
	mux.HandleFunc("/api/scans", s.handleScans)
	mux.HandleFunc("/api/scans/history", s.handleScanHistory)

	// Runs
	mux.HandleFunc("/api/runs/latest", s.handleRunLatest)
	mux.HandleFunc("/api/runs/", s.handleRunGet)
	mux.HandleFunc("/api/runs", s.handleRunTrigger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"build":   common.GetBuild(),
		"commit":  common.GetGitCommit(),
	})
}

func (s *Server) handleMemstats(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"alloc_mb":       m.Alloc / 1024 / 1024,
		"sys_mb":         m.Sys / 1024 / 1024,
		"num_gc":         m.NumGC,
		"goroutines":     runtime.NumGoroutine(),
		"uptime_seconds": int(time.Since(s.app.StartupTime).Seconds()),
	})
}

type scanInfo struct {
	Name          string               `json:"name"`
	Slug          string               `json:"slug"`
	Description   string               `json:"description,omitempty"`
	Where         string               `json:"where"`
	SortKey       string               `json:"sort_key"`
	SortDirection models.SortDirection `json:"sort_direction"`
	ResultCap     int                  `json:"result_cap"`
}

type groupInfo struct {
	Name  string     `json:"name"`
	Slug  string     `json:"slug"`
	Link  string     `json:"link,omitempty"`
	Scans []scanInfo `json:"scans"`
}

type catalogResponse struct {
	Market string      `json:"market"`
	Groups []groupInfo `json:"groups"`
	Errors []string    `json:"errors,omitempty"`
}

// handleScans handles GET /api/scans?market=, listing the compiled catalog
// with thresholds scaled for the market.
func (s *Server) handleScans(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	market, err := s.app.Market(r.URL.Query().Get("market"))
	if err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}

	reg := s.app.Runner.Registry(market)
	resp := catalogResponse{Market: market.Name, Groups: []groupInfo{}}
	for _, g := range reg.Groups() {
		gi := groupInfo{Name: g.Name, Slug: g.Slug, Link: g.Link, Scans: []scanInfo{}}
		for _, d := range g.Scans {
			gi.Scans = append(gi.Scans, scanInfo{
				Name:          d.Name,
				Slug:          d.Slug,
				Description:   d.Description,
				Where:         d.Where,
				SortKey:       d.SortKey,
				SortDirection: d.SortDirection,
				ResultCap:     d.ResultCap,
			})
		}
		resp.Groups = append(resp.Groups, gi)
	}
	for _, e := range reg.Errors() {
		resp.Errors = append(resp.Errors, e.Error())
	}
	WriteJSON(w, http.StatusOK, resp)
}

// historyStore is implemented by stores that index results per scan.
type historyStore interface {
	History(ctx context.Context, market, slug string, limit int) ([]sqlite.MatchHistory, error)
}

// handleScanHistory handles GET /api/scans/history?scan=&market=&limit=
func (s *Server) handleScanHistory(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	hs, ok := s.app.Store.(historyStore)
	if !ok {
		WriteError(w, http.StatusNotImplemented, "Storage backend does not keep scan history")
		return
	}
	slug := r.URL.Query().Get("scan")
	if slug == "" {
		WriteError(w, http.StatusBadRequest, "scan is required")
		return
	}
	market, err := s.app.Market(r.URL.Query().Get("market"))
	if err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}

	history, err := hs.History(r.Context(), market.Name, slug, intQuery(r, "limit", 30))
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if history == nil {
		history = []sqlite.MatchHistory{}
	}
	WriteJSON(w, http.StatusOK, history)
}

// handleRunLatest handles GET /api/runs/latest?market=
func (s *Server) handleRunLatest(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	market, err := s.app.Market(r.URL.Query().Get("market"))
	if err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}

	run, err := s.app.Store.LatestRun(r.Context(), market.Name)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if run == nil {
		WriteError(w, http.StatusNotFound, "No runs for "+market.Name)
		return
	}
	WriteJSON(w, http.StatusOK, run)
}

// handleRunGet handles GET /api/runs/{id}
func (s *Server) handleRunGet(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	id := PathParam(r, "/api/runs/")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "run id is required")
		return
	}

	run, err := s.app.Store.GetRun(r.Context(), id)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if run == nil {
		WriteError(w, http.StatusNotFound, "Run not found: "+id)
		return
	}
	WriteJSON(w, http.StatusOK, run)
}

type triggerResponse struct {
	Run          *models.ScanRun `json:"run"`
	PublishError string          `json:"publish_error,omitempty"`
}

// handleRunTrigger handles POST /api/runs?market=, running a scan now. It
// answers 409 while any run, scheduled or triggered, is in flight.
func (s *Server) handleRunTrigger(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	market, err := s.app.Market(r.URL.Query().Get("market"))
	if err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}

	run, err := s.app.RunMarket(r.Context(), market.Name)
	if errors.Is(err, app.ErrRunInProgress) {
		WriteError(w, http.StatusConflict, "A run is already in progress")
		return
	}
	if run == nil {
		WriteError(w, http.StatusBadGateway, err.Error())
		return
	}
	resp := triggerResponse{Run: run}
	if err != nil {
		resp.PublishError = err.Error()
	}
	WriteJSON(w, http.StatusOK, resp)
}
