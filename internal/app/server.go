package app

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"syncvault/internal/apperr"
	"syncvault/internal/catalog"
	"syncvault/internal/model"
	"syncvault/internal/progress"
)

// Handler returns the HTTP API served by Serve.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /ws", progress.Handler(a.Hub))
	mux.HandleFunc("GET /health", a.handleHealth)
	mux.HandleFunc("GET /stats", a.handleStats)
	mux.HandleFunc("GET /backups", a.handleListBackups)
	mux.HandleFunc("POST /backups/{type}", a.handleCreateBackup)
	mux.HandleFunc("DELETE /backups/{id}", a.handleDeleteBackup)
	mux.HandleFunc("POST /sync", a.handleSync)
	mux.HandleFunc("GET /sync/status", a.handleSyncStatus)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (a *App) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindConfig, apperr.KindRequest, apperr.KindFormat:
		status = http.StatusBadRequest
	case apperr.KindAuth:
		status = http.StatusBadGateway
	case apperr.KindTimeout:
		status = http.StatusGatewayTimeout
	}
	a.Logger.Warn("Request failed", "status", status, "error", err)
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	report, err := a.Manager.GenerateHealthReport(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *App) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.Manager.Stats(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *App) handleListBackups(w http.ResponseWriter, r *http.Request) {
	f := catalog.Filter{
		Type:   model.BackupType(r.URL.Query().Get("type")),
		Status: model.Status(r.URL.Query().Get("status")),
	}
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
			return
		}
		f.Limit = n
	}
	records, err := a.Manager.ListBackups(r.Context(), f)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if records == nil {
		records = []model.BackupRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (a *App) handleCreateBackup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string         `json:"name"`
		Strategy model.Strategy `json:"strategy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.Strategy == "" {
		req.Strategy = a.Config.Strategy()
	}
	if !model.ValidStrategy(req.Strategy) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown strategy " + string(req.Strategy)})
		return
	}

	ctx := r.Context()
	switch t := model.BackupType(r.PathValue("type")); t {
	case model.TypeLocal:
		rec, err := a.Manager.CreateLocalBackup(ctx, req.Name, req.Strategy)
		if err != nil {
			a.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, rec)
	case model.TypeCloud:
		rec, err := a.Manager.CreateCloudBackup(ctx, req.Name)
		if err != nil {
			a.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, rec)
	case model.TypeHybrid:
		rec, err := a.Manager.CreateHybridBackup(ctx, req.Name)
		if err != nil {
			a.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, rec)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown backup type " + string(t)})
	}
}

func (a *App) handleDeleteBackup(w http.ResponseWriter, r *http.Request) {
	if err := a.Manager.DeleteBackup(r.Context(), r.PathValue("id")); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleSync(w http.ResponseWriter, r *http.Request) {
	result, err := a.Sync.Run(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *App) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	status, err := a.Sync.Status()
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
