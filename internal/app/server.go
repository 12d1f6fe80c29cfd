package app

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"okx-funding-bot/internal/history"
	"okx-funding-bot/internal/state"
	"okx-funding-bot/internal/strategy"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const defaultTradeLimit = 50

// router serves read-only views backed by the store and journal files. It
// never reads the loop's in-memory machine.
func (a *App) router() http.Handler {
	r := mux.NewRouter()
	if a.prom != nil {
		r.Handle(a.cfg.Metrics.Path, a.prom.Handler()).Methods(http.MethodGet)
	}
	r.HandleFunc("/healthz", a.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/state", a.handleState).Methods(http.MethodGet)
	r.HandleFunc("/api/trades", a.handleTrades).Methods(http.MethodGet)
	r.HandleFunc("/api/stats", a.handleStats).Methods(http.MethodGet)

	access := zap.NewStdLog(a.log.Named("http")).Writer()
	return handlers.RecoveryHandler()(handlers.LoggingHandler(access, r))
}

func (a *App) startServer() func() {
	if a.server == nil {
		return func() {}
	}
	go func() {
		a.log.Info("status server listening", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Warn("status server stopped", zap.Error(err))
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.server.Shutdown(ctx)
	}
}

func (a *App) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"mode":    string(a.mode),
		"inst_id": a.cfg.OKX.InstID,
	})
}

func (a *App) handleState(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		writeError(w, http.StatusNotFound, "paper state not available in this mode")
		return
	}
	ps, ok, err := state.LoadPaperState(r.Context(), a.store)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		ps = strategy.NewPaperState(a.starting)
	}
	req, pending, err := state.LoadCloseRequest(r.Context(), a.store)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	body := struct {
		State        strategy.State      `json:"state"`
		Paper        strategy.PaperState `json:"paper"`
		CloseRequest *state.CloseRequest `json:"close_request,omitempty"`
	}{State: ps.State(), Paper: ps}
	if pending {
		body.CloseRequest = &req
	}
	writeJSON(w, http.StatusOK, body)
}

func (a *App) handleTrades(w http.ResponseWriter, r *http.Request) {
	limit := defaultTradeLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	events, err := a.readTrades()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(events) > limit {
		events = events[len(events)-limit:]
	}
	if events == nil {
		events = []strategy.TradeEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (a *App) handleStats(w http.ResponseWriter, _ *http.Request) {
	events, err := a.readTrades()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, history.ComputeStats(events, a.starting))
}

func (a *App) readTrades() ([]strategy.TradeEvent, error) {
	events, err := history.ReadTrades(a.cfg.History.TradesPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return events, err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
