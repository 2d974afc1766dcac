package app

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Operator endpoints share the metrics listener. The kill switch reset
// is deliberately HTTP-only so restoring entries after a trip is an
// explicit human action.
func (a *App) registerOperatorRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/positions", a.handlePositions)
	mux.HandleFunc("/pnl", a.handlePnL)
	mux.HandleFunc("/killswitch/reset", a.handleKillReset)
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	tripped, reason := a.kill.Tripped()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "ok",
		"time":               time.Now().UTC(),
		"kill_switch":        tripped,
		"kill_switch_reason": reason,
	})
}

func (a *App) handlePositions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, a.positions.Snapshot())
}

func (a *App) handlePnL(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbols":       a.pnl.Snapshot(),
		"total_net_usd": a.pnl.Total().NetUSD(),
	})
}

func (a *App) handleKillReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	tripped, reason := a.kill.Tripped()
	a.kill.Reset()
	if tripped {
		a.met.KillSwitchRestored.Inc()
		a.log.Warn("kill switch reset by operator", zap.String("previous_reason", reason))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"was_tripped": tripped,
		"reason":      reason,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
