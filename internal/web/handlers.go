package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/vitos/perp_trader/internal/domain"
	"github.com/vitos/perp_trader/internal/usecase"
	"go.uber.org/zap"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

type healthResponse struct {
	Status    string  `json:"status"`
	Positions int     `json:"positions"`
	Trades    int     `json:"trades"`
	Uptime    float64 `json:"uptime_sec"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Positions: len(s.positions.Snapshot()),
		Trades:    len(s.trades.Snapshot()),
		Uptime:    s.timeNow().Sub(s.started).Seconds(),
	}
	status := http.StatusOK
	if s.status != nil && s.status.Halted() {
		resp.Status = "halted"
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.positions.Snapshot())
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	trades := s.trades.Snapshot()
	if exit := r.URL.Query().Get("exit_type"); exit != "" {
		filtered := trades[:0]
		for _, t := range trades {
			if string(t.ExitType) == exit {
				filtered = append(filtered, t)
			}
		}
		trades = filtered
	}
	s.writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleTradeHistory(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.writeError(w, http.StatusNotFound, "no trade journal configured")
		return
	}
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	trades, err := s.journal.ListTrades(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list trades", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	if trades == nil {
		trades = []domain.TradeLogEntry{}
	}
	s.writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.writeError(w, http.StatusNotFound, "no trade journal configured")
		return
	}
	window := 24 * time.Hour
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			s.writeError(w, http.StatusBadRequest, "window must be a positive duration")
			return
		}
		window = d
	}

	samples, err := s.journal.ListBalances(r.Context(), s.timeNow().Add(-window))
	if err != nil {
		s.logger.Error("Failed to list balances", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list balances")
		return
	}
	if samples == nil {
		samples = []domain.BalanceSample{}
	}
	s.writeJSON(w, http.StatusOK, samples)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, usecase.Summarize(s.trades.Snapshot()))
}

func (s *Server) handleUniverse(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		s.writeJSON(w, http.StatusOK, []string{})
		return
	}
	s.writeJSON(w, http.StatusOK, s.status.Universe())
}
