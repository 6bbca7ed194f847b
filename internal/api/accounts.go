package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"finclash/internal/model"

	"github.com/gorilla/mux"
)

const defaultTradeLimit = 50

type createAccountRequest struct {
	Name string `json:"name"`
}

type tradeRequest struct {
	Type     string `json:"type"`
	Symbol   string `json:"symbol"`
	Quantity int64  `json:"quantity"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	a, err := s.game.CreateAccount(req.Name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.reqCtx(r)
	defer cancel()
	v, err := s.game.Value(ctx, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	kind, err := model.ParseTradeType(req.Type)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	ctx, cancel := s.reqCtx(r)
	defer cancel()
	tr, err := s.game.Trade(ctx, mux.Vars(r)["id"], kind, req.Symbol, req.Quantity)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tr)
}

func (s *Server) handleListTrades(w http.ResponseWriter, r *http.Request) {
	limit := atoiDefault(r.URL.Query().Get("limit"), defaultTradeLimit)
	if limit <= 0 {
		limit = defaultTradeLimit
	}
	trades, err := s.game.Trades(r.Context(), mux.Vars(r)["id"], limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.reqCtx(r)
	defer cancel()
	m, err := s.game.Metrics(ctx, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.reqCtx(r)
	defer cancel()
	writeJSON(w, http.StatusOK, s.game.Leaderboard(ctx))
}
