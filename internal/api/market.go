package api

import (
	"fmt"
	"net/http"

	"finclash/internal/markethours"

	"github.com/gorilla/mux"
)

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.reqCtx(r)
	defer cancel()
	q, err := s.market.GetQuote(ctx, mux.Vars(r)["symbol"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// handleCandles serves /api/candles/{symbol}?resolution=D&from=<unix>&to=<unix>.
// Without from/to it returns the last 30 days.
func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	to := s.now().Unix()
	from := to - 30*24*60*60
	var err error
	if v := q.Get("to"); v != "" {
		if to, err = parseInt64(v); err != nil {
			s.fail(w, r, fmt.Errorf("%w: to must be unix seconds", errBadRequest))
			return
		}
	}
	if v := q.Get("from"); v != "" {
		if from, err = parseInt64(v); err != nil {
			s.fail(w, r, fmt.Errorf("%w: from must be unix seconds", errBadRequest))
			return
		}
	}

	ctx, cancel := s.reqCtx(r)
	defer cancel()
	c, err := s.market.GetCandles(ctx, mux.Vars(r)["symbol"], q.Get("resolution"), from, to)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleNews(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.reqCtx(r)
	defer cancel()
	items, err := s.market.GetNews(ctx, mux.Vars(r)["symbol"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.reqCtx(r)
	defer cancel()
	p, err := s.market.GetCompanyProfile(ctx, mux.Vars(r)["symbol"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleFinancials(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.reqCtx(r)
	defer cancel()
	raw, err := s.market.GetBasicFinancials(ctx, mux.Vars(r)["symbol"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, raw)
}

func (s *Server) handleSentiment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.reqCtx(r)
	defer cancel()
	raw, err := s.market.GetSocialSentiment(ctx, mux.Vars(r)["symbol"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, raw)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.reqCtx(r)
	defer cancel()
	raw, err := s.market.SearchSymbols(ctx, r.URL.Query().Get("q"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, raw)
}

func (s *Server) handleMarketStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, markethours.StatusAt(s.now()))
}
