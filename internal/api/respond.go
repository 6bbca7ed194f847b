package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"finclash/internal/cache"
	"finclash/internal/game"
	"finclash/internal/logger"
	"finclash/internal/marketdata"
	"finclash/internal/model"
	"finclash/internal/portfolio"
)

// errBadRequest marks request decoding and parameter errors.
var errBadRequest = errors.New("bad request")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

// statusFor maps a domain error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, model.ErrInvalidSymbol),
		errors.Is(err, model.ErrInvalidTradeType),
		errors.Is(err, portfolio.ErrInvalidQuantity),
		errors.Is(err, portfolio.ErrInvalidPrice),
		errors.Is(err, game.ErrInvalidName),
		errors.Is(err, cache.ErrUnknownDataType),
		errors.Is(err, marketdata.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, game.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, portfolio.ErrConflictingPositionDirection):
		return http.StatusConflict
	case errors.Is(err, portfolio.ErrInsufficientFunds),
		errors.Is(err, portfolio.ErrInsufficientShares),
		errors.Is(err, portfolio.ErrNoShortPosition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, marketdata.ErrFetchFailed),
		errors.Is(err, marketdata.ErrNoPrice),
		errors.Is(err, portfolio.ErrPriceUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// fail logs server-side failures and writes the mapped error.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", append(logger.LogWithTrace(r.Context()),
			"method", r.Method, "path", r.URL.Path, "status", status, "err", err)...)
	}
	writeErr(w, status, err.Error())
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

func parseInt64(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
