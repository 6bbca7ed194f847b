package api

import (
	"fmt"
	"net/http"
)

// handleMissed serves /api/stream/missed?channel=&from=&to= from the hub's
// replay buffer.
func (s *Server) handleMissed(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	channel := q.Get("channel")
	if channel == "" {
		s.fail(w, r, fmt.Errorf("%w: channel is required", errBadRequest))
		return
	}
	from, err := parseInt64(q.Get("from"))
	if err != nil {
		s.fail(w, r, fmt.Errorf("%w: from must be an integer", errBadRequest))
		return
	}
	to := int64(1<<63 - 1)
	if v := q.Get("to"); v != "" {
		if to, err = parseInt64(v); err != nil {
			s.fail(w, r, fmt.Errorf("%w: to must be an integer", errBadRequest))
			return
		}
	}

	msgs := s.hub.Replay(channel, from, to)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("["))
	for i, m := range msgs {
		if i > 0 {
			w.Write([]byte(","))
		}
		w.Write(m)
	}
	w.Write([]byte("]"))
}
