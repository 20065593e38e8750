package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"docqueue/internal/queue"
)

type Server struct {
	r      *chi.Mux
	queues *queue.Manager
}

func NewServer(queues *queue.Manager) http.Handler {
	return NewServerWithDebug(queues, false)
}

func NewServerWithDebug(queues *queue.Manager, enableDebug bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	s := &Server{r: r, queues: queues}

	r.Get("/health", s.health)
	reg := prometheus.NewRegistry()
	reg.MustRegister(newQueueCollector(queues))
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Route("/api/queues/{queue}", func(r chi.Router) {
		r.Post("/messages", s.enqueue)
		r.Post("/lease", s.lease)
		r.Post("/leases/{ack}/renew", s.renew)
		r.Post("/leases/{ack}/ack", s.ack)
		r.Delete("/done", s.purge)
		r.Get("/stats", s.stats)
	})

	// Debug routes (pprof)
	if enableDebug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	}

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type enqueueReq struct {
	Payload      json.RawMessage   `json:"payload"`
	Payloads     []json.RawMessage `json:"payloads"`
	DelaySeconds *float64          `json:"delay_seconds"`
}

type enqueueResp struct {
	ID  string   `json:"id,omitempty"`
	IDs []string `json:"ids,omitempty"`
}

type visibilityReq struct {
	VisibilitySeconds *float64 `json:"visibility_seconds"`
}

type idResp struct {
	ID string `json:"id"`
}

type purgeResp struct {
	Removed int64 `json:"removed"`
}

func (s *Server) queue(w http.ResponseWriter, r *http.Request) (*queue.Queue, bool) {
	q, err := s.queues.Get(r.Context(), chi.URLParam(r, "queue"))
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return q, true
}

func (s *Server) enqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	q, ok := s.queue(w, r)
	if !ok {
		return
	}
	var opts []queue.CallOption
	if req.DelaySeconds != nil {
		opts = append(opts, queue.WithDelay(seconds(*req.DelaySeconds)))
	}

	switch {
	case req.Payloads != nil:
		payloads := make([]any, len(req.Payloads))
		for i, p := range req.Payloads {
			payloads[i] = p
		}
		ids, err := q.EnqueueBatch(r.Context(), payloads, opts...)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, enqueueResp{IDs: ids})
	case req.Payload != nil:
		id, err := q.Enqueue(r.Context(), req.Payload, opts...)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, enqueueResp{ID: id})
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "payload or payloads is required"})
	}
}

func (s *Server) lease(w http.ResponseWriter, r *http.Request) {
	opts, ok := visibilityOpts(w, r)
	if !ok {
		return
	}
	q, ok := s.queue(w, r)
	if !ok {
		return
	}
	d, found, err := q.Lease(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	if !found {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) renew(w http.ResponseWriter, r *http.Request) {
	opts, ok := visibilityOpts(w, r)
	if !ok {
		return
	}
	q, ok := s.queue(w, r)
	if !ok {
		return
	}
	id, err := q.Renew(r.Context(), chi.URLParam(r, "ack"), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, idResp{ID: id})
}

func (s *Server) ack(w http.ResponseWriter, r *http.Request) {
	q, ok := s.queue(w, r)
	if !ok {
		return
	}
	id, err := q.Ack(r.Context(), chi.URLParam(r, "ack"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, idResp{ID: id})
}

func (s *Server) purge(w http.ResponseWriter, r *http.Request) {
	q, ok := s.queue(w, r)
	if !ok {
		return
	}
	n, err := q.Purge(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, purgeResp{Removed: n})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	q, ok := s.queue(w, r)
	if !ok {
		return
	}
	st, err := q.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// visibilityOpts reads an optional {"visibility_seconds": n} body.
func visibilityOpts(w http.ResponseWriter, r *http.Request) ([]queue.CallOption, bool) {
	var req visibilityReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, err.Error(), 400)
		return nil, false
	}
	if req.VisibilitySeconds == nil {
		return nil, true
	}
	return []queue.CallOption{queue.WithVisibility(seconds(*req.VisibilitySeconds))}, true
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	// A dead-letter failure can also wrap ErrUnknownLease from the ack step.
	case errors.Is(err, queue.ErrDeadLetter):
		log.Error().Err(err).Msg("dead-letter forwarding failed")
	case errors.Is(err, queue.ErrInvalidArgument):
		code = http.StatusBadRequest
	case errors.Is(err, queue.ErrUnknownLease):
		code = http.StatusConflict
	default:
		log.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
