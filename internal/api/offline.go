package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/septivank/water-billing/internal/offline"
)

type entriesResponse struct {
	Stats   offline.Stats   `json:"stats"`
	Entries []offline.Entry `json:"entries"`
}

func (s *Server) setupOfflineRoutes(router *mux.Router) {
	router.HandleFunc("/offline/entries", s.listPending).Methods(http.MethodGet)
	router.HandleFunc("/offline/dead", s.listDead).Methods(http.MethodGet)
	router.HandleFunc("/offline/flush", s.flush).Methods(http.MethodPost)
	router.HandleFunc("/offline/entries/{id}/requeue", s.requeue).Methods(http.MethodPost)
}

func (s *Server) listPending(w http.ResponseWriter, r *http.Request) {
	s.listEntries(w, r, s.queue.ListUnsynced)
}

func (s *Server) listDead(w http.ResponseWriter, r *http.Request) {
	s.listEntries(w, r, s.queue.ListDead)
}

func (s *Server) listEntries(w http.ResponseWriter, r *http.Request, list func(ctx context.Context) ([]offline.Entry, error)) {
	entries, err := list(r.Context())
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	stats, err := s.queue.Stats(r.Context())
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	if entries == nil {
		entries = []offline.Entry{}
	}
	respondWithJSON(w, http.StatusOK, entriesResponse{Stats: stats, Entries: entries})
}

func (s *Server) flush(w http.ResponseWriter, r *http.Request) {
	report, err := s.flusher.Flush(r.Context())
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, report)
}

func (s *Server) requeue(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	if err := s.queue.Requeue(r.Context(), id); err != nil {
		s.respondWithError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
