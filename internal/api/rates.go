package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/septivank/water-billing/internal/db"
	"github.com/septivank/water-billing/internal/service"
)

type rateRequest struct {
	RatePerUnit float64 `json:"rate_per_unit"`
}

type rateResponse struct {
	Rate    *db.WaterUnitRate `json:"rate,omitempty"`
	Outcome service.Outcome   `json:"outcome"`
}

func (s *Server) setupRateRoutes(router *mux.Router) {
	router.HandleFunc("/rates/active", s.activeRate).Methods(http.MethodGet)
	router.HandleFunc("/rates/history", s.rateHistory).Methods(http.MethodGet)
	router.HandleFunc("/rates", s.setRate).Methods(http.MethodPost)
}

func (s *Server) activeRate(w http.ResponseWriter, r *http.Request) {
	active, err := s.billing.ActiveRate(r.Context())
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, active)
}

func (s *Server) rateHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.billing.RateHistory(r.Context())
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, history)
}

func (s *Server) setRate(w http.ResponseWriter, r *http.Request) {
	var req rateRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.respondWithError(w, r, err)
		return
	}
	active, outcome, err := s.billing.SetRate(r.Context(), req.RatePerUnit)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	writeResult(w, http.StatusCreated, outcome.Queued, rateResponse{Rate: active, Outcome: outcome})
}
