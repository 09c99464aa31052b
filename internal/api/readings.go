package api

import (
	"bytes"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/septivank/water-billing/internal/db"
	"github.com/septivank/water-billing/internal/service"
	"github.com/septivank/water-billing/internal/validator"
)

type readingRequest struct {
	MonthKey        string   `json:"month_key"`
	PreviousReading *float64 `json:"previous_reading"`
	CurrentReading  *float64 `json:"current_reading"`
	MeterImage      *string  `json:"meter_image"`
}

type readingResponse struct {
	Reading *db.MeterReading `json:"reading,omitempty"`
	Outcome service.Outcome  `json:"outcome"`
}

func (s *Server) setupReadingRoutes(router *mux.Router) {
	router.HandleFunc("/readings/{id}", s.getReading).Methods(http.MethodGet)
	router.HandleFunc("/readings/{id}", s.updateReading).Methods(http.MethodPut)
	router.HandleFunc("/readings/{id}", s.deleteReading).Methods(http.MethodDelete)
	router.HandleFunc("/readings/{id}/invoice", s.readingInvoice).Methods(http.MethodGet)
}

func (s *Server) recordReading(w http.ResponseWriter, r *http.Request) {
	houseID, err := pathID(r, "id")
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	var req readingRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.respondWithError(w, r, err)
		return
	}
	result, err := s.billing.RecordReading(r.Context(), houseID, validator.ReadingInput{
		MonthKey:        req.MonthKey,
		PreviousReading: req.PreviousReading,
		CurrentReading:  req.CurrentReading,
		MeterImage:      req.MeterImage,
	})
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	writeResult(w, http.StatusCreated, result.Outcome.Queued, result)
}

func (s *Server) getReading(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	reading, err := s.billing.GetReading(r.Context(), id)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, reading)
}

func (s *Server) updateReading(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	var req readingRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.respondWithError(w, r, err)
		return
	}
	reading, outcome, err := s.billing.UpdateReading(r.Context(), id, service.ReadingChange{
		ID:              id,
		MonthKey:        req.MonthKey,
		PreviousReading: req.PreviousReading,
		CurrentReading:  req.CurrentReading,
		MeterImage:      req.MeterImage,
	})
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, outcome.Queued, readingResponse{Reading: reading, Outcome: outcome})
}

func (s *Server) deleteReading(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	outcome, err := s.billing.DeleteReading(r.Context(), id)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, outcome.Queued, readingResponse{Outcome: outcome})
}

// readingInvoice renders the printable invoice of one reading
func (s *Server) readingInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	reading, err := s.billing.GetReading(r.Context(), id)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	house, err := s.billing.GetHouse(r.Context(), reading.HouseID)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := s.invoices.Render(&buf, *house, *reading); err != nil {
		s.respondWithError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
