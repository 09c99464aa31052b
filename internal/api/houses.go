package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/septivank/water-billing/internal/db"
	"github.com/septivank/water-billing/internal/service"
	"github.com/septivank/water-billing/internal/validator"
)

const staleHeader = "X-Data-Stale"

type houseRequest struct {
	HouseNumber string `json:"house_number"`
	OwnerName   string `json:"owner_name"`
}

func (req houseRequest) input() validator.HouseInput {
	return validator.HouseInput{HouseNumber: req.HouseNumber, OwnerName: req.OwnerName}
}

func (s *Server) setupHouseRoutes(router *mux.Router) {
	router.HandleFunc("/houses", s.listHouses).Methods(http.MethodGet)
	router.HandleFunc("/houses", s.createHouse).Methods(http.MethodPost)
	router.HandleFunc("/houses/{id}", s.getHouse).Methods(http.MethodGet)
	router.HandleFunc("/houses/{id}", s.updateHouse).Methods(http.MethodPut)
	router.HandleFunc("/houses/{id}", s.deleteHouse).Methods(http.MethodDelete)
	router.HandleFunc("/houses/{id}/readings", s.recordReading).Methods(http.MethodPost)
}

func (s *Server) listHouses(w http.ResponseWriter, r *http.Request) {
	houses, stale, err := s.billing.SearchHouses(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	if stale {
		w.Header().Set(staleHeader, "true")
	}
	respondWithJSON(w, http.StatusOK, houses)
}

func (s *Server) getHouse(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	house, err := s.billing.GetHouse(r.Context(), id)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, house)
}

type houseResponse struct {
	House   *db.House       `json:"house,omitempty"`
	Outcome service.Outcome `json:"outcome"`
}

func (s *Server) createHouse(w http.ResponseWriter, r *http.Request) {
	var req houseRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.respondWithError(w, r, err)
		return
	}
	house, outcome, err := s.billing.CreateHouse(r.Context(), req.input())
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	writeResult(w, http.StatusCreated, outcome.Queued, houseResponse{House: house, Outcome: outcome})
}

func (s *Server) updateHouse(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	var req houseRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.respondWithError(w, r, err)
		return
	}
	house, outcome, err := s.billing.UpdateHouse(r.Context(), id, req.input())
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, outcome.Queued, houseResponse{House: house, Outcome: outcome})
}

func (s *Server) deleteHouse(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	outcome, err := s.billing.DeleteHouse(r.Context(), id)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, outcome.Queued, houseResponse{Outcome: outcome})
}
