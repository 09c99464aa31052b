package api

import "net/http"

// importSamples seeds the database with generated or static sample houses
func (s *Server) importSamples(w http.ResponseWriter, r *http.Request) {
	houses, source := s.samples.Generate(r.Context())
	report, err := s.billing.ImportSamples(r.Context(), houses, source)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, report)
}
