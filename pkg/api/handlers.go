package api

import (
	"encoding/json"
	"net/http"

	"github.com/ethpandaops/resultoor/pkg/outcome"
	"github.com/ethpandaops/resultoor/pkg/store"
	"github.com/go-chi/chi/v5"
)

type errorResponse struct {
	Error string `json:"error"`
}

type outcomesResponse struct {
	Variant  string         `json:"variant"`
	KeyMode  string         `json:"key_mode"`
	Total    int            `json:"total"`
	Outcomes []store.Record `json:"outcomes"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleListVariants(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.store.ListVariants(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to list variants")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"internal error"})

		return
	}

	if summaries == nil {
		summaries = []store.VariantSummary{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"variants": summaries})
}

// variantParam parses the {variant} URL parameter, writing a 400 when it is
// not a known variant.
func variantParam(w http.ResponseWriter, r *http.Request) (outcome.Variant, bool) {
	variant := outcome.Variant(chi.URLParam(r, "variant"))
	if !variant.IsValid() {
		writeJSON(w, http.StatusBadRequest, errorResponse{"unknown variant"})

		return "", false
	}

	return variant, true
}

func (s *server) handleListOutcomes(w http.ResponseWriter, r *http.Request) {
	variant, ok := variantParam(w, r)
	if !ok {
		return
	}

	records, err := s.store.QueryAll(r.Context(), variant)
	if err != nil {
		s.log.WithError(err).WithField("variant", variant).Error("Failed to query outcomes")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, newOutcomesResponse(variant, records))
}

func (s *server) handleGetOutcome(w http.ResponseWriter, r *http.Request) {
	variant, ok := variantParam(w, r)
	if !ok {
		return
	}

	records, err := s.store.GetByName(r.Context(), variant, chi.URLParam(r, "name"))
	if err != nil {
		s.log.WithError(err).WithField("variant", variant).Error("Failed to get outcome")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"internal error"})

		return
	}

	if len(records) == 0 {
		writeJSON(w, http.StatusNotFound, errorResponse{"no outcomes for test"})

		return
	}

	writeJSON(w, http.StatusOK, newOutcomesResponse(variant, records))
}

func newOutcomesResponse(variant outcome.Variant, records []store.Record) outcomesResponse {
	if records == nil {
		records = []store.Record{}
	}

	return outcomesResponse{
		Variant:  string(variant),
		KeyMode:  variant.KeyMode().String(),
		Total:    len(records),
		Outcomes: records,
	}
}
