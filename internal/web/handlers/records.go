package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/bdgd-cnpj/internal/cache"
	"github.com/bdgd-cnpj/internal/match"
	"github.com/bdgd-cnpj/internal/refine"
)

// MatchQuerier reads the match table
type MatchQuerier interface {
	AllMatches(ctx context.Context, codID string) ([]match.Result, error)
	BatchBest(ctx context.Context, codIDs []string) (map[string]match.Result, error)
	Stats(ctx context.Context) (match.Stats, error)
	List(ctx context.Context, f match.ListFilter) (match.ListResult, error)
}

// Refiner geocodes and re-matches a set of clients
type Refiner interface {
	Refine(ctx context.Context, localDebug bool, codIDs []string) (refine.Report, error)
}

// MatchesHandler serves the match endpoints
type MatchesHandler struct {
	Matches  MatchQuerier
	Refiner  Refiner
	Stats    *cache.Memo[string, match.Stats]
	Validate *validator.Validate
	Config   *Config
}

// MatchesResponse is every ranked match of one client
type MatchesResponse struct {
	CodID   string         `json:"cod_id"`
	Matches []match.Result `json:"matches"`
}

const statsKey = "matches"

// ListMatches pages clients with a rank-1 match
func (h *MatchesHandler) ListMatches(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := match.ListFilter{
		Search:     query.Get("search"),
		UF:         query.Get("uf"),
		Confidence: strings.ToLower(query.Get("confianca")),
		Page:       parseIntParam(query.Get("page"), 1),
		PerPage:    parseIntParam(query.Get("per_page"), 50),
	}
	if raw := query.Get("min_score"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 || v > 100 {
			writeError(w, http.StatusBadRequest, "min_score must be a number between 0 and 100")
			return
		}
		filter.MinScore = &v
	}
	switch filter.Confidence {
	case "", match.ConfidenceHigh, match.ConfidenceMedium, match.ConfidenceLow:
	default:
		writeError(w, http.StatusBadRequest, "confianca must be alta, media or baixa")
		return
	}

	result, err := h.Matches.List(r.Context(), filter)
	if err != nil {
		writeInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetMatches returns every ranked match of one client
func (h *MatchesHandler) GetMatches(w http.ResponseWriter, r *http.Request) {
	codID := mux.Vars(r)["cod_id"]

	matches, err := h.Matches.AllMatches(r.Context(), codID)
	if err != nil {
		writeInternal(w, r, err)
		return
	}
	if len(matches) == 0 {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no matches for client %s", codID))
		return
	}
	writeJSON(w, http.StatusOK, MatchesResponse{CodID: codID, Matches: matches})
}

// BatchLookup returns the rank-1 match of every known client of the request
func (h *MatchesHandler) BatchLookup(w http.ResponseWriter, r *http.Request) {
	var req CodIDsRequest
	if err := decodeBody(w, r, h.Validate, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.CodIDs) > h.Config.MaxLookup {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d cod_ids per request", h.Config.MaxLookup))
		return
	}

	best, err := h.Matches.BatchBest(r.Context(), req.CodIDs)
	if err != nil {
		writeInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, best)
}

// Refine geocodes and re-matches the clients of the request
func (h *MatchesHandler) Refine(w http.ResponseWriter, r *http.Request) {
	var req CodIDsRequest
	if err := decodeBody(w, r, h.Validate, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.CodIDs) > h.Config.MaxRefine {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d cod_ids per request", h.Config.MaxRefine))
		return
	}

	report, err := h.Refiner.Refine(r.Context(), false, req.CodIDs)
	if err != nil {
		writeInternal(w, r, err)
		return
	}
	if report.Refined > 0 {
		h.Stats.Invalidate(statsKey)
	}
	writeJSON(w, http.StatusOK, report)
}

// GetStats returns the match table summary, memoized for the configured TTL
func (h *MatchesHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Stats.GetOrLoad(r.Context(), statsKey, h.Matches.Stats)
	if err != nil {
		writeInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
