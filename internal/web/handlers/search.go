package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/bdgd-cnpj/internal/cache"
	"github.com/bdgd-cnpj/internal/normalize"
	"github.com/bdgd-cnpj/internal/registry"
)

// RegistryQuerier reads the company registry
type RegistryQuerier interface {
	Get(ctx context.Context, cnpj string) (*registry.Company, error)
	BatchGet(ctx context.Context, cnpjs []string) (registry.BatchResult, error)
	Search(ctx context.Context, f registry.Filter) (registry.SearchResult, error)
	Stats(ctx context.Context) (registry.Stats, error)
}

// SearchHandler serves the registry endpoints
type SearchHandler struct {
	Registry RegistryQuerier
	Stats    *cache.Memo[string, registry.Stats]
	Validate *validator.Validate
}

// GetCompany returns one establishment by CNPJ, formatted or not
func (h *SearchHandler) GetCompany(w http.ResponseWriter, r *http.Request) {
	cnpj := normalize.CleanCNPJ(mux.Vars(r)["cnpj"])
	if len(cnpj) != normalize.CNPJLength {
		writeError(w, http.StatusBadRequest, "cnpj must have 14 digits")
		return
	}

	company, err := h.Registry.Get(r.Context(), cnpj)
	if errors.Is(err, registry.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("cnpj %s not found", cnpj))
		return
	}
	if err != nil {
		writeInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, company)
}

// SearchCompanies searches the registry by name or CNPJ prefix
func (h *SearchHandler) SearchCompanies(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := registry.Filter{
		Term:      strings.TrimSpace(query.Get("q")),
		UF:        strings.ToUpper(query.Get("uf")),
		Municipio: query.Get("municipio"),
		Situacao:  strings.ToUpper(query.Get("situacao")),
		Page:      parseIntParam(query.Get("page"), 1),
		PerPage:   parseIntParam(query.Get("limit"), 20),
	}
	if filter.PerPage > 100 {
		filter.PerPage = 100
	}
	if filter.UF != "" && len(filter.UF) != 2 {
		writeError(w, http.StatusBadRequest, "uf must have 2 letters")
		return
	}

	result, err := h.Registry.Search(r.Context(), filter)
	if err != nil {
		writeInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// BatchGet returns the establishments of up to registry.MaxBatch CNPJs
func (h *SearchHandler) BatchGet(w http.ResponseWriter, r *http.Request) {
	var req CNPJsRequest
	if err := decodeBody(w, r, h.Validate, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.Registry.BatchGet(r.Context(), req.CNPJs)
	if errors.Is(err, registry.ErrBatchTooLarge) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d cnpjs per request", registry.MaxBatch))
		return
	}
	if err != nil {
		writeInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetStats returns the registry summary, memoized
func (h *SearchHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Stats.GetOrLoad(r.Context(), "registry", h.Registry.Stats)
	if err != nil {
		writeInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
