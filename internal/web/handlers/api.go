package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/bdgd-cnpj/internal/clients"
	"github.com/bdgd-cnpj/internal/geocode"
)

// Config holds the request limits of the handlers
type Config struct {
	MaxLookup int
	MaxRefine int
}

// ErrorResponse is the body of every error
type ErrorResponse struct {
	Error string `json:"error"`
}

// CodIDsRequest is the body of the batch match endpoints
type CodIDsRequest struct {
	CodIDs []string `json:"cod_ids" validate:"required,min=1,dive,required,max=64"`
}

// CNPJsRequest is the body of the batch registry endpoint
type CNPJsRequest struct {
	CNPJs []string `json:"cnpjs" validate:"required,min=1,dive,required,max=18"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeInternal logs err and answers 500 without leaking it
func writeInternal(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	log.Printf("%s %s: %v", r.Method, r.URL.Path, err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

// decodeBody reads a JSON body into dst and validates it
func decodeBody(w http.ResponseWriter, r *http.Request, validate *validator.Validate, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := validate.Struct(dst); err != nil {
		return validationMessage(err)
	}
	return nil
}

func validationMessage(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed on %s", fe.Namespace(), fe.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func parseIntParam(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil && v > 0 {
		return v
	}
	return def
}

// GeoStatsSource reports client geocoding coverage
type GeoStatsSource interface {
	GeoStats(ctx context.Context) (clients.GeoStats, error)
}

// GeocodeStatsSource reports the geocode cache
type GeocodeStatsSource interface {
	Stats(ctx context.Context) (geocode.Stats, error)
}

// APIHandler serves health and geocoding statistics
type APIHandler struct {
	Clients GeoStatsSource
	Geocode GeocodeStatsSource
	Ping    func(ctx context.Context) error
}

// GeocodeStatsResponse combines client coverage with the cache counts
type GeocodeStatsResponse struct {
	Clients clients.GeoStats `json:"clientes"`
	Cache   geocode.Stats    `json:"cache"`
}

// Health answers 200 when the database answers
func (h *APIHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.Ping != nil {
		if err := h.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetGeocodeStats returns geocoding coverage and cache statistics
func (h *APIHandler) GetGeocodeStats(w http.ResponseWriter, r *http.Request) {
	var resp GeocodeStatsResponse
	var err error

	if resp.Clients, err = h.Clients.GeoStats(r.Context()); err != nil {
		writeInternal(w, r, err)
		return
	}
	if resp.Cache, err = h.Geocode.Stats(r.Context()); err != nil {
		writeInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
