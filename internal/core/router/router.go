package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/brewery-cache/internal/core/model"
	"github.com/mohammed-shakir/brewery-cache/internal/core/observability"
	mylog "github.com/mohammed-shakir/brewery-cache/internal/logger"
	"github.com/mohammed-shakir/brewery-cache/internal/query"
	"github.com/mohammed-shakir/brewery-cache/internal/service"
)

const (
	APIVersion = "1.0"

	routeList         = "/api/v1/breweries/list"
	routeAutocomplete = "/api/v1/breweries/autocomplete"

	// nginx convention for a client that went away before the response
	StatusClientClosedRequest = 499
)

// BreweryService answers the brewery read endpoints.
type BreweryService interface {
	ListBreweries(ctx context.Context, req service.ListRequest) ([]model.BreweryRecord, error)
	Autocomplete(ctx context.Context, prefix string, limit int) ([]string, error)
}

type message struct {
	Message string `json:"message"`
}

// Mount registers the brewery routes on r.
func Mount(r chi.Router, logger *slog.Logger, svc BreweryService) {
	r.Route("/api/v1/breweries", func(r chi.Router) {
		r.Use(apiVersion)
		r.Get("/list", HandleList(logger, svc))
		r.Get("/autocomplete", HandleAutocomplete(logger, svc))
	})
}

func apiVersion(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("api-supported-versions", APIVersion)
		next.ServeHTTP(w, r)
	})
}

func HandleList(logger *slog.Logger, svc BreweryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := mylog.WithRoute(r.Context(), routeList)
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		defer func() {
			observability.ObserveHTTP(r.Method, routeList, sw.code, time.Since(start).Seconds())
		}()

		req, err := ParseListRequest(r)
		if err != nil {
			logger.WarnContext(ctx, "bad list request", "err", err)
			writeJSON(sw, http.StatusBadRequest, message{Message: err.Error()})
			return
		}

		recs, err := svc.ListBreweries(ctx, req)
		if err != nil {
			writeError(ctx, sw, logger, err)
			return
		}
		writeJSON(sw, http.StatusOK, recs)
	}
}

func HandleAutocomplete(logger *slog.Logger, svc BreweryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := mylog.WithRoute(r.Context(), routeAutocomplete)
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		defer func() {
			observability.ObserveHTTP(r.Method, routeAutocomplete, sw.code, time.Since(start).Seconds())
		}()

		q := r.URL.Query()
		limit, err := intParam(q.Get("limit"), "limit", query.DefaultAutocompleteLimit)
		if err != nil {
			logger.WarnContext(ctx, "bad autocomplete request", "err", err)
			writeJSON(sw, http.StatusBadRequest, message{Message: err.Error()})
			return
		}

		names, err := svc.Autocomplete(ctx, q.Get("prefix"), limit)
		if err != nil {
			writeError(ctx, sw, logger, err)
			return
		}
		writeJSON(sw, http.StatusOK, names)
	}
}

// ParseListRequest reads the list query string. Only malformed numbers fail
// here; range checks belong to the service.
func ParseListRequest(r *http.Request) (service.ListRequest, error) {
	q := r.URL.Query()

	page, err := intParam(q.Get("page"), "page", query.DefaultPage)
	if err != nil {
		return service.ListRequest{}, err
	}
	size, err := intParam(q.Get("pageSize"), "pageSize", query.DefaultPageSize)
	if err != nil {
		return service.ListRequest{}, err
	}
	lat, err := floatParam(q.Get("lat"), "lat")
	if err != nil {
		return service.ListRequest{}, err
	}
	lon, err := floatParam(q.Get("lon"), "lon")
	if err != nil {
		return service.ListRequest{}, err
	}

	return service.ListRequest{
		Search:   q.Get("q"),
		Sort:     q.Get("sort"),
		Dir:      q.Get("dir"),
		Lat:      lat,
		Lon:      lon,
		Page:     page,
		PageSize: size,
	}, nil
}

func intParam(raw, name string, def int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return v, nil
}

func floatParam(raw, name string) (*float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("%s must be a number", name)
	}
	return &v, nil
}

func writeError(ctx context.Context, w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidParameter):
		logger.WarnContext(ctx, "invalid request parameter", "err", err)
		writeJSON(w, http.StatusBadRequest, message{Message: service.Message(err)})
	case errors.Is(err, service.ErrCancelled):
		logger.DebugContext(ctx, "client cancelled request")
		writeJSON(w, StatusClientClosedRequest, message{Message: "Client cancelled request"})
	case errors.Is(err, service.ErrUpstreamUnavailable):
		logger.ErrorContext(ctx, "upstream error", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, message{Message: "Upstream service error"})
	default:
		logger.ErrorContext(ctx, "unhandled error", "err", err)
		writeJSON(w, http.StatusInternalServerError, message{Message: "Internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
