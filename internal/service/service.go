// Package service is the boundary the HTTP layer talks to. It pulls the
// dataset from the cache, runs the query engines over it and classifies
// failures into a small error taxonomy.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/mohammed-shakir/brewery-cache/internal/cache/dataset"
	"github.com/mohammed-shakir/brewery-cache/internal/core/model"
	"github.com/mohammed-shakir/brewery-cache/internal/core/observability"
	"github.com/mohammed-shakir/brewery-cache/internal/logger"
	"github.com/mohammed-shakir/brewery-cache/internal/query"
)

var (
	ErrInvalidParameter    = errors.New("invalid parameter")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrCancelled           = errors.New("request cancelled")
	ErrInternal            = errors.New("internal error")
)

// Dataset is the read side of the dataset cache.
type Dataset interface {
	GetOrFetch(ctx context.Context) ([]model.BreweryRecord, dataset.Outcome, error)
}

type ListRequest struct {
	Search   string
	Sort     string
	Dir      string
	Lat      *float64
	Lon      *float64
	Page     int
	PageSize int
}

func (r ListRequest) params() query.Params {
	return query.Params{
		Search:   r.Search,
		Sort:     query.ParseSort(r.Sort),
		Dir:      query.ParseDirection(r.Dir),
		Lat:      r.Lat,
		Lon:      r.Lon,
		Page:     r.Page,
		PageSize: r.PageSize,
	}
}

type Service struct {
	data   Dataset
	logger *slog.Logger
}

func New(data Dataset, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{data: data, logger: logger}
}

func (s *Service) ListBreweries(ctx context.Context, req ListRequest) ([]model.BreweryRecord, error) {
	p := req.params()
	// reject bad input before touching the cache
	if err := p.Validate(); err != nil {
		observability.IncQuery("list", "invalid")
		return nil, invalid(err)
	}

	recs, ctx, err := s.dataset(ctx, "list")
	if err != nil {
		return nil, err
	}

	out, err := query.Run(recs, p)
	if err != nil {
		observability.IncQuery("list", "invalid")
		return nil, invalid(err)
	}
	observability.IncQuery("list", "ok")
	s.logger.DebugContext(ctx, "breweries listed",
		"sort", string(p.Sort), "dir", string(p.Dir),
		"page", p.Page, "page_size", p.PageSize,
		"returned", len(out))
	return out, nil
}

func (s *Service) Autocomplete(ctx context.Context, prefix string, limit int) ([]string, error) {
	if strings.TrimSpace(prefix) == "" {
		observability.IncQuery("autocomplete", "ok")
		return []string{}, nil
	}

	recs, _, err := s.dataset(ctx, "autocomplete")
	if err != nil {
		return nil, err
	}
	observability.IncQuery("autocomplete", "ok")
	return query.Autocomplete(recs, prefix, limit), nil
}

// dataset loads the records and returns ctx tagged with the cache outcome.
func (s *Service) dataset(ctx context.Context, op string) ([]model.BreweryRecord, context.Context, error) {
	recs, outcome, err := s.data.GetOrFetch(ctx)
	if err != nil {
		err = s.classify(ctx, err)
		observability.IncQuery(op, resultOf(err))
		return nil, ctx, err
	}
	return recs, logger.WithCacheOutcome(ctx, string(outcome)), nil
}

func (s *Service) classify(ctx context.Context, err error) error {
	switch {
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	case errors.Is(err, dataset.ErrUpstream):
		return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	default:
		return fmt.Errorf("%w: %w", ErrInternal, err)
	}
}

func invalid(err error) error {
	msg := strings.TrimPrefix(err.Error(), query.ErrInvalid.Error()+": ")
	return fmt.Errorf("%w: %s", ErrInvalidParameter, msg)
}

// Message returns the client-facing text of an invalid-parameter error.
func Message(err error) string {
	return strings.TrimPrefix(err.Error(), ErrInvalidParameter.Error()+": ")
}

func resultOf(err error) string {
	switch {
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "upstream_error"
	default:
		return "error"
	}
}
