package bike

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"
)

var (
	ErrNotFound = errors.New("bike not found")
	ErrInvalid  = errors.New("invalid bike")
)

var bikesNormalized = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "bike_records_normalized_total",
	Help: "Upstream bike records normalized before being served",
})

// Collectors returns the metrics owned by this package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{bikesNormalized}
}

// listTimeout bounds a shared listing call, which outlives any single caller's context.
const listTimeout = 15 * time.Second

// Source returns raw bike records from the marketplace API.
type Source interface {
	ListBikes(ctx context.Context) ([]map[string]any, error)
	GetBike(ctx context.Context, id string) (map[string]any, error)
	MyBikes(ctx context.Context, token string) ([]map[string]any, error)
	CreateBike(ctx context.Context, token string, in NewBike) (map[string]any, error)
	DeleteBike(ctx context.Context, token, id string) error
}

// Service serves normalized bikes.
type Service struct {
	src    Source
	logger *slog.Logger

	// collapses concurrent listing requests into one upstream call
	list singleflight.Group
}

func NewService(src Source, logger *slog.Logger) *Service {
	return &Service{src: src, logger: logger}
}

func (s *Service) List(ctx context.Context) ([]Canonical, error) {
	ch := s.list.DoChan("all", func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), listTimeout)
		defer cancel()
		return s.src.ListBikes(callCtx)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("list bikes: %w", ctx.Err())
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, fmt.Errorf("list bikes: %w", res.Err)
	}
	raws := res.Val.([]map[string]any)
	if res.Shared {
		s.logger.DebugContext(ctx, "bike listing shared with concurrent request", "count", len(raws))
	}
	return s.normalize(raws), nil
}

func (s *Service) Get(ctx context.Context, id string) (Canonical, error) {
	if strings.TrimSpace(id) == "" {
		return Canonical{}, ErrNotFound
	}
	raw, err := s.src.GetBike(ctx, id)
	if err != nil {
		return Canonical{}, fmt.Errorf("get bike %s: %w", id, err)
	}
	bikesNormalized.Inc()
	return Normalize(raw), nil
}

// Mine lists the bikes owned by the holder of token.
func (s *Service) Mine(ctx context.Context, token string) ([]Canonical, error) {
	raws, err := s.src.MyBikes(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("list own bikes: %w", err)
	}
	return s.normalize(raws), nil
}

func (s *Service) Create(ctx context.Context, token string, in NewBike) (Canonical, error) {
	if err := validate(in); err != nil {
		return Canonical{}, err
	}
	raw, err := s.src.CreateBike(ctx, token, in)
	if err != nil {
		return Canonical{}, fmt.Errorf("create bike: %w", err)
	}
	c := Normalize(raw)
	bikesNormalized.Inc()
	s.logger.InfoContext(ctx, "bike listed", "bike_id", FormatID(c.ID), "type", string(in.Type))
	return c, nil
}

func (s *Service) Delete(ctx context.Context, token, id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrNotFound
	}
	if err := s.src.DeleteBike(ctx, token, id); err != nil {
		return fmt.Errorf("delete bike %s: %w", id, err)
	}
	s.logger.InfoContext(ctx, "bike deleted", "bike_id", id)
	return nil
}

func (s *Service) normalize(raws []map[string]any) []Canonical {
	out := NormalizeAll(raws)
	bikesNormalized.Add(float64(len(out)))
	return out
}

// validate only checks presence; pricing and the like are the marketplace's call.
func validate(in NewBike) error {
	switch {
	case strings.TrimSpace(in.Title) == "":
		return fmt.Errorf("%w: title is required", ErrInvalid)
	case strings.TrimSpace(in.PricePerDay) == "":
		return fmt.Errorf("%w: price per day is required", ErrInvalid)
	case strings.TrimSpace(in.Location) == "":
		return fmt.Errorf("%w: location is required", ErrInvalid)
	case !in.Type.Valid():
		return fmt.Errorf("%w: unknown bike type %q", ErrInvalid, in.Type)
	}
	return nil
}
