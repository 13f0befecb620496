package source

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gamepulse/gamepulse/internal/models"
)

// MarketAdapter fetches prediction-market prices. Successful fetches
// also yield SecondaryReadings for cross-source correlation.
type MarketAdapter struct {
	baseURL    string
	httpClient *http.Client
	throttle   *Throttle
	workers    int
}

// NewMarket creates a market adapter.
func NewMarket(cfg Config) *MarketAdapter {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	return &MarketAdapter{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		throttle:   NewThrottle(cfg.MinInterval),
		workers:    workers,
	}
}

// Kind returns the entity kind this adapter serves.
func (a *MarketAdapter) Kind() models.Kind { return models.KindMarket }

// marketDoc is the upstream wire format for one market.
type marketDoc struct {
	ID        string  `json:"id"`
	Status    string  `json:"status"`
	Price     float64 `json:"price"`
	Volume    float64 `json:"volume"`
	UpdatedAt int64   `json:"updated_at"`
}

// Fetch retrieves current prices for the given markets with bounded
// concurrency.
func (a *MarketAdapter) Fetch(ctx context.Context, entityIDs []string) []FetchResult {
	if !a.throttle.Allow(time.Now()) {
		return rateLimitedAll(entityIDs, "market min interval not elapsed")
	}

	results := make([]FetchResult, len(entityIDs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i, id := range entityIDs {
		g.Go(func() error {
			results[i] = a.fetchOne(ctx, id)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (a *MarketAdapter) fetchOne(ctx context.Context, entityID string) FetchResult {
	var doc marketDoc
	if failure := getJSON(ctx, a.httpClient, fmt.Sprintf("%s/markets/%s", a.baseURL, entityID), &doc); failure != nil {
		return FetchResult{EntityID: entityID, Failure: failure}
	}
	observed := time.Now()
	if doc.UpdatedAt > 0 {
		observed = time.Unix(doc.UpdatedAt, 0)
	}
	return FetchResult{
		EntityID: entityID,
		Fields: models.Fields{
			"status": models.String(doc.Status),
			"price":  models.Number(doc.Price),
			"volume": models.Number(doc.Volume),
		},
		ObservedAt: observed,
		Readings: []models.SecondaryReading{{
			MarketID:   entityID,
			Price:      doc.Price,
			Volume:     doc.Volume,
			ObservedAt: observed,
		}},
	}
}
