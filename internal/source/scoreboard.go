package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gamepulse/gamepulse/internal/models"
)

// Config holds settings for one HTTP adapter.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	MinInterval time.Duration
	Workers     int
}

// ScoreboardAdapter fetches live game state from a scores provider.
type ScoreboardAdapter struct {
	baseURL    string
	httpClient *http.Client
	throttle   *Throttle
	workers    int
}

// NewScoreboard creates a scoreboard adapter.
func NewScoreboard(cfg Config) *ScoreboardAdapter {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	return &ScoreboardAdapter{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		throttle:   NewThrottle(cfg.MinInterval),
		workers:    workers,
	}
}

// Kind returns the entity kind this adapter serves.
func (a *ScoreboardAdapter) Kind() models.Kind { return models.KindGame }

// gameDoc is the upstream wire format for one game.
type gameDoc struct {
	ID        string  `json:"id"`
	Status    string  `json:"status"`
	HomeScore float64 `json:"home_score"`
	AwayScore float64 `json:"away_score"`
	Period    float64 `json:"period"`
	Clock     string  `json:"clock"`
	UpdatedAt int64   `json:"updated_at"`
}

// Fetch retrieves the current state of the given games with bounded
// concurrency. Per-entity failures are typed in the results; Fetch
// itself never fails.
func (a *ScoreboardAdapter) Fetch(ctx context.Context, entityIDs []string) []FetchResult {
	if !a.throttle.Allow(time.Now()) {
		return rateLimitedAll(entityIDs, "scoreboard min interval not elapsed")
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

func (a *ScoreboardAdapter) fetchOne(ctx context.Context, entityID string) FetchResult {
	var doc gameDoc
	if failure := getJSON(ctx, a.httpClient, fmt.Sprintf("%s/games/%s", a.baseURL, entityID), &doc); failure != nil {
		return FetchResult{EntityID: entityID, Failure: failure}
	}
	observed := time.Now()
	if doc.UpdatedAt > 0 {
		observed = time.Unix(doc.UpdatedAt, 0)
	}
	return FetchResult{
		EntityID: entityID,
		Fields: models.Fields{
			"status":     models.String(doc.Status),
			"home_score": models.Number(doc.HomeScore),
			"away_score": models.Number(doc.AwayScore),
			"period":     models.Number(doc.Period),
			"clock":      models.String(doc.Clock),
		},
		ObservedAt: observed,
	}
}

// Discover lists upcoming games so the scheduler can reactivate
// candidates while idle.
func (a *ScoreboardAdapter) Discover(ctx context.Context) ([]models.Entity, error) {
	var docs []gameDoc
	if failure := getJSON(ctx, a.httpClient, a.baseURL+"/games/upcoming", &docs); failure != nil {
		return nil, failure
	}
	now := time.Now()
	entities := make([]models.Entity, 0, len(docs))
	for _, doc := range docs {
		if doc.ID == "" {
			continue
		}
		entities = append(entities, models.Entity{
			EntityID:     doc.ID,
			Kind:         models.KindGame,
			IsLive:       true,
			Status:       models.StatusScheduled,
			Fields:       models.Fields{"status": models.String(string(models.StatusScheduled))},
			LastSyncedAt: now,
		})
	}
	return entities, nil
}

// getJSON performs one GET and decodes the JSON body, returning a
// typed failure on any transport or status error.
func getJSON(ctx context.Context, client *http.Client, urlStr string, out any) *FetchFailure {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return &FetchFailure{Kind: FailTransient, Detail: err.Error()}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return classifyErr(err)
	}
	defer resp.Body.Close()

	if failure := classifyStatus(resp.StatusCode); failure != nil {
		return failure
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &FetchFailure{Kind: FailTransient, Detail: fmt.Sprintf("decode: %v", err)}
	}
	return nil
}
