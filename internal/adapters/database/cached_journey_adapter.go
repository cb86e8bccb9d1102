package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/zatekoja/patientjourney/internal/domain/entities"
	"github.com/zatekoja/patientjourney/internal/domain/providers"
	"github.com/zatekoja/patientjourney/internal/domain/repositories"
)

// DefaultJourneyTTL is the cache lifetime of a single journey, in seconds
const DefaultJourneyTTL = 300

// CachedJourneyAdapter wraps a JourneyRepository with read-through caching of
// single journeys. Writes invalidate the cached entry before returning.
type CachedJourneyAdapter struct {
	adapter repositories.JourneyRepository
	cache   providers.CacheProvider
	ttl     int
}

// NewCachedJourneyAdapter creates a new cached journey adapter
func NewCachedJourneyAdapter(adapter repositories.JourneyRepository, cache providers.CacheProvider, ttlSeconds int) repositories.JourneyRepository {
	if ttlSeconds <= 0 {
		ttlSeconds = DefaultJourneyTTL
	}
	return &CachedJourneyAdapter{
		adapter: adapter,
		cache:   cache,
		ttl:     ttlSeconds,
	}
}

func journeyCacheKey(id string) string {
	return fmt.Sprintf("journey:%s", id)
}

// Create stores the journey; nothing is cached until the first read
func (a *CachedJourneyAdapter) Create(ctx context.Context, journey *entities.Journey, started *entities.JourneyEvent) error {
	return a.adapter.Create(ctx, journey, started)
}

// GetByID retrieves a journey by ID with caching
func (a *CachedJourneyAdapter) GetByID(ctx context.Context, id string) (*entities.Journey, error) {
	cacheKey := journeyCacheKey(id)

	if cached, err := a.cache.Get(ctx, cacheKey); err == nil {
		var journey entities.Journey
		if err := json.Unmarshal(cached, &journey); err == nil {
			return &journey, nil
		}
		log.Warn().Err(err).Str("journey_id", id).Msg("Failed to unmarshal cached journey")
	}

	journey, err := a.adapter.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(journey)
	if err != nil {
		return journey, nil
	}
	if err := a.cache.Set(ctx, cacheKey, data, a.ttl); err != nil {
		log.Warn().Err(err).Str("journey_id", id).Msg("Failed to cache journey")
	}
	return journey, nil
}

// List is not cached
func (a *CachedJourneyAdapter) List(ctx context.Context, filter entities.JourneyFilter) ([]*entities.Journey, error) {
	return a.adapter.List(ctx, filter)
}

// ApplyTransition delegates and drops the cached journey
func (a *CachedJourneyAdapter) ApplyTransition(ctx context.Context, params entities.TransitionParams) (*entities.Journey, error) {
	journey, err := a.adapter.ApplyTransition(ctx, params)
	a.invalidate(ctx, params.JourneyID)
	return journey, err
}

// AssignCoordinator delegates and drops the cached journey
func (a *CachedJourneyAdapter) AssignCoordinator(ctx context.Context, journeyID, coordinatorID string, event *entities.JourneyEvent) (*entities.Journey, error) {
	journey, err := a.adapter.AssignCoordinator(ctx, journeyID, coordinatorID, event)
	a.invalidate(ctx, journeyID)
	return journey, err
}

// invalidate also runs after failed writes: a conflict means the cached state is stale
func (a *CachedJourneyAdapter) invalidate(ctx context.Context, id string) {
	if err := a.cache.Delete(ctx, journeyCacheKey(id)); err != nil {
		log.Warn().Err(err).Str("journey_id", id).Msg("Failed to invalidate cached journey")
	}
}
