package impact

import (
	"context"
	"time"
)

// RecordFetcher returns the activity records and canonical metadata for one entity.
// Failures wrap ErrFetch.
type RecordFetcher interface {
	FetchRecords(ctx context.Context, key string) (EntityInfo, error)
}

// RelationFetcher returns candidate related entity keys. Implementations may
// return a partial list together with an error.
type RelationFetcher interface {
	FetchRelations(ctx context.Context, key string) ([]string, error)
}

// Adapter is the capability set one platform provides.
type Adapter interface {
	RecordFetcher
	RelationFetcher
	Info() PlatformInfo
}

// EntityStore persists scored entities and platform statistics. Page and Search
// return entities ordered by descending score.
type EntityStore interface {
	Upsert(ctx context.Context, in UpsertInput) (UpsertResult, error)
	Get(ctx context.Context, platform Platform, identifier string) (ScoredEntity, error)
	Count(ctx context.Context, platform Platform) (int64, error)
	CountAbove(ctx context.Context, platform Platform, score int) (int64, error)
	Page(ctx context.Context, platform Platform, offset, limit int) ([]ScoredEntity, error)
	Search(ctx context.Context, platform Platform, substring string, limit int) ([]ScoredEntity, error)
	Scores(ctx context.Context, platform Platform) ([]int, error)
	Distribution(ctx context.Context, platform Platform) (ScoreDistribution, error)
	GetStats(ctx context.Context, platform Platform) (PlatformStats, error)
	UpsertStats(ctx context.Context, stats PlatformStats) error
}

// Publisher pushes score events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces row IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
