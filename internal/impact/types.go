package impact

import "time"

// Platform names an upstream site whose entities are ranked (e.g. "github").
type Platform string

// Identifier uniquely identifies a scored subject. Key case-sensitivity follows
// the platform's own rules and is never normalized here.
type Identifier struct {
	Platform Platform `json:"platform"`
	Key      string   `json:"identifier"`
}

// String renders the identifier as platform/key.
func (id Identifier) String() string {
	return string(id.Platform) + "/" + id.Key
}

// Record is one unit of activity produced by a RecordFetcher. Records are
// consumed immediately by the scorer and never persisted.
type Record struct {
	Link        string    `json:"link"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	Metric      int64     `json:"metric"`
	MetricType  string    `json:"metric_type"`
}

// EntityMetadata is the canonical metadata a RecordFetcher returns alongside records.
type EntityMetadata struct {
	Key       string    `json:"identifier"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

// EntityInfo bundles the records and metadata fetched for one entity.
type EntityInfo struct {
	Records  []Record
	Metadata EntityMetadata
}

// ScoredEntity is the persisted result of the most recent successful scoring run.
type ScoredEntity struct {
	ID          string    `json:"id"`
	Platform    Platform  `json:"platform"`
	Identifier  string    `json:"identifier"`
	Score       int       `json:"index"`
	TotalMetric int64     `json:"total_metrics"`
	URL         string    `json:"url"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"last_updated_at"`
}

// PlatformStats is the running distribution summary of all scored entities of a platform.
// M2 is the Welford sum of squared deviations from the mean.
type PlatformStats struct {
	Platform  Platform  `json:"platform"`
	Count     int64     `json:"count"`
	Mean      float64   `json:"mean"`
	Median    float64   `json:"median"`
	StdDev    float64   `json:"stddev"`
	Min       int       `json:"min"`
	Max       int       `json:"max"`
	M2        float64   `json:"-"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ScoreDistribution holds order statistics over the current score set of a platform.
type ScoreDistribution struct {
	Count  int64
	Median float64
	Min    int
	Max    int
}

// UnknownTarget is the sentinel reported for Metadata.TargetEntities until an
// external signal provides the expected population size.
const UnknownTarget int64 = -1

// Metadata is the per-platform summary served to clients.
type Metadata struct {
	Platform       PlatformInfo  `json:"platform"`
	Stats          PlatformStats `json:"stats"`
	TargetEntities int64         `json:"target_entities"`
}

// PlatformInfo is the static descriptive metadata of an adapter.
type PlatformInfo struct {
	Name             Platform `json:"name"`
	Description      string   `json:"description"`
	IndexDescription string   `json:"index_description"`
	EntityName       string   `json:"entity_name"`
	MetricName       string   `json:"metric_name"`
	PrimaryColor     string   `json:"primary_color"`
	SecondaryColor   string   `json:"secondary_color"`
}

// UpsertInput carries the fields written by EntityStore.Upsert. A zero CreatedAt
// keeps the stored value (or the insert time for new rows).
type UpsertInput struct {
	Platform    Platform
	Identifier  string
	Score       int
	TotalMetric int64
	URL         string
	CreatedAt   time.Time
}

// UpsertResult reports the stored entity and, for updates, the score it replaced.
type UpsertResult struct {
	Entity        ScoredEntity
	Created       bool
	PreviousScore int
}

// WorkKind distinguishes the two kinds of crawl work.
type WorkKind int

// Work kinds served by the crawl queue.
const (
	WorkScore WorkKind = iota
	WorkExpandRelations
)

// String returns a stable label for logs and metrics.
func (k WorkKind) String() string {
	switch k {
	case WorkScore:
		return "score"
	case WorkExpandRelations:
		return "expand_relations"
	default:
		return "unknown"
	}
}

// WorkItem is a unit of crawl work for one platform. Depth counts relation hops
// from the entity that seeded the walk.
type WorkItem struct {
	Key   string
	Kind  WorkKind
	Depth int
}

// ScoredEvent is published after every committed score.
type ScoredEvent struct {
	Platform    Platform  `json:"platform"`
	Identifier  string    `json:"identifier"`
	Score       int       `json:"index"`
	TotalMetric int64     `json:"total_metrics"`
	Created     bool      `json:"created"`
	ScoredAt    time.Time `json:"scored_at"`
}
