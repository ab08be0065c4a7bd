// Package postgres provides the Postgres-backed EntityStore.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/impact-crawler/internal/impact"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Default table names.
const (
	DefaultEntityTable = "scored_entities"
	DefaultStatsTable  = "platform_stats"
)

// Config controls the Postgres connection pool and table names.
type Config struct {
	DSN             string
	EntityTable     string
	StatsTable      string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of pgxpool.Pool the store uses, so pgxmock can stand in.
type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// EntityStore persists scored entities and platform stats in two tables keyed
// by (platform, identifier) and platform respectively.
type EntityStore struct {
	pool    pool
	ids     impact.IDGenerator
	clock   impact.Clock
	entity  string
	stats   string
	columns string
}

// NewEntityStore connects to Postgres using cfg.
func NewEntityStore(ctx context.Context, cfg Config, ids impact.IDGenerator, clock impact.Clock) (*EntityStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewEntityStoreWithPool(p, cfg.EntityTable, cfg.StatsTable, ids, clock)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewEntityStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewEntityStoreWithPool(p pool, entityTable, statsTable string, ids impact.IDGenerator, clock impact.Clock) (*EntityStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	if ids == nil || clock == nil {
		return nil, errors.New("id generator and clock are required")
	}
	if entityTable == "" {
		entityTable = DefaultEntityTable
	}
	if statsTable == "" {
		statsTable = DefaultStatsTable
	}
	for _, table := range []string{entityTable, statsTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return &EntityStore{
		pool:    p,
		ids:     ids,
		clock:   clock,
		entity:  entityTable,
		stats:   statsTable,
		columns: "id, platform, identifier, score, total_metric, url, created_at, updated_at",
	}, nil
}

// Close releases the underlying pool resources.
func (s *EntityStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity.
func (s *EntityStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: ping: %w", impact.ErrStore, err)
	}
	return nil
}

// Migrate creates the tables and ranking index when missing.
func (s *EntityStore) Migrate(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id uuid PRIMARY KEY,
	platform text NOT NULL,
	identifier text NOT NULL,
	score integer NOT NULL,
	total_metric bigint NOT NULL,
	url text NOT NULL DEFAULT '',
	created_at timestamptz NOT NULL,
	updated_at timestamptz NOT NULL,
	UNIQUE (platform, identifier)
)`, s.entity),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_rank_idx ON %s (platform, score DESC, id)`, s.entity, s.entity),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	platform text PRIMARY KEY,
	count bigint NOT NULL,
	mean double precision NOT NULL,
	median double precision NOT NULL,
	stddev double precision NOT NULL,
	min_score integer NOT NULL,
	max_score integer NOT NULL,
	m2 double precision NOT NULL,
	updated_at timestamptz NOT NULL
)`, s.stats),
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%w: migrate: %w", impact.ErrStore, err)
		}
	}
	return nil
}

// Upsert inserts or updates the entity in a single statement. The prev CTE
// reads the pre-statement snapshot, so PreviousScore is the replaced value.
func (s *EntityStore) Upsert(ctx context.Context, in impact.UpsertInput) (impact.UpsertResult, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return impact.UpsertResult{}, fmt.Errorf("%w: generate id: %w", impact.ErrStore, err)
	}
	var createdAt *time.Time
	if !in.CreatedAt.IsZero() {
		c := in.CreatedAt
		createdAt = &c
	}
	query := fmt.Sprintf(`
WITH prev AS (
	SELECT score FROM %[1]s WHERE platform = $2 AND identifier = $3
)
INSERT INTO %[1]s AS e (%[2]s)
VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7::timestamptz, $8::timestamptz), $8)
ON CONFLICT (platform, identifier) DO UPDATE SET
	score = EXCLUDED.score,
	total_metric = EXCLUDED.total_metric,
	url = EXCLUDED.url,
	created_at = COALESCE($7::timestamptz, e.created_at),
	updated_at = EXCLUDED.updated_at
RETURNING e.id, e.platform, e.identifier, e.score, e.total_metric, e.url, e.created_at, e.updated_at,
	(e.xmax = 0) AS inserted, COALESCE((SELECT score FROM prev), 0)`, s.entity, s.columns)

	var (
		res      impact.UpsertResult
		platform string
	)
	e := &res.Entity
	err = s.pool.QueryRow(ctx, query,
		id, string(in.Platform), in.Identifier, in.Score, in.TotalMetric, in.URL, createdAt, s.clock.Now(),
	).Scan(&e.ID, &platform, &e.Identifier, &e.Score, &e.TotalMetric, &e.URL, &e.CreatedAt, &e.UpdatedAt,
		&res.Created, &res.PreviousScore)
	if err != nil {
		return impact.UpsertResult{}, fmt.Errorf("%w: upsert entity: %w", impact.ErrStore, err)
	}
	e.Platform = impact.Platform(platform)
	if res.Created {
		res.PreviousScore = 0
	}
	return res, nil
}

// Get returns the entity or impact.ErrNotFound.
func (s *EntityStore) Get(ctx context.Context, platform impact.Platform, identifier string) (impact.ScoredEntity, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE platform = $1 AND identifier = $2`, s.columns, s.entity)
	e, err := scanEntity(s.pool.QueryRow(ctx, query, string(platform), identifier))
	if errors.Is(err, pgx.ErrNoRows) {
		return impact.ScoredEntity{}, fmt.Errorf("entity %s/%s: %w", platform, identifier, impact.ErrNotFound)
	}
	if err != nil {
		return impact.ScoredEntity{}, fmt.Errorf("%w: get entity: %w", impact.ErrStore, err)
	}
	return e, nil
}

// Count returns the number of entities of platform.
func (s *EntityStore) Count(ctx context.Context, platform impact.Platform) (int64, error) {
	var n int64
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE platform = $1`, s.entity)
	if err := s.pool.QueryRow(ctx, query, string(platform)).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count entities: %w", impact.ErrStore, err)
	}
	return n, nil
}

// CountAbove returns the number of entities scoring strictly higher than score.
func (s *EntityStore) CountAbove(ctx context.Context, platform impact.Platform, score int) (int64, error) {
	var n int64
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE platform = $1 AND score > $2`, s.entity)
	if err := s.pool.QueryRow(ctx, query, string(platform), score).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count entities above: %w", impact.ErrStore, err)
	}
	return n, nil
}

// Page returns up to limit entities after offset, by descending score. Equal
// scores are ordered by id, which is time-ordered for UUIDv7 ids.
func (s *EntityStore) Page(ctx context.Context, platform impact.Platform, offset, limit int) ([]impact.ScoredEntity, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE platform = $1 ORDER BY score DESC, id ASC OFFSET $2 LIMIT $3`,
		s.columns, s.entity)
	rows, err := s.pool.Query(ctx, query, string(platform), offset, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: page entities: %w", impact.ErrStore, err)
	}
	return collectEntities(rows)
}

// Search returns up to limit entities whose identifier contains substring,
// ignoring case, by descending score.
func (s *EntityStore) Search(ctx context.Context, platform impact.Platform, substring string, limit int) ([]impact.ScoredEntity, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE platform = $1 AND identifier ILIKE $2 ESCAPE '\'
ORDER BY score DESC, id ASC LIMIT $3`, s.columns, s.entity)
	rows, err := s.pool.Query(ctx, query, string(platform), "%"+escapeLike(substring)+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("%w: search entities: %w", impact.ErrStore, err)
	}
	return collectEntities(rows)
}

// Scores returns every stored score of platform.
func (s *EntityStore) Scores(ctx context.Context, platform impact.Platform) ([]int, error) {
	query := fmt.Sprintf(`SELECT score FROM %s WHERE platform = $1`, s.entity)
	rows, err := s.pool.Query(ctx, query, string(platform))
	if err != nil {
		return nil, fmt.Errorf("%w: load scores: %w", impact.ErrStore, err)
	}
	defer rows.Close()
	var out []int
	for rows.Next() {
		var score int
		if err := rows.Scan(&score); err != nil {
			return nil, fmt.Errorf("%w: scan score: %w", impact.ErrStore, err)
		}
		out = append(out, score)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: load scores: %w", impact.ErrStore, err)
	}
	return out, nil
}

// Distribution returns exact order statistics computed by the database.
func (s *EntityStore) Distribution(ctx context.Context, platform impact.Platform) (impact.ScoreDistribution, error) {
	query := fmt.Sprintf(`SELECT COUNT(*),
	COALESCE(percentile_cont(0.5) WITHIN GROUP (ORDER BY score), 0),
	COALESCE(MIN(score), 0),
	COALESCE(MAX(score), 0)
FROM %s WHERE platform = $1`, s.entity)
	var d impact.ScoreDistribution
	if err := s.pool.QueryRow(ctx, query, string(platform)).Scan(&d.Count, &d.Median, &d.Min, &d.Max); err != nil {
		return impact.ScoreDistribution{}, fmt.Errorf("%w: score distribution: %w", impact.ErrStore, err)
	}
	return d, nil
}

// GetStats returns the platform stats or impact.ErrNotFound.
func (s *EntityStore) GetStats(ctx context.Context, platform impact.Platform) (impact.PlatformStats, error) {
	query := fmt.Sprintf(`SELECT count, mean, median, stddev, min_score, max_score, m2, updated_at
FROM %s WHERE platform = $1`, s.stats)
	st := impact.PlatformStats{Platform: platform}
	err := s.pool.QueryRow(ctx, query, string(platform)).
		Scan(&st.Count, &st.Mean, &st.Median, &st.StdDev, &st.Min, &st.Max, &st.M2, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return impact.PlatformStats{}, fmt.Errorf("stats %s: %w", platform, impact.ErrNotFound)
	}
	if err != nil {
		return impact.PlatformStats{}, fmt.Errorf("%w: get stats: %w", impact.ErrStore, err)
	}
	return st, nil
}

// UpsertStats replaces the platform stats row.
func (s *EntityStore) UpsertStats(ctx context.Context, st impact.PlatformStats) error {
	query := fmt.Sprintf(`
INSERT INTO %s (platform, count, mean, median, stddev, min_score, max_score, m2, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (platform) DO UPDATE SET
	count = EXCLUDED.count,
	mean = EXCLUDED.mean,
	median = EXCLUDED.median,
	stddev = EXCLUDED.stddev,
	min_score = EXCLUDED.min_score,
	max_score = EXCLUDED.max_score,
	m2 = EXCLUDED.m2,
	updated_at = EXCLUDED.updated_at`, s.stats)
	_, err := s.pool.Exec(ctx, query,
		string(st.Platform), st.Count, st.Mean, st.Median, st.StdDev, st.Min, st.Max, st.M2, st.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w: upsert stats: %w", impact.ErrStore, err)
	}
	return nil
}

func scanEntity(row pgx.Row) (impact.ScoredEntity, error) {
	var (
		e        impact.ScoredEntity
		platform string
	)
	if err := row.Scan(&e.ID, &platform, &e.Identifier, &e.Score, &e.TotalMetric, &e.URL, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return impact.ScoredEntity{}, err
	}
	e.Platform = impact.Platform(platform)
	return e, nil
}

func collectEntities(rows pgx.Rows) ([]impact.ScoredEntity, error) {
	defer rows.Close()
	out := []impact.ScoredEntity{}
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan entity: %w", impact.ErrStore, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read entities: %w", impact.ErrStore, err)
	}
	return out, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
