// Package memory provides an in-process EntityStore for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/impact-crawler/internal/impact"
	"github.com/JakeFAU/impact-crawler/internal/stats"
)

type row struct {
	entity impact.ScoredEntity
	seq    int64
}

// EntityStore keeps scored entities and platform stats in maps. Entities with
// equal scores are ordered by first insertion.
type EntityStore struct {
	ids   impact.IDGenerator
	clock impact.Clock

	mu       sync.RWMutex
	seq      int64
	entities map[impact.Platform]map[string]*row
	stats    map[impact.Platform]impact.PlatformStats
}

// NewEntityStore constructs an empty EntityStore.
func NewEntityStore(ids impact.IDGenerator, clock impact.Clock) *EntityStore {
	return &EntityStore{
		ids:      ids,
		clock:    clock,
		entities: make(map[impact.Platform]map[string]*row),
		stats:    make(map[impact.Platform]impact.PlatformStats),
	}
}

// Upsert inserts or replaces the entity keyed by (platform, identifier).
func (s *EntityStore) Upsert(_ context.Context, in impact.UpsertInput) (impact.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	rows, ok := s.entities[in.Platform]
	if !ok {
		rows = make(map[string]*row)
		s.entities[in.Platform] = rows
	}

	if existing, ok := rows[in.Identifier]; ok {
		prev := existing.entity.Score
		existing.entity.Score = in.Score
		existing.entity.TotalMetric = in.TotalMetric
		existing.entity.URL = in.URL
		if !in.CreatedAt.IsZero() {
			existing.entity.CreatedAt = in.CreatedAt
		}
		existing.entity.UpdatedAt = now
		return impact.UpsertResult{Entity: existing.entity, PreviousScore: prev}, nil
	}

	id, err := s.ids.NewID()
	if err != nil {
		return impact.UpsertResult{}, fmt.Errorf("%w: generate id: %w", impact.ErrStore, err)
	}
	createdAt := in.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	s.seq++
	r := &row{
		seq: s.seq,
		entity: impact.ScoredEntity{
			ID:          id,
			Platform:    in.Platform,
			Identifier:  in.Identifier,
			Score:       in.Score,
			TotalMetric: in.TotalMetric,
			URL:         in.URL,
			CreatedAt:   createdAt,
			UpdatedAt:   now,
		},
	}
	rows[in.Identifier] = r
	return impact.UpsertResult{Entity: r.entity, Created: true}, nil
}

// Get returns the entity or impact.ErrNotFound.
func (s *EntityStore) Get(_ context.Context, platform impact.Platform, identifier string) (impact.ScoredEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.entities[platform][identifier]
	if !ok {
		return impact.ScoredEntity{}, fmt.Errorf("entity %s/%s: %w", platform, identifier, impact.ErrNotFound)
	}
	return r.entity, nil
}

// Count returns the number of entities of platform.
func (s *EntityStore) Count(_ context.Context, platform impact.Platform) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.entities[platform])), nil
}

// CountAbove returns the number of entities scoring strictly higher than score.
func (s *EntityStore) CountAbove(_ context.Context, platform impact.Platform, score int) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, r := range s.entities[platform] {
		if r.entity.Score > score {
			n++
		}
	}
	return n, nil
}

// Page returns up to limit entities after offset, by descending score.
func (s *EntityStore) Page(_ context.Context, platform impact.Platform, offset, limit int) ([]impact.ScoredEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return window(s.ranked(platform, nil), offset, limit), nil
}

// Search returns up to limit entities whose identifier contains substring,
// ignoring case, by descending score.
func (s *EntityStore) Search(_ context.Context, platform impact.Platform, substring string, limit int) ([]impact.ScoredEntity, error) {
	needle := strings.ToLower(substring)
	s.mu.RLock()
	defer s.mu.RUnlock()
	matches := s.ranked(platform, func(e impact.ScoredEntity) bool {
		return strings.Contains(strings.ToLower(e.Identifier), needle)
	})
	return window(matches, 0, limit), nil
}

// Scores returns every stored score of platform.
func (s *EntityStore) Scores(_ context.Context, platform impact.Platform) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int, 0, len(s.entities[platform]))
	for _, r := range s.entities[platform] {
		out = append(out, r.entity.Score)
	}
	return out, nil
}

// Distribution returns the exact order statistics of the stored scores.
func (s *EntityStore) Distribution(ctx context.Context, platform impact.Platform) (impact.ScoreDistribution, error) {
	scores, err := s.Scores(ctx, platform)
	if err != nil {
		return impact.ScoreDistribution{}, err
	}
	if len(scores) == 0 {
		return impact.ScoreDistribution{}, nil
	}
	sort.Ints(scores)
	return impact.ScoreDistribution{
		Count:  int64(len(scores)),
		Median: stats.Median(scores),
		Min:    scores[0],
		Max:    scores[len(scores)-1],
	}, nil
}

// GetStats returns the platform stats or impact.ErrNotFound.
func (s *EntityStore) GetStats(_ context.Context, platform impact.Platform) (impact.PlatformStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stats[platform]
	if !ok {
		return impact.PlatformStats{}, fmt.Errorf("stats %s: %w", platform, impact.ErrNotFound)
	}
	return st, nil
}

// UpsertStats replaces the platform stats.
func (s *EntityStore) UpsertStats(_ context.Context, st impact.PlatformStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats[st.Platform] = st
	return nil
}

func (s *EntityStore) ranked(platform impact.Platform, keep func(impact.ScoredEntity) bool) []impact.ScoredEntity {
	rows := make([]*row, 0, len(s.entities[platform]))
	for _, r := range s.entities[platform] {
		if keep == nil || keep(r.entity) {
			rows = append(rows, r)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].entity.Score != rows[j].entity.Score {
			return rows[i].entity.Score > rows[j].entity.Score
		}
		return rows[i].seq < rows[j].seq
	})
	out := make([]impact.ScoredEntity, len(rows))
	for i, r := range rows {
		out[i] = r.entity
	}
	return out
}

func window(entities []impact.ScoredEntity, offset, limit int) []impact.ScoredEntity {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(entities) || limit <= 0 {
		return []impact.ScoredEntity{}
	}
	end := offset + limit
	if end > len(entities) {
		end = len(entities)
	}
	return entities[offset:end]
}
