package memory

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/haasonsaas/nexus-core/internal/observability"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

// RetrieveOptions narrow a retrieval beyond the query itself.
type RetrieveOptions struct {
	// MinImportance filters on effective (decayed) importance when > 0.
	MinImportance float64

	// Categories restricts retrieval to the named categories.
	Categories []string
}

// Manager answers memory retrievals and stores for one process. Retrieval
// is cosine similarity of the query embedding against stored embeddings,
// with importance decay applied before filtering.
type Manager struct {
	store    *Store
	embedder Embedder
	cfg      models.MemoryConfig
	logger   *observability.Logger
	now      func() time.Time
}

// NewManager creates a manager. embedder may be nil, in which case
// retrieval returns empty results without error.
func NewManager(store *Store, embedder Embedder, cfg models.MemoryConfig, logger *observability.Logger) *Manager {
	return &Manager{
		store:    store,
		embedder: embedder,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock overrides the clock source for tests.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// Enabled reports whether retrieval can produce results.
func (m *Manager) Enabled() bool {
	return m.cfg.LongTermEnabled && m.embedder != nil
}

// Retrieve returns the top-k entries by cosine similarity against the
// query. Disabled memory or a missing embedder yields an empty list, not
// an error.
func (m *Manager) Retrieve(ctx context.Context, projectID models.ProjectID, query string, k int, opts RetrieveOptions) ([]models.MemoryHit, error) {
	if !m.Enabled() || query == "" {
		return nil, nil
	}
	if k <= 0 {
		k = m.cfg.TopK
	}
	if k <= 0 {
		k = 5
	}

	queryVec, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	entries, err := m.store.ListByProject(ctx, projectID, opts.Categories)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	var hits []models.MemoryHit
	for _, entry := range entries {
		if len(entry.Embedding) == 0 {
			continue
		}
		if opts.MinImportance > 0 && m.effectiveImportance(entry, now) < opts.MinImportance {
			continue
		}
		hits = append(hits, models.MemoryHit{
			Entry: entry,
			Score: cosineSimilarity(queryVec, entry.Embedding),
		})
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}

	ids := make([]string, len(hits))
	for i, hit := range hits {
		ids[i] = hit.Entry.ID
	}
	if err := m.store.TouchAccess(ctx, ids); err != nil {
		m.logger.Warn(ctx, "memory access bump failed", "error", err)
	}
	return hits, nil
}

// Store embeds and persists one entry. Importance defaults to 0.5.
func (m *Manager) Store(ctx context.Context, entry models.MemoryEntry) (models.MemoryEntry, error) {
	if entry.Importance <= 0 {
		entry.Importance = 0.5
	}
	if m.embedder != nil && len(entry.Embedding) == 0 {
		vec, err := m.embedder.Embed(ctx, entry.Content)
		if err != nil {
			return entry, err
		}
		entry.Embedding = vec
	}
	return m.store.Insert(ctx, entry)
}

// effectiveImportance applies half-life decay when enabled:
// importance * 0.5^(ageDays / halfLife).
func (m *Manager) effectiveImportance(entry models.MemoryEntry, now time.Time) float64 {
	if !m.cfg.DecayEnabled || m.cfg.DecayHalfLifeDays <= 0 {
		return entry.Importance
	}
	ageDays := now.Sub(entry.CreatedAt).Hours() / 24
	if ageDays <= 0 {
		return entry.Importance
	}
	return entry.Importance * math.Pow(0.5, ageDays/m.cfg.DecayHalfLifeDays)
}

// cosineSimilarity is the dot product over the magnitude product; zero
// vectors and mismatched dimensions score 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
