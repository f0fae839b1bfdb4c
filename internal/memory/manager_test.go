package memory

import (
	"context"
	"database/sql"
	"math"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/haasonsaas/nexus-core/internal/observability"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

// fakeEmbedder maps known strings to fixed vectors.
type fakeEmbedder struct {
	vectors map[string][]float32
}

func (f *fakeEmbedder) Dimension() int { return 3 }

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func newTestManager(t *testing.T, embedder Embedder, cfg models.MemoryConfig) *Manager {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+t.TempDir()+"/test.db")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db)
	if err != nil {
		t.Fatal(err)
	}
	return NewManager(store, embedder, cfg, observability.NewTestLogger())
}

func TestRetrieveDisabledReturnsEmpty(t *testing.T) {
	m := newTestManager(t, &fakeEmbedder{}, models.MemoryConfig{LongTermEnabled: false})
	hits, err := m.Retrieve(context.Background(), "proj_a", "anything", 5, RetrieveOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("hits = %d, want 0", len(hits))
	}

	// Enabled but no embedder behaves the same.
	m = newTestManager(t, nil, models.MemoryConfig{LongTermEnabled: true})
	hits, err = m.Retrieve(context.Background(), "proj_a", "anything", 5, RetrieveOptions{})
	if err != nil || len(hits) != 0 {
		t.Errorf("hits = %d, err = %v; want empty, nil", len(hits), err)
	}
}

func TestRetrieveRanksByCosine(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float32{
		"query":    {1, 0, 0},
		"aligned":  {1, 0, 0},
		"diagonal": {1, 1, 0},
		"opposite": {0, 1, 0},
	}}
	m := newTestManager(t, emb, models.MemoryConfig{LongTermEnabled: true})
	ctx := context.Background()

	for _, content := range []string{"aligned", "diagonal", "opposite"} {
		if _, err := m.Store(ctx, models.MemoryEntry{ProjectID: "proj_a", Content: content}); err != nil {
			t.Fatal(err)
		}
	}

	hits, err := m.Retrieve(ctx, "proj_a", "query", 2, RetrieveOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("hits = %d, want 2", len(hits))
	}
	if hits[0].Entry.Content != "aligned" {
		t.Errorf("top hit = %s, want aligned", hits[0].Entry.Content)
	}
	if hits[1].Entry.Content != "diagonal" {
		t.Errorf("second hit = %s, want diagonal", hits[1].Entry.Content)
	}
	if hits[0].Score < hits[1].Score {
		t.Error("hits must be sorted by descending score")
	}
}

func TestRetrieveProjectScoped(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float32{"q": {1, 0, 0}}}
	m := newTestManager(t, emb, models.MemoryConfig{LongTermEnabled: true})
	ctx := context.Background()

	if _, err := m.Store(ctx, models.MemoryEntry{ProjectID: "proj_b", Content: "other tenant"}); err != nil {
		t.Fatal(err)
	}
	hits, err := m.Retrieve(ctx, "proj_a", "q", 5, RetrieveOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Error("retrieval must not cross project boundaries")
	}
}

func TestRetrieveCategoryFilter(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float32{"q": {1, 0, 0}}}
	m := newTestManager(t, emb, models.MemoryConfig{LongTermEnabled: true})
	ctx := context.Background()

	for _, c := range []struct{ content, category string }{
		{"pref fact", "preferences"},
		{"booking fact", "bookings"},
	} {
		if _, err := m.Store(ctx, models.MemoryEntry{ProjectID: "proj_a", Content: c.content, Category: c.category}); err != nil {
			t.Fatal(err)
		}
	}

	hits, err := m.Retrieve(ctx, "proj_a", "q", 5, RetrieveOptions{Categories: []string{"preferences"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Entry.Content != "pref fact" {
		t.Errorf("hits = %+v, want only the preferences entry", hits)
	}
}

func TestImportanceDecay(t *testing.T) {
	cfg := models.MemoryConfig{
		LongTermEnabled:   true,
		DecayEnabled:      true,
		DecayHalfLifeDays: 30,
	}
	emb := &fakeEmbedder{vectors: map[string][]float32{"q": {1, 0, 0}}}
	m := newTestManager(t, emb, cfg)
	ctx := context.Background()

	now := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return now })

	// One half-life old: effective importance 0.8 * 0.5 = 0.4.
	old := models.MemoryEntry{
		ProjectID:  "proj_a",
		Content:    "aging fact",
		Importance: 0.8,
		Embedding:  []float32{1, 0, 0},
		CreatedAt:  now.AddDate(0, 0, -30),
	}
	if _, err := m.Store(ctx, old); err != nil {
		t.Fatal(err)
	}

	hits, err := m.Retrieve(ctx, "proj_a", "q", 5, RetrieveOptions{MinImportance: 0.5})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Error("decayed entry should fall below the importance floor")
	}

	hits, err = m.Retrieve(ctx, "proj_a", "q", 5, RetrieveOptions{MinImportance: 0.3})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 {
		t.Error("entry should survive a floor below its decayed importance")
	}
}

func TestEffectiveImportanceMath(t *testing.T) {
	cfg := models.MemoryConfig{DecayEnabled: true, DecayHalfLifeDays: 10}
	m := newTestManager(t, nil, cfg)
	now := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)

	entry := models.MemoryEntry{Importance: 1, CreatedAt: now.AddDate(0, 0, -20)}
	got := m.effectiveImportance(entry, now)
	if math.Abs(got-0.25) > 1e-9 {
		t.Errorf("two half-lives = %v, want 0.25", got)
	}

	// Decay disabled passes importance through.
	m2 := newTestManager(t, nil, models.MemoryConfig{})
	if got := m2.effectiveImportance(entry, now); got != 1 {
		t.Errorf("decay disabled = %v, want 1", got)
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"dimension mismatch", []float32{1}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		if got := cosineSimilarity(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("%s: cosine = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestStoreDefaultsImportance(t *testing.T) {
	m := newTestManager(t, &fakeEmbedder{}, models.MemoryConfig{LongTermEnabled: true})
	entry, err := m.Store(context.Background(), models.MemoryEntry{ProjectID: "proj_a", Content: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if entry.Importance != 0.5 {
		t.Errorf("importance = %v, want 0.5", entry.Importance)
	}
	if entry.ID == "" {
		t.Error("id must be assigned")
	}
}
