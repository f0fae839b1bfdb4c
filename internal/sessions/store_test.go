package sessions

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/haasonsaas/nexus-core/internal/nexuserr"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

func newTestStore(t *testing.T) *Store {
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
	return store
}

func TestCreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session, err := store.Create(ctx, "proj_a", models.SessionMetadata{Channel: "whatsapp", ContactID: "c1"})
	if err != nil {
		t.Fatal(err)
	}
	if session.Status != models.SessionActive {
		t.Errorf("status = %s, want active", session.Status)
	}

	got, err := store.Get(ctx, session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ProjectID != "proj_a" || got.Metadata.Channel != "whatsapp" {
		t.Errorf("loaded session = %+v", got)
	}
}

func TestGetUnknownSession(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), models.NewSessionID())
	if got := nexuserr.CodeOf(err); got != nexuserr.CodeNotFound {
		t.Fatalf("code = %s, want NOT_FOUND", got)
	}
}

func TestSetStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session, err := store.Create(ctx, "proj_a", models.SessionMetadata{})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.SetStatus(ctx, session.ID, models.SessionCompleted); err != nil {
		t.Fatal(err)
	}
	got, err := store.Get(ctx, session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.SessionCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}

	err = store.SetStatus(ctx, models.NewSessionID(), models.SessionExpired)
	if got := nexuserr.CodeOf(err); got != nexuserr.CodeNotFound {
		t.Fatalf("code = %s, want NOT_FOUND", got)
	}
}

func TestAppendAndHistory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session, err := store.Create(ctx, "proj_a", models.SessionMetadata{})
	if err != nil {
		t.Fatal(err)
	}

	usage := &models.TokenUsage{InputTokens: 100, OutputTokens: 40}
	written, err := store.AppendMessages(ctx, session.ID,
		models.Message{Role: models.RoleUser, Content: "what is 2+2?"},
		models.Message{
			Role:    models.RoleAssistant,
			Content: "4",
			ToolCalls: []models.ToolCall{
				{ID: "tc_1", Name: "calculator", Input: []byte(`{"expression":"2+2"}`)},
			},
			Usage:   usage,
			TraceID: "trace_1",
		})
	if err != nil {
		t.Fatal(err)
	}
	if len(written) != 2 || written[0].ID == "" || written[1].ID == "" {
		t.Fatalf("written = %+v", written)
	}

	history, err := store.History(ctx, session.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Fatalf("history = %d, want 2", len(history))
	}
	if history[0].Role != models.RoleUser || history[1].Role != models.RoleAssistant {
		t.Error("history must preserve append order")
	}
	got := history[1]
	if len(got.ToolCalls) != 1 || got.ToolCalls[0].Name != "calculator" {
		t.Errorf("tool calls = %+v", got.ToolCalls)
	}
	if got.Usage == nil || got.Usage.InputTokens != 100 {
		t.Errorf("usage = %+v", got.Usage)
	}
	if got.TraceID != "trace_1" {
		t.Errorf("trace id = %s, want trace_1", got.TraceID)
	}
}

func TestHistoryLimitKeepsNewest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session, err := store.Create(ctx, "proj_a", models.SessionMetadata{})
	if err != nil {
		t.Fatal(err)
	}
	for _, content := range []string{"one", "two", "three", "four"} {
		if _, err := store.AppendMessages(ctx, session.ID,
			models.Message{Role: models.RoleUser, Content: content}); err != nil {
			t.Fatal(err)
		}
	}

	history, err := store.History(ctx, session.ID, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Fatalf("history = %d, want 2", len(history))
	}
	if history[0].Content != "three" || history[1].Content != "four" {
		t.Errorf("history = %q, %q; want newest two ascending", history[0].Content, history[1].Content)
	}
}

func TestListByProject(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a, err := store.Create(ctx, "proj_a", models.SessionMetadata{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Create(ctx, "proj_b", models.SessionMetadata{}); err != nil {
		t.Fatal(err)
	}
	if err := store.SetStatus(ctx, a.ID, models.SessionCompleted); err != nil {
		t.Fatal(err)
	}

	all, err := store.ListByProject(ctx, "proj_a", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].ID != a.ID {
		t.Errorf("project sessions = %+v", all)
	}

	completed, err := store.ListByProject(ctx, "proj_a", models.SessionCompleted, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(completed) != 1 {
		t.Errorf("completed sessions = %d, want 1", len(completed))
	}
	active, err := store.ListByProject(ctx, "proj_a", models.SessionActive, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 0 {
		t.Errorf("active sessions = %d, want 0", len(active))
	}
}

func TestInboxFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	wa, err := store.Create(ctx, "proj_a", models.SessionMetadata{
		Channel: "whatsapp", ContactID: "c1", AgentID: "agent_1",
	})
	if err != nil {
		t.Fatal(err)
	}
	web, err := store.Create(ctx, "proj_a", models.SessionMetadata{Channel: "web", ContactID: "c2"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Create(ctx, "proj_b", models.SessionMetadata{Channel: "whatsapp"}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.AppendMessages(ctx, wa.ID,
		models.Message{Role: models.RoleUser, Content: "my order is missing"},
	); err != nil {
		t.Fatal(err)
	}
	if _, err := store.AppendMessages(ctx, web.ID,
		models.Message{Role: models.RoleUser, Content: "hello there"},
	); err != nil {
		t.Fatal(err)
	}

	byChannel, err := store.Inbox(ctx, "proj_a", InboxFilter{Channel: "whatsapp"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byChannel) != 1 || byChannel[0].ID != wa.ID {
		t.Errorf("channel filter = %+v", byChannel)
	}

	byContact, err := store.Inbox(ctx, "proj_a", InboxFilter{ContactID: "c2"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byContact) != 1 || byContact[0].ID != web.ID {
		t.Errorf("contact filter = %+v", byContact)
	}

	byAgent, err := store.Inbox(ctx, "proj_a", InboxFilter{AgentID: "agent_1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byAgent) != 1 || byAgent[0].ID != wa.ID {
		t.Errorf("agent filter = %+v", byAgent)
	}

	search, err := store.Inbox(ctx, "proj_a", InboxFilter{Search: "order"})
	if err != nil {
		t.Fatal(err)
	}
	if len(search) != 1 || search[0].ID != wa.ID {
		t.Errorf("search filter = %+v", search)
	}

	// LIKE metacharacters in the search term are literals.
	none, err := store.Inbox(ctx, "proj_a", InboxFilter{Search: "%"})
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Errorf("wildcard search matched %d sessions, want 0", len(none))
	}

	all, err := store.Inbox(ctx, "proj_a", InboxFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("unfiltered inbox = %d sessions, want 2", len(all))
	}

	paged, err := store.Inbox(ctx, "proj_a", InboxFilter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(paged) != 1 {
		t.Errorf("paged inbox = %d sessions, want 1", len(paged))
	}
}
