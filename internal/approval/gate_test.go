package approval

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/haasonsaas/nexus-core/internal/nexuserr"
	"github.com/haasonsaas/nexus-core/internal/observability"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

func newTestGate(t *testing.T, notifier Notifier) *Gate {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+t.TempDir()+"/test.db")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	gate, err := NewGate(db, notifier, observability.NewTestLogger())
	if err != nil {
		t.Fatal(err)
	}
	return gate
}

func TestRequestFiresNotifier(t *testing.T) {
	var notified []models.ApprovalRequest
	gate := newTestGate(t, NotifierFunc(func(ctx context.Context, req models.ApprovalRequest) error {
		notified = append(notified, req)
		return nil
	}))

	req, err := gate.Request(context.Background(), "proj_a", "sess_1", "trace_1",
		"send_payment", []byte(`{"amount":100}`))
	if err != nil {
		t.Fatal(err)
	}
	if req.Status != models.ApprovalPending {
		t.Errorf("status = %s, want pending", req.Status)
	}
	if len(notified) != 1 || notified[0].ID != req.ID {
		t.Errorf("notifier calls = %+v", notified)
	}
}

func TestResolveApprove(t *testing.T) {
	gate := newTestGate(t, nil)
	ctx := context.Background()

	req, err := gate.Request(ctx, "proj_a", "sess_1", "trace_1", "send_payment", nil)
	if err != nil {
		t.Fatal(err)
	}

	resolved, err := gate.Resolve(ctx, req.ID, true, "ops@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if resolved.Status != models.ApprovalApproved {
		t.Errorf("status = %s, want approved", resolved.Status)
	}
	if resolved.ResolvedAt == nil || resolved.ResolvedBy != "ops@example.com" {
		t.Errorf("resolution fields = %+v", resolved)
	}
}

func TestSecondResolveIsNoOp(t *testing.T) {
	gate := newTestGate(t, nil)
	ctx := context.Background()

	req, err := gate.Request(ctx, "proj_a", "sess_1", "trace_1", "send_payment", nil)
	if err != nil {
		t.Fatal(err)
	}
	first, err := gate.Resolve(ctx, req.ID, false, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if first.Status != models.ApprovalRejected {
		t.Fatalf("status = %s, want rejected", first.Status)
	}

	// A conflicting second resolution does not flip the outcome.
	second, err := gate.Resolve(ctx, req.ID, true, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if second.Status != models.ApprovalRejected || second.ResolvedBy != "alice" {
		t.Errorf("second resolve changed the record: %+v", second)
	}
}

func TestResolveUnknown(t *testing.T) {
	gate := newTestGate(t, nil)
	_, err := gate.Resolve(context.Background(), models.NewApprovalID(), true, "ops")
	if got := nexuserr.CodeOf(err); got != nexuserr.CodeNotFound {
		t.Fatalf("code = %s, want NOT_FOUND", got)
	}
}

func TestListPending(t *testing.T) {
	gate := newTestGate(t, nil)
	ctx := context.Background()

	first, err := gate.Request(ctx, "proj_a", "sess_1", "trace_1", "tool_a", nil)
	if err != nil {
		t.Fatal(err)
	}
	second, err := gate.Request(ctx, "proj_a", "sess_2", "trace_2", "tool_b", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := gate.Request(ctx, "proj_b", "sess_3", "trace_3", "tool_c", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := gate.Resolve(ctx, first.ID, true, "ops"); err != nil {
		t.Fatal(err)
	}

	pending, err := gate.ListPending(ctx, "proj_a")
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ID != second.ID {
		t.Errorf("pending = %+v, want only the unresolved proj_a request", pending)
	}
}

func TestExpire(t *testing.T) {
	gate := newTestGate(t, nil)
	ctx := context.Background()

	req, err := gate.Request(ctx, "proj_a", "sess_1", "trace_1", "tool_a", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := gate.Expire(ctx, req.ID); err != nil {
		t.Fatal(err)
	}
	got, err := gate.Get(ctx, req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.ApprovalExpired {
		t.Errorf("status = %s, want expired", got.Status)
	}

	// Expiring a resolved request does nothing.
	resolved, err := gate.Request(ctx, "proj_a", "sess_1", "trace_1", "tool_b", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := gate.Resolve(ctx, resolved.ID, true, "ops"); err != nil {
		t.Fatal(err)
	}
	if err := gate.Expire(ctx, resolved.ID); err != nil {
		t.Fatal(err)
	}
	got, err = gate.Get(ctx, resolved.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.ApprovalApproved {
		t.Errorf("status = %s, want approved to stick", got.Status)
	}
}
