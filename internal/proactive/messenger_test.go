package proactive

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/haasonsaas/nexus-core/internal/nexuserr"
	"github.com/haasonsaas/nexus-core/internal/observability"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

type recordedSend struct {
	ProjectID models.ProjectID
	Recipient string
	Content   string
}

type fakeAdapter struct {
	mu    sync.Mutex
	sends []recordedSend
	errs  []error
}

func (f *fakeAdapter) Send(_ context.Context, projectID models.ProjectID, recipient, content string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return "", err
		}
	}
	f.sends = append(f.sends, recordedSend{ProjectID: projectID, Recipient: recipient, Content: content})
	return "delivery_1", nil
}

func (f *fakeAdapter) sent() []recordedSend {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedSend(nil), f.sends...)
}

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+t.TempDir()+"/test.db")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	queue, err := NewQueue(db)
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	return queue
}

func newTestMessenger(t *testing.T, opts ...Option) (*Messenger, *Queue, *fakeAdapter) {
	t.Helper()
	queue := newTestQueue(t)
	adapter := &fakeAdapter{}
	msgr := NewMessenger(queue, observability.NewTestLogger(), opts...)
	msgr.RegisterAdapter("whatsapp", adapter)
	return msgr, queue, adapter
}

func TestScheduleAndCancel(t *testing.T) {
	msgr, queue, adapter := newTestMessenger(t)
	ctx := context.Background()

	job, err := msgr.Schedule(ctx, ScheduleRequest{
		ProjectID:    "proj_a",
		Channel:      "whatsapp",
		Recipient:    "+15551234",
		Content:      "Your appointment is tomorrow.",
		ScheduledFor: time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if job.ID == "" || job.Status != JobPending {
		t.Fatalf("unexpected job: %+v", job)
	}

	canceled, err := msgr.Cancel(ctx, job.ID)
	if err != nil || !canceled {
		t.Fatalf("cancel: canceled=%v err=%v", canceled, err)
	}

	// A second cancel is a no-op, not an error.
	canceled, err = msgr.Cancel(ctx, job.ID)
	if err != nil || canceled {
		t.Fatalf("second cancel: canceled=%v err=%v", canceled, err)
	}

	msgr.DeliverDue(ctx)
	if len(adapter.sent()) != 0 {
		t.Fatalf("canceled job delivered")
	}

	got, err := queue.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != JobCanceled {
		t.Fatalf("expected canceled, got %s", got.Status)
	}
}

func TestCancelUnknownJob(t *testing.T) {
	msgr, _, _ := newTestMessenger(t)
	_, err := msgr.Cancel(context.Background(), "nope")
	if nexuserr.CodeOf(err) != nexuserr.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestScheduleUnknownChannel(t *testing.T) {
	msgr, _, _ := newTestMessenger(t)
	_, err := msgr.Schedule(context.Background(), ScheduleRequest{
		ProjectID: "proj_a", Channel: "carrier-pigeon", Recipient: "r", Content: "c",
	})
	if nexuserr.CodeOf(err) != nexuserr.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDeliverDueSendsOnlyDueJobs(t *testing.T) {
	msgr, queue, adapter := newTestMessenger(t)
	ctx := context.Background()

	due, err := msgr.Schedule(ctx, ScheduleRequest{
		ProjectID: "proj_a", Channel: "whatsapp", Recipient: "+1", Content: "now",
		ScheduledFor: time.Now().Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("schedule due: %v", err)
	}
	later, err := msgr.Schedule(ctx, ScheduleRequest{
		ProjectID: "proj_a", Channel: "whatsapp", Recipient: "+1", Content: "later",
		ScheduledFor: time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("schedule later: %v", err)
	}

	msgr.DeliverDue(ctx)

	sends := adapter.sent()
	if len(sends) != 1 || sends[0].Content != "now" {
		t.Fatalf("unexpected sends: %+v", sends)
	}

	gotDue, _ := queue.Get(ctx, due.ID)
	if gotDue.Status != JobSent || gotDue.SentAt == nil {
		t.Fatalf("due job not marked sent: %+v", gotDue)
	}
	gotLater, _ := queue.Get(ctx, later.ID)
	if gotLater.Status != JobPending {
		t.Fatalf("future job should stay pending: %+v", gotLater)
	}
}

func TestFailureRetriesThenDeadLetters(t *testing.T) {
	msgr, queue, adapter := newTestMessenger(t, WithRetryPolicy(2, 0))
	ctx := context.Background()
	adapter.errs = []error{errors.New("socket closed"), errors.New("socket closed")}

	job, err := msgr.Schedule(ctx, ScheduleRequest{
		ProjectID: "proj_a", Channel: "whatsapp", Recipient: "+1", Content: "hi",
		ScheduledFor: time.Now().Add(-time.Second),
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	msgr.DeliverDue(ctx)
	got, _ := queue.Get(ctx, job.ID)
	if got.Status != JobPending || got.Attempts != 1 || got.LastError == "" {
		t.Fatalf("after first failure: %+v", got)
	}

	msgr.DeliverDue(ctx)
	got, _ = queue.Get(ctx, job.ID)
	if got.Status != JobDead || got.Attempts != 2 {
		t.Fatalf("expected dead after attempt cap: %+v", got)
	}

	// Dead jobs are never retried.
	msgr.DeliverDue(ctx)
	if len(adapter.sent()) != 0 {
		t.Fatalf("dead job delivered")
	}
}

func TestRetryBackoffDefersJob(t *testing.T) {
	msgr, queue, adapter := newTestMessenger(t, WithRetryPolicy(3, time.Hour))
	ctx := context.Background()
	adapter.errs = []error{errors.New("rate limited")}

	job, err := msgr.Schedule(ctx, ScheduleRequest{
		ProjectID: "proj_a", Channel: "whatsapp", Recipient: "+1", Content: "hi",
		ScheduledFor: time.Now().Add(-time.Second),
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	msgr.DeliverDue(ctx)
	// The retry is an hour out, so a second pass sends nothing.
	msgr.DeliverDue(ctx)
	if len(adapter.sent()) != 0 {
		t.Fatalf("backoff ignored")
	}
	got, _ := queue.Get(ctx, job.ID)
	if got.Status != JobPending || !got.ScheduledFor.After(time.Now().Add(30*time.Minute)) {
		t.Fatalf("retry not deferred: %+v", got)
	}
}

func TestWorkerDeliversInBackground(t *testing.T) {
	msgr, _, adapter := newTestMessenger(t, WithPollInterval(10*time.Millisecond))
	ctx := context.Background()

	if _, err := msgr.Schedule(ctx, ScheduleRequest{
		ProjectID: "proj_a", Channel: "whatsapp", Recipient: "+1", Content: "ping",
		ScheduledFor: time.Now(),
	}); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	msgr.Start(ctx)
	defer msgr.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for len(adapter.sent()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("worker never delivered")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestListByProjectFiltersStatus(t *testing.T) {
	msgr, queue, _ := newTestMessenger(t)
	ctx := context.Background()

	a, _ := msgr.Schedule(ctx, ScheduleRequest{
		ProjectID: "proj_a", Channel: "whatsapp", Recipient: "+1", Content: "one",
		ScheduledFor: time.Now().Add(-time.Minute),
	})
	if _, err := msgr.Schedule(ctx, ScheduleRequest{
		ProjectID: "proj_a", Channel: "whatsapp", Recipient: "+1", Content: "two",
		ScheduledFor: time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if _, err := msgr.Schedule(ctx, ScheduleRequest{
		ProjectID: "proj_b", Channel: "whatsapp", Recipient: "+2", Content: "other",
		ScheduledFor: time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	msgr.DeliverDue(ctx)

	pending, err := queue.ListByProject(ctx, "proj_a", JobPending)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].Content != "two" {
		t.Fatalf("unexpected pending: %+v", pending)
	}

	all, err := queue.ListByProject(ctx, "proj_a", "")
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 jobs for proj_a, got %d", len(all))
	}
	sent, _ := queue.Get(ctx, a.ID)
	if sent.Status != JobSent {
		t.Fatalf("due job not sent: %+v", sent)
	}
}
