package workflow

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/switchyard-dev/switchyard/internal/fault"
	"github.com/switchyard-dev/switchyard/internal/models"
	"github.com/switchyard-dev/switchyard/internal/sequencer"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("raw handle: %v", err)
	}
	// One connection so :memory: stays one database under concurrency.
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.Session{}, &models.SessionEvent{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := db.Create(&models.Session{ID: "s-1", Status: models.SessionRunning}).Error; err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return db
}

func loadTestSession(t *testing.T, db *gorm.DB, id string) models.Session {
	t.Helper()
	var sess models.Session
	if err := db.Where("id = ?", id).First(&sess).Error; err != nil {
		t.Fatalf("load session %s: %v", id, err)
	}
	return sess
}

func TestReport_UpdatesStatusAndAppendsStateEvent(t *testing.T) {
	db := testDB(t)

	ev, err := Report(db, "s-1", models.WorkflowWorking, "implementing parser")
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if ev.Seq != 0 || ev.Type != models.EventState || ev.Direction != models.DirAgent {
		t.Errorf("event = seq %d %s/%s", ev.Seq, ev.Direction, ev.Type)
	}
	if !strings.Contains(ev.Payload, "implementing parser") {
		t.Errorf("payload = %q", ev.Payload)
	}

	sess := loadTestSession(t, db, "s-1")
	if sess.WorkflowStatus != models.WorkflowWorking {
		t.Errorf("workflow status = %q", sess.WorkflowStatus)
	}
	if sess.WorkflowMessage != "implementing parser" {
		t.Errorf("workflow message = %q", sess.WorkflowMessage)
	}
}

func TestReport_UnknownStatus(t *testing.T) {
	db := testDB(t)
	_, err := Report(db, "s-1", "cogitating", "")
	if !errors.Is(err, fault.ErrPreconditionFailed) {
		t.Errorf("err = %v, want ErrPreconditionFailed", err)
	}
}

func TestReport_UnknownSession(t *testing.T) {
	db := testDB(t)
	_, err := Report(db, "s-nope", models.WorkflowWorking, "")
	if !errors.Is(err, fault.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestReport_CompletedIsTerminal(t *testing.T) {
	db := testDB(t)
	if _, err := Report(db, "s-1", models.WorkflowCompleted, "done"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	_, err := Report(db, "s-1", models.WorkflowWorking, "again")
	if !errors.Is(err, fault.ErrPreconditionFailed) {
		t.Errorf("err = %v, want ErrPreconditionFailed", err)
	}
}

func TestReport_ClearsPendingInput(t *testing.T) {
	db := testDB(t)
	err := RequestInput(db, "s-1", InputRequest{
		Question: "Continue?", DefaultAction: "yes", Timeout: time.Hour,
	})
	if err != nil {
		t.Fatalf("RequestInput: %v", err)
	}

	if _, err := Report(db, "s-1", models.WorkflowWorking, "resumed"); err != nil {
		t.Fatalf("Report: %v", err)
	}

	sess := loadTestSession(t, db, "s-1")
	if sess.AwaitingQuestion != "" || sess.AwaitingExpiresAt != nil {
		t.Errorf("awaiting record not cleared: %q / %v", sess.AwaitingQuestion, sess.AwaitingExpiresAt)
	}
}

func TestRequestInput_SetsRecordWithDefaultTimeout(t *testing.T) {
	db := testDB(t)
	before := time.Now()

	err := RequestInput(db, "s-1", InputRequest{
		Question:      "Which migration strategy?",
		Options:       []string{"expand-contract", "big-bang"},
		DefaultAction: "expand-contract",
	})
	if err != nil {
		t.Fatalf("RequestInput: %v", err)
	}

	sess := loadTestSession(t, db, "s-1")
	if sess.WorkflowStatus != models.WorkflowAwaitingInput {
		t.Errorf("status = %q", sess.WorkflowStatus)
	}
	if sess.AwaitingExpiresAt == nil {
		t.Fatal("expiry not set")
	}
	remaining := sess.AwaitingExpiresAt.Sub(before)
	if remaining < 59*time.Minute || remaining > 61*time.Minute {
		t.Errorf("default expiry %v from now, want ~60m", remaining)
	}

	req, _, err := Pending(db, "s-1")
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if req == nil {
		t.Fatal("Pending returned nil")
	}
	if len(req.Options) != 2 || req.Options[0] != "expand-contract" {
		t.Errorf("options = %v", req.Options)
	}
	if req.DefaultAction != "expand-contract" {
		t.Errorf("default = %q", req.DefaultAction)
	}
}

func TestRequestInput_RejectedWhenCompleted(t *testing.T) {
	db := testDB(t)
	if _, err := Report(db, "s-1", models.WorkflowCompleted, ""); err != nil {
		t.Fatalf("complete: %v", err)
	}
	err := RequestInput(db, "s-1", InputRequest{Question: "Continue?"})
	if !errors.Is(err, fault.ErrPreconditionFailed) {
		t.Errorf("err = %v, want ErrPreconditionFailed", err)
	}
}

func TestResolve_OnlyFirstResolutionWins(t *testing.T) {
	db := testDB(t)
	err := RequestInput(db, "s-1", InputRequest{
		Question: "Merge now?", DefaultAction: "wait", Timeout: time.Hour,
	})
	if err != nil {
		t.Fatalf("RequestInput: %v", err)
	}

	if err := Resolve(db, "s-1", Resolution{Type: ResolutionHuman, Value: "yes"}); err != nil {
		t.Fatalf("first Resolve: %v", err)
	}

	err = Resolve(db, "s-1", Resolution{Type: ResolutionTimeout, Value: "wait"})
	if !errors.Is(err, fault.ErrConflict) {
		t.Errorf("second Resolve err = %v, want ErrConflict", err)
	}

	sess := loadTestSession(t, db, "s-1")
	if sess.AwaitingQuestion != "" || sess.AwaitingExpiresAt != nil {
		t.Errorf("awaiting record not cleared: %q / %v", sess.AwaitingQuestion, sess.AwaitingExpiresAt)
	}
}

func TestResolve_ConcurrentCallsAcceptExactlyOne(t *testing.T) {
	db := testDB(t)
	err := RequestInput(db, "s-1", InputRequest{
		Question: "Proceed?", DefaultAction: "no", Timeout: time.Hour,
	})
	if err != nil {
		t.Fatalf("RequestInput: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = Resolve(db, "s-1", Resolution{Type: ResolutionHuman, Value: "yes"})
		}(i)
	}
	wg.Wait()

	accepted := 0
	for i, err := range errs {
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, fault.ErrConflict):
		default:
			t.Errorf("Resolve[%d]: %v", i, err)
		}
	}
	if accepted != 1 {
		t.Errorf("accepted = %d, want exactly 1", accepted)
	}
}

func TestResolve_TimeoutAppendsSystemEvent(t *testing.T) {
	db := testDB(t)
	err := RequestInput(db, "s-1", InputRequest{
		Question: "Deploy?", DefaultAction: "abort", Timeout: time.Hour,
	})
	if err != nil {
		t.Fatalf("RequestInput: %v", err)
	}

	if err := Resolve(db, "s-1", Resolution{Type: ResolutionTimeout, Value: "abort"}); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	events, err := sequencer.Read(db, "s-1", sequencer.ReadOpts{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Direction != models.DirSystem || ev.Type != models.EventState {
		t.Errorf("event = %s/%s", ev.Direction, ev.Type)
	}
	if !strings.Contains(ev.Payload, "input_timeout") || !strings.Contains(ev.Payload, "abort") {
		t.Errorf("payload = %q", ev.Payload)
	}
}

func TestSweepExpired_ResolvesOnlyPastDue(t *testing.T) {
	db := testDB(t)
	for _, id := range []string{"s-2", "s-3"} {
		if err := db.Create(&models.Session{ID: id, Status: models.SessionRunning}).Error; err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}

	// s-1 expired, s-2 still open, s-3 never asked.
	if err := RequestInput(db, "s-1", InputRequest{
		Question: "Retry?", DefaultAction: "skip", Timeout: time.Millisecond,
	}); err != nil {
		t.Fatalf("RequestInput s-1: %v", err)
	}
	if err := RequestInput(db, "s-2", InputRequest{
		Question: "Retry?", DefaultAction: "skip", Timeout: time.Hour,
	}); err != nil {
		t.Fatalf("RequestInput s-2: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	n, err := SweepExpired(db, time.Now())
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if n != 1 {
		t.Errorf("resolved = %d, want 1", n)
	}

	if sess := loadTestSession(t, db, "s-1"); sess.AwaitingExpiresAt != nil {
		t.Error("s-1 still pending after sweep")
	}
	if sess := loadTestSession(t, db, "s-2"); sess.AwaitingExpiresAt == nil {
		t.Error("s-2 resolved early")
	}

	events, _ := sequencer.Read(db, "s-1", sequencer.ReadOpts{})
	if len(events) != 1 || !strings.Contains(events[0].Payload, "skip") {
		t.Errorf("timeout event missing or wrong: %+v", events)
	}

	// A second sweep finds nothing.
	n, err = SweepExpired(db, time.Now())
	if err != nil || n != 0 {
		t.Errorf("second sweep = %d, %v; want 0, nil", n, err)
	}
}

func TestWorkflow_HappyPathSequencing(t *testing.T) {
	db := testDB(t)

	for _, item := range []struct{ dir, typ, payload string }{
		{models.DirClient, models.EventInput, `{"text":"build the parser"}`},
		{models.DirAgent, models.EventOutputChunk, `{"text":"working on it"}`},
		{models.DirAgent, models.EventMessageFinal, `{"text":"parser done"}`},
	} {
		if _, err := sequencer.Append(db, "s-1", item.dir, item.typ, item.payload); err != nil {
			t.Fatalf("append %s: %v", item.typ, err)
		}
	}

	if _, err := Report(db, "s-1", models.WorkflowWorking, "building"); err != nil {
		t.Fatalf("report working: %v", err)
	}
	if err := RequestInput(db, "s-1", InputRequest{
		Question: "Ship it?", Options: []string{"Yes", "No"}, DefaultAction: "Yes",
	}); err != nil {
		t.Fatalf("request input: %v", err)
	}
	if err := Resolve(db, "s-1", Resolution{Type: ResolutionHuman, Value: "Yes"}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := Report(db, "s-1", models.WorkflowCompleted, "shipped"); err != nil {
		t.Fatalf("report completed: %v", err)
	}

	sess := loadTestSession(t, db, "s-1")
	if sess.NextSeq != 5 {
		t.Errorf("next seq = %d, want 5 (3 data + 2 state events)", sess.NextSeq)
	}
	if sess.WorkflowStatus != models.WorkflowCompleted {
		t.Errorf("workflow status = %q", sess.WorkflowStatus)
	}

	events, err := sequencer.Read(db, "s-1", sequencer.ReadOpts{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(events) != 5 {
		t.Fatalf("got %d events, want 5", len(events))
	}
	for i, ev := range events {
		if ev.Seq != int64(i) {
			t.Errorf("event[%d].Seq = %d", i, ev.Seq)
		}
	}
	if events[3].Type != models.EventState || events[4].Type != models.EventState {
		t.Errorf("tail events = %s, %s; want state, state", events[3].Type, events[4].Type)
	}
}
