package sequencer

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	swydb "github.com/switchyard-dev/switchyard/internal/db"
	"github.com/switchyard-dev/switchyard/internal/fault"
	"github.com/switchyard-dev/switchyard/internal/models"
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
	return db
}

// fileDB opens a file-backed database through the production connector, so
// appends contend over a real connection pool instead of the single pinned
// :memory: connection.
func fileDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := swydb.Connect(swydb.Options{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "sequencer.db"),
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := db.AutoMigrate(&models.Session{}, &models.SessionEvent{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedSession(t *testing.T, db *gorm.DB, id string) {
	t.Helper()
	if err := db.Create(&models.Session{ID: id, Status: models.SessionRunning}).Error; err != nil {
		t.Fatalf("seed session: %v", err)
	}
}

func nextSeq(t *testing.T, db *gorm.DB, id string) int64 {
	t.Helper()
	var sess models.Session
	if err := db.Where("id = ?", id).First(&sess).Error; err != nil {
		t.Fatalf("load session: %v", err)
	}
	return sess.NextSeq
}

func TestAppend_StampsSequentially(t *testing.T) {
	db := testDB(t)
	seedSession(t, db, "s-1")

	for want := int64(0); want < 5; want++ {
		ev, err := Append(db, "s-1", models.DirClient, models.EventInput, map[string]string{"text": "hi"})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		if ev.Seq != want {
			t.Errorf("seq = %d, want %d", ev.Seq, want)
		}
	}
	if got := nextSeq(t, db, "s-1"); got != 5 {
		t.Errorf("next_seq = %d, want 5", got)
	}
}

func TestAppend_UnknownSession(t *testing.T) {
	db := testDB(t)
	_, err := Append(db, "nope", models.DirClient, models.EventInput, nil)
	if !errors.Is(err, fault.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestAppend_InterleavedProducers(t *testing.T) {
	db := testDB(t)
	seedSession(t, db, "s-1")

	// Two producers alternating appends must still observe unique,
	// gapless sequence numbers.
	producers := []struct {
		direction string
		eventType string
	}{
		{models.DirClient, models.EventInput},
		{models.DirAgent, models.EventOutputChunk},
	}
	for i := 0; i < 10; i++ {
		p := producers[i%2]
		if _, err := Append(db, "s-1", p.direction, p.eventType, nil); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	events, err := Read(db, "s-1", ReadOpts{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(events) != 10 {
		t.Fatalf("got %d events, want 10", len(events))
	}
	seen := make(map[int64]bool)
	var max int64 = -1
	for _, ev := range events {
		if seen[ev.Seq] {
			t.Fatalf("duplicate seq %d", ev.Seq)
		}
		seen[ev.Seq] = true
		if ev.Seq > max {
			max = ev.Seq
		}
	}
	if got := nextSeq(t, db, "s-1"); got != max+1 {
		t.Errorf("next_seq = %d, want max(seq)+1 = %d", got, max+1)
	}
}

func TestAppend_ConcurrentProducersLoseNothing(t *testing.T) {
	db := fileDB(t)
	seedSession(t, db, "s-1")

	// A client-input writer and an output flusher racing on the same
	// session: every append must land, with unique gapless seqs.
	const producers = 2
	const perProducer = 20

	var wg sync.WaitGroup
	errCh := make(chan error, producers*perProducer)
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			direction := models.DirClient
			eventType := models.EventInput
			if p%2 == 1 {
				direction = models.DirAgent
				eventType = models.EventOutputChunk
			}
			for i := 0; i < perProducer; i++ {
				if _, err := Append(db, "s-1", direction, eventType, fmt.Sprintf("msg-%d-%d", p, i)); err != nil {
					errCh <- err
				}
			}
		}(p)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Errorf("Append: %v", err)
	}

	events, err := Read(db, "s-1", ReadOpts{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	const total = producers * perProducer
	if len(events) != total {
		t.Fatalf("got %d events, want %d", len(events), total)
	}
	for i, ev := range events {
		if ev.Seq != int64(i) {
			t.Fatalf("events[%d].Seq = %d, want %d", i, ev.Seq, i)
		}
	}
	if got := nextSeq(t, db, "s-1"); got != total {
		t.Errorf("next_seq = %d, want %d", got, total)
	}
}

func TestAppendBatch_AdvancesOnce(t *testing.T) {
	db := testDB(t)
	seedSession(t, db, "s-1")

	first, err := ReserveBlock(db, "s-1", 3)
	if err != nil {
		t.Fatalf("ReserveBlock: %v", err)
	}
	if first != 0 {
		t.Errorf("first = %d, want 0", first)
	}

	items := []Item{
		{Seq: first, Direction: models.DirAgent, Type: models.EventOutputChunk, Payload: "a"},
		{Seq: first + 1, Direction: models.DirAgent, Type: models.EventOutputChunk, Payload: "b"},
		{Seq: first + 2, Direction: models.DirAgent, Type: models.EventMessageFinal, Payload: "done"},
	}
	events, err := AppendBatch(db, "s-1", items)
	if err != nil {
		t.Fatalf("AppendBatch: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if got := nextSeq(t, db, "s-1"); got != 3 {
		t.Errorf("next_seq = %d, want 3", got)
	}
}

func TestAppendBatch_AllOrNothing(t *testing.T) {
	db := testDB(t)
	seedSession(t, db, "s-1")

	// Occupy seq 1 so the batch collides mid-way.
	if _, err := AppendBatch(db, "s-1", []Item{{Seq: 1, Direction: models.DirAgent, Type: models.EventOutputChunk}}); err != nil {
		t.Fatalf("seed batch: %v", err)
	}

	_, err := AppendBatch(db, "s-1", []Item{
		{Seq: 0, Direction: models.DirAgent, Type: models.EventOutputChunk},
		{Seq: 1, Direction: models.DirAgent, Type: models.EventOutputChunk},
	})
	if err == nil {
		t.Fatal("expected unique violation")
	}

	// The non-colliding event must not have been committed.
	events, err := Read(db, "s-1", ReadOpts{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(events) != 1 || events[0].Seq != 1 {
		t.Errorf("events after failed batch = %+v", events)
	}
}

func TestAppendBatch_DuplicateSubmissionIdempotentCounter(t *testing.T) {
	db := testDB(t)
	seedSession(t, db, "s-1")

	items := []Item{{Seq: 0, Direction: models.DirAgent, Type: models.EventOutputChunk}}
	if _, err := AppendBatch(db, "s-1", items); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	// Retried submission fails on the unique index but must not move the
	// counter backwards.
	AppendBatch(db, "s-1", items)
	if got := nextSeq(t, db, "s-1"); got != 1 {
		t.Errorf("next_seq = %d, want 1", got)
	}
}

func TestReserveBlock_Contiguous(t *testing.T) {
	db := testDB(t)
	seedSession(t, db, "s-1")

	a, err := ReserveBlock(db, "s-1", 4)
	if err != nil {
		t.Fatalf("ReserveBlock: %v", err)
	}
	b, err := ReserveBlock(db, "s-1", 2)
	if err != nil {
		t.Fatalf("ReserveBlock: %v", err)
	}
	if a != 0 || b != 4 {
		t.Errorf("blocks = %d, %d; want 0, 4", a, b)
	}
}

func TestReserveBlock_ConcurrentReservationsDisjoint(t *testing.T) {
	db := fileDB(t)
	seedSession(t, db, "s-1")

	const reservers = 8
	const size = 5

	var wg sync.WaitGroup
	firsts := make(chan int64, reservers)
	for i := 0; i < reservers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			first, err := ReserveBlock(db, "s-1", size)
			if err != nil {
				t.Errorf("ReserveBlock: %v", err)
				return
			}
			firsts <- first
		}()
	}
	wg.Wait()
	close(firsts)

	// Serialized allocation hands out exactly 0, size, 2*size, ...
	got := make([]int64, 0, reservers)
	for first := range firsts {
		got = append(got, first)
	}
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	for i, first := range got {
		if first != int64(i*size) {
			t.Fatalf("sorted firsts[%d] = %d, want %d (blocks overlap)", i, first, i*size)
		}
	}
	if got := nextSeq(t, db, "s-1"); got != reservers*size {
		t.Errorf("next_seq = %d, want %d", got, reservers*size)
	}
}

func TestRead_Windowing(t *testing.T) {
	db := testDB(t)
	seedSession(t, db, "s-1")
	for i := 0; i < 8; i++ {
		if _, err := Append(db, "s-1", models.DirAgent, models.EventOutputChunk, fmt.Sprintf("chunk-%d", i)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	from := int64(2)
	to := int64(6)
	events, err := Read(db, "s-1", ReadOpts{FromSeq: &from, ToSeq: &to, Limit: 3})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	// FromSeq is exclusive.
	if events[0].Seq != 3 || events[2].Seq != 5 {
		t.Errorf("window = [%d..%d], want [3..5]", events[0].Seq, events[2].Seq)
	}
}

func TestRead_CrossSessionIsolation(t *testing.T) {
	db := testDB(t)
	seedSession(t, db, "s-1")
	seedSession(t, db, "s-2")

	Append(db, "s-1", models.DirClient, models.EventInput, nil)
	Append(db, "s-2", models.DirClient, models.EventInput, nil)

	events, err := Read(db, "s-1", ReadOpts{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(events) != 1 || events[0].SessionID != "s-1" {
		t.Errorf("events = %+v", events)
	}
}
