package supervisor

import (
	"bytes"
	"context"
	"log"
	"sync"
	"time"

	"github.com/switchyard-dev/switchyard/internal/models"
	"github.com/switchyard-dev/switchyard/internal/sequencer"
	"gorm.io/gorm"
)

// eventFlusher buffers raw agent output and periodically appends it to the
// session history as coalesced output_chunk events, so history stays durable
// without one row per PTY read.
type eventFlusher struct {
	sessionID string

	mu       sync.Mutex
	buf      bytes.Buffer
	appendFn func(payload any) error
}

func newEventFlusher(db *gorm.DB, sessionID string) *eventFlusher {
	return &eventFlusher{
		sessionID: sessionID,
		appendFn: func(payload any) error {
			_, err := sequencer.Append(db, sessionID, models.DirAgent, models.EventOutputChunk, payload)
			return err
		},
	}
}

// Write appends bytes to the internal buffer.
func (f *eventFlusher) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buf.Write(p)
}

// Flush appends accumulated output as one event and resets the buffer.
func (f *eventFlusher) Flush() error {
	f.mu.Lock()
	if f.buf.Len() == 0 {
		f.mu.Unlock()
		return nil
	}
	content := f.buf.String()
	f.buf.Reset()
	f.mu.Unlock()

	return f.appendFn(map[string]string{"text": content})
}

// Close performs a final flush.
func (f *eventFlusher) Close() error {
	return f.Flush()
}

// startFlusher launches a goroutine that periodically flushes the buffer.
func startFlusher(ctx context.Context, f *eventFlusher, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := f.Flush(); err != nil {
					log.Printf("supervisor: flush output for %s: %v", f.sessionID, err)
				}
			}
		}
	}()
}
