package server

import (
	"context"
	"sync"
	"time"

	"github.com/npezzotti/go-whiteboard/internal/database"
	"github.com/npezzotti/go-whiteboard/internal/logger"
)

type presenceWrite struct {
	userId string
	fields database.ParticipantUpdate
	// done receives the store result when set. It must be buffered.
	done chan error
}

// presenceWriter applies a room's participant presence writes to the store
// one at a time, in the order they were enqueued. A writer replacing one for
// the same room waits for its predecessor to drain first.
type presenceWriter struct {
	roomId  string
	db      database.ParticipantStore
	log     *logger.Logger
	timeout time.Duration

	mu     sync.Mutex
	queue  []*presenceWrite
	closed bool
	notify chan struct{}

	after  <-chan struct{}
	exited chan struct{}
}

func newPresenceWriter(roomId string, db database.ParticipantStore, l *logger.Logger, timeout time.Duration, prev *presenceWriter) *presenceWriter {
	w := &presenceWriter{
		roomId:  roomId,
		db:      db,
		log:     l,
		timeout: timeout,
		notify:  make(chan struct{}, 1),
		exited:  make(chan struct{}),
	}
	if prev != nil {
		w.after = prev.exited
	}

	return w
}

func (w *presenceWriter) enqueue(pw *presenceWrite) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		if pw.done != nil {
			pw.done <- errWriterClosed
		}
		return
	}
	w.queue = append(w.queue, pw)
	w.mu.Unlock()

	w.wake()
}

// close stops the writer once everything already enqueued has been applied.
func (w *presenceWriter) close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	w.wake()
}

func (w *presenceWriter) wake() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

func (w *presenceWriter) run() {
	defer close(w.exited)

	if w.after != nil {
		<-w.after
	}

	for {
		w.mu.Lock()
		batch := w.queue
		w.queue = nil
		closed := w.closed
		w.mu.Unlock()

		for _, pw := range batch {
			err := w.apply(pw)
			if pw.done != nil {
				pw.done <- err
			} else if err != nil {
				w.log.Error("presence write for user %q in room %q: %v", pw.userId, w.roomId, err)
			}
		}

		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-w.notify
	}
}

func (w *presenceWriter) apply(pw *presenceWrite) error {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	return w.db.UpsertParticipant(ctx, w.roomId, pw.userId, pw.fields)
}
