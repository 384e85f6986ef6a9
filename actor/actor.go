// Package actor provides the mailbox, handle and task contract shared
// by every long-running component of the control plane.
//
// An actor is a goroutine consuming exactly one Receiver. Two ordering
// rules hold:
//
//  1. The send of a message happens before its receipt by the actor.
//  2. Messages from a single sender are received in send order.
//
// Each actor's message type carries a distinguished stop value. Stop
// closes the mailbox for new sends; messages accepted before the close
// are still delivered, so an actor that keeps receiving until Recv
// reports false drains its mailbox completely before exiting.
package actor

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrMailboxClosed is returned by Send when the target actor has
// stopped accepting messages.
var ErrMailboxClosed = errors.New("actor: mailbox closed")

// DefaultMailboxSize is the mailbox capacity used when no explicit
// capacity is given.
const DefaultMailboxSize = 10

// mailbox is the shared state between a Handle and its Receiver.
type mailbox[M any] struct {
	ch   chan M
	slot chan struct{}

	// mu orders message commits against the close: offer commits under
	// the read lock, close flips under the write lock. A message is
	// therefore either in the buffer before the close (and drained) or
	// rejected, never accepted into a mailbox nobody reads anymore.
	mu        sync.RWMutex
	closeOnce sync.Once
	closed    chan struct{}
}

func (mb *mailbox[M]) close() {
	mb.closeOnce.Do(func() {
		mb.mu.Lock()
		close(mb.closed)
		mb.mu.Unlock()
	})
}

func (mb *mailbox[M]) isClosed() bool {
	select {
	case <-mb.closed:
		return true
	default:
		return false
	}
}

// offer commits msg if the buffer has room. It reports whether the
// commit happened; a closed mailbox is an error.
func (mb *mailbox[M]) offer(msg M) (bool, error) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.isClosed() {
		return false, ErrMailboxClosed
	}
	select {
	case mb.ch <- msg:
		return true, nil
	default:
		return false, nil
	}
}

// freeSlot wakes one sender parked on a full mailbox.
func (mb *mailbox[M]) freeSlot() {
	select {
	case mb.slot <- struct{}{}:
	default:
	}
}

// Handle is the send endpoint of one actor plus the authority to
// request its graceful stop. Handles are cheap to copy and safe for
// concurrent use; the authority to stop belongs to whoever holds the
// handle in a registry.
type Handle[M any] struct {
	mb   *mailbox[M]
	stop M
}

// NewMailbox creates a connected Handle/Receiver pair. stop is the
// distinguished message Handle.Stop enqueues; the consuming loop must
// recognize it and call Receiver.Close. capacity <= 0 selects
// DefaultMailboxSize.
func NewMailbox[M any](stop M, capacity int) (*Handle[M], *Receiver[M]) {
	if capacity <= 0 {
		capacity = DefaultMailboxSize
	}
	mb := &mailbox[M]{
		ch:     make(chan M, capacity),
		slot:   make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
	return &Handle[M]{mb: mb, stop: stop}, &Receiver[M]{mb: mb}
}

// Send delivers msg to the actor's mailbox, blocking while the mailbox
// is full. It returns ErrMailboxClosed once the actor has stopped
// accepting messages and ctx.Err() if the context ends first. A nil
// return means the message was accepted and will be received.
func (h *Handle[M]) Send(ctx context.Context, msg M) error {
	for {
		committed, err := h.mb.offer(msg)
		if err != nil {
			return err
		}
		if committed {
			return nil
		}
		// Mailbox full. Wait for a freed slot and retry the commit; the
		// commit itself only ever happens inside offer.
		select {
		case <-h.mb.slot:
		case <-h.mb.closed:
			return ErrMailboxClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stop enqueues the actor's distinguished stop message. Stopping an
// already-stopped actor is a no-op.
func (h *Handle[M]) Stop(ctx context.Context) {
	// The stop message travels through the mailbox like any other, so
	// it queues behind work the actor already accepted.
	_ = h.Send(ctx, h.stop)
}

// Receiver is the consuming side of a mailbox. It must be used by a
// single goroutine, the actor's processing loop.
type Receiver[M any] struct {
	mb *mailbox[M]
}

// Recv returns the next message. After Close it keeps returning
// already-accepted messages until the mailbox is empty, then reports
// false. It also reports false when ctx ends first.
func (r *Receiver[M]) Recv(ctx context.Context) (M, bool) {
	var zero M
	select {
	case msg := <-r.mb.ch:
		r.mb.freeSlot()
		return msg, true
	case <-r.mb.closed:
		// Drain whatever was accepted before the close.
		select {
		case msg := <-r.mb.ch:
			r.mb.freeSlot()
			return msg, true
		default:
			return zero, false
		}
	case <-ctx.Done():
		return zero, false
	}
}

// Close stops the mailbox from accepting new sends. Messages already
// accepted remain receivable. Idempotent.
func (r *Receiver[M]) Close() {
	r.mb.close()
}

// C exposes the raw message channel for actors that multiplex their
// mailbox with tickers or other channels in a select loop. Such actors
// must still honor Close/drain semantics themselves; receipts from C
// skip the slot wakeup, so senders parked on a full mailbox are only
// released by the close.
func (r *Receiver[M]) C() <-chan M {
	return r.mb.ch
}

// Closed is closed once the mailbox stops accepting new sends.
func (r *Receiver[M]) Closed() <-chan struct{} {
	return r.mb.closed
}

// Task is the join handle of one actor's processing goroutine.
type Task struct {
	done chan struct{}
	err  error
}

// Go runs fn on its own goroutine and returns its Task. A panic inside
// fn is recovered and surfaced as the task error, so a supervisor can
// observe it instead of the process crashing.
func Go(fn func() error) *Task {
	t := &Task{done: make(chan struct{})}
	go func() {
		defer close(t.done)
		defer func() {
			if r := recover(); r != nil {
				t.err = fmt.Errorf("actor: task panicked: %v", r)
			}
		}()
		t.err = fn()
	}()
	return t
}

// Done is closed when the task's goroutine has fully exited.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Join blocks until the task exits and returns its error, or returns
// ctx.Err() if the context ends first.
func (t *Task) Join(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the task's error. Only valid after Done is closed.
func (t *Task) Err() error {
	return t.err
}

// Stopper is the type-erased stop authority of an actor handle, used
// where handles of different message types are tracked together.
type Stopper interface {
	Stop(ctx context.Context)
}

// Compile time check that handles are Stoppers.
var _ Stopper = (*Handle[struct{}])(nil)
