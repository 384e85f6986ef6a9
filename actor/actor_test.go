package actor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testMsg struct {
	value int
	stop  bool
}

func TestSendRecvOrder(t *testing.T) {
	ctx := context.Background()

	h, rx := NewMailbox(testMsg{stop: true}, 10)

	for i := 0; i < 5; i++ {
		require.NoError(t, h.Send(ctx, testMsg{value: i}))
	}

	for i := 0; i < 5; i++ {
		msg, ok := rx.Recv(ctx)
		require.True(t, ok)
		assert.Equal(t, i, msg.value)
	}
}

func TestStopDrainsAcceptedMessages(t *testing.T) {
	ctx := context.Background()

	h, rx := NewMailbox(testMsg{stop: true}, 10)

	var got []int
	task := Go(func() error {
		for {
			msg, ok := rx.Recv(ctx)
			if !ok {
				return nil
			}
			if msg.stop {
				rx.Close()
				continue
			}
			got = append(got, msg.value)
		}
	})

	for i := 0; i < 3; i++ {
		require.NoError(t, h.Send(ctx, testMsg{value: i}))
	}
	h.Stop(ctx)

	require.NoError(t, task.Join(ctx))
	assert.Equal(t, []int{0, 1, 2}, got)
}

func TestSendAfterCloseFails(t *testing.T) {
	ctx := context.Background()

	h, rx := NewMailbox(testMsg{stop: true}, 1)
	rx.Close()

	err := h.Send(ctx, testMsg{value: 42})
	assert.ErrorIs(t, err, ErrMailboxClosed)

	// Stop on a closed mailbox is a no-op, not an error.
	h.Stop(ctx)
}

func TestStopIdempotent(t *testing.T) {
	ctx := context.Background()

	h, rx := NewMailbox(testMsg{stop: true}, 10)

	task := Go(func() error {
		for {
			msg, ok := rx.Recv(ctx)
			if !ok {
				return nil
			}
			if msg.stop {
				rx.Close()
			}
		}
	})

	h.Stop(ctx)
	h.Stop(ctx)
	h.Stop(ctx)

	require.NoError(t, task.Join(ctx))
}

func TestSendBlocksUntilAccepted(t *testing.T) {
	ctx := context.Background()

	h, rx := NewMailbox(testMsg{stop: true}, 1)
	require.NoError(t, h.Send(ctx, testMsg{value: 1}))

	// Mailbox is full; the next send must wait for the consumer.
	done := make(chan error, 1)
	go func() {
		done <- h.Send(ctx, testMsg{value: 2})
	}()

	select {
	case <-done:
		t.Fatal("send completed on a full mailbox")
	case <-time.After(20 * time.Millisecond):
	}

	msg, ok := rx.Recv(ctx)
	require.True(t, ok)
	assert.Equal(t, 1, msg.value)
	require.NoError(t, <-done)
}

func TestAcceptedSendsSurviveClose(t *testing.T) {
	ctx := context.Background()

	// Every Send that returns nil must be received, even when the send
	// races the close of the mailbox.
	for iter := 0; iter < 200; iter++ {
		h, rx := NewMailbox(testMsg{stop: true}, 2)

		var accepted atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func(v int) {
				defer wg.Done()
				if h.Send(ctx, testMsg{value: v}) == nil {
					accepted.Add(1)
				}
			}(i)
		}

		var received int32
		task := Go(func() error {
			for {
				msg, ok := rx.Recv(ctx)
				if !ok {
					return nil
				}
				if msg.stop {
					rx.Close()
					continue
				}
				received++
			}
		})

		h.Stop(ctx)
		wg.Wait()
		require.NoError(t, task.Join(ctx))
		require.Equal(t, accepted.Load(), received)
	}
}

func TestSendHonorsContext(t *testing.T) {
	h, _ := NewMailbox(testMsg{stop: true}, 1)
	require.NoError(t, h.Send(context.Background(), testMsg{value: 1}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := h.Send(ctx, testMsg{value: 2})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTaskJoin(t *testing.T) {
	ctx := context.Background()

	task := Go(func() error { return nil })
	require.NoError(t, task.Join(ctx))
	assert.NoError(t, task.Err())

	boom := errors.New("boom")
	task = Go(func() error { return boom })
	assert.ErrorIs(t, task.Join(ctx), boom)
}

func TestTaskRecoversPanic(t *testing.T) {
	task := Go(func() error { panic("kaboom") })

	err := task.Join(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}
