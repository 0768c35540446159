package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	fetched   int
	committed []int64
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if len(f.queue) > 0 {
		msg := f.queue[0]
		f.queue = f.queue[1:]
		f.fetched++
		f.mu.Unlock()
		return msg, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, msg := range msgs {
		f.committed = append(f.committed, msg.Offset)
	}
	return nil
}

func (f *fakeReader) Config() kafka.ReaderConfig {
	return kafka.ReaderConfig{Topic: "invoice-commands"}
}

func (f *fakeReader) Close() error { return nil }

func (f *fakeReader) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetched
}

func TestStartConsumingRetriesFailedMessageBeforeMovingOn(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{{Offset: 0}, {Offset: 1}}}
	consumer := newConsumer(reader, time.Millisecond, 4*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var handled []int64
	failures := 0
	err := consumer.StartConsuming(ctx, func(ctx context.Context, msg kafka.Message) error {
		handled = append(handled, msg.Offset)
		if msg.Offset == 0 {
			assert.Equal(t, 1, reader.fetchCount(), "next message fetched before retry finished")
			assert.Empty(t, reader.committed)
			if failures < 2 {
				failures++
				return errors.New("db down")
			}
			return nil
		}
		cancel()
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []int64{0, 0, 0, 1}, handled)
	assert.Equal(t, []int64{0, 1}, reader.committed)
}

func TestStartConsumingNeverCommitsUnhandledMessage(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{{Offset: 5}, {Offset: 6}}}
	consumer := newConsumer(reader, time.Millisecond, 2*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	attempts := 0
	err := consumer.StartConsuming(ctx, func(ctx context.Context, msg kafka.Message) error {
		require.Equal(t, int64(5), msg.Offset)
		attempts++
		return errors.New("lock busy")
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Greater(t, attempts, 1)
	assert.Empty(t, reader.committed)
	assert.Equal(t, 1, reader.fetchCount())
}

func TestNextBackoff(t *testing.T) {
	base, max := time.Second, 4*time.Second

	assert.Equal(t, time.Second, nextBackoff(0, base, max))
	assert.Equal(t, 2*time.Second, nextBackoff(time.Second, base, max))
	assert.Equal(t, 4*time.Second, nextBackoff(2*time.Second, base, max))
	assert.Equal(t, 4*time.Second, nextBackoff(4*time.Second, base, max))
}
