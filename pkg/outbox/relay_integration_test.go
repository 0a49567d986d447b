//go:build integration

package outbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

type stubDispatcher struct {
	failTopic string
	calls     []DispatchedMessage
}

func (d *stubDispatcher) Dispatch(_ context.Context, msg DispatchedMessage) error {
	d.calls = append(d.calls, msg)
	if msg.Meta.Topic == d.failTopic {
		return errors.New("poison")
	}
	return nil
}

func TestRelay_Integration_PoisonMessageDoesNotBlock(t *testing.T) {
	dsn := os.Getenv("OUTBOX_TEST_DSN")
	if dsn == "" {
		t.Skip("OUTBOX_TEST_DSN is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()

	tableName := "outbox_it_" + uuid.NewString()[:8]
	table, err := ParseIdentifier("public." + tableName)
	require.NoError(t, err)

	_, err = pool.Exec(ctx, fmt.Sprintf(`
CREATE TABLE %s (
  id           UUID        PRIMARY KEY DEFAULT gen_random_uuid(),
  topic        TEXT        NOT NULL,
  event_id     UUID        NOT NULL UNIQUE,
  aggregate_id UUID        NOT NULL,
  payload      JSONB       NOT NULL,
  trace_parent TEXT        NULL,
  sequence     BIGSERIAL   NOT NULL,
  created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
  published_at TIMESTAMPTZ NULL,
  attempts     INT         NOT NULL DEFAULT 0 CHECK (attempts >= 0),
  available_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  locked_at    TIMESTAMPTZ NULL,
  last_error   TEXT        NULL
)`, table.Sanitize()))
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), fmt.Sprintf("DROP TABLE IF EXISTS %s", table.Sanitize()))
	})

	p := NewPublisher()
	aggregate := uuid.New()
	failTopic, okTopic := "test.fail.v1", "test.ok.v1"
	eventFail, eventOK := uuid.New(), uuid.New()

	tx, err := pool.Begin(ctx)
	require.NoError(t, err)
	_, err = p.Enqueue(ctx, tx, table, Message{Topic: failTopic, EventID: eventFail, AggregateID: aggregate, Payload: []byte(`{"x":1}`)})
	require.NoError(t, err)
	_, err = p.Enqueue(ctx, tx, table, Message{Topic: okTopic, EventID: eventOK, AggregateID: aggregate, Payload: []byte(`{"y":2}`)})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	t.Run("enqueue is idempotent by event_id", func(t *testing.T) {
		tx, err := pool.Begin(ctx)
		require.NoError(t, err)
		defer func() { _ = tx.Rollback(ctx) }()

		msg := Message{Topic: okTopic, EventID: uuid.New(), AggregateID: aggregate, Payload: []byte(`{"z":3}`)}
		seq1, err := p.Enqueue(ctx, tx, table, msg)
		require.NoError(t, err)
		seq2, err := p.Enqueue(ctx, tx, table, msg)
		require.NoError(t, err)
		require.Equal(t, seq1, seq2)
	})

	dispatcher := &stubDispatcher{failTopic: failTopic}
	relay, err := NewRelay(pool, table, dispatcher, RelayOptions{
		PollInterval:           10 * time.Millisecond,
		BatchSize:              10,
		LockTTL:                time.Second,
		MaxAttempts:            1,
		LastErrorMaxLen:        1024,
		ObserveQueueDepthEvery: time.Hour,
	})
	require.NoError(t, err)
	require.NoError(t, relay.ProcessOnce(ctx, nil))
	require.Len(t, dispatcher.calls, 2)
	require.Equal(t, aggregate, dispatcher.calls[0].Meta.AggregateID)

	var publishedOK bool
	require.NoError(t, pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT published_at IS NOT NULL FROM %s WHERE event_id=$1`, table.Sanitize()), eventOK,
	).Scan(&publishedOK))
	require.True(t, publishedOK)

	var attempts int
	var lastErr *string
	require.NoError(t, pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT attempts, last_error FROM %s WHERE event_id=$1`, table.Sanitize()), eventFail,
	).Scan(&attempts, &lastErr))
	require.Equal(t, 1, attempts)
	require.NotNil(t, lastErr)
	require.Equal(t, "poison", *lastErr)

	// A second tick must not pick up the dead message again.
	require.NoError(t, relay.ProcessOnce(ctx, nil))
	require.Len(t, dispatcher.calls, 2)
}
