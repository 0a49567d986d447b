package outbox

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// Relay polls one outbox table and hands claimed rows to a Dispatcher.
// With SingleActive set only the holder of the table's advisory lock relays.
type Relay struct {
	pool       *pgxpool.Pool
	table      pgx.Identifier
	dispatcher Dispatcher
	opts       RelayOptions

	lockKey int64

	m          *metrics
	tableLabel string
}

func NewRelay(pool *pgxpool.Pool, table pgx.Identifier, dispatcher Dispatcher, opts RelayOptions) (*Relay, error) {
	if pool == nil {
		return nil, invalidConfig("pool is required")
	}
	if len(table) == 0 {
		return nil, invalidConfig("table is required")
	}
	if dispatcher == nil {
		return nil, invalidConfig("dispatcher is required")
	}

	opts.setDefaults()
	label := TableLabel(table)
	return &Relay{
		pool:       pool,
		table:      table,
		dispatcher: dispatcher,
		opts:       opts,
		m:          getMetrics(),
		tableLabel: label,
		lockKey:    advisoryLockKey("outbox:" + label),
	}, nil
}

func (r *Relay) Run(ctx context.Context) error {
	if !r.opts.SingleActive {
		r.m.relayLeader.WithLabelValues(r.tableLabel).Set(1)
		return r.runLoop(ctx, nil)
	}
	return r.runSingleActive(ctx)
}

func (r *Relay) runSingleActive(ctx context.Context) error {
	for {
		conn, leader, err := r.acquireLeadership(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.opts.Logger.WithError(err).Warn("outbox: leadership attempt failed")
		}
		if leader {
			r.m.relayLeader.WithLabelValues(r.tableLabel).Set(1)
			r.opts.Logger.WithField("table", r.tableLabel).Info("outbox: relay became leader")

			err = r.runLoop(ctx, conn)
			_ = r.releaseLeader(context.Background(), conn)
			conn.Release()
			return err
		}

		r.m.relayLeader.WithLabelValues(r.tableLabel).Set(0)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.opts.PollInterval):
		}
	}
}

// acquireLeadership returns a held connection only when leader is true.
func (r *Relay) acquireLeadership(ctx context.Context) (*pgxpool.Conn, bool, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}
	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1::bigint)`, r.lockKey).Scan(&ok); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("advisory lock: %w", err)
	}
	if !ok {
		conn.Release()
		return nil, false, nil
	}
	return conn, true, nil
}

func (r *Relay) releaseLeader(ctx context.Context, conn *pgxpool.Conn) error {
	var ok bool
	return conn.QueryRow(ctx, `SELECT pg_advisory_unlock($1::bigint)`, r.lockKey).Scan(&ok)
}

func (r *Relay) runLoop(ctx context.Context, conn *pgxpool.Conn) error {
	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	nextDepthAt := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if time.Now().After(nextDepthAt) {
			if err := r.observeQueueDepth(ctx, conn); err != nil {
				r.opts.Logger.WithError(err).Debug("outbox: observe queue depth failed")
			}
			nextDepthAt = time.Now().Add(r.opts.ObserveQueueDepthEvery)
		}

		if err := r.ProcessOnce(ctx, conn); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			r.opts.Logger.WithError(err).Warn("outbox: process tick failed")
		}
	}
}

type claimed struct {
	ID          uuid.UUID
	Topic       string
	Payload     []byte
	EventID     uuid.UUID
	AggregateID uuid.UUID
	TraceParent string
	Sequence    int64
	Attempts    int
}

func (c claimed) meta(table pgx.Identifier) Meta {
	return Meta{
		Table:       table,
		Topic:       c.Topic,
		EventID:     c.EventID,
		AggregateID: c.AggregateID,
		Sequence:    c.Sequence,
		Attempts:    c.Attempts,
		TraceParent: c.TraceParent,
	}
}

func (c claimed) fields(table string) logrus.Fields {
	return logrus.Fields{
		"table":        table,
		"topic":        c.Topic,
		"event_id":     c.EventID.String(),
		"aggregate_id": c.AggregateID.String(),
		"sequence":     c.Sequence,
		"attempts":     c.Attempts,
	}
}

// ProcessOnce claims one batch and dispatches it. conn may be nil, in which
// case pooled connections are used.
func (r *Relay) ProcessOnce(ctx context.Context, conn *pgxpool.Conn) error {
	now := time.Now()
	batch, err := r.claim(ctx, conn, now, now.Add(-r.opts.LockTTL))
	if err != nil {
		return err
	}

	for _, c := range batch {
		err := r.dispatch(ctx, c)
		if err == nil {
			if ackErr := r.settle(ctx, conn, c.ID, settleAck, "", time.Time{}); ackErr != nil {
				r.opts.Logger.WithError(ackErr).WithFields(c.fields(r.tableLabel)).Warn("outbox: ack failed")
			}
			continue
		}

		lastErr := lastError(err, r.opts.LastErrorMaxLen)
		if c.Attempts >= r.opts.MaxAttempts {
			r.m.deadTotal.WithLabelValues(r.tableLabel, c.Topic).Inc()
			if deadErr := r.settle(ctx, conn, c.ID, settleDead, lastErr, time.Now()); deadErr != nil {
				r.opts.Logger.WithError(deadErr).WithFields(c.fields(r.tableLabel)).Warn("outbox: dead update failed")
			}
			continue
		}

		next := time.Now().Add(backoff(c.Attempts, r.opts.MaxBackoff) + Jitter(r.opts.Rand, r.opts.JitterMax))
		if nackErr := r.settle(ctx, conn, c.ID, settleNack, lastErr, next); nackErr != nil {
			r.opts.Logger.WithError(nackErr).WithFields(c.fields(r.tableLabel)).Warn("outbox: nack failed")
		}
	}
	return nil
}

func (r *Relay) dispatch(ctx context.Context, c claimed) error {
	if r.opts.DispatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.DispatchTimeout)
		defer cancel()
	}

	start := time.Now()
	err := r.dispatcher.Dispatch(ctx, DispatchedMessage{Meta: c.meta(r.table), Payload: c.Payload})
	result := "success"
	if err != nil {
		result = "failure"
	}
	r.m.dispatchTotal.WithLabelValues(r.tableLabel, c.Topic, result).Inc()
	r.m.dispatchLatency.WithLabelValues(r.tableLabel, c.Topic, result).Observe(time.Since(start).Seconds())
	return err
}

func (r *Relay) claim(ctx context.Context, conn *pgxpool.Conn, now, lockCutoff time.Time) ([]claimed, error) {
	tx, err := r.begin(ctx, conn)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tableName := r.table.Sanitize()
	q := fmt.Sprintf(
		`SELECT id, topic, payload, event_id, aggregate_id, COALESCE(trace_parent, ''), sequence, attempts
		   FROM %s
		  WHERE published_at IS NULL
		    AND available_at <= $1
		    AND attempts < $2
		    AND (locked_at IS NULL OR locked_at < $3)
		  ORDER BY available_at, sequence
		  LIMIT $4
		  FOR UPDATE SKIP LOCKED`,
		tableName,
	)
	rows, err := tx.Query(ctx, q, now, r.opts.MaxAttempts, lockCutoff, r.opts.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("outbox claim select: %w", err)
	}
	defer rows.Close()

	var items []claimed
	var ids []uuid.UUID
	for rows.Next() {
		var c claimed
		if err := rows.Scan(&c.ID, &c.Topic, &c.Payload, &c.EventID, &c.AggregateID, &c.TraceParent, &c.Sequence, &c.Attempts); err != nil {
			return nil, fmt.Errorf("outbox claim scan: %w", err)
		}
		c.Attempts++
		items = append(items, c)
		ids = append(ids, c.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox claim rows: %w", err)
	}

	if len(ids) > 0 {
		update := fmt.Sprintf(`UPDATE %s SET locked_at = $1, attempts = attempts + 1 WHERE id = ANY($2)`, tableName)
		if _, err := tx.Exec(ctx, update, now, pgtype.FlatArray[uuid.UUID](ids)); err != nil {
			return nil, fmt.Errorf("outbox claim update: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return items, nil
}

type settleKind int

const (
	settleAck settleKind = iota
	settleNack
	settleDead
)

func (k settleKind) String() string {
	switch k {
	case settleAck:
		return "ack"
	case settleNack:
		return "nack"
	default:
		return "dead"
	}
}

// settle unlocks a claimed row. Dead rows stay unpublished but have used up
// their attempts, so claim never selects them again.
func (r *Relay) settle(ctx context.Context, conn *pgxpool.Conn, id uuid.UUID, kind settleKind, lastError string, availableAt time.Time) error {
	tableName := r.table.Sanitize()

	var (
		q    string
		args []any
	)
	switch kind {
	case settleAck:
		q = fmt.Sprintf(`UPDATE %s SET published_at = now(), locked_at = NULL, last_error = NULL
		                  WHERE id = $1 AND published_at IS NULL`, tableName)
		args = []any{id}
	default:
		q = fmt.Sprintf(`UPDATE %s SET locked_at = NULL, last_error = $2, available_at = $3
		                  WHERE id = $1 AND published_at IS NULL`, tableName)
		args = []any{id, lastError, availableAt}
	}

	tx, err := r.begin(ctx, conn)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, q, args...); err != nil {
		return fmt.Errorf("outbox %s: %w", kind, err)
	}
	return tx.Commit(ctx)
}

func (r *Relay) observeQueueDepth(ctx context.Context, conn *pgxpool.Conn) error {
	var db interface {
		QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	} = r.pool
	if conn != nil {
		db = conn
	}

	q := fmt.Sprintf(
		`SELECT count(*), count(*) FILTER (WHERE locked_at IS NOT NULL)
		   FROM %s WHERE published_at IS NULL`,
		r.table.Sanitize(),
	)
	var pending, locked int64
	if err := db.QueryRow(ctx, q).Scan(&pending, &locked); err != nil {
		return fmt.Errorf("outbox queue depth: %w", err)
	}

	r.m.pending.WithLabelValues(r.tableLabel).Set(float64(pending))
	r.m.locked.WithLabelValues(r.tableLabel).Set(float64(locked))
	return nil
}

func (r *Relay) begin(ctx context.Context, conn *pgxpool.Conn) (pgx.Tx, error) {
	if conn != nil {
		return conn.BeginTx(ctx, pgx.TxOptions{})
	}
	return r.pool.BeginTx(ctx, pgx.TxOptions{})
}

func advisoryLockKey(s string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return int64(h.Sum64())
}
