package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// PurgeStats counts the rows one cleaner pass removed.
type PurgeStats struct {
	Published int64 `json:"published"`
	Dead      int64 `json:"dead"`
}

func (s PurgeStats) Total() int64 {
	return s.Published + s.Dead
}

// Cleaner trims delivered request events from an outbox table and, when
// DeadRetention is set, rows that ran out of relay attempts.
type Cleaner struct {
	pool       *pgxpool.Pool
	table      pgx.Identifier
	opts       CleanerOptions
	m          *metrics
	tableLabel string
	now        func() time.Time
}

func NewCleaner(pool *pgxpool.Pool, table pgx.Identifier, opts CleanerOptions) (*Cleaner, error) {
	if pool == nil {
		return nil, invalidConfig("pool is required")
	}
	if len(table) == 0 {
		return nil, invalidConfig("table is required")
	}
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	return &Cleaner{
		pool:       pool,
		table:      table,
		opts:       opts,
		m:          getMetrics(),
		tableLabel: TableLabel(table),
		now:        time.Now,
	}, nil
}

// Run purges on every Interval tick until ctx is done. A disabled cleaner
// returns immediately.
func (c *Cleaner) Run(ctx context.Context) error {
	if !c.opts.Enabled {
		return nil
	}
	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if _, err := c.CleanOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			c.opts.Logger.WithError(err).Warn("outbox: cleaner tick failed")
		}
	}
}

// CleanOnce runs a single purge in one transaction.
func (c *Cleaner) CleanOnce(ctx context.Context) (PurgeStats, error) {
	var stats PurgeStats
	now := c.now()

	tx, err := c.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return stats, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tableName := c.table.Sanitize()
	tag, err := tx.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE published_at IS NOT NULL AND published_at < $1`, tableName),
		now.Add(-c.opts.Retention),
	)
	if err != nil {
		return stats, fmt.Errorf("outbox cleaner delete published: %w", err)
	}
	stats.Published = tag.RowsAffected()

	if c.opts.DeadRetention > 0 {
		tag, err = tx.Exec(ctx,
			fmt.Sprintf(`DELETE FROM %s
			  WHERE published_at IS NULL
			    AND attempts >= $1
			    AND created_at < $2`, tableName),
			c.opts.DeadAttemptsThreshold, now.Add(-c.opts.DeadRetention),
		)
		if err != nil {
			return stats, fmt.Errorf("outbox cleaner delete dead: %w", err)
		}
		stats.Dead = tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return stats, err
	}

	c.m.purgedTotal.WithLabelValues(c.tableLabel, "published").Add(float64(stats.Published))
	c.m.purgedTotal.WithLabelValues(c.tableLabel, "dead").Add(float64(stats.Dead))
	if stats.Total() > 0 {
		c.opts.Logger.WithFields(logrus.Fields{
			"published": stats.Published,
			"dead":      stats.Dead,
		}).Info("outbox: purged rows")
	}
	return stats, nil
}
