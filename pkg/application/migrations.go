package application

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"
)

var ErrNoDatabase = errors.New("migrations: no database pool configured")

type MigrationStatus struct {
	Schema    string
	Version   int64
	Path      string
	Applied   bool
	AppliedAt time.Time
}

type schema struct {
	fsys fs.FS
	dir  string
}

type migrationManager struct {
	pool    *pgxpool.Pool
	logger  *logrus.Logger
	schemas []schema
}

func NewMigrationManager(pool *pgxpool.Pool, logger *logrus.Logger) MigrationManager {
	return &migrationManager{pool: pool, logger: logger}
}

// RegisterSchema adds the goose migrations found under dir in fsys.
func (m *migrationManager) RegisterSchema(fsys fs.FS, dir string) {
	m.schemas = append(m.schemas, schema{fsys: fsys, dir: dir})
}

func (m *migrationManager) Run(ctx context.Context) error {
	return m.each(func(name string, p *goose.Provider) error {
		results, err := p.Up(ctx)
		for _, r := range results {
			m.logger.WithFields(logrus.Fields{
				"schema":   name,
				"version":  r.Source.Version,
				"duration": r.Duration.String(),
			}).Info("migration applied")
		}
		return err
	})
}

// Rollback undoes the most recent migration of every registered schema, last
// registered first.
func (m *migrationManager) Rollback(ctx context.Context) error {
	providers, err := m.providers()
	if err != nil {
		return err
	}
	defer closeAll(providers)
	for i := len(providers) - 1; i >= 0; i-- {
		r, err := providers[i].p.Down(ctx)
		if err != nil {
			if errors.Is(err, goose.ErrNoNextVersion) {
				continue
			}
			return fmt.Errorf("rollback %s: %w", providers[i].name, err)
		}
		if r != nil && r.Source != nil {
			m.logger.WithFields(logrus.Fields{
				"schema":  providers[i].name,
				"version": r.Source.Version,
			}).Info("migration rolled back")
		}
	}
	return nil
}

func (m *migrationManager) Status(ctx context.Context) ([]MigrationStatus, error) {
	var out []MigrationStatus
	err := m.each(func(name string, p *goose.Provider) error {
		statuses, err := p.Status(ctx)
		if err != nil {
			return err
		}
		for _, s := range statuses {
			out = append(out, MigrationStatus{
				Schema:    name,
				Version:   s.Source.Version,
				Path:      s.Source.Path,
				Applied:   s.State == goose.StateApplied,
				AppliedAt: s.AppliedAt,
			})
		}
		return nil
	})
	return out, err
}

type namedProvider struct {
	name string
	p    *goose.Provider
}

func (m *migrationManager) providers() ([]namedProvider, error) {
	if m.pool == nil {
		return nil, ErrNoDatabase
	}
	out := make([]namedProvider, 0, len(m.schemas))
	for _, s := range m.schemas {
		sub, err := fs.Sub(s.fsys, s.dir)
		if err != nil {
			closeAll(out)
			return nil, fmt.Errorf("migrations %s: %w", s.dir, err)
		}
		db := stdlib.OpenDBFromPool(m.pool)
		p, err := goose.NewProvider(goose.DialectPostgres, db, sub)
		if err != nil {
			_ = db.Close()
			closeAll(out)
			return nil, fmt.Errorf("migrations %s: %w", s.dir, err)
		}
		out = append(out, namedProvider{name: s.dir, p: p})
	}
	return out, nil
}

func (m *migrationManager) each(fn func(name string, p *goose.Provider) error) error {
	providers, err := m.providers()
	if err != nil {
		return err
	}
	defer closeAll(providers)
	for _, np := range providers {
		if err := fn(np.name, np.p); err != nil {
			return fmt.Errorf("migrations %s: %w", np.name, err)
		}
	}
	return nil
}

// closeAll closes the *sql.DB views opened over the pool; the pool stays open.
func closeAll(providers []namedProvider) {
	for _, np := range providers {
		_ = np.p.Close()
	}
}
