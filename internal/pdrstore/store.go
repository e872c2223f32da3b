// Package pdrstore keeps a SQLite history of host PDR fetch cycles and the
// records each one received.
package pdrstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"
)

// Cycle is one stored fetch cycle.
type Cycle struct {
	bun.BaseModel `bun:"table:fetch_cycles"`

	ID         string    `bun:"id,pk" json:"id"`
	StartedAt  time.Time `bun:"started_at,notnull" json:"started_at"`
	DurationMS int64     `bun:"duration_ms,notnull" json:"duration_ms"`
	Outcome    string    `bun:"outcome,notnull" json:"outcome"`
	Changed    []uint32  `bun:"changed,type:json" json:"changed"`

	Records []*Record `bun:"rel:has-many,join:id=cycle_id" json:"records,omitempty"`
}

// Record is one host PDR received during a cycle.
type Record struct {
	bun.BaseModel `bun:"table:host_records"`

	ID         int64  `bun:"id,pk,autoincrement" json:"-"`
	CycleID    string `bun:"cycle_id,notnull" json:"cycle_id"`
	Seq        int    `bun:"seq,notnull" json:"seq"`
	HostHandle uint32 `bun:"host_handle,notnull" json:"host_handle"`
	RepoHandle uint32 `bun:"repo_handle" json:"repo_handle"`
	Type       uint8  `bun:"pdr_type,notnull" json:"pdr_type"`
	Data       []byte `bun:"data,type:blob" json:"data"`
}

// Store wraps a bun.DB holding cycle history.
type Store struct {
	db *bun.DB
}

// Option is a functional option for configuring the store
type Option func(*Store)

// WithDebug enables query logging for debugging
func WithDebug(enabled bool) Option {
	return func(s *Store) {
		if enabled {
			s.db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
			log.Info().Msg("PDR store query logging enabled")
		}
	}
}

// New opens (creating if needed) the store at path.
func New(path string, opts ...Option) (*Store, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// in-memory databases are per connection
	sqldb.SetMaxOpenConns(1)

	s := &Store{db: bun.NewDB(sqldb, sqlitedialect.New())}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.migrate(context.Background()); err != nil {
		s.db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	log.Info().Str("path", path).Msg("PDR store initialized")
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	for _, model := range []any{(*Cycle)(nil), (*Record)(nil)} {
		if _, err := s.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_host_records_cycle_id ON host_records(cycle_id)",
		"CREATE INDEX IF NOT EXISTS idx_fetch_cycles_started_at ON fetch_cycles(started_at)",
	}
	for _, q := range indexes {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// SaveCycle stores a cycle and its records in one transaction.
func (s *Store) SaveCycle(ctx context.Context, c *Cycle) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(c).Exec(ctx); err != nil {
			return fmt.Errorf("failed to insert cycle: %w", err)
		}
		if len(c.Records) == 0 {
			return nil
		}
		for i, r := range c.Records {
			r.CycleID = c.ID
			r.Seq = i
		}
		if _, err := tx.NewInsert().Model(&c.Records).Exec(ctx); err != nil {
			return fmt.Errorf("failed to insert records: %w", err)
		}
		return nil
	})
}

// ListCycles returns the most recent cycles, newest first, without records.
func (s *Store) ListCycles(ctx context.Context, limit int) ([]*Cycle, error) {
	var cycles []*Cycle
	q := s.db.NewSelect().Model(&cycles).Order("started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return cycles, nil
}

// GetCycle returns a cycle with its records in reception order.
func (s *Store) GetCycle(ctx context.Context, id string) (*Cycle, error) {
	c := new(Cycle)
	err := s.db.NewSelect().
		Model(c).
		Relation("Records", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("seq ASC")
		}).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Prune deletes all but the newest keep cycles and returns how many were
// removed.
func (s *Store) Prune(ctx context.Context, keep int) (int, error) {
	var ids []string
	err := s.db.NewSelect().
		Model((*Cycle)(nil)).
		Column("id").
		Order("started_at DESC").
		Offset(keep).
		Limit(-1).
		Scan(ctx, &ids)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*Record)(nil)).Where("cycle_id IN (?)", bun.In(ids)).Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewDelete().Model((*Cycle)(nil)).Where("id IN (?)", bun.In(ids)).Exec(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune cycles: %w", err)
	}
	return len(ids), nil
}
