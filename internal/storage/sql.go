package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/loykin/taskserve/internal/common"
	"github.com/loykin/taskserve/internal/constants"
	"github.com/loykin/taskserve/internal/retry"
)

// sqlStore keeps the document in a single-row table.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
	table   string
	retry   *retry.Policy
}

func openSQL(ctx context.Context, d dialect, location string) (*sqlStore, error) {
	logger := common.GetLogger().WithStore(d.Kind())

	db, err := d.Connect(location)
	if err != nil {
		return nil, err
	}
	s := &sqlStore{db: db, dialect: d, table: constants.DefaultStorageTable, retry: retry.DefaultPolicy()}

	err = retry.Do(ctx, s.retry, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, d.EnsureStatement(s.table))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ensure storage schema: %w", err)
	}
	logger.Debug("storage schema ensured", "table", s.table)
	return s, nil
}

func (s *sqlStore) Kind() string { return s.dialect.Kind() }

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) Get(ctx context.Context) (Document, error) {
	var doc Document
	err := retry.Do(ctx, s.retry, func(ctx context.Context) error {
		d, err := s.load(ctx, s.db)
		if err != nil {
			return err
		}
		doc = d
		return nil
	})
	if err != nil {
		return Document{}, fmt.Errorf("failed to read storage: %w", err)
	}
	return doc, nil
}

func (s *sqlStore) Set(ctx context.Context, data string, version int64, force bool) (Document, error) {
	var doc Document
	err := retry.Do(ctx, s.retry, func(ctx context.Context) error {
		d, err := s.set(ctx, data, version, force)
		doc = d
		if errors.Is(err, ErrConflict) {
			return retry.Permanent(err)
		}
		return err
	})
	if errors.Is(err, ErrConflict) {
		return doc, ErrConflict
	}
	if err != nil {
		return Document{}, fmt.Errorf("failed to write storage: %w", err)
	}
	return doc, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *sqlStore) load(ctx context.Context, q querier) (Document, error) {
	query := fmt.Sprintf("SELECT data, version, updated_at FROM %s WHERE id = 1", s.table)

	var (
		doc     Document
		updated string
	)
	err := q.QueryRowContext(ctx, query).Scan(&doc.Data, &doc.Version, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, nil
	}
	if err != nil {
		return Document{}, err
	}
	if t, perr := time.Parse(time.RFC3339Nano, updated); perr == nil {
		doc.UpdatedAt = t
	}
	return doc, nil
}

// set performs a compare-and-swap on the version column so that concurrent
// writers on a shared database cannot both win.
func (s *sqlStore) set(ctx context.Context, data string, version int64, force bool) (Document, error) {
	current, err := s.load(ctx, s.db)
	if err != nil {
		return Document{}, err
	}
	if !force && version != current.Version {
		return current, ErrConflict
	}

	next := Document{Data: data, Version: current.Version + 1, UpdatedAt: time.Now().UTC()}
	updated := next.UpdatedAt.Format(time.RFC3339Nano)
	p := s.dialect.Placeholder

	var res sql.Result
	switch {
	case force:
		q := fmt.Sprintf(`INSERT INTO %s (id, data, version, updated_at) VALUES (1, %s, %s, %s)
			ON CONFLICT (id) DO UPDATE SET data = excluded.data, version = excluded.version, updated_at = excluded.updated_at`,
			s.table, p(1), p(2), p(3))
		res, err = s.db.ExecContext(ctx, q, next.Data, next.Version, updated)
	case current.Version == 0:
		q := fmt.Sprintf(`INSERT INTO %s (id, data, version, updated_at) VALUES (1, %s, %s, %s)
			ON CONFLICT (id) DO NOTHING`, s.table, p(1), p(2), p(3))
		res, err = s.db.ExecContext(ctx, q, next.Data, next.Version, updated)
	default:
		q := fmt.Sprintf(`UPDATE %s SET data = %s, version = %s, updated_at = %s WHERE id = 1 AND version = %s`,
			s.table, p(1), p(2), p(3), p(4))
		res, err = s.db.ExecContext(ctx, q, next.Data, next.Version, updated, current.Version)
	}
	if err != nil {
		return Document{}, err
	}
	if n, rerr := res.RowsAffected(); rerr == nil && n == 0 {
		latest, lerr := s.load(ctx, s.db)
		if lerr != nil {
			return Document{}, lerr
		}
		return latest, ErrConflict
	}
	return next, nil
}
