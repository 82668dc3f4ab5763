package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool connects to the remote database. The pool is returned even when
// the initial ping fails so the service can start offline.
func NewPool(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse remote dsn: %w", err)
	}

	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.MinConns = 0
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create remote pool: %w", err)
	}
	return pool, nil
}

const uniqueViolation = "23505"

// querier is the subset of *pgxpool.Pool used by PostgresStore.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore is a Dispatcher over a Postgres connection pool.
type PostgresStore struct {
	db querier
	sb sq.StatementBuilderType
}

var _ Dispatcher = (*PostgresStore)(nil)

// NewPostgresStore creates a PostgresStore on pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return newPostgresStore(pool)
}

func newPostgresStore(db querier) *PostgresStore {
	return &PostgresStore{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

func (s *PostgresStore) insertSQL(collection string, record map[string]interface{}) (string, []interface{}, error) {
	if len(record) == 0 {
		return "", nil, fmt.Errorf("insert into %s: empty record", collection)
	}
	return s.sb.Insert(collection).SetMap(record).ToSql()
}

func (s *PostgresStore) updateSQL(collection, id string, patch map[string]interface{}) (string, []interface{}, error) {
	set := make(map[string]interface{}, len(patch))
	for k, v := range patch {
		if k == "id" {
			continue
		}
		set[k] = v
	}
	if len(set) == 0 {
		return "", nil, fmt.Errorf("update %s %s: empty patch", collection, id)
	}
	return s.sb.Update(collection).SetMap(set).Where(sq.Eq{"id": id}).ToSql()
}

func (s *PostgresStore) deleteSQL(collection, id string) (string, []interface{}, error) {
	return s.sb.Delete(collection).Where(sq.Eq{"id": id}).ToSql()
}

func (s *PostgresStore) updatedAtSQL(collection, id string) (string, []interface{}, error) {
	return s.sb.Select("updated_at").From(collection).Where(sq.Eq{"id": id}).ToSql()
}

func (s *PostgresStore) Insert(ctx context.Context, collection string, record map[string]interface{}) error {
	sqlStr, args, err := s.insertSQL(collection, record)
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := s.db.Exec(ctx, sqlStr, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("insert into %s: %w", collection, ErrAlreadyExists)
		}
		return fmt.Errorf("insert into %s: %w", collection, err)
	}
	return nil
}

func (s *PostgresStore) UpdateByID(ctx context.Context, collection, id string, patch map[string]interface{}) error {
	sqlStr, args, err := s.updateSQL(collection, id, patch)
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	tag, err := s.db.Exec(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("update %s %s: %w", collection, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update %s %s: %w", collection, id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) DeleteByID(ctx context.Context, collection, id string) error {
	sqlStr, args, err := s.deleteSQL(collection, id)
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	tag, err := s.db.Exec(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", collection, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete %s %s: %w", collection, id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) UpdatedAt(ctx context.Context, collection, id string) (time.Time, bool, error) {
	sqlStr, args, err := s.updatedAtSQL(collection, id)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("build select: %w", err)
	}

	var ts pgtype.Timestamptz
	if err := s.db.QueryRow(ctx, sqlStr, args...).Scan(&ts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("select %s %s updated_at: %w", collection, id, err)
	}
	if !ts.Valid {
		return time.Time{}, true, nil
	}
	return ts.Time, true, nil
}
