package remote

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/kimhsiao/ledgersync/internal/models"
)

// fakeQuerier records statements and returns canned results.
type fakeQuerier struct {
	execSQL  []string
	execArgs [][]any
	tag      string
	execErr  error

	row fakeRow
}

func (f *fakeQuerier) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execSQL = append(f.execSQL, sql)
	f.execArgs = append(f.execArgs, args)
	if f.execErr != nil {
		return pgconn.CommandTag{}, f.execErr
	}
	return pgconn.NewCommandTag(f.tag), nil
}

func (f *fakeQuerier) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.row.sql = sql
	return &f.row
}

type fakeRow struct {
	sql string
	ts  pgtype.Timestamptz
	err error
}

func (r *fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*pgtype.Timestamptz)) = r.ts
	return nil
}

func TestCollectionFor_everyEntityType(t *testing.T) {
	for _, et := range models.EntityTypes {
		if c, ok := CollectionFor(et); !ok || c == "" {
			t.Errorf("CollectionFor(%s) = %q, %v", et, c, ok)
		}
	}
	if c, _ := CollectionFor(models.EntityCashTransaction); c != "cash_transactions" {
		t.Errorf("CollectionFor(cash_transaction) = %q", c)
	}
	if _, ok := CollectionFor("warehouse"); ok {
		t.Error("CollectionFor(warehouse) should not be found")
	}
}

func TestPostgresStore_Insert(t *testing.T) {
	q := &fakeQuerier{tag: "INSERT 0 1"}
	s := newPostgresStore(q)

	err := s.Insert(context.Background(), "customers", map[string]interface{}{
		"name": "Acme", "id": "cust-42", "balance": 10.5,
	})
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	sql := q.execSQL[0]
	if !strings.HasPrefix(sql, "INSERT INTO customers (balance,id,name) VALUES ($1,$2,$3)") {
		t.Errorf("Insert() sql = %q", sql)
	}
	if args := q.execArgs[0]; len(args) != 3 || args[1] != "cust-42" {
		t.Errorf("Insert() args = %v", args)
	}
}

func TestPostgresStore_InsertDuplicate(t *testing.T) {
	q := &fakeQuerier{execErr: &pgconn.PgError{Code: "23505", Message: "duplicate key"}}
	err := newPostgresStore(q).Insert(context.Background(), "customers", map[string]interface{}{"id": "c-1"})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("Insert() error = %v, want ErrAlreadyExists", err)
	}
}

func TestPostgresStore_InsertEmpty(t *testing.T) {
	q := &fakeQuerier{}
	if err := newPostgresStore(q).Insert(context.Background(), "customers", nil); err == nil {
		t.Error("Insert(nil) expected error")
	}
	if len(q.execSQL) != 0 {
		t.Error("Insert(nil) should not reach the database")
	}
}

func TestPostgresStore_UpdateByID(t *testing.T) {
	q := &fakeQuerier{tag: "UPDATE 1"}
	s := newPostgresStore(q)

	err := s.UpdateByID(context.Background(), "customers", "cust-42", map[string]interface{}{
		"id": "cust-42", "name": "Acme Ltd",
	})
	if err != nil {
		t.Fatalf("UpdateByID() error = %v", err)
	}

	sql := q.execSQL[0]
	if !strings.HasPrefix(sql, "UPDATE customers SET name = $1") || !strings.HasSuffix(sql, "WHERE id = $2") {
		t.Errorf("UpdateByID() sql = %q", sql)
	}
	if args := q.execArgs[0]; len(args) != 2 || args[0] != "Acme Ltd" || args[1] != "cust-42" {
		t.Errorf("UpdateByID() args = %v", args)
	}
}

func TestPostgresStore_notFound(t *testing.T) {
	ctx := context.Background()
	q := &fakeQuerier{tag: "UPDATE 0"}
	s := newPostgresStore(q)

	err := s.UpdateByID(ctx, "products", "p-1", map[string]interface{}{"name": "x"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateByID() error = %v, want ErrNotFound", err)
	}

	q.tag = "DELETE 0"
	if err := s.DeleteByID(ctx, "products", "p-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteByID() error = %v, want ErrNotFound", err)
	}
}

func TestPostgresStore_DeleteByID(t *testing.T) {
	q := &fakeQuerier{tag: "DELETE 1"}
	if err := newPostgresStore(q).DeleteByID(context.Background(), "employees", "emp-1"); err != nil {
		t.Fatalf("DeleteByID() error = %v", err)
	}
	if q.execSQL[0] != "DELETE FROM employees WHERE id = $1" {
		t.Errorf("DeleteByID() sql = %q", q.execSQL[0])
	}
}

func TestPostgresStore_execError(t *testing.T) {
	boom := errors.New("connection reset")
	q := &fakeQuerier{execErr: boom}
	err := newPostgresStore(q).DeleteByID(context.Background(), "employees", "emp-1")
	if !errors.Is(err, boom) || errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteByID() error = %v", err)
	}
}

func TestPostgresStore_UpdatedAt(t *testing.T) {
	ctx := context.Background()
	ts := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	q := &fakeQuerier{row: fakeRow{ts: pgtype.Timestamptz{Time: ts, Valid: true}}}
	s := newPostgresStore(q)

	got, found, err := s.UpdatedAt(ctx, "customers", "cust-42")
	if err != nil || !found || !got.Equal(ts) {
		t.Errorf("UpdatedAt() = %v, %v, %v", got, found, err)
	}
	if q.row.sql != "SELECT updated_at FROM customers WHERE id = $1" {
		t.Errorf("UpdatedAt() sql = %q", q.row.sql)
	}

	q.row = fakeRow{err: pgx.ErrNoRows}
	if _, found, err := s.UpdatedAt(ctx, "customers", "gone"); err != nil || found {
		t.Errorf("UpdatedAt(missing) = found %v, err %v", found, err)
	}

	q.row = fakeRow{ts: pgtype.Timestamptz{}}
	if got, found, err := s.UpdatedAt(ctx, "customers", "null"); err != nil || !found || !got.IsZero() {
		t.Errorf("UpdatedAt(null) = %v, %v, %v", got, found, err)
	}

	q.row = fakeRow{err: errors.New("timeout")}
	if _, _, err := s.UpdatedAt(ctx, "customers", "x"); err == nil {
		t.Error("UpdatedAt() expected error")
	}
}

func TestNewPool_badDSN(t *testing.T) {
	if _, err := NewPool(context.Background(), "://not a dsn", 2); err == nil {
		t.Error("NewPool() expected error for malformed dsn")
	}
}
