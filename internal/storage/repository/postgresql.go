// Package repository реализует хранилище пользователей и подписок на PostgreSQL.
//
// Каждая запись выполняется одним выражением, кроме удаления пользователя,
// которое идёт одной транзакцией.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// errSchemaMissing - миграции ещё не применены.
var errSchemaMissing = errors.New("required tables are missing")

// PgxPool — то подмножество *pgxpool.Pool, которым пользуется хранилище.
// Реализуется также pgxmock.PgxPoolIface.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Storage инкапсулирует пул соединений с PostgreSQL.
type Storage struct {
	Pool PgxPool
}

// NewWithPool оборачивает готовый пул.
func NewWithPool(pool PgxPool) *Storage {
	return &Storage{Pool: pool}
}

// Connect открывает пул и ждёт, пока база ответит на ping.
// Повторяет попытки с экспоненциальной задержкой, пока не истечёт maxWait или ctx.
func Connect(ctx context.Context, dsn string, maxWait time.Duration) (*pgxpool.Pool, error) {
	const op = "storage.Connect"
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = maxWait

	pool, err := backoff.RetryWithData(func() (*pgxpool.Pool, error) {
		pool, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return pool, nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return pool, nil
}

// Close закрывает пул.
func (s *Storage) Close() {
	s.Pool.Close()
}

// Ping проверяет доступность базы.
func (s *Storage) Ping(ctx context.Context) error {
	const op = "storage.Ping"
	if err := s.Pool.Ping(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// CheckDatabaseReady проверяет, что миграции применены: таблицы users и
// subscriptions существуют.
func (s *Storage) CheckDatabaseReady(ctx context.Context) error {
	const op = "storage.CheckDatabaseReady"
	var ready bool
	err := s.Pool.QueryRow(ctx, `SELECT to_regclass('public.users') IS NOT NULL
			  AND to_regclass('public.subscriptions') IS NOT NULL`).Scan(&ready)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !ready {
		return fmt.Errorf("%s: %w", op, errSchemaMissing)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pg *pgconn.PgError
	return errors.As(err, &pg) && pg.Code == pgerrcode.UniqueViolation
}

func checkCtx(ctx context.Context, op string) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
		return nil
	}
}
