package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pharmacy-delivery/internal/config"
	"pharmacy-delivery/internal/mylogger"
	"pharmacy-delivery/internal/tracking-service/core/myerrors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type DataBase struct {
	cfg   *config.DBconfig
	mylog mylogger.Logger
	pool  *pgxpool.Pool
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ConnectDB opens the pool, retrying while the database is still starting up.
func ConnectDB(ctx context.Context, dbCfg *config.DBconfig, mylog mylogger.Logger) (*DataBase, error) {
	d := &DataBase{
		cfg:   dbCfg,
		mylog: mylog.Action("db"),
	}

	if err := d.connect(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *DataBase) Pool() *pgxpool.Pool {
	return d.pool
}

func (d *DataBase) Close() {
	d.pool.Close()
}

// IsAlive pings the database.
func (d *DataBase) IsAlive(ctx context.Context) error {
	if d.pool == nil {
		return myerrors.ErrDBConnClosed
	}
	if err := d.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", myerrors.ErrDBConnClosed, err)
	}
	return nil
}

func (d *DataBase) connString() string {
	return fmt.Sprintf(
		"postgres://%v:%v@%v:%v/%v?sslmode=disable",
		d.cfg.User,
		d.cfg.Password,
		d.cfg.Host,
		d.cfg.Port,
		d.cfg.Database,
	)
}

func (d *DataBase) connect(ctx context.Context) error {
	poolCfg, err := pgxpool.ParseConfig(d.connString())
	if err != nil {
		return fmt.Errorf("parse database config: %w", err)
	}
	if d.cfg.MaxConns > 0 {
		poolCfg.MaxConns = d.cfg.MaxConns
	}

	attempts := max(1, d.cfg.MaxRetries)
	var lastErr error
	for i := 0; i < attempts; i++ {
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err == nil {
			err = pool.Ping(ctx)
			if err != nil {
				pool.Close()
			}
		}
		if err != nil {
			lastErr = err
			d.mylog.Error(fmt.Sprintf("DB connection attempt %d failed", i+1), err)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second * time.Duration(i+1)):
			}
			continue
		}

		d.pool = pool
		d.mylog.Info("Successfully connected to the database", "host", d.cfg.Host, "database", d.cfg.Database)
		return nil
	}

	return fmt.Errorf("failed to connect to the database after %d attempts: %w", attempts, lastErr)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// inTx runs fn in a transaction and commits when it returns nil.
func (d *DataBase) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
