package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pharmacy-delivery/internal/tracking-service/core/domain/model"
	"pharmacy-delivery/internal/tracking-service/core/myerrors"
	"pharmacy-delivery/internal/tracking-service/core/ports/driven"

	"github.com/jackc/pgx/v5"
)

const codeColumns = `
	code_id,
	delivery_id,
	code_hash,
	issued_at,
	expires_at,
	consumed_at,
	invalidated_at,
	failed_attempts`

const openCode = `consumed_at IS NULL AND invalidated_at IS NULL`

type VerificationRepo struct {
	db *DataBase
}

var _ driven.IVerificationRepo = (*VerificationRepo)(nil)

func NewVerificationRepo(db *DataBase) *VerificationRepo {
	return &VerificationRepo{db: db}
}

// Issue invalidates the open code of the delivery, if any, and stores c as the new one.
func (r *VerificationRepo) Issue(ctx context.Context, c model.VerificationCode) error {
	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE verification_codes
			SET invalidated_at = $2
			WHERE delivery_id = $1 AND `+openCode, c.DeliveryID, c.IssuedAt)
		if err != nil {
			return fmt.Errorf("invalidate previous code: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO verification_codes (code_id, delivery_id, code_hash, issued_at, expires_at)
			VALUES ($1, $2, $3, $4, $5)`,
			c.ID, c.DeliveryID, c.CodeHash, c.IssuedAt, c.ExpiresAt)
		if err != nil {
			return fmt.Errorf("insert code: %w", err)
		}
		return nil
	})
}

func (r *VerificationRepo) Open(ctx context.Context, deliveryID string) (model.VerificationCode, error) {
	var c model.VerificationCode
	err := r.db.pool.QueryRow(ctx, `
		SELECT `+codeColumns+`
		FROM verification_codes
		WHERE delivery_id = $1 AND `+openCode+`
		ORDER BY issued_at DESC
		LIMIT 1`, deliveryID).Scan(
		&c.ID,
		&c.DeliveryID,
		&c.CodeHash,
		&c.IssuedAt,
		&c.ExpiresAt,
		&c.ConsumedAt,
		&c.InvalidatedAt,
		&c.FailedAttempts,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.VerificationCode{}, myerrors.ErrNoOpenCode
	}
	if err != nil {
		return model.VerificationCode{}, fmt.Errorf("get open code: %w", err)
	}
	return c, nil
}

// RecordFailure counts a wrong attempt and burns the code once maxAttempts is reached.
func (r *VerificationRepo) RecordFailure(ctx context.Context, codeID string, maxAttempts int, at time.Time) (int, bool, error) {
	var (
		attempts int
		burned   bool
	)
	err := r.db.pool.QueryRow(ctx, `
		UPDATE verification_codes
		SET failed_attempts = failed_attempts + 1,
		    invalidated_at = CASE WHEN failed_attempts + 1 >= $2 THEN $3::timestamptz ELSE NULL END
		WHERE code_id = $1 AND `+openCode+`
		RETURNING failed_attempts, invalidated_at IS NOT NULL`,
		codeID, maxAttempts, at).Scan(&attempts, &burned)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, myerrors.ErrNoOpenCode
	}
	if err != nil {
		return 0, false, fmt.Errorf("record failed attempt: %w", err)
	}
	return attempts, burned, nil
}

// Consume marks the code used. Only one caller can win; the rest get ErrInvalidCode.
func (r *VerificationRepo) Consume(ctx context.Context, codeID string, at time.Time) error {
	tag, err := r.db.pool.Exec(ctx, `
		UPDATE verification_codes
		SET consumed_at = $2
		WHERE code_id = $1 AND `+openCode+` AND expires_at > $2`, codeID, at)
	if err != nil {
		return fmt.Errorf("consume code: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return myerrors.ErrInvalidCode
	}
	return nil
}

func (r *VerificationRepo) HasConsumed(ctx context.Context, deliveryID string) (bool, error) {
	var ok bool
	err := r.db.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM verification_codes WHERE delivery_id = $1 AND consumed_at IS NOT NULL
		)`, deliveryID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check consumed code: %w", err)
	}
	return ok, nil
}

func (r *VerificationRepo) CountIssued(ctx context.Context, deliveryID string) (int, error) {
	var n int
	err := r.db.pool.QueryRow(ctx, `SELECT count(*) FROM verification_codes WHERE delivery_id = $1`, deliveryID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count codes: %w", err)
	}
	return n, nil
}

func (r *VerificationRepo) InvalidateAll(ctx context.Context, deliveryID string, at time.Time) error {
	_, err := r.db.pool.Exec(ctx, `
		UPDATE verification_codes
		SET invalidated_at = $2
		WHERE delivery_id = $1 AND `+openCode, deliveryID, at)
	if err != nil {
		return fmt.Errorf("invalidate codes: %w", err)
	}
	return nil
}
