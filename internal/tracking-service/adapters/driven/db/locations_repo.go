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

const sampleColumns = `
	sample_id,
	delivery_id,
	latitude,
	longitude,
	captured_at,
	received_at,
	accuracy,
	speed,
	heading`

type LocationRepo struct {
	db *DataBase
}

var _ driven.ILocationRepo = (*LocationRepo)(nil)

func NewLocationRepo(db *DataBase) *LocationRepo {
	return &LocationRepo{db: db}
}

func scanSample(row pgx.Row) (model.LocationSample, error) {
	var s model.LocationSample
	err := row.Scan(
		&s.ID,
		&s.DeliveryID,
		&s.Latitude,
		&s.Longitude,
		&s.CapturedAt,
		&s.ReceivedAt,
		&s.Accuracy,
		&s.Speed,
		&s.Heading,
	)
	return s, err
}

func collectSamples(rows pgx.Rows) ([]model.LocationSample, error) {
	defer rows.Close()

	res := []model.LocationSample{}
	for rows.Next() {
		s, err := scanSample(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// Append stores s and trims the delivery's history to the newest maxSamples rows.
func (r *LocationRepo) Append(ctx context.Context, s model.LocationSample, maxSamples int) error {
	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO location_samples (`+sampleColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			s.ID, s.DeliveryID, s.Latitude, s.Longitude, s.CapturedAt, s.ReceivedAt, s.Accuracy, s.Speed, s.Heading)
		if err != nil {
			return fmt.Errorf("insert sample: %w", err)
		}

		if maxSamples <= 0 {
			return nil
		}
		_, err = tx.Exec(ctx, `
			DELETE FROM location_samples
			WHERE sample_id IN (
				SELECT sample_id
				FROM location_samples
				WHERE delivery_id = $1
				ORDER BY received_at DESC
				OFFSET $2
			)`, s.DeliveryID, maxSamples)
		if err != nil {
			return fmt.Errorf("prune samples: %w", err)
		}
		return nil
	})
}

func (r *LocationRepo) Latest(ctx context.Context, deliveryID string) (model.LocationSample, error) {
	s, err := scanSample(r.db.pool.QueryRow(ctx, `
		SELECT `+sampleColumns+`
		FROM location_samples
		WHERE delivery_id = $1
		ORDER BY received_at DESC
		LIMIT 1`, deliveryID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.LocationSample{}, myerrors.ErrNoLocation
	}
	if err != nil {
		return model.LocationSample{}, fmt.Errorf("get latest sample: %w", err)
	}
	return s, nil
}

func (r *LocationRepo) History(ctx context.Context, deliveryID string, limit int) ([]model.LocationSample, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+sampleColumns+`
		FROM location_samples
		WHERE delivery_id = $1
		ORDER BY received_at DESC
		LIMIT $2`, deliveryID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	return collectSamples(rows)
}

func (r *LocationRepo) LastCapturedAt(ctx context.Context, deliveryID string) (time.Time, bool, error) {
	var last *time.Time
	err := r.db.pool.QueryRow(ctx,
		`SELECT max(captured_at) FROM location_samples WHERE delivery_id = $1`, deliveryID).Scan(&last)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("get last captured: %w", err)
	}
	if last == nil {
		return time.Time{}, false, nil
	}
	return *last, true, nil
}

// LatestInBox returns the current sample of every tracked delivery inside box.
func (r *LocationRepo) LatestInBox(ctx context.Context, box driven.BoundingBox) ([]model.LocationSample, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+sampleColumns+`
		FROM (
			SELECT DISTINCT ON (s.delivery_id) s.*
			FROM location_samples s
			JOIN deliveries d ON d.delivery_id = s.delivery_id
			WHERE d.status NOT IN ('pending', 'delivered', 'cancelled')
			ORDER BY s.delivery_id, s.received_at DESC
		) latest
		WHERE latitude BETWEEN $1 AND $2
		  AND longitude BETWEEN $3 AND $4`,
		box.MinLat, box.MaxLat, box.MinLng, box.MaxLng)
	if err != nil {
		return nil, fmt.Errorf("query latest samples: %w", err)
	}
	return collectSamples(rows)
}

func (r *LocationRepo) DeleteByDeliveries(ctx context.Context, deliveryIDs []string) (int64, error) {
	if len(deliveryIDs) == 0 {
		return 0, nil
	}
	tag, err := r.db.pool.Exec(ctx, `DELETE FROM location_samples WHERE delivery_id = ANY($1)`, deliveryIDs)
	if err != nil {
		return 0, fmt.Errorf("delete samples: %w", err)
	}
	return tag.RowsAffected(), nil
}
