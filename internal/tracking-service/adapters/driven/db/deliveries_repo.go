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

const deliveryColumns = `
	delivery_id,
	order_id,
	customer_id,
	status,
	driver_id,
	priority,
	pickup_latitude,
	pickup_longitude,
	pickup_address,
	dropoff_latitude,
	dropoff_longitude,
	dropoff_address,
	cancel_reason,
	created_at,
	status_updated_at`

const finishedStatuses = `('delivered', 'cancelled')`

type DeliveryRepo struct {
	db *DataBase
}

var _ driven.IDeliveryRepo = (*DeliveryRepo)(nil)

func NewDeliveryRepo(db *DataBase) *DeliveryRepo {
	return &DeliveryRepo{db: db}
}

func scanDelivery(row pgx.Row) (model.Delivery, error) {
	var (
		d        model.Delivery
		status   string
		driverID *string
	)
	err := row.Scan(
		&d.ID,
		&d.OrderID,
		&d.CustomerID,
		&status,
		&driverID,
		&d.Priority,
		&d.Pickup.Point.Latitude,
		&d.Pickup.Point.Longitude,
		&d.Pickup.Address,
		&d.Dropoff.Point.Latitude,
		&d.Dropoff.Point.Longitude,
		&d.Dropoff.Address,
		&d.CancelReason,
		&d.CreatedAt,
		&d.StatusUpdatedAt,
	)
	if err != nil {
		return model.Delivery{}, err
	}
	d.Status = model.DeliveryStatus(status)
	if driverID != nil {
		d.DriverID = *driverID
	}
	return d, nil
}

func collectDeliveries(rows pgx.Rows) ([]model.Delivery, error) {
	defer rows.Close()

	var res []model.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// attachIssues loads the issue log of every delivery in ds.
func attachIssues(ctx context.Context, q querier, ds []model.Delivery) error {
	if len(ds) == 0 {
		return nil
	}
	ids := make([]string, len(ds))
	index := make(map[string]int, len(ds))
	for i, d := range ds {
		ids[i] = d.ID
		index[d.ID] = i
	}

	rows, err := q.Query(ctx, `
		SELECT delivery_id, issue_type, description, reported_by, reported_at
		FROM delivery_issues
		WHERE delivery_id = ANY($1)
		ORDER BY issue_id`, ids)
	if err != nil {
		return fmt.Errorf("query issues: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id        string
			issueType string
			issue     model.Issue
		)
		if err := rows.Scan(&id, &issueType, &issue.Description, &issue.ReportedBy, &issue.ReportedAt); err != nil {
			return fmt.Errorf("scan issue: %w", err)
		}
		issue.Type = model.IssueType(issueType)
		i := index[id]
		ds[i].Issues = append(ds[i].Issues, issue)
	}
	return rows.Err()
}

func (r *DeliveryRepo) getWith(ctx context.Context, q querier, id string) (model.Delivery, error) {
	d, err := scanDelivery(q.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE delivery_id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Delivery{}, myerrors.ErrDeliveryNotFound
	}
	if err != nil {
		return model.Delivery{}, fmt.Errorf("get delivery: %w", err)
	}

	ds := []model.Delivery{d}
	if err := attachIssues(ctx, q, ds); err != nil {
		return model.Delivery{}, err
	}
	return ds[0], nil
}

// Create inserts d unless a delivery for the same order exists, in which case that one is returned.
func (r *DeliveryRepo) Create(ctx context.Context, d model.Delivery) (model.Delivery, bool, error) {
	q := `
	INSERT INTO deliveries (` + deliveryColumns + `)
	VALUES ($1, $2, $3, $4, NULL, $5, $6, $7, $8, $9, $10, $11, '', $12, $13)
	ON CONFLICT (order_id) DO NOTHING
	RETURNING ` + deliveryColumns

	stored, err := scanDelivery(r.db.pool.QueryRow(ctx, q,
		d.ID,
		d.OrderID,
		d.CustomerID,
		d.Status.String(),
		d.Priority,
		d.Pickup.Point.Latitude,
		d.Pickup.Point.Longitude,
		d.Pickup.Address,
		d.Dropoff.Point.Latitude,
		d.Dropoff.Point.Longitude,
		d.Dropoff.Address,
		d.CreatedAt,
		d.StatusUpdatedAt,
	))
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Delivery{}, false, fmt.Errorf("insert delivery: %w", err)
	}

	existing, err := scanDelivery(r.db.pool.QueryRow(ctx,
		`SELECT `+deliveryColumns+` FROM deliveries WHERE order_id = $1`, d.OrderID))
	if err != nil {
		return model.Delivery{}, false, fmt.Errorf("get delivery by order: %w", err)
	}
	ds := []model.Delivery{existing}
	if err := attachIssues(ctx, r.db.pool, ds); err != nil {
		return model.Delivery{}, false, err
	}
	return ds[0], false, nil
}

func (r *DeliveryRepo) Get(ctx context.Context, id string) (model.Delivery, error) {
	return r.getWith(ctx, r.db.pool, id)
}

func (r *DeliveryRepo) GetMany(ctx context.Context, ids []string) ([]model.Delivery, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.pool.Query(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE delivery_id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("query deliveries: %w", err)
	}
	ds, err := collectDeliveries(rows)
	if err != nil {
		return nil, err
	}
	if err := attachIssues(ctx, r.db.pool, ds); err != nil {
		return nil, err
	}
	return ds, nil
}

// exists tells a lost compare-and-set apart from a missing row.
func (r *DeliveryRepo) exists(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := r.db.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM deliveries WHERE delivery_id = $1)`, id).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check delivery: %w", err)
	}
	return ok, nil
}

// conditionalUpdate runs an UPDATE ... RETURNING and maps "no row" to notFound or lost.
func (r *DeliveryRepo) conditionalUpdate(ctx context.Context, id string, lost error, q string, args ...any) (model.Delivery, error) {
	d, err := scanDelivery(r.db.pool.QueryRow(ctx, q, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		ok, existsErr := r.exists(ctx, id)
		if existsErr != nil {
			return model.Delivery{}, existsErr
		}
		if !ok {
			return model.Delivery{}, myerrors.ErrDeliveryNotFound
		}
		return model.Delivery{}, lost
	}
	if err != nil {
		return model.Delivery{}, err
	}

	ds := []model.Delivery{d}
	if err := attachIssues(ctx, r.db.pool, ds); err != nil {
		return model.Delivery{}, err
	}
	return ds[0], nil
}

func (r *DeliveryRepo) Assign(ctx context.Context, id, driverID string, at time.Time) (model.Delivery, error) {
	q := `
	UPDATE deliveries
	SET driver_id = $2, status = 'assigned', status_updated_at = $3
	WHERE delivery_id = $1 AND status = 'pending' AND driver_id IS NULL
	RETURNING ` + deliveryColumns

	d, err := r.conditionalUpdate(ctx, id, myerrors.ErrAlreadyAssigned, q, id, driverID, at)
	if isUniqueViolation(err) {
		return model.Delivery{}, myerrors.ErrDriverBusy
	}
	if err != nil && !errors.Is(err, myerrors.ErrConflict) && !errors.Is(err, myerrors.ErrDeliveryNotFound) {
		return model.Delivery{}, fmt.Errorf("assign delivery: %w", err)
	}
	return d, err
}

func (r *DeliveryRepo) UpdateStatus(ctx context.Context, id string, from, to model.DeliveryStatus, at time.Time) (model.Delivery, error) {
	q := `
	UPDATE deliveries
	SET status = $3, status_updated_at = $4
	WHERE delivery_id = $1 AND status = $2
	RETURNING ` + deliveryColumns

	lost := fmt.Errorf("%w: status is no longer %s", myerrors.ErrConflict, from)
	d, err := r.conditionalUpdate(ctx, id, lost, q, id, from.String(), to.String(), at)
	if err != nil && !errors.Is(err, myerrors.ErrConflict) && !errors.Is(err, myerrors.ErrDeliveryNotFound) {
		return model.Delivery{}, fmt.Errorf("update status: %w", err)
	}
	return d, err
}

func (r *DeliveryRepo) Cancel(ctx context.Context, id, reason string, at time.Time) (model.Delivery, error) {
	q := `
	UPDATE deliveries
	SET status = 'cancelled', driver_id = NULL, cancel_reason = $2, status_updated_at = $3
	WHERE delivery_id = $1 AND status NOT IN ` + finishedStatuses + `
	RETURNING ` + deliveryColumns

	lost := fmt.Errorf("%w: delivery already finished", myerrors.ErrConflict)
	d, err := r.conditionalUpdate(ctx, id, lost, q, id, reason, at)
	if err != nil && !errors.Is(err, myerrors.ErrConflict) && !errors.Is(err, myerrors.ErrDeliveryNotFound) {
		return model.Delivery{}, fmt.Errorf("cancel delivery: %w", err)
	}
	return d, err
}

func (r *DeliveryRepo) AppendIssue(ctx context.Context, id string, issue model.Issue) (model.Delivery, error) {
	var d model.Delivery
	err := r.db.inTx(ctx, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, `SELECT status FROM deliveries WHERE delivery_id = $1 FOR UPDATE`, id).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return myerrors.ErrDeliveryNotFound
		}
		if err != nil {
			return fmt.Errorf("lock delivery: %w", err)
		}
		if model.DeliveryStatus(status).IsTerminal() {
			return myerrors.ErrDeliveryNotActive
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO delivery_issues (delivery_id, issue_type, description, reported_by, reported_at)
			VALUES ($1, $2, $3, $4, $5)`,
			id, string(issue.Type), issue.Description, issue.ReportedBy, issue.ReportedAt)
		if err != nil {
			return fmt.Errorf("insert issue: %w", err)
		}

		d, err = r.getWith(ctx, tx, id)
		return err
	})
	if err != nil {
		return model.Delivery{}, err
	}
	return d, nil
}

func (r *DeliveryRepo) ListAvailable(ctx context.Context) ([]model.Delivery, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+deliveryColumns+`
		FROM deliveries
		WHERE status = 'pending' AND driver_id IS NULL
		ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("query pending deliveries: %w", err)
	}
	ds, err := collectDeliveries(rows)
	if err != nil {
		return nil, err
	}
	if err := attachIssues(ctx, r.db.pool, ds); err != nil {
		return nil, err
	}
	return ds, nil
}

func (r *DeliveryRepo) ActiveByDriver(ctx context.Context, driverID string) (model.Delivery, error) {
	d, err := scanDelivery(r.db.pool.QueryRow(ctx, `
		SELECT `+deliveryColumns+`
		FROM deliveries
		WHERE driver_id = $1 AND status NOT IN `+finishedStatuses, driverID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Delivery{}, myerrors.ErrDeliveryNotFound
	}
	if err != nil {
		return model.Delivery{}, fmt.Errorf("get active delivery: %w", err)
	}

	ds := []model.Delivery{d}
	if err := attachIssues(ctx, r.db.pool, ds); err != nil {
		return model.Delivery{}, err
	}
	return ds[0], nil
}

// sweepBatch bounds one retention pass.
const sweepBatch = 500

// ListTerminalBefore returns finished deliveries that still have location history.
func (r *DeliveryRepo) ListTerminalBefore(ctx context.Context, before time.Time) ([]string, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT d.delivery_id
		FROM deliveries d
		WHERE d.status IN `+finishedStatuses+`
		  AND d.status_updated_at < $1
		  AND EXISTS (SELECT 1 FROM location_samples s WHERE s.delivery_id = d.delivery_id)
		ORDER BY d.status_updated_at
		LIMIT $2`, before, sweepBatch)
	if err != nil {
		return nil, fmt.Errorf("query finished deliveries: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan finished deliveries: %w", err)
	}
	return ids, nil
}
