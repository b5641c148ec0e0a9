package cds

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rxsafe/rxsafe/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type interactionRepoPG struct{ pool *pgxpool.Pool }

func NewInteractionRepoPG(pool *pgxpool.Pool) InteractionRepository {
	return &interactionRepoPG{pool: pool}
}

func (r *interactionRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const interactionCols = `id, drug_code_a, drug_code_b, severity, effect, management, created_at`

func (r *interactionRepoPG) scan(row pgx.Row) (*DrugInteraction, error) {
	var i DrugInteraction
	err := row.Scan(&i.ID, &i.DrugCodeA, &i.DrugCodeB, &i.Severity,
		&i.Effect, &i.Management, &i.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInteractionNotFound
	}
	return &i, err
}

func (r *interactionRepoPG) Create(ctx context.Context, i *DrugInteraction) error {
	i.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO drug_interaction (id, drug_code_a, drug_code_b, severity, effect, management)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		i.ID, i.DrugCodeA, i.DrugCodeB, i.Severity, i.Effect, i.Management)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateInteraction
	}
	return err
}

func (r *interactionRepoPG) GetPair(ctx context.Context, codeA, codeB string) (*DrugInteraction, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `
		SELECT `+interactionCols+` FROM drug_interaction
		WHERE (drug_code_a = $1 AND drug_code_b = $2)
		   OR (drug_code_a = $2 AND drug_code_b = $1)`,
		codeA, codeB))
}

func (r *interactionRepoPG) List(ctx context.Context, limit, offset int) ([]*DrugInteraction, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM drug_interaction`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+interactionCols+` FROM drug_interaction
		ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*DrugInteraction
	for rows.Next() {
		i, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, i)
	}
	return items, total, rows.Err()
}

type alertRepoPG struct{ pool *pgxpool.Pool }

func NewAlertRepoPG(pool *pgxpool.Pool) AlertRepository {
	return &alertRepoPG{pool: pool}
}

func (r *alertRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const alertCols = `id, prescription_id, alert_type, severity, message, recommendation,
	acknowledged, acknowledged_by, acknowledged_at, override_reason, created_at`

func (r *alertRepoPG) scan(row pgx.Row) (*ClinicalAlert, error) {
	var a ClinicalAlert
	err := row.Scan(&a.ID, &a.PrescriptionID, &a.AlertType, &a.Severity,
		&a.Message, &a.Recommendation, &a.Acknowledged,
		&a.AcknowledgedBy, &a.AcknowledgedAt, &a.OverrideReason, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAlertNotFound
	}
	return &a, err
}

func (r *alertRepoPG) Create(ctx context.Context, a *ClinicalAlert) error {
	a.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO clinical_alert (id, prescription_id, alert_type, severity, message, recommendation)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		a.ID, a.PrescriptionID, a.AlertType, a.Severity, a.Message, a.Recommendation)
	return err
}

func (r *alertRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*ClinicalAlert, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx,
		`SELECT `+alertCols+` FROM clinical_alert WHERE id = $1`, id))
}

func (r *alertRepoPG) ListByPrescription(ctx context.Context, prescriptionID uuid.UUID) ([]*ClinicalAlert, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+alertCols+` FROM clinical_alert
		WHERE prescription_id = $1
		ORDER BY created_at`, prescriptionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*ClinicalAlert
	for rows.Next() {
		a, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *alertRepoPG) Update(ctx context.Context, a *ClinicalAlert) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE clinical_alert
		SET acknowledged=$2, acknowledged_by=$3, acknowledged_at=$4, override_reason=$5
		WHERE id = $1`,
		a.ID, a.Acknowledged, a.AcknowledgedBy, a.AcknowledgedAt, a.OverrideReason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlertNotFound
	}
	return nil
}

func (r *alertRepoPG) CountUnacknowledgedCritical(ctx context.Context, prescriptionID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM clinical_alert
		WHERE prescription_id = $1 AND severity = 'critical' AND acknowledged = FALSE`,
		prescriptionID).Scan(&n)
	return n, err
}

func (r *alertRepoPG) CountInRange(ctx context.Context, from, to *time.Time) (int, int, error) {
	var total, critical int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE severity = 'critical')
		FROM clinical_alert
		WHERE ($1::timestamptz IS NULL OR created_at >= $1)
		  AND ($2::timestamptz IS NULL OR created_at <= $2)`,
		from, to).Scan(&total, &critical)
	return total, critical, err
}
