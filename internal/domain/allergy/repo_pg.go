package allergy

import (
	"context"
	"errors"

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

type allergyRepoPG struct{ pool *pgxpool.Pool }

func NewAllergyRepoPG(pool *pgxpool.Pool) AllergyRepository {
	return &allergyRepoPG{pool: pool}
}

func (r *allergyRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const allergyCols = `id, patient_id, allergen, allergen_type, reaction, severity, status, created_at, updated_at`

func (r *allergyRepoPG) scan(row pgx.Row) (*Allergy, error) {
	var a Allergy
	err := row.Scan(&a.ID, &a.PatientID, &a.Allergen, &a.AllergenType,
		&a.Reaction, &a.Severity, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &a, err
}

func (r *allergyRepoPG) Create(ctx context.Context, a *Allergy) error {
	a.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO allergy (id, patient_id, allergen, allergen_type, reaction, severity, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		a.ID, a.PatientID, a.Allergen, a.AllergenType, a.Reaction, a.Severity, a.Status)
	return err
}

func (r *allergyRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Allergy, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx,
		`SELECT `+allergyCols+` FROM allergy WHERE id = $1`, id))
}

func (r *allergyRepoPG) list(ctx context.Context, sql string, args ...interface{}) ([]*Allergy, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Allergy
	for rows.Next() {
		a, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *allergyRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Allergy, error) {
	return r.list(ctx,
		`SELECT `+allergyCols+` FROM allergy WHERE patient_id = $1 ORDER BY created_at`, patientID)
}

func (r *allergyRepoPG) ListActiveByPatient(ctx context.Context, patientID uuid.UUID) ([]*Allergy, error) {
	return r.list(ctx,
		`SELECT `+allergyCols+` FROM allergy WHERE patient_id = $1 AND status = 'active' ORDER BY created_at`,
		patientID)
}

func (r *allergyRepoPG) Update(ctx context.Context, a *Allergy) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE allergy SET reaction=$2, severity=$3, status=$4, updated_at=NOW()
		WHERE id = $1`,
		a.ID, a.Reaction, a.Severity, a.Status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
