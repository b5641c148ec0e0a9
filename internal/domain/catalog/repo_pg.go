package catalog

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

type drugRepoPG struct{ pool *pgxpool.Pool }

func NewDrugRepoPG(pool *pgxpool.Pool) DrugRepository {
	return &drugRepoPG{pool: pool}
}

func (r *drugRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const drugCols = `id, code, generic_name, brand_name, drug_class, therapeutic_class,
	schedule, dosage_forms, strengths, routes, pregnancy_category,
	black_box_warning, formulary_status, unit_cost, active, created_at, updated_at`

func (r *drugRepoPG) scanDrug(row pgx.Row) (*Drug, error) {
	var d Drug
	err := row.Scan(&d.ID, &d.Code, &d.GenericName, &d.BrandName, &d.DrugClass, &d.TherapeuticClass,
		&d.Schedule, &d.DosageForms, &d.Strengths, &d.Routes, &d.PregnancyCategory,
		&d.BlackBoxWarning, &d.FormularyStatus, &d.UnitCost, &d.Active, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &d, err
}

func (r *drugRepoPG) Create(ctx context.Context, d *Drug) error {
	d.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO drug (id, code, generic_name, brand_name, drug_class, therapeutic_class,
			schedule, dosage_forms, strengths, routes, pregnancy_category,
			black_box_warning, formulary_status, unit_cost, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		d.ID, d.Code, d.GenericName, d.BrandName, d.DrugClass, d.TherapeuticClass,
		d.Schedule, d.DosageForms, d.Strengths, d.Routes, d.PregnancyCategory,
		d.BlackBoxWarning, d.FormularyStatus, d.UnitCost, d.Active)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateCode
	}
	return err
}

func (r *drugRepoPG) GetByCode(ctx context.Context, code string) (*Drug, error) {
	return r.scanDrug(r.conn(ctx).QueryRow(ctx,
		`SELECT `+drugCols+` FROM drug WHERE code = $1`, code))
}

func (r *drugRepoPG) Search(ctx context.Context, query string, activeOnly bool) ([]*Drug, error) {
	sql := `SELECT ` + drugCols + ` FROM drug
		WHERE (generic_name ILIKE $1 OR brand_name ILIKE $1 OR code ILIKE $1 OR drug_class ILIKE $1)`
	if activeOnly {
		sql += ` AND active`
	}
	sql += ` ORDER BY generic_name`

	rows, err := r.conn(ctx).Query(ctx, sql, "%"+query+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Drug
	for rows.Next() {
		d, err := r.scanDrug(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

func (r *drugRepoPG) List(ctx context.Context, limit, offset int) ([]*Drug, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM drug`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+drugCols+` FROM drug ORDER BY generic_name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Drug
	for rows.Next() {
		d, err := r.scanDrug(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	return items, total, rows.Err()
}

func (r *drugRepoPG) Update(ctx context.Context, d *Drug) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE drug SET generic_name=$2, brand_name=$3, drug_class=$4, therapeutic_class=$5,
			schedule=$6, pregnancy_category=$7, black_box_warning=$8,
			formulary_status=$9, unit_cost=$10, active=$11, updated_at=NOW()
		WHERE code = $1`,
		d.Code, d.GenericName, d.BrandName, d.DrugClass, d.TherapeuticClass,
		d.Schedule, d.PregnancyCategory, d.BlackBoxWarning,
		d.FormularyStatus, d.UnitCost, d.Active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
