package inventory

import (
	"context"
	"encoding/json"
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

type lotRepoPG struct{ pool *pgxpool.Pool }

func NewLotRepoPG(pool *pgxpool.Pool) LotRepository {
	return &lotRepoPG{pool: pool}
}

func (r *lotRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const lotCols = `id, lot_number, drug_code, expiration_date, quantity_on_hand, unit_cost,
	wholesale_cost, reorder_level, max_level, storage_location, received_date,
	created_at, updated_at`

func (r *lotRepoPG) scan(row pgx.Row) (*InventoryLot, error) {
	var l InventoryLot
	err := row.Scan(&l.ID, &l.LotNumber, &l.DrugCode, &l.ExpirationDate,
		&l.QuantityOnHand, &l.UnitCost, &l.WholesaleCost, &l.ReorderLevel,
		&l.MaxLevel, &l.StorageLocation, &l.ReceivedDate, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrLotNotFound
	}
	return &l, err
}

func (r *lotRepoPG) Create(ctx context.Context, l *InventoryLot) error {
	l.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO inventory_lot (id, lot_number, drug_code, expiration_date,
			quantity_on_hand, unit_cost, wholesale_cost, reorder_level, max_level,
			storage_location, received_date)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		l.ID, l.LotNumber, l.DrugCode, l.ExpirationDate, l.QuantityOnHand,
		l.UnitCost, l.WholesaleCost, l.ReorderLevel, l.MaxLevel,
		l.StorageLocation, l.ReceivedDate)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateLot
	}
	return err
}

func (r *lotRepoPG) GetByLotNumber(ctx context.Context, drugCode, lotNumber string) (*InventoryLot, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx,
		`SELECT `+lotCols+` FROM inventory_lot WHERE drug_code = $1 AND lot_number = $2`,
		drugCode, lotNumber))
}

func (r *lotRepoPG) list(ctx context.Context, sql string, args ...interface{}) ([]*InventoryLot, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*InventoryLot
	for rows.Next() {
		l, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, l)
	}
	return items, rows.Err()
}

func (r *lotRepoPG) ListByDrug(ctx context.Context, drugCode string) ([]*InventoryLot, error) {
	return r.list(ctx,
		`SELECT `+lotCols+` FROM inventory_lot WHERE drug_code = $1 ORDER BY expiration_date`,
		drugCode)
}

func (r *lotRepoPG) ListAllocatable(ctx context.Context, drugCode string) ([]*InventoryLot, error) {
	return r.list(ctx, `
		SELECT `+lotCols+` FROM inventory_lot
		WHERE drug_code = $1 AND quantity_on_hand > 0
		ORDER BY expiration_date`, drugCode)
}

// DecrementLots runs all draws in one transaction. The quantity guard
// in the WHERE clause rejects a draw that raced with another
// allocation, rolling back the whole batch.
func (r *lotRepoPG) DecrementLots(ctx context.Context, drugCode string, draws []LotDraw) error {
	apply := func(ctx context.Context) error {
		c := r.conn(ctx)
		for _, d := range draws {
			tag, err := c.Exec(ctx, `
				UPDATE inventory_lot
				SET quantity_on_hand = quantity_on_hand - $3, updated_at = NOW()
				WHERE drug_code = $1 AND lot_number = $2 AND quantity_on_hand >= $3`,
				drugCode, d.LotNumber, d.Quantity)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return ErrConcurrentUpdate
			}
		}
		return nil
	}
	if db.TxFromContext(ctx) != nil {
		return apply(ctx)
	}
	return db.RunInTx(ctx, r.pool, apply)
}

func (r *lotRepoPG) RestoreLots(ctx context.Context, drugCode string, draws []LotDraw) error {
	apply := func(ctx context.Context) error {
		c := r.conn(ctx)
		for _, d := range draws {
			tag, err := c.Exec(ctx, `
				UPDATE inventory_lot
				SET quantity_on_hand = quantity_on_hand + $3, updated_at = NOW()
				WHERE drug_code = $1 AND lot_number = $2`,
				drugCode, d.LotNumber, d.Quantity)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return ErrLotNotFound
			}
		}
		return nil
	}
	if db.TxFromContext(ctx) != nil {
		return apply(ctx)
	}
	return db.RunInTx(ctx, r.pool, apply)
}

func (r *lotRepoPG) ListLowStock(ctx context.Context) ([]*InventoryLot, error) {
	return r.list(ctx, `
		SELECT `+lotCols+` FROM inventory_lot
		WHERE quantity_on_hand <= reorder_level
		ORDER BY drug_code, lot_number`)
}

func (r *lotRepoPG) ListExpiringBefore(ctx context.Context, cutoff time.Time) ([]*InventoryLot, error) {
	return r.list(ctx, `
		SELECT `+lotCols+` FROM inventory_lot
		WHERE quantity_on_hand > 0 AND expiration_date <= $1
		ORDER BY expiration_date`, cutoff)
}

type dispensingRepoPG struct{ pool *pgxpool.Pool }

func NewDispensingRepoPG(pool *pgxpool.Pool) DispensingRepository {
	return &dispensingRepoPG{pool: pool}
}

func (r *dispensingRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const dispensingCols = `id, prescription_id, pharmacist_id, quantity, lot_draws,
	refill_number, total_cost, copay_cost, insurance_cost, counseling_provided,
	counseling_notes, dispensed_at, created_at`

func (r *dispensingRepoPG) scan(row pgx.Row) (*DispensingRecord, error) {
	var rec DispensingRecord
	var draws []byte
	err := row.Scan(&rec.ID, &rec.PrescriptionID, &rec.PharmacistID, &rec.Quantity,
		&draws, &rec.RefillNumber, &rec.TotalCost, &rec.CopayCost, &rec.InsuranceCost,
		&rec.CounselingProvided, &rec.CounselingNotes, &rec.DispensedAt, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrLotNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(draws, &rec.LotDraws); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *dispensingRepoPG) Create(ctx context.Context, rec *DispensingRecord) error {
	rec.ID = uuid.New()
	draws, err := json.Marshal(rec.LotDraws)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO dispensing_record (id, prescription_id, pharmacist_id, quantity,
			lot_draws, refill_number, total_cost, copay_cost, insurance_cost,
			counseling_provided, counseling_notes, dispensed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		rec.ID, rec.PrescriptionID, rec.PharmacistID, rec.Quantity, draws,
		rec.RefillNumber, rec.TotalCost, rec.CopayCost, rec.InsuranceCost,
		rec.CounselingProvided, rec.CounselingNotes, rec.DispensedAt)
	return err
}

func (r *dispensingRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM dispensing_record WHERE id = $1`, id)
	return err
}

func (r *dispensingRepoPG) ListByPrescription(ctx context.Context, prescriptionID uuid.UUID) ([]*DispensingRecord, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+dispensingCols+` FROM dispensing_record
		WHERE prescription_id = $1 ORDER BY refill_number`, prescriptionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*DispensingRecord
	for rows.Next() {
		rec, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, rec)
	}
	return items, rows.Err()
}

func (r *dispensingRepoPG) CountByPrescription(ctx context.Context, prescriptionID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM dispensing_record WHERE prescription_id = $1`,
		prescriptionID).Scan(&n)
	return n, err
}

func (r *dispensingRepoPG) SumQuantityByPrescription(ctx context.Context, prescriptionID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COALESCE(SUM(quantity), 0) FROM dispensing_record WHERE prescription_id = $1`,
		prescriptionID).Scan(&n)
	return n, err
}

func (r *dispensingRepoPG) TotalRevenueInRange(ctx context.Context, from, to *time.Time) (float64, error) {
	var total float64
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(SUM(total_cost), 0) FROM dispensing_record
		WHERE ($1::timestamptz IS NULL OR dispensed_at >= $1)
		  AND ($2::timestamptz IS NULL OR dispensed_at <= $2)`,
		from, to).Scan(&total)
	return total, err
}
