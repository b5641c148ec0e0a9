package prescription

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

type prescriptionRepoPG struct{ pool *pgxpool.Pool }

func NewPrescriptionRepoPG(pool *pgxpool.Pool) PrescriptionRepository {
	return &prescriptionRepoPG{pool: pool}
}

func (r *prescriptionRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const prescriptionCols = `id, rx_number, patient_id, prescriber_id, drug_code, strength,
	dosage_form, route, directions, quantity, days_supply, refills, priority, status,
	written_date, effective_date, discontinue_date, verified_by, verified_at,
	dispensed_at, picked_up_at, created_at, updated_at`

func (r *prescriptionRepoPG) scan(row pgx.Row) (*Prescription, error) {
	var p Prescription
	err := row.Scan(&p.ID, &p.RxNumber, &p.PatientID, &p.PrescriberID, &p.DrugCode,
		&p.Strength, &p.DosageForm, &p.Route, &p.Directions, &p.Quantity,
		&p.DaysSupply, &p.Refills, &p.Priority, &p.Status,
		&p.WrittenDate, &p.EffectiveDate, &p.DiscontinueDate,
		&p.VerifiedBy, &p.VerifiedAt, &p.DispensedAt, &p.PickedUpAt,
		&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &p, err
}

func (r *prescriptionRepoPG) Create(ctx context.Context, p *Prescription) error {
	p.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO prescription (id, rx_number, patient_id, prescriber_id, drug_code,
			strength, dosage_form, route, directions, quantity, days_supply, refills,
			priority, status, written_date, effective_date, discontinue_date)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		p.ID, p.RxNumber, p.PatientID, p.PrescriberID, p.DrugCode,
		p.Strength, p.DosageForm, p.Route, p.Directions, p.Quantity,
		p.DaysSupply, p.Refills, p.Priority, p.Status,
		p.WrittenDate, p.EffectiveDate, p.DiscontinueDate)
	return err
}

func (r *prescriptionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx,
		`SELECT `+prescriptionCols+` FROM prescription WHERE id = $1`, id))
}

func (r *prescriptionRepoPG) GetByRxNumber(ctx context.Context, rxNumber string) (*Prescription, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx,
		`SELECT `+prescriptionCols+` FROM prescription WHERE rx_number = $1`, rxNumber))
}

func (r *prescriptionRepoPG) list(ctx context.Context, sql string, args ...interface{}) ([]*Prescription, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Prescription
	for rows.Next() {
		p, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (r *prescriptionRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Prescription, error) {
	return r.list(ctx,
		`SELECT `+prescriptionCols+` FROM prescription WHERE patient_id = $1 ORDER BY created_at DESC`,
		patientID)
}

func (r *prescriptionRepoPG) ListNonCancelledByPatient(ctx context.Context, patientID uuid.UUID) ([]*Prescription, error) {
	return r.list(ctx, `
		SELECT `+prescriptionCols+` FROM prescription
		WHERE patient_id = $1 AND status <> 'cancelled'
		ORDER BY created_at DESC`, patientID)
}

func (r *prescriptionRepoPG) List(ctx context.Context, status string, limit, offset int) ([]*Prescription, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM prescription
		WHERE ($1 = '' OR status = $1)`, status).Scan(&total); err != nil {
		return nil, 0, err
	}
	items, err := r.list(ctx, `
		SELECT `+prescriptionCols+` FROM prescription
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, status, limit, offset)
	return items, total, err
}

func (r *prescriptionRepoPG) Update(ctx context.Context, p *Prescription) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE prescription
		SET status=$2, effective_date=$3, discontinue_date=$4, verified_by=$5,
			verified_at=$6, dispensed_at=$7, picked_up_at=$8, updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.Status, p.EffectiveDate, p.DiscontinueDate,
		p.VerifiedBy, p.VerifiedAt, p.DispensedAt, p.PickedUpAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *prescriptionRepoPG) ListPendingWrittenBefore(ctx context.Context, cutoff time.Time) ([]*Prescription, error) {
	return r.list(ctx, `
		SELECT `+prescriptionCols+` FROM prescription
		WHERE status = 'pending' AND written_date <= $1
		ORDER BY written_date`, cutoff)
}

func (r *prescriptionRepoPG) CountByStatusInRange(ctx context.Context, from, to *time.Time) (map[string]int, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT status, COUNT(*) FROM prescription
		WHERE ($1::timestamptz IS NULL OR created_at >= $1)
		  AND ($2::timestamptz IS NULL OR created_at <= $2)
		GROUP BY status`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *prescriptionRepoPG) AvgVerifyToDispenseHours(ctx context.Context, from, to *time.Time) (float64, error) {
	var avg *float64
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT AVG(EXTRACT(EPOCH FROM dispensed_at - verified_at) / 3600.0)
		FROM prescription
		WHERE verified_at IS NOT NULL AND dispensed_at IS NOT NULL
		  AND ($1::timestamptz IS NULL OR dispensed_at >= $1)
		  AND ($2::timestamptz IS NULL OR dispensed_at <= $2)`,
		from, to).Scan(&avg)
	if err != nil {
		return 0, err
	}
	if avg == nil {
		return 0, nil
	}
	return *avg, nil
}
