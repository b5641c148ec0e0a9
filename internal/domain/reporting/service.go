package reporting

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/rxsafe/rxsafe/internal/domain/inventory"
	"github.com/rxsafe/rxsafe/internal/platform/events"
)

// PrescriptionStats is the read-side view over prescriptions.
type PrescriptionStats interface {
	CountByStatusInRange(ctx context.Context, from, to *time.Time) (map[string]int, error)
	AvgVerifyToDispenseHours(ctx context.Context, from, to *time.Time) (float64, error)
}

// AlertStats is the read-side view over clinical alerts.
type AlertStats interface {
	CountInRange(ctx context.Context, from, to *time.Time) (total, critical int, err error)
}

// RevenueStats is the read-side view over dispensing records.
type RevenueStats interface {
	TotalRevenueInRange(ctx context.Context, from, to *time.Time) (float64, error)
}

// StockView is the read-side view over inventory lots.
type StockView interface {
	ListLowStock(ctx context.Context) ([]*inventory.InventoryLot, error)
	ListExpiringBefore(ctx context.Context, cutoff time.Time) ([]*inventory.InventoryLot, error)
}

// Snapshot is a point-in-time aggregate. Producing one never mutates
// any entity.
type Snapshot struct {
	From                     *time.Time                `json:"from,omitempty"`
	To                       *time.Time                `json:"to,omitempty"`
	GeneratedAt              time.Time                 `json:"generated_at"`
	PrescriptionCounts       map[string]int            `json:"prescription_counts"`
	TotalAlerts              int                       `json:"total_alerts"`
	CriticalAlerts           int                       `json:"critical_alerts"`
	AvgVerifyToDispenseHours float64                   `json:"avg_verify_to_dispense_hours"`
	TotalRevenue             float64                   `json:"total_revenue"`
	LowStockLots             []*inventory.InventoryLot `json:"low_stock_lots"`
	ExpiringLots             []*inventory.InventoryLot `json:"expiring_lots"`
}

type Service struct {
	rxStats    PrescriptionStats
	alertStats AlertStats
	revenue    RevenueStats
	stock      StockView
	publisher  events.Publisher
	logger     zerolog.Logger
	expiryWarn time.Duration
}

func NewService(
	rxStats PrescriptionStats,
	alertStats AlertStats,
	revenue RevenueStats,
	stock StockView,
	publisher events.Publisher,
	logger zerolog.Logger,
	expiryWarn time.Duration,
) *Service {
	return &Service{
		rxStats:    rxStats,
		alertStats: alertStats,
		revenue:    revenue,
		stock:      stock,
		publisher:  publisher,
		logger:     logger,
		expiryWarn: expiryWarn,
	}
}

// BuildSnapshot aggregates across prescriptions, alerts, dispensing
// records, and inventory for the optional [from, to] window.
func (s *Service) BuildSnapshot(ctx context.Context, from, to *time.Time) (*Snapshot, error) {
	counts, err := s.rxStats.CountByStatusInRange(ctx, from, to)
	if err != nil {
		return nil, err
	}
	totalAlerts, criticalAlerts, err := s.alertStats.CountInRange(ctx, from, to)
	if err != nil {
		return nil, err
	}
	avgHours, err := s.rxStats.AvgVerifyToDispenseHours(ctx, from, to)
	if err != nil {
		return nil, err
	}
	totalRevenue, err := s.revenue.TotalRevenueInRange(ctx, from, to)
	if err != nil {
		return nil, err
	}
	lowStock, err := s.stock.ListLowStock(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	expiring, err := s.stock.ListExpiringBefore(ctx, now.Add(s.expiryWarn))
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		From:                     from,
		To:                       to,
		GeneratedAt:              now,
		PrescriptionCounts:       counts,
		TotalAlerts:              totalAlerts,
		CriticalAlerts:           criticalAlerts,
		AvgVerifyToDispenseHours: avgHours,
		TotalRevenue:             totalRevenue,
		LowStockLots:             lowStock,
		ExpiringLots:             expiring,
	}, nil
}

// ExpirySweep publishes a LotExpiringSoon notification for every
// stocked lot expiring within the warning horizon and returns those
// lots nearest expiration first. Intended for an external scheduler.
func (s *Service) ExpirySweep(ctx context.Context, now time.Time) ([]*inventory.InventoryLot, error) {
	lots, err := s.stock.ListExpiringBefore(ctx, now.Add(s.expiryWarn))
	if err != nil {
		return nil, err
	}
	for _, l := range lots {
		s.publisher.Publish(events.LotExpiringSoon, l.ID.String(), map[string]string{
			"drug_code":        l.DrugCode,
			"lot_number":       l.LotNumber,
			"expiration_date":  l.ExpirationDate.Format(time.RFC3339),
			"quantity_on_hand": strconv.Itoa(l.QuantityOnHand),
		})
	}
	if len(lots) > 0 {
		s.logger.Info().Int("lots", len(lots)).Msg("expiry sweep flagged lots nearing expiration")
	}
	return lots, nil
}
