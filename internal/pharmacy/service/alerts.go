package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/notify"
	"github.com/medflow/medflow-pharmacy/pkg/errors"
	"github.com/medflow/medflow-pharmacy/pkg/logger"
)

// Alert severities.
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// criticalExpiryDays is when an expiring batch becomes critical.
const criticalExpiryDays = 7

// AlertService scans inventory and keeps one open alert per condition and
// record. Hooks fire when an alert is first raised, not on every scan.
type AlertService struct {
	inventory InventoryStore
	alerts    AlertStore
	hooks     notify.Hooks
	clock     Clock
	warnDays  int
	logger    *logger.Logger
}

// ScanAll runs every scan and returns how many alerts were raised. It logs
// failures and keeps scanning.
func (s *AlertService) ScanAll(ctx context.Context) (int, error) {
	recs, err := s.inventory.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("scan alerts: list inventory: %w", err)
	}

	scanners := []struct {
		name string
		fn   func(context.Context, []*domain.InventoryRecord) (int, error)
	}{
		{"low_stock", s.scanLowStock},
		{"expiring_soon", s.scanExpiringSoon},
		{"expired", s.scanExpired},
		{"resolve_cleared", s.resolveCleared},
	}

	raised := 0
	var lastErr error
	for _, scanner := range scanners {
		n, err := scanner.fn(ctx, recs)
		if err != nil {
			s.logger.Error().Err(err).Str("scanner", scanner.name).Msg("alert scan failed")
			lastErr = err
		}
		if scanner.name != "resolve_cleared" {
			raised += n
		}
	}
	return raised, lastErr
}

// List returns alerts matching f.
func (s *AlertService) List(ctx context.Context, f domain.AlertFilter) ([]*domain.StockAlert, int64, error) {
	return s.alerts.List(ctx, f)
}

// Acknowledge marks an open alert as seen by the caller.
func (s *AlertService) Acknowledge(ctx context.Context, id string) error {
	userID, _, err := requireActor(ctx)
	if err != nil {
		return err
	}
	return s.alerts.Acknowledge(ctx, id, userID, s.clock.Now().UTC())
}

// Conditions. Records with no minimum level configured never raise low stock.

func (s *AlertService) isLow(rec *domain.InventoryRecord, today time.Time) bool {
	return rec.MinimumLevel > 0 && rec.IsLowStock(today)
}

func (s *AlertService) isExpiringSoon(rec *domain.InventoryRecord, today time.Time) (int, bool) {
	if rec.ExpiryDate == nil || rec.CurrentQuantity == 0 || rec.IsExpired(today) {
		return 0, false
	}
	days := daysUntil(*rec.ExpiryDate, today)
	return days, days <= s.warnDays
}

func (s *AlertService) isExpiredWithStock(rec *domain.InventoryRecord, today time.Time) bool {
	return rec.CurrentQuantity > 0 && rec.IsExpired(today)
}

func daysUntil(expiry, today time.Time) int {
	return int(domain.DateOf(expiry).Sub(domain.DateOf(today)).Hours() / 24)
}

// scanLowStock raises low_stock where usable quantity is at or under the minimum.
func (s *AlertService) scanLowStock(ctx context.Context, recs []*domain.InventoryRecord) (int, error) {
	today := s.clock.today()
	raised := 0
	for _, rec := range recs {
		if !s.isLow(rec, today) {
			continue
		}
		msg := fmt.Sprintf("%d left at %s, minimum is %d", rec.EffectiveQuantity(today), rec.Location, rec.MinimumLevel)
		severity := SeverityWarning
		if rec.EffectiveQuantity(today) == 0 {
			severity = SeverityCritical
		}
		created, err := s.raise(ctx, domain.AlertLowStock, severity, rec, msg)
		if err != nil {
			return raised, fmt.Errorf("scanLowStock: %w", err)
		}
		if created {
			raised++
			snapshot := *rec
			s.notify(ctx, notify.LowStock, func(ctx context.Context) error {
				return s.hooks.OnLowStock(ctx, snapshot)
			})
		}
	}
	return raised, nil
}

// scanExpiringSoon raises expiring_soon for batches inside the warning window.
func (s *AlertService) scanExpiringSoon(ctx context.Context, recs []*domain.InventoryRecord) (int, error) {
	today := s.clock.today()
	raised := 0
	for _, rec := range recs {
		days, ok := s.isExpiringSoon(rec, today)
		if !ok {
			continue
		}
		severity := SeverityWarning
		if days <= criticalExpiryDays {
			severity = SeverityCritical
		}
		msg := fmt.Sprintf("%d units expire in %d days at %s", rec.CurrentQuantity, days, rec.Location)
		created, err := s.raise(ctx, domain.AlertExpiringSoon, severity, rec, msg)
		if err != nil {
			return raised, fmt.Errorf("scanExpiringSoon: %w", err)
		}
		if created {
			raised++
			snapshot := *rec
			s.notify(ctx, notify.StockExpiring, func(ctx context.Context) error {
				return s.hooks.OnStockExpiring(ctx, snapshot, days)
			})
		}
	}
	return raised, nil
}

// scanExpired raises expired for batches past expiry the sweep has not zeroed yet.
func (s *AlertService) scanExpired(ctx context.Context, recs []*domain.InventoryRecord) (int, error) {
	today := s.clock.today()
	raised := 0
	for _, rec := range recs {
		if !s.isExpiredWithStock(rec, today) {
			continue
		}
		days := daysUntil(*rec.ExpiryDate, today)
		msg := fmt.Sprintf("%d units expired at %s", rec.CurrentQuantity, rec.Location)
		created, err := s.raise(ctx, domain.AlertExpired, SeverityCritical, rec, msg)
		if err != nil {
			return raised, fmt.Errorf("scanExpired: %w", err)
		}
		if created {
			raised++
			snapshot := *rec
			s.notify(ctx, notify.StockExpiring, func(ctx context.Context) error {
				return s.hooks.OnStockExpiring(ctx, snapshot, days)
			})
		}
	}
	return raised, nil
}

// resolveCleared closes open alerts whose condition no longer holds.
func (s *AlertService) resolveCleared(ctx context.Context, recs []*domain.InventoryRecord) (int, error) {
	open, err := s.alerts.ListOpen(ctx)
	if err != nil {
		return 0, fmt.Errorf("resolveCleared: list open alerts: %w", err)
	}

	byID := make(map[string]*domain.InventoryRecord, len(recs))
	for _, rec := range recs {
		byID[rec.ID] = rec
	}

	today := s.clock.today()
	now := s.clock.Now().UTC()
	resolved := 0
	for _, a := range open {
		rec, ok := byID[a.InventoryID]
		holds := false
		if ok {
			switch a.AlertType {
			case domain.AlertLowStock:
				holds = s.isLow(rec, today)
			case domain.AlertExpiringSoon:
				_, holds = s.isExpiringSoon(rec, today)
			case domain.AlertExpired:
				holds = s.isExpiredWithStock(rec, today)
			}
		}
		if holds {
			continue
		}
		if err := s.alerts.Resolve(ctx, a.ID, now); err != nil {
			return resolved, fmt.Errorf("resolveCleared: %w", err)
		}
		resolved++
	}
	return resolved, nil
}

// raise creates the alert unless one is already open for the same record.
func (s *AlertService) raise(ctx context.Context, t domain.AlertType, severity string, rec *domain.InventoryRecord, msg string) (bool, error) {
	existing, err := s.alerts.FindOpen(ctx, t, rec.ID)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}
	err = s.alerts.Create(ctx, &domain.StockAlert{
		ID:          uuid.New().String(),
		AlertType:   t,
		Severity:    severity,
		DrugID:      rec.DrugID,
		InventoryID: rec.ID,
		Location:    rec.Location,
		Message:     msg,
		Status:      domain.AlertActive,
		CreatedAt:   s.clock.Now().UTC(),
	})
	if errors.Is(err, errors.ErrConflict) {
		// Raised concurrently by another scan.
		return false, nil
	}
	return err == nil, err
}

func (s *AlertService) notify(ctx context.Context, name string, fn func(ctx context.Context) error) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error().Interface("panic", p).Str("hook", name).Msg("alert hook panicked")
		}
	}()
	if err := fn(ctx); err != nil {
		s.logger.Error().Err(err).Str("hook", name).Msg("alert hook failed")
	}
}
