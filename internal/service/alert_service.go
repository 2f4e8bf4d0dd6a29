package service

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"krader/internal/domain"
)

// AlertFunc is invoked when an alert's price condition is met.
type AlertFunc func(id string, alert domain.AlertConfig, price decimal.Decimal)

// AlertService evaluates price alerts against ticker updates.
// One-shot alerts deactivate after firing; persistent ones keep firing
// on every matching update.
type AlertService struct {
	mu     sync.Mutex
	alerts map[string]*domain.AlertConfig
	onFire AlertFunc
}

// NewAlertService creates the alert evaluator. onFire may be nil, in
// which case triggers are only logged.
func NewAlertService(onFire AlertFunc) *AlertService {
	return &AlertService{
		alerts: make(map[string]*domain.AlertConfig),
		onFire: onFire,
	}
}

// Add registers an alert and returns its id.
func (s *AlertService) Add(alert *domain.AlertConfig) string {
	id := uuid.NewString()
	s.mu.Lock()
	s.alerts[id] = alert
	s.mu.Unlock()
	return id
}

// Remove deletes an alert. Idempotent.
func (s *AlertService) Remove(id string) {
	s.mu.Lock()
	delete(s.alerts, id)
	s.mu.Unlock()
}

// Active returns the number of active alerts.
func (s *AlertService) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.alerts {
		if a.IsActive() {
			n++
		}
	}
	return n
}

// Evaluate checks every alert for the pair against the price and fires
// those whose condition is met.
func (s *AlertService) Evaluate(pair domain.Pair, price decimal.Decimal) {
	type fired struct {
		id    string
		alert domain.AlertConfig
	}

	s.mu.Lock()
	var hits []fired
	for id, a := range s.alerts {
		if a.Pair != pair || !a.CheckCondition(price) {
			continue
		}
		hits = append(hits, fired{id: id, alert: *a})
		if !a.IsPersistent {
			a.SetActive(false)
		}
	}
	s.mu.Unlock()

	for _, h := range hits {
		slog.Info("Price alert triggered",
			slog.String("pair", pair.String()),
			slog.String("target", h.alert.TargetPrice.String()),
			slog.String("price", price.String()),
			slog.String("direction", h.alert.Direction),
		)
		if s.onFire != nil {
			s.onFire(h.id, h.alert, price)
		}
	}
}
