package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"medprice-service/internal/models"
)

const alertColumns = `id, email, medication_id, medication_name, dosage, current_price, target_price,
	lowest_pharmacy, status, triggered_at, expires_at, created_at, updated_at`

// FindActiveAlert returns the active alert for (email, medication, dosage)
func (s *Store) FindActiveAlert(ctx context.Context, email string, medicationID models.MedicationID, dosage string) (*models.PriceAlert, error) {
	var a models.PriceAlert
	err := s.db.GetContext(ctx, &a,
		`SELECT `+alertColumns+` FROM price_alerts
		 WHERE email = $1 AND medication_id = $2 AND dosage = $3 AND status = 'active'
		 ORDER BY id LIMIT 1`,
		email, medicationID, dosage)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active alert: %w", err)
	}
	return &a, nil
}

// CreateAlert inserts an alert and sets its id
func (s *Store) CreateAlert(ctx context.Context, a *models.PriceAlert) error {
	err := s.db.GetContext(ctx, &a.ID,
		`INSERT INTO price_alerts (email, medication_id, medication_name, dosage, current_price, target_price,
		                           lowest_pharmacy, status, expires_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id`,
		a.Email, a.MedicationID, a.MedicationName, a.Dosage, a.CurrentPrice, a.TargetPrice,
		a.LowestPharmacy, a.Status, a.ExpiresAt, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}
	return nil
}

// RefreshAlert updates the target and restarts the expiry of an active alert
func (s *Store) RefreshAlert(ctx context.Context, a *models.PriceAlert) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE price_alerts
		 SET target_price = $2, current_price = $3, medication_name = $4, expires_at = $5, updated_at = $6
		 WHERE id = $1 AND status = 'active'`,
		a.ID, a.TargetPrice, a.CurrentPrice, a.MedicationName, a.ExpiresAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to refresh alert: %w", err)
	}
	return requireAffected(res)
}

// GetAlert retrieves an alert by id
func (s *Store) GetAlert(ctx context.Context, id int64) (*models.PriceAlert, error) {
	var a models.PriceAlert
	err := s.db.GetContext(ctx, &a, "SELECT "+alertColumns+" FROM price_alerts WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert %d: %w", id, err)
	}
	return &a, nil
}

// CancelAlert moves an active alert to cancelled. It reports false if the alert was not active.
func (s *Store) CancelAlert(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE price_alerts SET status = 'cancelled', updated_at = NOW() WHERE id = $1 AND status = 'active'", id)
	if err != nil {
		return false, fmt.Errorf("failed to cancel alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListDueAlerts returns active alerts that have not expired at now
func (s *Store) ListDueAlerts(ctx context.Context, now time.Time) ([]models.PriceAlert, error) {
	alerts := []models.PriceAlert{}
	err := s.db.SelectContext(ctx, &alerts,
		"SELECT "+alertColumns+" FROM price_alerts WHERE status = 'active' AND expires_at > $1 ORDER BY id", now)
	if err != nil {
		return nil, fmt.Errorf("failed to list due alerts: %w", err)
	}
	return alerts, nil
}

// ListAlerts returns alerts newest first, optionally filtered by status
func (s *Store) ListAlerts(ctx context.Context, status string, limit, offset int) ([]models.PriceAlert, error) {
	query := "SELECT " + alertColumns + " FROM price_alerts"
	args := []interface{}{}
	if status != "" {
		args = append(args, status)
		query += " WHERE status = $1"
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	alerts := []models.PriceAlert{}
	if err := s.db.SelectContext(ctx, &alerts, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	return alerts, nil
}

// MarkAlertTriggered moves an active alert to triggered. Alerts in any other state are left untouched.
func (s *Store) MarkAlertTriggered(ctx context.Context, id int64, price float64, snapshot models.PharmacySnapshot, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE price_alerts
		 SET status = 'triggered', triggered_at = $2, current_price = $3, lowest_pharmacy = $4, updated_at = $2
		 WHERE id = $1 AND status = 'active'`,
		id, at, price, snapshot)
	if err != nil {
		return fmt.Errorf("failed to mark alert triggered: %w", err)
	}
	return requireAffected(res)
}

// UpdateAlertSnapshot records the latest lowest price of an active alert
func (s *Store) UpdateAlertSnapshot(ctx context.Context, id int64, price float64, snapshot models.PharmacySnapshot) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE price_alerts SET current_price = $2, lowest_pharmacy = $3, updated_at = NOW()
		 WHERE id = $1 AND status = 'active'`,
		id, price, snapshot)
	if err != nil {
		return fmt.Errorf("failed to update alert snapshot: %w", err)
	}
	return nil
}

// ExpireAlerts moves every active alert whose expiry is at or before now to expired
func (s *Store) ExpireAlerts(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE price_alerts SET status = 'expired', updated_at = $1 WHERE status = 'active' AND expires_at <= $1", now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire alerts: %w", err)
	}
	return res.RowsAffected()
}
