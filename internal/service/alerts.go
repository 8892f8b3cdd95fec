package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"medprice-service/internal/models"
	"medprice-service/internal/store"
	"medprice-service/internal/util"

	"go.uber.org/zap"
)

// AlertStore is the slice of the store behind the alert endpoints
type AlertStore interface {
	GetMedication(ctx context.Context, id models.MedicationID) (*models.Medication, error)
	FindActiveAlert(ctx context.Context, email string, medicationID models.MedicationID, dosage string) (*models.PriceAlert, error)
	CreateAlert(ctx context.Context, a *models.PriceAlert) error
	RefreshAlert(ctx context.Context, a *models.PriceAlert) error
	GetAlert(ctx context.Context, id int64) (*models.PriceAlert, error)
	CancelAlert(ctx context.Context, id int64) (bool, error)
	ListAlerts(ctx context.Context, status string, limit, offset int) ([]models.PriceAlert, error)
}

// AlertService manages price alert subscriptions
type AlertService struct {
	store  AlertStore
	now    func() time.Time
	logger *zap.Logger
}

// NewAlertService creates a new alert service
func NewAlertService(store AlertStore) *AlertService {
	return &AlertService{
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
		logger: util.ComponentLogger("alerts"),
	}
}

// CreateAlertRequest represents a request to watch a medication's price
type CreateAlertRequest struct {
	Email          string                   `json:"email" binding:"required,email"`
	MedicationID   models.MedicationID      `json:"medication_id" binding:"required"`
	MedicationName string                   `json:"medication_name"`
	Dosage         string                   `json:"dosage"`
	CurrentPrice   float64                  `json:"current_price" binding:"min=0"`
	TargetPrice    float64                  `json:"target_price" binding:"required,gt=0"`
	LowestPharmacy *models.PharmacySnapshot `json:"lowest_pharmacy"`
}

// CreateAlertResponse reports the alert the request landed on
type CreateAlertResponse struct {
	ID      int64  `json:"id"`
	Created bool   `json:"created"`
	Message string `json:"message"`
}

// Create registers an alert. An active alert for the same (email, medication, dosage)
// is refreshed in place and keeps its id.
func (s *AlertService) Create(ctx context.Context, req *CreateAlertRequest) (*CreateAlertResponse, error) {
	ctx, span := util.StartSpan(ctx, "AlertService.Create")
	defer span.End()

	if req.TargetPrice <= 0 {
		return nil, fmt.Errorf("%w: target price must be positive", ErrInvalidInput)
	}
	med, err := s.store.GetMedication(ctx, req.MedicationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMedication, req.MedicationID)
	}
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.MedicationName)
	if name == "" {
		name = med.Name
	}
	now := s.now()
	alert := models.NewPriceAlert(req.Email, req.MedicationID, name, req.Dosage, req.CurrentPrice, req.TargetPrice, now)
	if req.LowestPharmacy != nil {
		alert.LowestPharmacy = *req.LowestPharmacy
	}

	existing, err := s.store.FindActiveAlert(ctx, alert.Email, alert.MedicationID, alert.Dosage)
	switch {
	case err == nil:
		existing.TargetPrice = alert.TargetPrice
		existing.CurrentPrice = alert.CurrentPrice
		existing.MedicationName = alert.MedicationName
		existing.ExpiresAt = alert.ExpiresAt
		existing.UpdatedAt = now
		if err := s.store.RefreshAlert(ctx, existing); err != nil {
			return nil, err
		}
		s.logger.Info("Price alert refreshed",
			zap.Int64("alert_id", existing.ID),
			zap.String("medication_id", string(existing.MedicationID)))
		return &CreateAlertResponse{ID: existing.ID, Message: "Price alert updated successfully"}, nil

	case errors.Is(err, store.ErrNotFound):
	default:
		return nil, err
	}

	if err := s.store.CreateAlert(ctx, alert); err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	s.logger.Info("Price alert created",
		zap.Int64("alert_id", alert.ID),
		zap.String("medication_id", string(alert.MedicationID)))
	return &CreateAlertResponse{
		ID:      alert.ID,
		Created: true,
		Message: "Price alert created! We'll notify you when the price drops.",
	}, nil
}

// Cancel moves an active alert to cancelled. Terminal alerts are left alone.
func (s *AlertService) Cancel(ctx context.Context, id int64) error {
	if _, err := s.store.GetAlert(ctx, id); err != nil {
		return err
	}
	ok, err := s.store.CancelAlert(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlertNotActive
	}
	s.logger.Info("Price alert cancelled", zap.Int64("alert_id", id))
	return nil
}

// Get returns an alert by id
func (s *AlertService) Get(ctx context.Context, id int64) (*models.PriceAlert, error) {
	return s.store.GetAlert(ctx, id)
}

// List returns alerts newest first, optionally by status
func (s *AlertService) List(ctx context.Context, status string, page, limit int) ([]models.PriceAlert, error) {
	_, limit, offset := normalizePage(page, limit)
	return s.store.ListAlerts(ctx, status, limit, offset)
}
