package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"medprice-service/internal/mailer"
	"medprice-service/internal/models"
	"medprice-service/internal/util"

	"go.uber.org/zap"
)

// MessageStore is the slice of the store behind admin messages and the contact form
type MessageStore interface {
	GetMedication(ctx context.Context, id models.MedicationID) (*models.Medication, error)
	ListActiveMessages(ctx context.Context, medicationID models.MedicationID, now time.Time) ([]models.AdminMessage, error)
	ListMessages(ctx context.Context, medicationID models.MedicationID) ([]models.AdminMessage, error)
	GetMessage(ctx context.Context, id int64) (*models.AdminMessage, error)
	CreateMessage(ctx context.Context, m *models.AdminMessage) error
	UpdateMessage(ctx context.Context, m *models.AdminMessage) error
	DeleteMessage(ctx context.Context, id int64) error
	CreateContact(ctx context.Context, c *models.Contact) error
	ListContacts(ctx context.Context, limit, offset int) ([]models.Contact, error)
}

// MessageService manages medication notices and contact submissions
type MessageService struct {
	store        MessageStore
	sender       mailer.Sender
	renderer     *mailer.Renderer
	adminAddress string
	now          func() time.Time
	logger       *zap.Logger
}

// NewMessageService creates a message service; contact notifications go to adminAddress
func NewMessageService(store MessageStore, sender mailer.Sender, renderer *mailer.Renderer, adminAddress string) *MessageService {
	return &MessageService{
		store:        store,
		sender:       sender,
		renderer:     renderer,
		adminAddress: adminAddress,
		now:          func() time.Time { return time.Now().UTC() },
		logger:       util.ComponentLogger("messages"),
	}
}

// Active returns the messages currently shown for a medication
func (s *MessageService) Active(ctx context.Context, medicationID models.MedicationID) ([]models.AdminMessage, error) {
	return s.store.ListActiveMessages(ctx, medicationID, s.now())
}

// List returns all admin messages, optionally for one medication
func (s *MessageService) List(ctx context.Context, medicationID models.MedicationID) ([]models.AdminMessage, error) {
	return s.store.ListMessages(ctx, medicationID)
}

// Get returns an admin message by id
func (s *MessageService) Get(ctx context.Context, id int64) (*models.AdminMessage, error) {
	return s.store.GetMessage(ctx, id)
}

// MessageRequest creates or replaces an admin message
type MessageRequest struct {
	MedicationID models.MedicationID `json:"medication_id" binding:"required"`
	Category     string              `json:"category" binding:"required,oneof=warning promo information"`
	Title        string              `json:"title" binding:"required"`
	Message      string              `json:"message" binding:"required"`
	Active       *bool               `json:"active"`
	StartDate    *time.Time          `json:"start_date"`
	EndDate      *time.Time          `json:"end_date"`
	Priority     int                 `json:"priority"`
}

func (r *MessageRequest) applyTo(m *models.AdminMessage, now time.Time) error {
	switch r.Category {
	case models.MessageWarning, models.MessagePromo, models.MessageInformation:
	default:
		return fmt.Errorf("%w: unknown message category %q", ErrInvalidInput, r.Category)
	}
	m.Category = r.Category
	m.Title = strings.TrimSpace(r.Title)
	m.Message = strings.TrimSpace(r.Message)
	if m.Title == "" || m.Message == "" {
		return fmt.Errorf("%w: title and message are required", ErrInvalidInput)
	}
	if r.Active != nil {
		m.Active = *r.Active
	}
	if r.StartDate != nil {
		m.StartDate = r.StartDate.UTC()
	} else if m.StartDate.IsZero() {
		m.StartDate = now
	}
	m.EndDate = r.EndDate
	if m.EndDate != nil && !m.EndDate.After(m.StartDate) {
		return fmt.Errorf("%w: end date must be after start date", ErrInvalidInput)
	}
	m.Priority = r.Priority
	m.UpdatedAt = now
	return nil
}

// Create adds a message to a medication page
func (s *MessageService) Create(ctx context.Context, actor Actor, req *MessageRequest) (*models.AdminMessage, error) {
	med, err := s.store.GetMedication(ctx, req.MedicationID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	msg := &models.AdminMessage{
		MedicationID:   med.ID,
		MedicationName: med.Name,
		Active:         true,
		CreatedBy:      actor.User,
		CreatedAt:      now,
	}
	if err := req.applyTo(msg, now); err != nil {
		return nil, err
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}
	s.logger.Info("Admin message created",
		zap.Int64("message_id", msg.ID),
		zap.String("medication_id", string(msg.MedicationID)),
		zap.String("user", actor.User))
	return msg, nil
}

// Update replaces the editable fields of a message. The medication cannot change.
func (s *MessageService) Update(ctx context.Context, actor Actor, id int64, req *MessageRequest) (*models.AdminMessage, error) {
	msg, err := s.store.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := req.applyTo(msg, s.now()); err != nil {
		return nil, err
	}
	if err := s.store.UpdateMessage(ctx, msg); err != nil {
		return nil, err
	}
	s.logger.Info("Admin message updated", zap.Int64("message_id", id), zap.String("user", actor.User))
	return msg, nil
}

// Delete removes a message
func (s *MessageService) Delete(ctx context.Context, actor Actor, id int64) error {
	if err := s.store.DeleteMessage(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Admin message deleted", zap.Int64("message_id", id), zap.String("user", actor.User))
	return nil
}

// ContactRequest is a public contact form submission
type ContactRequest struct {
	Name    string `json:"name" binding:"required,max=200"`
	Email   string `json:"email" binding:"required,email"`
	Subject string `json:"subject" binding:"required,max=300"`
	Message string `json:"message" binding:"required,max=5000"`
}

// SubmitContact stores a submission and notifies the admin mailbox.
// A failed notification is logged; the submission still succeeds.
func (s *MessageService) SubmitContact(ctx context.Context, req *ContactRequest, ip string) (*models.Contact, error) {
	ctx, span := util.StartSpan(ctx, "MessageService.SubmitContact")
	defer span.End()

	c := &models.Contact{
		Name:      strings.TrimSpace(req.Name),
		Email:     models.NormalizeEmail(req.Email),
		Subject:   strings.TrimSpace(req.Subject),
		Message:   strings.TrimSpace(req.Message),
		Status:    models.ContactNew,
		IPAddress: ip,
		CreatedAt: s.now(),
	}
	if c.Name == "" || c.Email == "" || c.Subject == "" || c.Message == "" {
		return nil, fmt.Errorf("%w: name, email, subject and message are required", ErrInvalidInput)
	}
	if err := s.store.CreateContact(ctx, c); err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	if s.adminAddress == "" {
		return c, nil
	}
	msg, err := s.renderer.ContactNotification(c, s.adminAddress)
	if err != nil {
		s.logger.Error("Failed to render contact notification", zap.Int64("contact_id", c.ID), zap.Error(err))
		return c, nil
	}
	if res := s.sender.Send(ctx, msg); !res.Success {
		util.EmailsFailedTotal.WithLabelValues("contact").Inc()
		s.logger.Warn("Failed to send contact notification", zap.Int64("contact_id", c.ID), zap.String("error", res.Error))
	} else {
		util.EmailsSentTotal.WithLabelValues("contact").Inc()
	}
	return c, nil
}

// ListContacts returns contact submissions newest first
func (s *MessageService) ListContacts(ctx context.Context, page, limit int) ([]models.Contact, error) {
	_, limit, offset := normalizePage(page, limit)
	return s.store.ListContacts(ctx, limit, offset)
}
