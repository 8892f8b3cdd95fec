package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"medprice-service/internal/models"
)

const messageColumns = `id, medication_id, medication_name, category, title, message, active, start_date, end_date,
	priority, created_by, created_at, updated_at`

// ListActiveMessages returns the messages shown for a medication at now, highest priority first
func (s *Store) ListActiveMessages(ctx context.Context, medicationID models.MedicationID, now time.Time) ([]models.AdminMessage, error) {
	msgs := []models.AdminMessage{}
	err := s.db.SelectContext(ctx, &msgs,
		`SELECT `+messageColumns+` FROM admin_messages
		 WHERE medication_id = $1 AND active AND start_date <= $2 AND (end_date IS NULL OR end_date > $2)
		 ORDER BY priority DESC, created_at DESC`,
		medicationID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list active messages: %w", err)
	}
	return msgs, nil
}

// ListMessages returns admin messages, optionally for one medication
func (s *Store) ListMessages(ctx context.Context, medicationID models.MedicationID) ([]models.AdminMessage, error) {
	query := "SELECT " + messageColumns + " FROM admin_messages"
	var args []interface{}
	if medicationID != "" {
		query += " WHERE medication_id = $1"
		args = append(args, medicationID)
	}
	query += " ORDER BY priority DESC, created_at DESC"

	msgs := []models.AdminMessage{}
	if err := s.db.SelectContext(ctx, &msgs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return msgs, nil
}

// PromotionsSince returns active promo messages created after since
func (s *Store) PromotionsSince(ctx context.Context, since time.Time) ([]models.AdminMessage, error) {
	msgs := []models.AdminMessage{}
	err := s.db.SelectContext(ctx, &msgs,
		`SELECT `+messageColumns+` FROM admin_messages
		 WHERE category = 'promo' AND active AND created_at >= $1
		 ORDER BY priority DESC, created_at DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list promotions: %w", err)
	}
	return msgs, nil
}

// GetMessage retrieves an admin message by id
func (s *Store) GetMessage(ctx context.Context, id int64) (*models.AdminMessage, error) {
	var m models.AdminMessage
	err := s.db.GetContext(ctx, &m, "SELECT "+messageColumns+" FROM admin_messages WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message %d: %w", id, err)
	}
	return &m, nil
}

// CreateMessage inserts an admin message and sets its id
func (s *Store) CreateMessage(ctx context.Context, m *models.AdminMessage) error {
	err := s.db.GetContext(ctx, &m.ID,
		`INSERT INTO admin_messages (medication_id, medication_name, category, title, message, active,
		                             start_date, end_date, priority, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING id`,
		m.MedicationID, m.MedicationName, m.Category, m.Title, m.Message, m.Active,
		m.StartDate, m.EndDate, m.Priority, m.CreatedBy, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

// UpdateMessage overwrites an admin message
func (s *Store) UpdateMessage(ctx context.Context, m *models.AdminMessage) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE admin_messages
		 SET category = $2, title = $3, message = $4, active = $5, start_date = $6, end_date = $7,
		     priority = $8, updated_at = $9
		 WHERE id = $1`,
		m.ID, m.Category, m.Title, m.Message, m.Active, m.StartDate, m.EndDate, m.Priority, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}
	return requireAffected(res)
}

// DeleteMessage removes an admin message
func (s *Store) DeleteMessage(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM admin_messages WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return requireAffected(res)
}

// CreateContact stores a contact form submission
func (s *Store) CreateContact(ctx context.Context, c *models.Contact) error {
	err := s.db.GetContext(ctx, &c.ID,
		`INSERT INTO contacts (name, email, subject, message, status, ip_address, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		c.Name, c.Email, c.Subject, c.Message, c.Status, c.IPAddress, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create contact: %w", err)
	}
	return nil
}

// ListContacts returns contact submissions newest first
func (s *Store) ListContacts(ctx context.Context, limit, offset int) ([]models.Contact, error) {
	contacts := []models.Contact{}
	err := s.db.SelectContext(ctx, &contacts,
		"SELECT id, name, email, subject, message, status, ip_address, created_at FROM contacts ORDER BY created_at DESC LIMIT $1 OFFSET $2",
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	return contacts, nil
}
