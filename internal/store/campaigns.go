package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"medprice-service/internal/models"
)

const campaignColumns = `id, subject, content, target_audience, recipient_count, test_email, sent_by, status,
	total_sent, total_failed, total_bounced, sent_at`

// CreateCampaign inserts a campaign with its recipients, if any
func (s *Store) CreateCampaign(ctx context.Context, c *models.EmailCampaign) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO email_campaigns (`+campaignColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		c.ID, c.Subject, c.Content, c.TargetAudience, c.RecipientCount, c.TestEmail, c.SentBy, c.Status,
		c.TotalSent, c.TotalFailed, c.TotalBounced, c.SentAt)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	return s.AppendRecipients(ctx, c.ID, c.Recipients)
}

// SetCampaignStatus changes the status of a campaign
func (s *Store) SetCampaignStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE email_campaigns SET status = $2 WHERE id = $1", id, status)
	if err != nil {
		return fmt.Errorf("failed to set campaign status: %w", err)
	}
	return requireAffected(res)
}

// CompleteCampaign records the final status and delivery totals
func (s *Store) CompleteCampaign(ctx context.Context, id, status string, sent, failed, bounced int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE email_campaigns
		 SET status = $2, total_sent = $3, total_failed = $4, total_bounced = $5, sent_at = NOW()
		 WHERE id = $1`,
		id, status, sent, failed, bounced)
	if err != nil {
		return fmt.Errorf("failed to complete campaign: %w", err)
	}
	return requireAffected(res)
}

// AppendRecipients adds delivery outcomes to a campaign
func (s *Store) AppendRecipients(ctx context.Context, campaignID string, recipients []models.CampaignRecipient) error {
	rows := make([][]interface{}, len(recipients))
	for i, r := range recipients {
		rows[i] = []interface{}{campaignID, r.Email, r.SentAt, r.Status, r.Error}
	}
	for _, chunk := range chunkRows(rows, 500) {
		if _, err := bulkInsert(ctx, s.db,
			"INSERT INTO campaign_recipients (campaign_id, email, sent_at, status, error)", chunk, ""); err != nil {
			return fmt.Errorf("failed to append campaign recipients: %w", err)
		}
	}
	return nil
}

// GetCampaign retrieves a campaign and its recipients
func (s *Store) GetCampaign(ctx context.Context, id string) (*models.EmailCampaign, error) {
	var c models.EmailCampaign
	err := s.db.GetContext(ctx, &c, "SELECT "+campaignColumns+" FROM email_campaigns WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign %s: %w", id, err)
	}

	c.Recipients = []models.CampaignRecipient{}
	if err := s.db.SelectContext(ctx, &c.Recipients,
		"SELECT campaign_id, email, sent_at, status, error FROM campaign_recipients WHERE campaign_id = $1 ORDER BY id", id); err != nil {
		return nil, fmt.Errorf("failed to list campaign recipients: %w", err)
	}
	return &c, nil
}

// ListCampaigns returns campaigns newest first, without recipients
func (s *Store) ListCampaigns(ctx context.Context, limit, offset int) ([]models.EmailCampaign, int64, error) {
	var total int64
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM email_campaigns"); err != nil {
		return nil, 0, fmt.Errorf("failed to count campaigns: %w", err)
	}

	campaigns := []models.EmailCampaign{}
	if err := s.db.SelectContext(ctx, &campaigns,
		"SELECT "+campaignColumns+" FROM email_campaigns ORDER BY sent_at DESC LIMIT $1 OFFSET $2", limit, offset); err != nil {
		return nil, 0, fmt.Errorf("failed to list campaigns: %w", err)
	}
	return campaigns, total, nil
}
