package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"medprice-service/internal/models"

	"github.com/lib/pq"
)

const subscriptionColumns = `id, email, preferences, status, source, unsubscribe_token, emails_sent_count,
	last_email_sent, subscribed_at, unsubscribed_at`

// audiencePreference maps a campaign audience to its preferences key
var audiencePreference = map[string]string{
	models.AudiencePriceDrops:     "price_drops",
	models.AudienceNewMedications: "new_medications",
	models.AudiencePromotions:     "promotions",
	models.AudienceWeeklyDigest:   "weekly_digest",
}

func (s *Store) getSubscription(ctx context.Context, column string, value interface{}) (*models.EmailSubscription, error) {
	var sub models.EmailSubscription
	err := s.db.GetContext(ctx, &sub,
		"SELECT "+subscriptionColumns+" FROM email_subscriptions WHERE "+column+" = $1", value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return &sub, nil
}

// GetSubscriptionByEmail retrieves a subscription by normalized email
func (s *Store) GetSubscriptionByEmail(ctx context.Context, email string) (*models.EmailSubscription, error) {
	return s.getSubscription(ctx, "email", email)
}

// GetSubscriptionByToken retrieves a subscription by unsubscribe token
func (s *Store) GetSubscriptionByToken(ctx context.Context, token string) (*models.EmailSubscription, error) {
	return s.getSubscription(ctx, "unsubscribe_token", token)
}

// CreateSubscription inserts a subscription. An existing email yields ErrDuplicate.
func (s *Store) CreateSubscription(ctx context.Context, sub *models.EmailSubscription) error {
	err := s.db.GetContext(ctx, &sub.ID,
		`INSERT INTO email_subscriptions (email, preferences, status, source, unsubscribe_token, subscribed_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		sub.Email, sub.Preferences, sub.Status, sub.Source, sub.UnsubscribeToken, sub.SubscribedAt)
	if IsUniqueViolation(err) {
		return fmt.Errorf("subscription %s: %w", sub.Email, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

// UpdateSubscription saves status, preferences and source. The unsubscribe token is never rewritten.
func (s *Store) UpdateSubscription(ctx context.Context, sub *models.EmailSubscription) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE email_subscriptions
		 SET preferences = $2, status = $3, source = $4, subscribed_at = $5, unsubscribed_at = $6
		 WHERE id = $1`,
		sub.ID, sub.Preferences, sub.Status, sub.Source, sub.SubscribedAt, sub.UnsubscribedAt)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	return requireAffected(res)
}

// SubscriptionFilter narrows the admin subscription listing
type SubscriptionFilter struct {
	Status string
	Source string
	Limit  int
	Offset int
}

func (f SubscriptionFilter) where() (string, []interface{}) {
	where := " WHERE TRUE"
	var args []interface{}
	if f.Status != "" {
		args = append(args, f.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.Source != "" {
		args = append(args, f.Source)
		where += fmt.Sprintf(" AND source = $%d", len(args))
	}
	return where, args
}

// ListSubscriptions returns subscriptions newest first with the unpaged total
func (s *Store) ListSubscriptions(ctx context.Context, f SubscriptionFilter) ([]models.EmailSubscription, int64, error) {
	where, args := f.where()

	var total int64
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM email_subscriptions"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count subscriptions: %w", err)
	}

	args = append(args, f.Limit, f.Offset)
	query := "SELECT " + subscriptionColumns + " FROM email_subscriptions" + where +
		fmt.Sprintf(" ORDER BY subscribed_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	subs := []models.EmailSubscription{}
	if err := s.db.SelectContext(ctx, &subs, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return subs, total, nil
}

// SubscriptionStats counts subscriptions by status and active preference
func (s *Store) SubscriptionStats(ctx context.Context) (*models.SubscriptionStats, error) {
	var stats models.SubscriptionStats
	err := s.db.GetContext(ctx, &stats, `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = 'active') AS active,
			COUNT(*) FILTER (WHERE status = 'unsubscribed') AS unsubscribed,
			COUNT(*) FILTER (WHERE status = 'bounced') AS bounced,
			COUNT(*) FILTER (WHERE status = 'active' AND (preferences->>'price_drops')::boolean) AS price_drops,
			COUNT(*) FILTER (WHERE status = 'active' AND (preferences->>'new_medications')::boolean) AS new_medications,
			COUNT(*) FILTER (WHERE status = 'active' AND (preferences->>'promotions')::boolean) AS promotions,
			COUNT(*) FILTER (WHERE status = 'active' AND (preferences->>'weekly_digest')::boolean) AS weekly_digest
		FROM email_subscriptions`)
	if err != nil {
		return nil, fmt.Errorf("failed to compute subscription stats: %w", err)
	}
	return &stats, nil
}

func audienceWhere(audience string) (string, error) {
	if audience == models.AudienceAll {
		return " WHERE status = 'active'", nil
	}
	key, ok := audiencePreference[audience]
	if !ok {
		return "", fmt.Errorf("unknown audience: %s", audience)
	}
	return " WHERE status = 'active' AND (preferences->>'" + key + "')::boolean", nil
}

// ActiveSubscribers returns active subscribers who opted into the audience
func (s *Store) ActiveSubscribers(ctx context.Context, audience string) ([]models.EmailSubscription, error) {
	where, err := audienceWhere(audience)
	if err != nil {
		return nil, err
	}
	subs := []models.EmailSubscription{}
	if err := s.db.SelectContext(ctx, &subs,
		"SELECT "+subscriptionColumns+" FROM email_subscriptions"+where+" ORDER BY id"); err != nil {
		return nil, fmt.Errorf("failed to list subscribers: %w", err)
	}
	return subs, nil
}

// CountAudience counts active subscribers who opted into the audience
func (s *Store) CountAudience(ctx context.Context, audience string) (int64, error) {
	where, err := audienceWhere(audience)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM email_subscriptions"+where); err != nil {
		return 0, fmt.Errorf("failed to count audience: %w", err)
	}
	return n, nil
}

// RecordEmailsSent bumps the delivery counters of the given subscribers
func (s *Store) RecordEmailsSent(ctx context.Context, emails []string, at time.Time) error {
	if len(emails) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE email_subscriptions
		 SET emails_sent_count = emails_sent_count + 1, last_email_sent = $2
		 WHERE email = ANY($1)`,
		pq.Array(emails), at)
	if err != nil {
		return fmt.Errorf("failed to record sent emails: %w", err)
	}
	return nil
}
