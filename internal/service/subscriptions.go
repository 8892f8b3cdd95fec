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

// SubscriptionStore is the slice of the store behind newsletter subscriptions
type SubscriptionStore interface {
	GetSubscriptionByEmail(ctx context.Context, email string) (*models.EmailSubscription, error)
	GetSubscriptionByToken(ctx context.Context, token string) (*models.EmailSubscription, error)
	CreateSubscription(ctx context.Context, sub *models.EmailSubscription) error
	UpdateSubscription(ctx context.Context, sub *models.EmailSubscription) error
	ListSubscriptions(ctx context.Context, f store.SubscriptionFilter) ([]models.EmailSubscription, int64, error)
	SubscriptionStats(ctx context.Context) (*models.SubscriptionStats, error)
}

// SubscriptionService manages newsletter subscriptions
type SubscriptionService struct {
	store  SubscriptionStore
	now    func() time.Time
	logger *zap.Logger
}

// NewSubscriptionService creates a new subscription service
func NewSubscriptionService(store SubscriptionStore) *SubscriptionService {
	return &SubscriptionService{
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
		logger: util.ComponentLogger("subscriptions"),
	}
}

// SubscribeRequest represents a newsletter sign-up
type SubscribeRequest struct {
	Email       string                   `json:"email" binding:"required,email"`
	Source      string                   `json:"source"`
	Preferences *models.PreferencesPatch `json:"preferences"`
}

// SubscribeResult tells a new subscription apart from a reactivated one
type SubscribeResult struct {
	Subscription *models.EmailSubscription `json:"subscription"`
	Reactivated  bool                      `json:"reactivated"`
}

func applyPatch(p models.Preferences, patch *models.PreferencesPatch) models.Preferences {
	if patch == nil {
		return p
	}
	return p.Apply(*patch)
}

// Subscribe creates a subscription or reactivates a lapsed one.
// An already active subscription yields ErrAlreadySubscribed.
func (s *SubscriptionService) Subscribe(ctx context.Context, req *SubscribeRequest) (*SubscribeResult, error) {
	email := models.NormalizeEmail(req.Email)
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}

	existing, err := s.store.GetSubscriptionByEmail(ctx, email)
	switch {
	case err == nil:
		if existing.Status == models.SubscriptionActive {
			return nil, ErrAlreadySubscribed
		}
		existing.Status = models.SubscriptionActive
		existing.UnsubscribedAt = nil
		existing.Preferences = applyPatch(existing.Preferences, req.Preferences)
		if err := s.store.UpdateSubscription(ctx, existing); err != nil {
			return nil, err
		}
		s.logger.Info("Subscription reactivated", zap.String("email", email))
		return &SubscribeResult{Subscription: existing, Reactivated: true}, nil

	case errors.Is(err, store.ErrNotFound):
	default:
		return nil, err
	}

	sub, err := models.NewSubscription(email, strings.TrimSpace(req.Source),
		applyPatch(models.DefaultPreferences(), req.Preferences), s.now())
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateSubscription(ctx, sub); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrAlreadySubscribed
		}
		return nil, err
	}
	s.logger.Info("Subscription created", zap.String("email", email), zap.String("source", sub.Source))
	return &SubscribeResult{Subscription: sub}, nil
}

// UnsubscribeRequest identifies a subscription by token or email
type UnsubscribeRequest struct {
	Token string `json:"token" form:"token"`
	Email string `json:"email" form:"email"`
}

// Unsubscribe stops all mail to a subscriber. It reports whether the
// subscription was already inactive, in which case nothing changes.
func (s *SubscriptionService) Unsubscribe(ctx context.Context, req *UnsubscribeRequest) (bool, error) {
	var (
		sub *models.EmailSubscription
		err error
	)
	switch {
	case strings.TrimSpace(req.Token) != "":
		sub, err = s.store.GetSubscriptionByToken(ctx, strings.TrimSpace(req.Token))
	case strings.TrimSpace(req.Email) != "":
		sub, err = s.store.GetSubscriptionByEmail(ctx, models.NormalizeEmail(req.Email))
	default:
		return false, fmt.Errorf("%w: email or unsubscribe token is required", ErrInvalidInput)
	}
	if err != nil {
		return false, err
	}

	if sub.Status == models.SubscriptionUnsubscribed {
		return true, nil
	}
	now := s.now()
	sub.Status = models.SubscriptionUnsubscribed
	sub.UnsubscribedAt = &now
	if err := s.store.UpdateSubscription(ctx, sub); err != nil {
		return false, err
	}
	s.logger.Info("Subscription cancelled", zap.String("email", sub.Email))
	return false, nil
}

// PreferencesRequest updates the preferences of an active subscription
type PreferencesRequest struct {
	Email       string                  `json:"email" binding:"required,email"`
	Preferences models.PreferencesPatch `json:"preferences"`
}

// UpdatePreferences merges the given preferences into an active subscription
func (s *SubscriptionService) UpdatePreferences(ctx context.Context, req *PreferencesRequest) (*models.EmailSubscription, error) {
	sub, err := s.store.GetSubscriptionByEmail(ctx, models.NormalizeEmail(req.Email))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotSubscribed
	}
	if err != nil {
		return nil, err
	}
	if sub.Status != models.SubscriptionActive {
		return nil, ErrNotSubscribed
	}

	sub.Preferences = sub.Preferences.Apply(req.Preferences)
	if err := s.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// SubscriptionPage is a page of the admin subscription listing
type SubscriptionPage struct {
	Subscriptions []models.EmailSubscription `json:"subscriptions"`
	Pagination    models.Page                `json:"pagination"`
}

// List returns subscriptions filtered by status and source
func (s *SubscriptionService) List(ctx context.Context, status, source string, page, limit int) (*SubscriptionPage, error) {
	page, limit, offset := normalizePage(page, limit)
	subs, total, err := s.store.ListSubscriptions(ctx, store.SubscriptionFilter{
		Status: status,
		Source: source,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, err
	}
	return &SubscriptionPage{Subscriptions: subs, Pagination: models.NewPage(page, limit, total)}, nil
}

// Stats counts subscriptions by status and preference
func (s *SubscriptionService) Stats(ctx context.Context) (*models.SubscriptionStats, error) {
	return s.store.SubscriptionStats(ctx)
}
