package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"medprice-service/internal/mailer"
	"medprice-service/internal/models"
	"medprice-service/internal/util"

	"go.uber.org/zap"
)

// DigestStore is what the weekly digest reads and writes
type DigestStore interface {
	ActiveSubscribers(ctx context.Context, audience string) ([]models.EmailSubscription, error)
	CheapestMedications(ctx context.Context, limit int) ([]models.MedicationWithLowest, error)
	RecordEmailsSent(ctx context.Context, emails []string, at time.Time) error
}

const (
	digestItems      = 5
	digestBatchSize  = 10
	digestBatchDelay = time.Second
)

// DigestResult summarises one digest run
type DigestResult struct {
	Skipped    bool `json:"skipped"`
	Recipients int  `json:"recipients"`
	Sent       int  `json:"sent"`
	Failed     int  `json:"failed"`
}

// DigestService mails the weekly price digest to opted-in subscribers
type DigestService struct {
	store    DigestStore
	sender   mailer.Sender
	batch    *mailer.BatchSender
	renderer *mailer.Renderer
	running  atomic.Bool
	now      func() time.Time
	logger   *zap.Logger
}

// NewDigestService creates a digest service
func NewDigestService(store DigestStore, sender mailer.Sender, renderer *mailer.Renderer) *DigestService {
	return &DigestService{
		store:    store,
		sender:   sender,
		batch:    mailer.NewBatchSender(sender, digestBatchSize, digestBatchDelay, "weekly_digest"),
		renderer: renderer,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   util.ComponentLogger("digest"),
	}
}

// Run sends the digest and logs its outcome; it is the scheduled entry point
func (d *DigestService) Run(ctx context.Context) {
	if _, err := d.Send(ctx); err != nil {
		d.logger.Error("Weekly digest failed", zap.Error(err))
	}
}

// Send mails the digest to every weekly_digest subscriber.
// A run that overlaps a previous one is skipped.
func (d *DigestService) Send(ctx context.Context) (*DigestResult, error) {
	if !d.running.CompareAndSwap(false, true) {
		d.logger.Info("Weekly digest already in progress, skipping")
		return &DigestResult{Skipped: true}, nil
	}
	defer d.running.Store(false)

	ctx, span := util.StartSpan(ctx, "DigestService.Send")
	defer span.End()

	subs, err := d.store.ActiveSubscribers(ctx, models.AudienceWeeklyDigest)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	result := &DigestResult{Recipients: len(subs)}
	if len(subs) == 0 {
		d.logger.Info("No weekly digest subscribers")
		return result, nil
	}

	items, err := d.store.CheapestMedications(ctx, digestItems)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	bodies := make(map[string]string, len(subs))
	recipients := make([]string, 0, len(subs))
	for _, sub := range subs {
		html, err := d.renderer.WeeklyDigestBody(items, sub.UnsubscribeToken)
		if err != nil {
			return nil, fmt.Errorf("failed to render weekly digest: %w", err)
		}
		bodies[sub.Email] = html
		recipients = append(recipients, sub.Email)
	}

	subject := mailer.WeeklyDigestSubject(d.now())
	report := d.batch.Send(ctx, recipients, func(to string) mailer.Message {
		return mailer.Message{To: to, Subject: subject, HTML: bodies[to]}
	})
	result.Sent, result.Failed = report.Sent, report.Failed

	if err := d.store.RecordEmailsSent(ctx, report.Succeeded(), d.now()); err != nil {
		d.logger.Warn("Failed to update subscriber counters", zap.Error(err))
	}
	d.logger.Info("Weekly digest sent",
		zap.Int("recipients", result.Recipients),
		zap.Int("sent", result.Sent),
		zap.Int("failed", result.Failed))
	return result, nil
}

// SendTest mails the current digest to a single address
func (d *DigestService) SendTest(ctx context.Context, to string) (mailer.Result, error) {
	to = models.NormalizeEmail(to)
	if to == "" {
		return mailer.Result{}, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	items, err := d.store.CheapestMedications(ctx, digestItems)
	if err != nil {
		return mailer.Result{}, err
	}
	html, err := d.renderer.WeeklyDigestBody(items, "test-token")
	if err != nil {
		return mailer.Result{}, fmt.Errorf("failed to render weekly digest: %w", err)
	}
	return d.sender.Send(ctx, mailer.Message{
		To:      to,
		Subject: "[TEST] " + mailer.WeeklyDigestSubject(d.now()),
		HTML:    html,
	}), nil
}
