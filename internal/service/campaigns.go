package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"medprice-service/internal/broker"
	"medprice-service/internal/mailer"
	"medprice-service/internal/models"
	"medprice-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CampaignStore is the slice of the store behind admin campaigns
type CampaignStore interface {
	CreateCampaign(ctx context.Context, c *models.EmailCampaign) error
	SetCampaignStatus(ctx context.Context, id, status string) error
	CompleteCampaign(ctx context.Context, id, status string, sent, failed, bounced int) error
	AppendRecipients(ctx context.Context, campaignID string, recipients []models.CampaignRecipient) error
	GetCampaign(ctx context.Context, id string) (*models.EmailCampaign, error)
	ListCampaigns(ctx context.Context, limit, offset int) ([]models.EmailCampaign, int64, error)
	ActiveSubscribers(ctx context.Context, audience string) ([]models.EmailSubscription, error)
	CountAudience(ctx context.Context, audience string) (int64, error)
	RecordEmailsSent(ctx context.Context, emails []string, at time.Time) error
	MedicationsCreatedSince(ctx context.Context, since time.Time) ([]models.MedicationWithLowest, error)
	PromotionsSince(ctx context.Context, since time.Time) ([]models.AdminMessage, error)
}

// IdempotencyClaimer claims a key exactly once across instances
type IdempotencyClaimer interface {
	ClaimIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
}

// CampaignNotifier publishes finished campaigns
type CampaignNotifier interface {
	PublishCampaignCompleted(ctx context.Context, event *models.CampaignCompletedEvent) error
}

const (
	campaignBatchSize  = 5
	campaignBatchDelay = time.Second
	campaignClaimTTL   = 7 * 24 * time.Hour
	composerWindow     = 7 * 24 * time.Hour
)

// CampaignService composes and dispatches admin email campaigns
type CampaignService struct {
	store    CampaignStore
	sender   mailer.Sender
	batch    *mailer.BatchSender
	renderer *mailer.Renderer
	claims   IdempotencyClaimer
	notifier CampaignNotifier
	wg       sync.WaitGroup
	now      func() time.Time
	logger   *zap.Logger
}

// NewCampaignService creates a campaign service. claims and notifier may be nil.
func NewCampaignService(store CampaignStore, sender mailer.Sender, renderer *mailer.Renderer, claims IdempotencyClaimer, notifier CampaignNotifier) *CampaignService {
	return &CampaignService{
		store:    store,
		sender:   sender,
		batch:    mailer.NewBatchSender(sender, campaignBatchSize, campaignBatchDelay, "campaign"),
		renderer: renderer,
		claims:   claims,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   util.ComponentLogger("campaigns"),
	}
}

// ComposerData is the material offered to an admin writing a campaign
type ComposerData struct {
	NewMedications   []models.NewMedicationItem `json:"new_medications"`
	PriceDrops       []models.PriceDropItem     `json:"price_drops"`
	Promotions       []models.PromotionItem     `json:"promotions"`
	SubscriberCounts map[string]int64           `json:"subscriber_counts"`
}

var composerAudiences = []string{
	models.AudienceAll,
	models.AudiencePriceDrops,
	models.AudienceNewMedications,
	models.AudiencePromotions,
	models.AudienceWeeklyDigest,
}

// ComposerData gathers this week's new medications and promotions and the audience sizes.
// Price drops stay empty because price history is not kept.
func (s *CampaignService) ComposerData(ctx context.Context) (*ComposerData, error) {
	ctx, span := util.StartSpan(ctx, "CampaignService.ComposerData")
	defer span.End()

	since := s.now().Add(-composerWindow)
	meds, err := s.store.MedicationsCreatedSince(ctx, since)
	if err != nil {
		return nil, err
	}
	promos, err := s.store.PromotionsSince(ctx, since)
	if err != nil {
		return nil, err
	}

	data := &ComposerData{
		NewMedications:   make([]models.NewMedicationItem, 0, len(meds)),
		PriceDrops:       []models.PriceDropItem{},
		Promotions:       make([]models.PromotionItem, 0, len(promos)),
		SubscriberCounts: make(map[string]int64, len(composerAudiences)),
	}
	for _, m := range meds {
		data.NewMedications = append(data.NewMedications, models.NewMedicationItem{
			MedicationID:   m.ID,
			MedicationName: m.Name,
			Dosage:         []string(m.Dosage),
			Description:    m.Description,
			LowestPrice:    m.LowestPrice,
			PharmacyName:   m.PharmacyName,
		})
	}
	for _, p := range promos {
		data.Promotions = append(data.Promotions, models.PromotionItem{
			Title:          p.Title,
			Message:        p.Message,
			MedicationName: p.MedicationName,
		})
	}
	for _, audience := range composerAudiences {
		n, err := s.store.CountAudience(ctx, audience)
		if err != nil {
			return nil, err
		}
		data.SubscriberCounts[audience] = n
	}
	return data, nil
}

// CampaignRequest is the body of preview and send requests
type CampaignRequest struct {
	Subject        string                 `json:"subject" binding:"required"`
	Content        models.CampaignContent `json:"content"`
	TargetAudience string                 `json:"target_audience" binding:"required"`
}

func (r *CampaignRequest) validate(allowTest bool) error {
	r.Subject = strings.TrimSpace(r.Subject)
	if r.Subject == "" {
		return fmt.Errorf("%w: subject is required", ErrInvalidInput)
	}
	if !models.ValidAudience(r.TargetAudience) || (!allowTest && r.TargetAudience == models.AudienceTest) {
		return fmt.Errorf("%w: unknown target audience %q", ErrInvalidInput, r.TargetAudience)
	}
	return nil
}

// Preview is a rendered campaign and the number of subscribers it would reach
type Preview struct {
	Subject        string                 `json:"subject"`
	TargetAudience string                 `json:"target_audience"`
	RecipientCount int64                  `json:"recipient_count"`
	HTML           string                 `json:"html_preview"`
	Content        models.CampaignContent `json:"content"`
}

// Preview renders a campaign without sending it
func (s *CampaignService) Preview(ctx context.Context, req *CampaignRequest) (*Preview, error) {
	if err := req.validate(true); err != nil {
		return nil, err
	}
	html, err := s.renderer.CampaignBody(req.Subject, req.Content, "preview-token")
	if err != nil {
		return nil, fmt.Errorf("failed to render campaign: %w", err)
	}

	count := int64(1)
	if req.TargetAudience != models.AudienceTest {
		if count, err = s.store.CountAudience(ctx, req.TargetAudience); err != nil {
			return nil, err
		}
	}
	return &Preview{
		Subject:        req.Subject,
		TargetAudience: req.TargetAudience,
		RecipientCount: count,
		HTML:           html,
		Content:        req.Content,
	}, nil
}

// TestSendRequest sends a campaign to one address
type TestSendRequest struct {
	Subject   string                 `json:"subject" binding:"required"`
	Content   models.CampaignContent `json:"content"`
	TestEmail string                 `json:"test_email" binding:"required,email"`
}

// TestSendResult reports a test delivery
type TestSendResult struct {
	CampaignID string `json:"campaign_id"`
	Success    bool   `json:"success"`
	MessageID  string `json:"message_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// TestSend delivers a campaign to a single address and records it with audience test
func (s *CampaignService) TestSend(ctx context.Context, actor Actor, req *TestSendRequest) (*TestSendResult, error) {
	ctx, span := util.StartSpan(ctx, "CampaignService.TestSend")
	defer span.End()

	subject := strings.TrimSpace(req.Subject)
	to := models.NormalizeEmail(req.TestEmail)
	if subject == "" || to == "" {
		return nil, fmt.Errorf("%w: subject and test email are required", ErrInvalidInput)
	}
	html, err := s.renderer.CampaignBody(subject, req.Content, "test-token")
	if err != nil {
		return nil, fmt.Errorf("failed to render campaign: %w", err)
	}

	res := s.sender.Send(ctx, mailer.Message{To: to, Subject: "[TEST] " + subject, HTML: html})

	now := s.now()
	campaign := &models.EmailCampaign{
		ID:             uuid.New().String(),
		Subject:        subject,
		Content:        req.Content,
		TargetAudience: models.AudienceTest,
		RecipientCount: 1,
		TestEmail:      to,
		SentBy:         actor.User,
		Status:         models.CampaignSent,
		SentAt:         now,
		Recipients: []models.CampaignRecipient{
			{Email: to, SentAt: now, Status: models.RecipientSent},
		},
	}
	if res.Success {
		campaign.TotalSent = 1
		util.EmailsSentTotal.WithLabelValues("campaign_test").Inc()
	} else {
		campaign.Status = models.CampaignFailed
		campaign.TotalFailed = 1
		campaign.Recipients[0].Status = models.RecipientFailed
		campaign.Recipients[0].Error = res.Error
		util.EmailsFailedTotal.WithLabelValues("campaign_test").Inc()
	}
	if err := s.store.CreateCampaign(ctx, campaign); err != nil {
		return nil, err
	}

	s.logger.Info("Test campaign sent",
		zap.String("campaign_id", campaign.ID),
		zap.String("to", to),
		zap.Bool("success", res.Success))
	return &TestSendResult{CampaignID: campaign.ID, Success: res.Success, MessageID: res.MessageID, Error: res.Error}, nil
}

// Send stores a campaign as a draft and dispatches it in the background.
// The returned campaign reflects the draft; poll Get for progress.
func (s *CampaignService) Send(ctx context.Context, actor Actor, req *CampaignRequest) (*models.EmailCampaign, error) {
	ctx, span := util.StartSpan(ctx, "CampaignService.Send")
	defer span.End()

	if err := req.validate(false); err != nil {
		return nil, err
	}
	count, err := s.store.CountAudience(ctx, req.TargetAudience)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, ErrNoRecipients
	}

	campaign := &models.EmailCampaign{
		ID:             uuid.New().String(),
		Subject:        req.Subject,
		Content:        req.Content,
		TargetAudience: req.TargetAudience,
		RecipientCount: int(count),
		SentBy:         actor.User,
		Status:         models.CampaignDraft,
		SentAt:         s.now(),
	}
	if err := s.store.CreateCampaign(ctx, campaign); err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	if err := s.dispatch(ctx, campaign); err != nil {
		return nil, err
	}
	return campaign, nil
}

// Dispatch sends a stored draft campaign. A campaign is only ever dispatched once.
func (s *CampaignService) Dispatch(ctx context.Context, id string) (*models.EmailCampaign, error) {
	campaign, err := s.store.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	if campaign.Status != models.CampaignDraft || campaign.TargetAudience == models.AudienceTest {
		return nil, ErrCampaignDispatched
	}
	if err := s.dispatch(ctx, campaign); err != nil {
		return nil, err
	}
	return campaign, nil
}

func (s *CampaignService) dispatch(ctx context.Context, campaign *models.EmailCampaign) error {
	if s.claims != nil {
		claimed, err := s.claims.ClaimIdempotencyKey(ctx, "campaign:"+campaign.ID, s.now().Unix(), campaignClaimTTL)
		if err != nil {
			return fmt.Errorf("failed to claim campaign dispatch: %w", err)
		}
		if !claimed {
			return ErrCampaignDispatched
		}
	}

	bg := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(bg, campaign)
	}()
	return nil
}

// Wait blocks until every background dispatch has finished
func (s *CampaignService) Wait() {
	s.wg.Wait()
}

func (s *CampaignService) run(ctx context.Context, campaign *models.EmailCampaign) {
	ctx, span := util.StartSpan(ctx, "CampaignService.run")
	defer span.End()

	util.CampaignsInFlight.Inc()
	defer util.CampaignsInFlight.Dec()

	logger := s.logger.With(zap.String("campaign_id", campaign.ID), zap.String("audience", campaign.TargetAudience))
	sent, failed := 0, 0
	fail := func(stage string, err error) {
		util.RecordError(span, err)
		logger.Error("Campaign dispatch failed", zap.String("stage", stage), zap.Error(err))
		if err := s.store.CompleteCampaign(ctx, campaign.ID, models.CampaignFailed, sent, failed, 0); err != nil {
			logger.Error("Failed to mark campaign failed", zap.Error(err))
		}
		s.publish(ctx, campaign.ID, models.CampaignFailed, sent, failed)
	}

	if err := s.store.SetCampaignStatus(ctx, campaign.ID, models.CampaignSending); err != nil {
		fail("status", err)
		return
	}
	subs, err := s.store.ActiveSubscribers(ctx, campaign.TargetAudience)
	if err != nil {
		fail("recipients", err)
		return
	}

	bodies := make(map[string]string, len(subs))
	recipients := make([]string, 0, len(subs))
	for _, sub := range subs {
		html, err := s.renderer.CampaignBody(campaign.Subject, campaign.Content, sub.UnsubscribeToken)
		if err != nil {
			fail("render", err)
			return
		}
		bodies[sub.Email] = html
		recipients = append(recipients, sub.Email)
	}
	logger.Info("Dispatching campaign", zap.Int("recipients", len(recipients)))

	report := s.batch.Send(ctx, recipients, func(to string) mailer.Message {
		return mailer.Message{To: to, Subject: campaign.Subject, HTML: bodies[to]}
	})
	sent, failed = report.Sent, report.Failed

	rows := make([]models.CampaignRecipient, len(report.Outcomes))
	for i, o := range report.Outcomes {
		rows[i] = models.CampaignRecipient{Email: o.Email, SentAt: o.SentAt, Status: models.RecipientSent}
		if !o.Success {
			rows[i].Status = models.RecipientFailed
			rows[i].Error = o.Error
		}
	}
	if err := s.store.AppendRecipients(ctx, campaign.ID, rows); err != nil {
		fail("recipients", err)
		return
	}
	if err := s.store.CompleteCampaign(ctx, campaign.ID, models.CampaignSent, sent, failed, 0); err != nil {
		fail("complete", err)
		return
	}
	if err := s.store.RecordEmailsSent(ctx, report.Succeeded(), s.now()); err != nil {
		logger.Warn("Failed to update subscriber counters", zap.Error(err))
	}

	logger.Info("Campaign sent", zap.Int("sent", sent), zap.Int("failed", failed))
	s.publish(ctx, campaign.ID, models.CampaignSent, sent, failed)
}

func (s *CampaignService) publish(ctx context.Context, id, status string, sent, failed int) {
	if s.notifier == nil {
		return
	}
	event := &models.CampaignCompletedEvent{
		BaseEvent:  broker.NewBaseEvent(models.EventTypeCampaignCompleted),
		CampaignID: id,
		Status:     status,
		Sent:       sent,
		Failed:     failed,
	}
	if err := s.notifier.PublishCampaignCompleted(ctx, event); err != nil {
		s.logger.Error("Failed to publish CampaignCompleted event", zap.String("campaign_id", id), zap.Error(err))
	}
}

// CampaignPage is a page of the campaign history
type CampaignPage struct {
	Campaigns  []models.EmailCampaign `json:"campaigns"`
	Pagination models.Page            `json:"pagination"`
}

// List returns campaigns newest first
func (s *CampaignService) List(ctx context.Context, page, limit int) (*CampaignPage, error) {
	page, limit, offset := normalizePage(page, limit)
	campaigns, total, err := s.store.ListCampaigns(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	return &CampaignPage{Campaigns: campaigns, Pagination: models.NewPage(page, limit, total)}, nil
}

// Get returns a campaign with its recipients
func (s *CampaignService) Get(ctx context.Context, id string) (*models.EmailCampaign, error) {
	return s.store.GetCampaign(ctx, id)
}
