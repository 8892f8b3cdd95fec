package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"medprice-service/internal/mailer"
	"medprice-service/internal/models"
	"medprice-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCampaignStore struct {
	CampaignStore
	mu         sync.Mutex
	campaigns  map[string]*models.EmailCampaign
	statuses   []string
	subs       []models.EmailSubscription
	recorded   []string
	appendErr  error
	cheapest   []models.MedicationWithLowest
	countCalls []string
}

func newFakeCampaignStore(n int) *fakeCampaignStore {
	f := &fakeCampaignStore{campaigns: map[string]*models.EmailCampaign{}}
	for i := 0; i < n; i++ {
		f.subs = append(f.subs, models.EmailSubscription{
			ID:               int64(i + 1),
			Email:            fmt.Sprintf("user%d@example.com", i),
			Status:           models.SubscriptionActive,
			UnsubscribeToken: fmt.Sprintf("token-%d", i),
		})
	}
	return f
}

func (f *fakeCampaignStore) CreateCampaign(_ context.Context, c *models.EmailCampaign) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *c
	f.campaigns[c.ID] = &cp
	return nil
}

func (f *fakeCampaignStore) SetCampaignStatus(_ context.Context, id, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.campaigns[id].Status = status
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeCampaignStore) CompleteCampaign(_ context.Context, id, status string, sent, failed, bounced int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.campaigns[id]
	c.Status, c.TotalSent, c.TotalFailed, c.TotalBounced = status, sent, failed, bounced
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeCampaignStore) AppendRecipients(_ context.Context, id string, rows []models.CampaignRecipient) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	f.campaigns[id].Recipients = append(f.campaigns[id].Recipients, rows...)
	return nil
}

func (f *fakeCampaignStore) GetCampaign(_ context.Context, id string) (*models.EmailCampaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeCampaignStore) ActiveSubscribers(context.Context, string) ([]models.EmailSubscription, error) {
	return f.subs, nil
}

func (f *fakeCampaignStore) CountAudience(_ context.Context, audience string) (int64, error) {
	f.countCalls = append(f.countCalls, audience)
	return int64(len(f.subs)), nil
}

func (f *fakeCampaignStore) RecordEmailsSent(_ context.Context, emails []string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, emails...)
	return nil
}

func (f *fakeCampaignStore) CheapestMedications(context.Context, int) ([]models.MedicationWithLowest, error) {
	return f.cheapest, nil
}

type fakeClaimer struct {
	claimed map[string]bool
}

func (f *fakeClaimer) ClaimIdempotencyKey(_ context.Context, key string, _ interface{}, _ time.Duration) (bool, error) {
	if f.claimed[key] {
		return false, nil
	}
	f.claimed[key] = true
	return true, nil
}

type fakeCampaignNotifier struct {
	mu     sync.Mutex
	events []*models.CampaignCompletedEvent
}

func (f *fakeCampaignNotifier) PublishCampaignCompleted(_ context.Context, e *models.CampaignCompletedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

func newTestCampaignService(t *testing.T, st *fakeCampaignStore, sender mailer.Sender, claims IdempotencyClaimer, notifier CampaignNotifier) *CampaignService {
	svc := NewCampaignService(st, sender, newTestRenderer(t), claims, notifier)
	svc.batch = mailer.NewBatchSender(sender, campaignBatchSize, 0, "campaign")
	return svc
}

var admin = Actor{User: "admin@example.com"}

func TestCampaignSend_PartialFailureIsSent(t *testing.T) {
	st := newFakeCampaignStore(10)
	sender := newFakeSender("user2@example.com", "user5@example.com", "user9@example.com")
	notifier := &fakeCampaignNotifier{}
	svc := newTestCampaignService(t, st, sender, &fakeClaimer{claimed: map[string]bool{}}, notifier)

	draft, err := svc.Send(context.Background(), admin, &CampaignRequest{
		Subject:        "Spring prices",
		Content:        models.CampaignContent{CustomText: "Prices are down"},
		TargetAudience: models.AudienceAll,
	})
	require.NoError(t, err)
	assert.Equal(t, models.CampaignDraft, draft.Status)
	assert.Equal(t, 10, draft.RecipientCount)

	svc.Wait()

	got, err := svc.Get(context.Background(), draft.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignSent, got.Status)
	assert.Equal(t, 7, got.TotalSent)
	assert.Equal(t, 3, got.TotalFailed)
	require.Len(t, got.Recipients, 10)
	assert.Equal(t, models.RecipientFailed, got.Recipients[2].Status)
	assert.NotEmpty(t, got.Recipients[2].Error)
	assert.Equal(t, models.RecipientSent, got.Recipients[0].Status)

	assert.Equal(t, []string{models.CampaignSending, models.CampaignSent}, st.statuses)
	assert.Len(t, st.recorded, 7)
	assert.NotContains(t, st.recorded, "user5@example.com")

	require.Len(t, notifier.events, 1)
	assert.Equal(t, 7, notifier.events[0].Sent)
	assert.Equal(t, 3, notifier.events[0].Failed)

	for _, m := range sender.messages() {
		assert.Equal(t, "Spring prices", m.Subject)
		assert.Contains(t, m.HTML, "Prices are down")
	}
}

func TestCampaignSend_StoreFailureMarksFailed(t *testing.T) {
	st := newFakeCampaignStore(3)
	st.appendErr = fmt.Errorf("connection reset")
	svc := newTestCampaignService(t, st, newFakeSender(), nil, nil)

	draft, err := svc.Send(context.Background(), admin, &CampaignRequest{Subject: "Hi", TargetAudience: models.AudiencePromotions})
	require.NoError(t, err)
	svc.Wait()

	got, err := svc.Get(context.Background(), draft.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignFailed, got.Status)
	assert.Equal(t, 3, got.TotalSent)
	assert.Empty(t, st.recorded)
}

func TestCampaignSend_RejectsTestAudienceAndUnknownAudience(t *testing.T) {
	svc := newTestCampaignService(t, newFakeCampaignStore(1), newFakeSender(), nil, nil)

	_, err := svc.Send(context.Background(), admin, &CampaignRequest{Subject: "x", TargetAudience: models.AudienceTest})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Send(context.Background(), admin, &CampaignRequest{Subject: "x", TargetAudience: "everyone"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCampaignSend_NoRecipients(t *testing.T) {
	svc := newTestCampaignService(t, newFakeCampaignStore(0), newFakeSender(), nil, nil)
	_, err := svc.Send(context.Background(), admin, &CampaignRequest{Subject: "x", TargetAudience: models.AudienceAll})
	assert.ErrorIs(t, err, ErrNoRecipients)
}

func TestCampaignDispatch_OnlyOnce(t *testing.T) {
	st := newFakeCampaignStore(2)
	claims := &fakeClaimer{claimed: map[string]bool{"campaign:c-1": true}}
	svc := newTestCampaignService(t, st, newFakeSender(), claims, nil)
	require.NoError(t, st.CreateCampaign(context.Background(), &models.EmailCampaign{
		ID: "c-1", Subject: "x", TargetAudience: models.AudienceAll, Status: models.CampaignDraft,
	}))

	_, err := svc.Dispatch(context.Background(), "c-1")
	assert.ErrorIs(t, err, ErrCampaignDispatched)

	st.campaigns["c-1"].Status = models.CampaignSent
	_, err = svc.Dispatch(context.Background(), "c-1")
	assert.ErrorIs(t, err, ErrCampaignDispatched)
	assert.Empty(t, st.statuses)
}

func TestCampaignTestSend(t *testing.T) {
	st := newFakeCampaignStore(0)
	sender := newFakeSender()
	svc := newTestCampaignService(t, st, sender, nil, nil)

	res, err := svc.TestSend(context.Background(), admin, &TestSendRequest{Subject: "Deals", TestEmail: "QA@Example.com"})
	require.NoError(t, err)
	assert.True(t, res.Success)

	msgs := sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "[TEST] Deals", msgs[0].Subject)
	assert.Equal(t, "qa@example.com", msgs[0].To)

	stored := st.campaigns[res.CampaignID]
	require.NotNil(t, stored)
	assert.Equal(t, models.AudienceTest, stored.TargetAudience)
	assert.Equal(t, models.CampaignSent, stored.Status)
	require.Len(t, stored.Recipients, 1)
	assert.Equal(t, 1, stored.TotalSent)
}

func TestCampaignPreview_TestAudienceCountsOne(t *testing.T) {
	st := newFakeCampaignStore(4)
	svc := newTestCampaignService(t, st, newFakeSender(), nil, nil)

	p, err := svc.Preview(context.Background(), &CampaignRequest{Subject: "Hello", TargetAudience: models.AudienceTest})
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.RecipientCount)
	assert.Contains(t, p.HTML, "Hello")
	assert.Empty(t, st.countCalls)

	p, err = svc.Preview(context.Background(), &CampaignRequest{Subject: "Hello", TargetAudience: models.AudienceAll})
	require.NoError(t, err)
	assert.Equal(t, int64(4), p.RecipientCount)
}

func TestDigestSend(t *testing.T) {
	st := newFakeCampaignStore(3)
	st.cheapest = []models.MedicationWithLowest{
		{Medication: models.Medication{ID: "cetirizine", Name: "Cetirizine"}, LowestPrice: 2.5, PharmacyName: "Pharmacy One"},
	}
	sender := newFakeSender("user1@example.com")
	d := NewDigestService(st, sender, newTestRenderer(t))
	d.batch = mailer.NewBatchSender(sender, digestBatchSize, 0, "weekly_digest")

	res, err := d.Send(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &DigestResult{Recipients: 3, Sent: 2, Failed: 1}, res)
	assert.ElementsMatch(t, []string{"user0@example.com", "user2@example.com"}, st.recorded)

	msgs := sender.messages()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0].HTML, "Cetirizine")
	assert.Contains(t, msgs[0].Subject, "Weekly Medication Price Digest")
}

func TestDigestSend_SkipsWhileRunning(t *testing.T) {
	d := NewDigestService(newFakeCampaignStore(0), newFakeSender(), newTestRenderer(t))
	d.running.Store(true)

	res, err := d.Send(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
}
