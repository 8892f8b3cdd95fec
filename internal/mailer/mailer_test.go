package mailer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"medprice-service/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu       sync.Mutex
	fail     map[string]bool
	sent     []string
	inFlight int32
	peak     int32
}

func (f *fakeSender) Send(_ context.Context, msg Message) Result {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		p := atomic.LoadInt32(&f.peak)
		if n <= p || atomic.CompareAndSwapInt32(&f.peak, p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[msg.To] {
		return Result{Success: false, Error: "mailbox unavailable"}
	}
	f.sent = append(f.sent, msg.To)
	return Result{Success: true, MessageID: "id-" + msg.To}
}

func recipients(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = string(rune('a'+i)) + "@example.com"
	}
	return out
}

func TestBatchSenderPartialFailure(t *testing.T) {
	to := recipients(10)
	sender := &fakeSender{fail: map[string]bool{to[1]: true, to[4]: true, to[8]: true}}
	batch := NewBatchSender(sender, 5, time.Millisecond, "campaign")

	report := batch.Send(context.Background(), to, func(r string) Message {
		return Message{To: r, Subject: "Hello", HTML: "<p>hi</p>"}
	})

	assert.Equal(t, 7, report.Sent)
	assert.Equal(t, 3, report.Failed)
	require.Len(t, report.Outcomes, 10)
	for i, o := range report.Outcomes {
		assert.Equal(t, to[i], o.Email, "outcomes keep recipient order")
		assert.False(t, o.SentAt.IsZero())
	}
	assert.Equal(t, "mailbox unavailable", report.Outcomes[4].Error)
	assert.Len(t, report.Succeeded(), 7)
}

func TestBatchSenderBoundsConcurrency(t *testing.T) {
	sender := &fakeSender{}
	batch := NewBatchSender(sender, 3, 0, "digest")

	report := batch.Send(context.Background(), recipients(10), func(r string) Message {
		return Message{To: r, Subject: "Digest"}
	})

	assert.Equal(t, 10, report.Sent)
	assert.LessOrEqual(t, atomic.LoadInt32(&sender.peak), int32(3))
}

func TestBatchSenderPausesBetweenChunks(t *testing.T) {
	batch := NewBatchSender(&fakeSender{}, 2, 30*time.Millisecond, "digest")

	start := time.Now()
	batch.Send(context.Background(), recipients(6), func(r string) Message {
		return Message{To: r, Subject: "Digest"}
	})
	// three chunks, two pauses
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestBatchSenderCancelledMarksRemainingFailed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sender := &fakeSender{}
	batch := NewBatchSender(sender, 2, time.Hour, "campaign")

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	report := batch.Send(ctx, recipients(5), func(r string) Message {
		return Message{To: r, Subject: "Hi"}
	})

	assert.Equal(t, 2, report.Sent)
	assert.Equal(t, 3, report.Failed)
	assert.Len(t, report.Outcomes, 5)
}

func TestBreakerSenderOpensAfterConsecutiveFailures(t *testing.T) {
	calls := 0
	failing := senderFunc(func(context.Context, Message) Result {
		calls++
		return Result{Success: false, Error: "connection refused"}
	})
	b := NewBreakerSender(failing, BreakerConfig{FailureThreshold: 2, Timeout: time.Hour})

	msg := Message{To: "a@example.com", Subject: "x"}
	assert.Equal(t, "connection refused", b.Send(context.Background(), msg).Error)
	assert.Equal(t, "connection refused", b.Send(context.Background(), msg).Error)

	res := b.Send(context.Background(), msg)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "unavailable")
	assert.Equal(t, 2, calls)
	assert.Equal(t, "open", b.State())
}

func TestBreakerSenderIgnoresInvalidMessages(t *testing.T) {
	b := NewBreakerSender(NewLogSender(), BreakerConfig{FailureThreshold: 1})
	for i := 0; i < 3; i++ {
		assert.False(t, b.Send(context.Background(), Message{To: "not-an-address", Subject: "x"}).Success)
	}
	assert.Equal(t, "closed", b.State())
}

type senderFunc func(context.Context, Message) Result

func (f senderFunc) Send(ctx context.Context, msg Message) Result { return f(ctx, msg) }

type mockSES struct {
	input *ses.SendEmailInput
	err   error
}

func (m *mockSES) SendEmail(_ context.Context, params *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	m.input = params
	if m.err != nil {
		return nil, m.err
	}
	return &ses.SendEmailOutput{MessageId: aws.String("ses-123")}, nil
}

func TestSESSender(t *testing.T) {
	api := &mockSES{}
	s := newSESSender(api, Address{Name: "PriceMyMeds", Email: "hello@pricemymeds.co.uk"})

	res := s.Send(context.Background(), Message{To: "a@example.com", ReplyTo: "b@example.com", Subject: "Hi", HTML: "<p>x</p>"})
	require.True(t, res.Success)
	assert.Equal(t, "ses-123", res.MessageID)
	assert.Equal(t, []string{"a@example.com"}, api.input.Destination.ToAddresses)
	assert.Equal(t, []string{"b@example.com"}, api.input.ReplyToAddresses)
	assert.Contains(t, aws.ToString(api.input.Source), "hello@pricemymeds.co.uk")

	api.err = errors.New("throttled")
	res = s.Send(context.Background(), Message{To: "a@example.com", Subject: "Hi"})
	assert.False(t, res.Success)
	assert.Equal(t, "throttled", res.Error)
}

func TestSMTPSenderTimesOut(t *testing.T) {
	// 192.0.2.0/24 is reserved for documentation and never routes
	s := NewSMTPSender(SMTPConfig{Host: "192.0.2.1", Port: 25, Timeout: 50 * time.Millisecond, From: Address{Email: "a@b.com"}})

	start := time.Now()
	res := s.Send(context.Background(), Message{To: "c@d.com", Subject: "x"})
	assert.False(t, res.Success)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRendererPriceAlert(t *testing.T) {
	r, err := NewRenderer("https://pricemymeds.co.uk/")
	require.NoError(t, err)

	alert := models.NewPriceAlert("a@example.com", "ozempic", "Ozempic", "1mg", 120, 100, time.Now())
	msg, err := r.PriceAlert(alert, 99.5, "Boots <Online>")
	require.NoError(t, err)

	assert.Equal(t, "a@example.com", msg.To)
	assert.Equal(t, "Price Alert: Ozempic is now £99.50!", msg.Subject)
	assert.Contains(t, msg.HTML, "£100.00")
	assert.Contains(t, msg.HTML, "Dosage: 1mg")
	assert.Contains(t, msg.HTML, "Boots &lt;Online&gt;")
	assert.Contains(t, msg.HTML, `href="https://pricemymeds.co.uk"`)
}

func TestRendererCampaignIncludesSelectedSections(t *testing.T) {
	r, err := NewRenderer("https://pricemymeds.co.uk")
	require.NoError(t, err)

	html, err := r.CampaignBody("News", models.CampaignContent{
		CustomText:            "line one\nline two",
		IncludeNewMedications: true,
		NewMedications:        []models.NewMedicationItem{{MedicationName: "Wegovy", LowestPrice: 150}},
		IncludePromotions:     false,
		Promotions:            []models.PromotionItem{{Title: "Hidden promo"}},
	}, "tok123")
	require.NoError(t, err)

	assert.Contains(t, html, "line two")
	assert.Contains(t, html, "Wegovy")
	assert.Contains(t, html, "£150.00")
	assert.NotContains(t, html, "Hidden promo")
	assert.Contains(t, html, "/unsubscribe?token=tok123")
}

func TestRendererContactNotification(t *testing.T) {
	r, err := NewRenderer("https://pricemymeds.co.uk")
	require.NoError(t, err)

	msg, err := r.ContactNotification(&models.Contact{Name: "Sam", Email: "sam@example.com", Subject: "Hello", Message: "a\nb"}, "admin@pricemymeds.co.uk")
	require.NoError(t, err)
	assert.Equal(t, "admin@pricemymeds.co.uk", msg.To)
	assert.Equal(t, "sam@example.com", msg.ReplyTo)
	assert.Equal(t, "Contact Form: Hello", msg.Subject)
	assert.True(t, strings.Contains(msg.HTML, "a<br>b<br>"))
}
