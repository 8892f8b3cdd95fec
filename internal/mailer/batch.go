package mailer

import (
	"context"
	"sync"
	"time"

	"medprice-service/internal/util"

	"go.uber.org/zap"
)

// Outcome records the delivery of one batch recipient
type Outcome struct {
	Email     string
	SentAt    time.Time
	Success   bool
	MessageID string
	Error     string
}

// Report aggregates a batch run. Partial failure is a normal outcome.
type Report struct {
	Sent     int
	Failed   int
	Outcomes []Outcome
}

// Succeeded returns the addresses that were delivered
func (r *Report) Succeeded() []string {
	emails := make([]string, 0, r.Sent)
	for _, o := range r.Outcomes {
		if o.Success {
			emails = append(emails, o.Email)
		}
	}
	return emails
}

// BatchSender delivers to many recipients in fixed-size chunks.
// Each chunk is sent concurrently and awaited, then the sender pauses before the next one.
type BatchSender struct {
	sender    Sender
	batchSize int
	delay     time.Duration
	kind      string
	logger    *zap.Logger
}

// NewBatchSender creates a batch sender; kind labels its metrics
func NewBatchSender(sender Sender, batchSize int, delay time.Duration, kind string) *BatchSender {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &BatchSender{
		sender:    sender,
		batchSize: batchSize,
		delay:     delay,
		kind:      kind,
		logger:    util.ComponentLogger("batch-mailer"),
	}
}

// Send builds and delivers one message per recipient.
// If ctx ends between chunks the remaining recipients are recorded as failed.
func (b *BatchSender) Send(ctx context.Context, recipients []string, build func(recipient string) Message) *Report {
	report := &Report{Outcomes: make([]Outcome, len(recipients))}

	for start := 0; start < len(recipients); start += b.batchSize {
		if start > 0 && b.delay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(b.delay):
			}
		}

		end := start + b.batchSize
		if end > len(recipients) {
			end = len(recipients)
		}

		if err := ctx.Err(); err != nil {
			for i := start; i < len(recipients); i++ {
				report.Outcomes[i] = Outcome{Email: recipients[i], SentAt: time.Now(), Error: err.Error()}
			}
			break
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				report.Outcomes[i] = b.sendOne(ctx, recipients[i], build)
			}(i)
		}
		wg.Wait()

		b.logger.Debug("Batch delivered",
			zap.String("kind", b.kind),
			zap.Int("from", start),
			zap.Int("to", end))
	}

	for _, o := range report.Outcomes {
		if o.Success {
			report.Sent++
		} else {
			report.Failed++
		}
	}
	util.EmailsSentTotal.WithLabelValues(b.kind).Add(float64(report.Sent))
	util.EmailsFailedTotal.WithLabelValues(b.kind).Add(float64(report.Failed))
	return report
}

func (b *BatchSender) sendOne(ctx context.Context, recipient string, build func(string) Message) Outcome {
	start := time.Now()
	res := b.sender.Send(ctx, build(recipient))
	util.EmailSendLatency.Observe(time.Since(start).Seconds())

	if !res.Success {
		b.logger.Warn("Batch recipient failed",
			zap.String("kind", b.kind),
			zap.String("to", recipient),
			zap.String("error", res.Error))
	}
	return Outcome{
		Email:     recipient,
		SentAt:    time.Now(),
		Success:   res.Success,
		MessageID: res.MessageID,
		Error:     res.Error,
	}
}
