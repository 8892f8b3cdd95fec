package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"medprice-service/internal/mailer"
	"medprice-service/internal/models"

	"github.com/stretchr/testify/require"
)

// fakeSender records messages and fails for the addresses in fail
type fakeSender struct {
	mu   sync.Mutex
	sent []mailer.Message
	fail map[string]bool
}

func newFakeSender(fail ...string) *fakeSender {
	s := &fakeSender{fail: map[string]bool{}}
	for _, f := range fail {
		s.fail[f] = true
	}
	return s
}

func (s *fakeSender) Send(_ context.Context, msg mailer.Message) mailer.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[msg.To] {
		return mailer.Failed(errors.New("smtp: mailbox unavailable"))
	}
	s.sent = append(s.sent, msg)
	return mailer.Result{Success: true, MessageID: "<id-" + msg.To + ">"}
}

func (s *fakeSender) messages() []mailer.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]mailer.Message(nil), s.sent...)
}

func newTestRenderer(t *testing.T) *mailer.Renderer {
	t.Helper()
	r, err := mailer.NewRenderer("https://pricemymeds.example")
	require.NoError(t, err)
	return r
}

// fakeAuditStore collects directly written audit entries
type fakeAuditStore struct {
	AuditStore
	mu      sync.Mutex
	entries []*models.AuditLog
	err     error
}

func (f *fakeAuditStore) InsertAuditLog(_ context.Context, entry *models.AuditLog) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	for _, e := range f.entries {
		if e.EventID == entry.EventID {
			return false, nil
		}
	}
	f.entries = append(f.entries, entry)
	return true, nil
}

func (f *fakeAuditStore) actions() []models.AuditAction {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.AuditAction, len(f.entries))
	for i, e := range f.entries {
		out[i] = e.Action
	}
	return out
}

type fakeAuditPublisher struct {
	published []*models.AuditLog
	err       error
}

func (f *fakeAuditPublisher) PublishAudit(_ context.Context, entry *models.AuditLog) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, entry)
	return nil
}
