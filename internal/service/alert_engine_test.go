package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"medprice-service/internal/models"
	"medprice-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngineStore struct {
	mu        sync.Mutex
	alerts    []models.PriceAlert
	lowest    map[string]*models.LowestPrice
	triggered map[int64]float64
	snapshots map[int64]models.PharmacySnapshot
	expired   int64

	entered chan struct{}
	release chan struct{}
}

func newFakeEngineStore(alerts ...models.PriceAlert) *fakeEngineStore {
	return &fakeEngineStore{
		alerts:    alerts,
		lowest:    map[string]*models.LowestPrice{},
		triggered: map[int64]float64{},
		snapshots: map[int64]models.PharmacySnapshot{},
	}
}

func (f *fakeEngineStore) setLowest(id models.MedicationID, dosage string, price float64, pharmacy string) {
	f.lowest[string(id)+"|"+dosage] = &models.LowestPrice{MedicationID: id, Dosage: dosage, Price: price, PharmacyName: pharmacy}
}

func (f *fakeEngineStore) ListDueAlerts(context.Context, time.Time) ([]models.PriceAlert, error) {
	if f.entered != nil {
		close(f.entered)
		<-f.release
	}
	return append([]models.PriceAlert(nil), f.alerts...), nil
}

func (f *fakeEngineStore) LowestPrice(_ context.Context, id models.MedicationID, dosage string) (*models.LowestPrice, error) {
	lp, ok := f.lowest[string(id)+"|"+dosage]
	if !ok {
		return nil, store.ErrNotFound
	}
	return lp, nil
}

func (f *fakeEngineStore) MarkAlertTriggered(_ context.Context, id int64, price float64, _ models.PharmacySnapshot, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggered[id] = price
	return nil
}

func (f *fakeEngineStore) UpdateAlertSnapshot(_ context.Context, id int64, _ float64, snapshot models.PharmacySnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots[id] = snapshot
	return nil
}

func (f *fakeEngineStore) ExpireAlerts(context.Context, time.Time) (int64, error) {
	return f.expired, nil
}

type fakeAlertNotifier struct {
	events []*models.AlertTriggeredEvent
}

func (f *fakeAlertNotifier) PublishAlertTriggered(_ context.Context, e *models.AlertTriggeredEvent) error {
	f.events = append(f.events, e)
	return nil
}

type fakeLocker struct {
	acquired bool
	released int
}

func (f *fakeLocker) AcquireLock(context.Context, string, time.Duration) (bool, error) {
	return f.acquired, nil
}

func (f *fakeLocker) ReleaseLock(context.Context, string) error {
	f.released++
	return nil
}

func testAlert(id int64, email string, target float64) models.PriceAlert {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	a := models.NewPriceAlert(email, "ozempic", "Ozempic", "0.25mg", 120, target, now)
	a.ID = id
	return *a
}

func TestRunCycle_TriggersAtOrBelowTarget(t *testing.T) {
	st := newFakeEngineStore(
		testAlert(1, "equal@example.com", 100),
		testAlert(2, "above@example.com", 99.99),
	)
	st.setLowest("ozempic", "0.25mg", 100, "Pharmacy One")
	st.expired = 2

	sender := newFakeSender()
	notifier := &fakeAlertNotifier{}
	engine := NewAlertEngine(st, sender, newTestRenderer(t), notifier, nil, 0)

	res, err := engine.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, res.Checked)
	assert.Equal(t, 1, res.Triggered)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, int64(2), res.Expired)

	assert.Equal(t, map[int64]float64{1: 100}, st.triggered)
	assert.Equal(t, models.PharmacySnapshot{Name: "Pharmacy One", Price: 100}, st.snapshots[2])

	msgs := sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "equal@example.com", msgs[0].To)
	assert.Contains(t, msgs[0].Subject, "Ozempic")

	require.Len(t, notifier.events, 1)
	assert.Equal(t, int64(1), notifier.events[0].AlertID)
	assert.Equal(t, models.EventTypeAlertTriggered, notifier.events[0].EventType)
}

func TestRunCycle_SendFailureLeavesAlertActive(t *testing.T) {
	st := newFakeEngineStore(testAlert(1, "bounce@example.com", 150))
	st.setLowest("ozempic", "0.25mg", 90, "Pharmacy One")

	engine := NewAlertEngine(st, newFakeSender("bounce@example.com"), newTestRenderer(t), nil, nil, 0)

	res, err := engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 0, res.Triggered)
	assert.Empty(t, st.triggered)
}

func TestRunCycle_NoPriceIsNotAFailure(t *testing.T) {
	st := newFakeEngineStore(testAlert(1, "a@example.com", 150))
	engine := NewAlertEngine(st, newFakeSender(), newTestRenderer(t), nil, nil, 0)

	res, err := engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.NoPrice)
	assert.Equal(t, 0, res.Failed)
	assert.Empty(t, st.snapshots)
}

func TestRunCycle_SkipsWhileRunning(t *testing.T) {
	st := newFakeEngineStore()
	st.entered = make(chan struct{})
	st.release = make(chan struct{})
	engine := NewAlertEngine(st, newFakeSender(), newTestRenderer(t), nil, nil, 0)

	done := make(chan *CycleResult)
	go func() {
		res, _ := engine.RunCycle(context.Background())
		done <- res
	}()
	<-st.entered

	res, err := engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	close(st.release)
	first := <-done
	assert.False(t, first.Skipped)
}

func TestRunCycle_SkipsWhenLockHeldElsewhere(t *testing.T) {
	st := newFakeEngineStore(testAlert(1, "a@example.com", 150))
	st.setLowest("ozempic", "0.25mg", 90, "Pharmacy One")
	lock := &fakeLocker{acquired: false}
	engine := NewAlertEngine(st, newFakeSender(), newTestRenderer(t), nil, lock, time.Minute)

	res, err := engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Empty(t, st.triggered)
	assert.Zero(t, lock.released)

	lock.acquired = true
	res, err = engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Triggered)
	assert.Equal(t, 1, lock.released)
}
