package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"medprice-service/internal/broker"
	"medprice-service/internal/mailer"
	"medprice-service/internal/models"
	"medprice-service/internal/store"
	"medprice-service/internal/util"

	"go.uber.org/zap"
)

// AlertEngineStore is what a scan cycle reads and writes
type AlertEngineStore interface {
	ListDueAlerts(ctx context.Context, now time.Time) ([]models.PriceAlert, error)
	LowestPrice(ctx context.Context, id models.MedicationID, dosage string) (*models.LowestPrice, error)
	MarkAlertTriggered(ctx context.Context, id int64, price float64, snapshot models.PharmacySnapshot, at time.Time) error
	UpdateAlertSnapshot(ctx context.Context, id int64, price float64, snapshot models.PharmacySnapshot) error
	ExpireAlerts(ctx context.Context, now time.Time) (int64, error)
}

// AlertNotifier publishes triggered alerts
type AlertNotifier interface {
	PublishAlertTriggered(ctx context.Context, event *models.AlertTriggeredEvent) error
}

// Locker is a lock shared between service instances
type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
}

const alertScanLock = "price-alert-scan"

// CycleResult summarises one scan cycle
type CycleResult struct {
	Skipped   bool          `json:"skipped"`
	Checked   int           `json:"checked"`
	Triggered int           `json:"triggered"`
	Updated   int           `json:"updated"`
	NoPrice   int           `json:"no_price"`
	Failed    int           `json:"failed"`
	Expired   int64         `json:"expired"`
	Duration  time.Duration `json:"duration"`
}

// AlertEngine periodically compares active alerts with current lowest prices.
// Overlapping cycles are skipped, never queued.
type AlertEngine struct {
	store    AlertEngineStore
	sender   mailer.Sender
	renderer *mailer.Renderer
	notifier AlertNotifier
	lock     Locker
	lockTTL  time.Duration
	running  atomic.Bool
	now      func() time.Time
	logger   *zap.Logger
}

// NewAlertEngine creates an alert engine. notifier and lock may be nil; without
// a lock only overlapping cycles within this process are prevented.
func NewAlertEngine(store AlertEngineStore, sender mailer.Sender, renderer *mailer.Renderer, notifier AlertNotifier, lock Locker, lockTTL time.Duration) *AlertEngine {
	return &AlertEngine{
		store:    store,
		sender:   sender,
		renderer: renderer,
		notifier: notifier,
		lock:     lock,
		lockTTL:  lockTTL,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   util.ComponentLogger("alert-engine"),
	}
}

// Run executes a cycle and logs its outcome; it is the scheduled entry point
func (e *AlertEngine) Run(ctx context.Context) {
	if _, err := e.RunCycle(ctx); err != nil {
		e.logger.Error("Price alert cycle failed", zap.Error(err))
	}
}

// RunCycle evaluates every due alert, then expires stale ones.
// If a cycle is already in progress it returns immediately with Skipped set.
func (e *AlertEngine) RunCycle(ctx context.Context) (*CycleResult, error) {
	if !e.running.CompareAndSwap(false, true) {
		e.logger.Info("Price alert check already in progress, skipping")
		util.AlertCyclesTotal.WithLabelValues("skipped").Inc()
		return &CycleResult{Skipped: true}, nil
	}
	defer e.running.Store(false)

	if e.lock != nil {
		acquired, err := e.lock.AcquireLock(ctx, alertScanLock, e.lockTTL)
		switch {
		case err != nil:
			e.logger.Warn("Alert scan lock unavailable, continuing without it", zap.Error(err))
		case !acquired:
			e.logger.Info("Price alert check running on another instance, skipping")
			util.AlertCyclesTotal.WithLabelValues("skipped").Inc()
			return &CycleResult{Skipped: true}, nil
		default:
			defer func() {
				if err := e.lock.ReleaseLock(context.Background(), alertScanLock); err != nil {
					e.logger.Warn("Failed to release alert scan lock", zap.Error(err))
				}
			}()
		}
	}

	ctx, span := util.StartSpan(ctx, "AlertEngine.RunCycle")
	defer span.End()

	start := time.Now()
	result := &CycleResult{}
	defer func() {
		result.Duration = time.Since(start)
		util.AlertCycleDuration.Observe(result.Duration.Seconds())
	}()

	now := e.now()
	alerts, err := e.store.ListDueAlerts(ctx, now)
	if err != nil {
		util.RecordError(span, err)
		util.AlertCyclesTotal.WithLabelValues("error").Inc()
		return result, fmt.Errorf("failed to load active alerts: %w", err)
	}
	e.logger.Info("Starting price alert check", zap.Int("alerts", len(alerts)))

	for i := range alerts {
		if ctx.Err() != nil {
			break
		}
		result.Checked++
		util.AlertsCheckedTotal.Inc()
		e.evaluate(ctx, &alerts[i], result)
	}

	expired, err := e.store.ExpireAlerts(ctx, e.now())
	if err != nil {
		util.RecordError(span, err)
		util.AlertCyclesTotal.WithLabelValues("error").Inc()
		return result, fmt.Errorf("failed to expire alerts: %w", err)
	}
	result.Expired = expired
	util.AlertsExpiredTotal.Add(float64(expired))
	util.AlertCyclesTotal.WithLabelValues("completed").Inc()

	e.logger.Info("Price alert check completed",
		zap.Int("checked", result.Checked),
		zap.Int("triggered", result.Triggered),
		zap.Int("updated", result.Updated),
		zap.Int("no_price", result.NoPrice),
		zap.Int("failed", result.Failed),
		zap.Int64("expired", result.Expired))
	return result, nil
}

// evaluate processes one alert. Failures are logged and counted, never returned.
func (e *AlertEngine) evaluate(ctx context.Context, alert *models.PriceAlert, result *CycleResult) {
	logger := e.logger.With(
		zap.Int64("alert_id", alert.ID),
		zap.String("medication_id", string(alert.MedicationID)),
		zap.String("dosage", alert.Dosage))

	lowest, err := e.store.LowestPrice(ctx, alert.MedicationID, alert.Dosage)
	if errors.Is(err, store.ErrNotFound) {
		logger.Debug("No valid price found for alert")
		result.NoPrice++
		return
	}
	if err != nil {
		logger.Error("Failed to look up lowest price", zap.Error(err))
		util.AlertsFailedTotal.WithLabelValues("lookup").Inc()
		result.Failed++
		return
	}
	if lowest.Price <= 0 {
		result.NoPrice++
		return
	}

	snapshot := models.PharmacySnapshot{Name: lowest.PharmacyName, Price: lowest.Price}

	if !alert.ShouldTrigger(lowest.Price) {
		if err := e.store.UpdateAlertSnapshot(ctx, alert.ID, lowest.Price, snapshot); err != nil {
			logger.Error("Failed to update alert snapshot", zap.Error(err))
			util.AlertsFailedTotal.WithLabelValues("snapshot").Inc()
			result.Failed++
			return
		}
		result.Updated++
		return
	}

	msg, err := e.renderer.PriceAlert(alert, lowest.Price, lowest.PharmacyName)
	if err != nil {
		logger.Error("Failed to render price alert email", zap.Error(err))
		util.AlertsFailedTotal.WithLabelValues("render").Inc()
		result.Failed++
		return
	}

	sendStart := time.Now()
	res := e.sender.Send(ctx, msg)
	util.EmailSendLatency.Observe(time.Since(sendStart).Seconds())
	if !res.Success {
		logger.Warn("Failed to send price alert email, will retry next cycle", zap.String("error", res.Error))
		util.EmailsFailedTotal.WithLabelValues("price_alert").Inc()
		util.AlertsFailedTotal.WithLabelValues("email").Inc()
		result.Failed++
		return
	}
	util.EmailsSentTotal.WithLabelValues("price_alert").Inc()

	if err := e.store.MarkAlertTriggered(ctx, alert.ID, lowest.Price, snapshot, e.now()); err != nil {
		// the email went out; the alert was changed concurrently or the write failed
		logger.Error("Failed to mark alert triggered", zap.Error(err))
		util.AlertsFailedTotal.WithLabelValues("mark").Inc()
		result.Failed++
		return
	}
	result.Triggered++
	util.AlertsTriggeredTotal.Inc()
	logger.Info("Price alert triggered", zap.Float64("price", lowest.Price), zap.Float64("target", alert.TargetPrice))

	if e.notifier != nil {
		event := &models.AlertTriggeredEvent{
			BaseEvent:    broker.NewBaseEvent(models.EventTypeAlertTriggered),
			AlertID:      alert.ID,
			MedicationID: alert.MedicationID,
			Dosage:       alert.Dosage,
			TargetPrice:  alert.TargetPrice,
			Price:        lowest.Price,
			PharmacyName: lowest.PharmacyName,
		}
		if err := e.notifier.PublishAlertTriggered(ctx, event); err != nil {
			logger.Error("Failed to publish AlertTriggered event", zap.Error(err))
		}
	}
}
