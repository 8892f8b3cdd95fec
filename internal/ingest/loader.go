package ingest

import (
	"context"
	"fmt"
	"time"

	"medprice-service/internal/broker"
	"medprice-service/internal/models"
	"medprice-service/internal/store"
	"medprice-service/internal/util"

	"go.uber.org/zap"
)

// CatalogWriter replaces the catalog in one go
type CatalogWriter interface {
	ReplaceCatalog(ctx context.Context, c *store.Catalog, batchSize int) (*store.ImportResult, error)
}

// Auditor records an audit entry for the import
type Auditor interface {
	Record(ctx context.Context, user, entity, entityID string, changes models.AuditChanges, meta models.AuditMetadata)
}

// ImportNotifier announces a finished import
type ImportNotifier interface {
	PublishPricesImported(ctx context.Context, event *models.PricesImportedEvent) error
}

// Report is the outcome of a Run
type Report struct {
	Summary *Summary            `json:"summary"`
	Result  *store.ImportResult `json:"result,omitempty"`
	DryRun  bool                `json:"dry_run"`
}

// Loader parses a workbook and writes it over the existing catalog
type Loader struct {
	store     CatalogWriter
	audit     Auditor
	notifier  ImportNotifier
	batchSize int
	logger    *zap.Logger
}

// NewLoader creates a loader; audit and notifier may be nil
func NewLoader(store CatalogWriter, audit Auditor, notifier ImportNotifier, batchSize int) *Loader {
	return &Loader{
		store:     store,
		audit:     audit,
		notifier:  notifier,
		batchSize: batchSize,
		logger:    util.ComponentLogger("ingest"),
	}
}

// Run parses wb and, unless dryRun is set, replaces the stored catalog with it
func (l *Loader) Run(ctx context.Context, wb Workbook, dryRun bool) (*Report, error) {
	ctx, span := util.StartSpan(ctx, "Loader.Run")
	defer span.End()

	now := time.Now().UTC()
	catalog, summary := Parse(wb, now)
	report := &Report{Summary: summary, DryRun: dryRun}

	l.logger.Info("Workbook parsed",
		zap.Int("sheets", summary.Sheets),
		zap.Int("medications", summary.Medications),
		zap.Int("pharmacies", summary.Pharmacies),
		zap.Int("prices", summary.Prices),
		zap.Int("skipped_sheets", len(summary.Skipped)))

	if dryRun {
		return report, nil
	}

	result, err := l.store.ReplaceCatalog(ctx, catalog, l.batchSize)
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to replace catalog: %w", err)
	}
	report.Result = result

	l.logger.Info("Catalog replaced",
		zap.Int("categories", result.Categories),
		zap.Int("medications", result.Medications),
		zap.Int("pharmacies", result.Pharmacies),
		zap.Int("prices", result.Prices),
		zap.Int("duplicate_prices", result.DuplicatePrices))

	if l.audit != nil {
		l.audit.Record(ctx, "system", "data", "", &models.DataImportChanges{
			Source:          models.AuditSourceMigration,
			Categories:      result.Categories,
			Medications:     result.Medications,
			Pharmacies:      result.Pharmacies,
			Prices:          result.Prices,
			SkippedSheets:   len(summary.Skipped),
			DuplicatePrices: result.DuplicatePrices,
		}, models.AuditMetadata{Source: models.AuditSourceMigration})
	}

	if l.notifier != nil {
		event := &models.PricesImportedEvent{
			BaseEvent:   broker.NewBaseEvent(models.EventTypePricesImported),
			Medications: result.Medications,
			Pharmacies:  result.Pharmacies,
			Prices:      result.Prices,
		}
		if err := l.notifier.PublishPricesImported(ctx, event); err != nil {
			l.logger.Error("Failed to publish PricesImported event", zap.Error(err))
		}
	}

	return report, nil
}
