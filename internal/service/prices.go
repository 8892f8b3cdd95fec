package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"medprice-service/internal/models"
	"medprice-service/internal/store"
	"medprice-service/internal/util"

	"go.uber.org/zap"
)

// PriceStore is the slice of the store the price service uses
type PriceStore interface {
	GetMedication(ctx context.Context, id models.MedicationID) (*models.Medication, error)
	ListMedications(ctx context.Context, f store.MedicationFilter) ([]models.Medication, error)
	ListPharmaciesByIDs(ctx context.Context, ids []models.PharmacyID) ([]models.Pharmacy, error)

	ListPricesForMedication(ctx context.Context, id models.MedicationID) ([]models.Price, error)
	ListPricesForMedications(ctx context.Context, ids []models.MedicationID, inStockOnly bool) ([]models.Price, error)
	ListPricedPharmacies(ctx context.Context, q store.PricedPharmacyQuery) ([]models.PricedPharmacy, error)
	RecentPriceUpdates(ctx context.Context, since time.Time, limit int) ([]models.RecentPriceUpdate, error)
	LowestPrice(ctx context.Context, id models.MedicationID, dosage string) (*models.LowestPrice, error)

	BulkUpsertPrices(ctx context.Context, prices []models.Price) (models.BulkResult, error)
	GetPrice(ctx context.Context, id int64) (*models.Price, error)
	SavePrice(ctx context.Context, p *models.Price) error
	DeletePrice(ctx context.Context, id int64) (*models.Price, error)

	MedicationExists(ctx context.Context, id models.MedicationID) (bool, error)
	PharmacyExists(ctx context.Context, id models.PharmacyID) (bool, error)
	DashboardStats(ctx context.Context, since time.Time) (*models.DashboardStats, error)
}

// PriceService serves the price read views and admin price writes
type PriceService struct {
	store  PriceStore
	audit  *AuditLogger
	logger *zap.Logger
}

// NewPriceService creates a new price service
func NewPriceService(store PriceStore, audit *AuditLogger) *PriceService {
	return &PriceService{
		store:  store,
		audit:  audit,
		logger: util.ComponentLogger("prices"),
	}
}

const (
	defaultRecentWindow = 24 * time.Hour
	defaultRecentLimit  = 50
)

// Grid returns every price of a medication keyed by "pharmacyId:dosage"
func (s *PriceService) Grid(ctx context.Context, id models.MedicationID) (map[string]models.GridEntry, error) {
	prices, err := s.store.ListPricesForMedication(ctx, id)
	if err != nil {
		return nil, err
	}
	grid := make(map[string]models.GridEntry, len(prices))
	for _, p := range prices {
		grid[models.GridKey(p.PharmacyID, p.Dosage)] = models.GridEntry{
			Price:       p.Price,
			InStock:     p.InStock,
			Link:        p.Link,
			LastUpdated: p.LastUpdated,
			RecordID:    p.ID,
		}
	}
	return grid, nil
}

// Comparison is a medication's offers grouped by pharmacy
type Comparison struct {
	Medication *models.Medication          `json:"medication"`
	Pharmacies []models.PharmacyComparison `json:"pharmacies"`
}

// Compare groups a medication's prices by pharmacy, best rated pharmacy first.
// Prices whose pharmacy no longer exists are left out.
func (s *PriceService) Compare(ctx context.Context, id models.MedicationID, dosage string) (*Comparison, error) {
	ctx, span := util.StartSpan(ctx, "PriceService.Compare")
	defer span.End()

	med, err := s.store.GetMedication(ctx, id)
	if err != nil {
		return nil, err
	}
	rows, err := s.store.ListPricedPharmacies(ctx, store.PricedPharmacyQuery{
		MedicationID: id,
		Dosage:       strings.TrimSpace(dosage),
		Sort:         store.SortRating,
	})
	if err != nil {
		return nil, err
	}
	return &Comparison{Medication: med, Pharmacies: groupByPharmacy(rows)}, nil
}

func groupByPharmacy(rows []models.PricedPharmacy) []models.PharmacyComparison {
	index := make(map[models.PharmacyID]int)
	groups := []models.PharmacyComparison{}
	for _, r := range rows {
		i, ok := index[r.PharmacyID]
		if !ok {
			i = len(groups)
			index[r.PharmacyID] = i
			groups = append(groups, models.PharmacyComparison{
				PharmacyID:           r.PharmacyID,
				PharmacyName:         r.PharmacyName,
				Website:              r.PharmacyWebsite,
				Rating:               r.PharmacyRating,
				DeliveryTime:         r.DeliveryTime,
				PrescriptionRequired: r.PrescriptionRequired,
			})
		}
		groups[i].Prices = append(groups[i].Prices, models.DosagePrice{
			Dosage:      r.Dosage,
			Price:       r.Price.Price,
			InStock:     r.InStock,
			Link:        r.Link,
			LastUpdated: r.LastUpdated,
		})
	}
	sort.SliceStable(groups, func(a, b int) bool { return groups[a].Rating > groups[b].Rating })
	return groups
}

// PricesQuery selects the public offers of a medication
type PricesQuery struct {
	Dosage string `form:"dosage"`
	Sort   string `form:"sort"`
}

// ListPrices returns in-stock offers of a medication joined to their pharmacy
func (s *PriceService) ListPrices(ctx context.Context, id models.MedicationID, q PricesQuery) ([]models.PricedPharmacy, error) {
	sortBy := store.PriceSort(q.Sort)
	switch sortBy {
	case store.SortPriceAsc, store.SortPriceDesc, store.SortRating:
	case "":
		sortBy = store.SortPriceAsc
	default:
		return nil, fmt.Errorf("%w: unknown sort %q", ErrInvalidInput, q.Sort)
	}
	return s.store.ListPricedPharmacies(ctx, store.PricedPharmacyQuery{
		MedicationID: id,
		Dosage:       strings.TrimSpace(q.Dosage),
		InStockOnly:  true,
		Sort:         sortBy,
	})
}

// Matrix builds the sparse price matrix of a subcategory. Only known prices
// get a key; cells of pharmacies missing from the catalog are dropped.
func (s *PriceService) Matrix(ctx context.Context, subcategory string) (*models.PriceMatrix, error) {
	ctx, span := util.StartSpan(ctx, "PriceService.Matrix")
	defer span.End()

	meds, err := s.store.ListMedications(ctx, store.MedicationFilter{Subcategory: subcategory, ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	matrix := &models.PriceMatrix{
		Subcategory: subcategory,
		Medications: meds,
		Pharmacies:  []models.Pharmacy{},
		Prices:      map[string]models.MatrixCell{},
	}
	if len(meds) == 0 {
		return matrix, nil
	}

	medIDs := make([]models.MedicationID, len(meds))
	for i, m := range meds {
		medIDs[i] = m.ID
	}
	prices, err := s.store.ListPricesForMedications(ctx, medIDs, false)
	if err != nil {
		return nil, err
	}

	seen := make(map[models.PharmacyID]bool)
	var pharmacyIDs []models.PharmacyID
	for _, p := range prices {
		if !seen[p.PharmacyID] {
			seen[p.PharmacyID] = true
			pharmacyIDs = append(pharmacyIDs, p.PharmacyID)
		}
	}
	if len(pharmacyIDs) > 0 {
		if matrix.Pharmacies, err = s.store.ListPharmaciesByIDs(ctx, pharmacyIDs); err != nil {
			return nil, err
		}
	}

	known := make(map[models.PharmacyID]bool, len(matrix.Pharmacies))
	for _, ph := range matrix.Pharmacies {
		known[ph.ID] = true
	}
	for _, p := range prices {
		if !known[p.PharmacyID] {
			continue
		}
		matrix.Prices[models.MatrixKey(p.MedicationID, p.PharmacyID, p.Dosage)] = models.MatrixCell{
			Price:   p.Price,
			InStock: p.InStock,
			Link:    p.Link,
		}
	}
	return matrix, nil
}

// RecentUpdates returns prices updated within window (default 24h), newest first
func (s *PriceService) RecentUpdates(ctx context.Context, window time.Duration, limit int) ([]models.RecentPriceUpdate, error) {
	if window <= 0 {
		window = defaultRecentWindow
	}
	if limit <= 0 || limit > maxPageLimit {
		limit = defaultRecentLimit
	}
	return s.store.RecentPriceUpdates(ctx, time.Now().Add(-window), limit)
}

// Lowest returns the cheapest in-stock positive offer; dosage is optional
func (s *PriceService) Lowest(ctx context.Context, id models.MedicationID, dosage string) (*models.LowestPrice, error) {
	return s.store.LowestPrice(ctx, id, strings.TrimSpace(dosage))
}

// Stats aggregates the admin dashboard numbers
func (s *PriceService) Stats(ctx context.Context) (*models.DashboardStats, error) {
	return s.store.DashboardStats(ctx, time.Now().Add(-defaultRecentWindow))
}

// PriceInput is one row of a bulk price update
type PriceInput struct {
	MedicationID models.MedicationID `json:"medication_id" binding:"required"`
	PharmacyID   models.PharmacyID   `json:"pharmacy_id" binding:"required"`
	Dosage       string              `json:"dosage"`
	Price        float64             `json:"price" binding:"min=0"`
	Quantity     int                 `json:"quantity"`
	InStock      *bool               `json:"in_stock"`
	Link         string              `json:"link"`
}

// BulkUpdateRequest upserts many prices at once
type BulkUpdateRequest struct {
	Prices []PriceInput `json:"prices" binding:"required,min=1,dive"`
}

// keyValidator checks natural keys against the store once per id
type keyValidator struct {
	store       PriceStore
	medications map[models.MedicationID]bool
	pharmacies  map[models.PharmacyID]bool
}

func newKeyValidator(st PriceStore) *keyValidator {
	return &keyValidator{
		store:       st,
		medications: map[models.MedicationID]bool{},
		pharmacies:  map[models.PharmacyID]bool{},
	}
}

func (v *keyValidator) check(ctx context.Context, med models.MedicationID, ph models.PharmacyID) error {
	ok, cached := v.medications[med]
	if !cached {
		var err error
		if ok, err = v.store.MedicationExists(ctx, med); err != nil {
			return fmt.Errorf("failed to check medication %s: %w", med, err)
		}
		v.medications[med] = ok
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMedication, med)
	}

	ok, cached = v.pharmacies[ph]
	if !cached {
		var err error
		if ok, err = v.store.PharmacyExists(ctx, ph); err != nil {
			return fmt.Errorf("failed to check pharmacy %s: %w", ph, err)
		}
		v.pharmacies[ph] = ok
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPharmacy, ph)
	}
	return nil
}

// BulkUpdate upserts prices by (medication, pharmacy, dosage). Every row is
// validated first; one unknown slug rejects the whole request.
func (s *PriceService) BulkUpdate(ctx context.Context, actor Actor, req *BulkUpdateRequest) (models.BulkResult, error) {
	ctx, span := util.StartSpan(ctx, "PriceService.BulkUpdate")
	defer span.End()

	now := time.Now().UTC()
	validator := newKeyValidator(s.store)
	prices := make([]models.Price, 0, len(req.Prices))
	var medIDs []models.MedicationID
	seenMed := map[models.MedicationID]bool{}

	for _, in := range req.Prices {
		if in.Price < 0 {
			return models.BulkResult{}, fmt.Errorf("%w: negative price for %s", ErrInvalidInput, in.MedicationID)
		}
		if err := validator.check(ctx, in.MedicationID, in.PharmacyID); err != nil {
			return models.BulkResult{}, err
		}
		quantity := in.Quantity
		if quantity <= 0 {
			quantity = 1
		}
		prices = append(prices, models.Price{
			MedicationID: in.MedicationID,
			PharmacyID:   in.PharmacyID,
			Dosage:       strings.TrimSpace(in.Dosage),
			Price:        models.RoundPrice(in.Price),
			Quantity:     quantity,
			InStock:      in.InStock == nil || *in.InStock,
			Link:         in.Link,
			LastUpdated:  now,
			Source:       models.PriceSourceManual,
		})
		if !seenMed[in.MedicationID] {
			seenMed[in.MedicationID] = true
			medIDs = append(medIDs, in.MedicationID)
		}
	}

	result, err := s.store.BulkUpsertPrices(ctx, prices)
	if err != nil {
		util.RecordError(span, err)
		return models.BulkResult{}, err
	}
	util.PricesUpsertedTotal.WithLabelValues("inserted").Add(float64(result.Upserted))
	util.PricesUpsertedTotal.WithLabelValues("updated").Add(float64(result.Modified))

	s.logger.Info("Prices updated",
		zap.Int("count", len(prices)),
		zap.Int64("modified", result.Modified),
		zap.Int64("upserted", result.Upserted))
	s.audit.RecordAs(ctx, actor, "price", "", &models.PriceBulkUpdateChanges{
		Count:         len(prices),
		Modified:      result.Modified,
		Upserted:      result.Upserted,
		MedicationIDs: medIDs,
	})
	return result, nil
}

// PriceUpdateRequest changes one price row
type PriceUpdateRequest struct {
	Price    *float64 `json:"price" binding:"omitempty,min=0"`
	InStock  *bool    `json:"in_stock"`
	Link     *string  `json:"link"`
	Quantity *int     `json:"quantity" binding:"omitempty,min=1"`
}

// UpdatePrice changes a single price row by record id
func (s *PriceService) UpdatePrice(ctx context.Context, actor Actor, id int64, req *PriceUpdateRequest) (*models.Price, error) {
	before, err := s.store.GetPrice(ctx, id)
	if err != nil {
		return nil, err
	}

	after := *before
	if req.Price != nil {
		if *req.Price < 0 {
			return nil, fmt.Errorf("%w: negative price", ErrInvalidInput)
		}
		after.Price = models.RoundPrice(*req.Price)
	}
	if req.InStock != nil {
		after.InStock = *req.InStock
	}
	if req.Link != nil {
		after.Link = *req.Link
	}
	if req.Quantity != nil {
		after.Quantity = *req.Quantity
	}
	after.LastUpdated = time.Now().UTC()
	after.Source = models.PriceSourceManual

	if err := s.store.SavePrice(ctx, &after); err != nil {
		return nil, err
	}
	util.PricesUpsertedTotal.WithLabelValues("updated").Inc()

	s.audit.RecordAs(ctx, actor, "price", fmt.Sprint(id), &models.PriceUpdateChanges{PriceID: id, Before: before, After: after})
	return &after, nil
}

// DeletePrice removes a price row by record id
func (s *PriceService) DeletePrice(ctx context.Context, actor Actor, id int64) (*models.Price, error) {
	deleted, err := s.store.DeletePrice(ctx, id)
	if err != nil {
		return nil, err
	}
	s.audit.RecordAs(ctx, actor, "price", fmt.Sprint(id), &models.PriceDeleteChanges{Deleted: *deleted})
	return deleted, nil
}
