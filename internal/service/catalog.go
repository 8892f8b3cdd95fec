package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"medprice-service/internal/models"
	"medprice-service/internal/store"
	"medprice-service/internal/util"

	"go.uber.org/zap"
)

// CatalogStore is the slice of the store the catalog service reads and writes
type CatalogStore interface {
	ListMedications(ctx context.Context, f store.MedicationFilter) ([]models.Medication, error)
	CountMedications(ctx context.Context, f store.MedicationFilter) (int64, error)
	GetMedication(ctx context.Context, id models.MedicationID) (*models.Medication, error)
	CreateMedication(ctx context.Context, m *models.Medication) error
	UpdateMedication(ctx context.Context, m *models.Medication) error
	DeactivateMedication(ctx context.Context, id models.MedicationID) error

	ListPharmacies(ctx context.Context, activeOnly bool) ([]models.Pharmacy, error)
	TopRatedPharmacies(ctx context.Context, minRating float64, limit int) ([]models.Pharmacy, error)
	GetPharmacy(ctx context.Context, id models.PharmacyID) (*models.Pharmacy, error)
	CreatePharmacy(ctx context.Context, p *models.Pharmacy) error
	UpdatePharmacy(ctx context.Context, p *models.Pharmacy) error
	DeletePharmacy(ctx context.Context, id models.PharmacyID) (int64, error)

	ListCategories(ctx context.Context, activeOnly bool) ([]models.Category, error)
	GetCategory(ctx context.Context, id string) (*models.Category, error)
	UpsertCategory(ctx context.Context, c *models.Category) error
	AppendSubcategory(ctx context.Context, sub *models.Subcategory) error

	ListPricesForMedication(ctx context.Context, id models.MedicationID) ([]models.Price, error)
	ListPricedPharmacies(ctx context.Context, q store.PricedPharmacyQuery) ([]models.PricedPharmacy, error)
}

// CatalogService handles medications, pharmacies and categories
type CatalogService struct {
	store  CatalogStore
	audit  *AuditLogger
	logger *zap.Logger
}

// NewCatalogService creates a new catalog service
func NewCatalogService(store CatalogStore, audit *AuditLogger) *CatalogService {
	return &CatalogService{
		store:  store,
		audit:  audit,
		logger: util.ComponentLogger("catalog"),
	}
}

const (
	searchLimit       = 20
	topRatedMinRating = 4
	topRatedLimit     = 10
)

// MedicationQuery filters the public medication listing
type MedicationQuery struct {
	Category    string `form:"category"`
	Subcategory string `form:"subcategory"`
	Search      string `form:"search"`
}

// ListMedications returns active medications
func (s *CatalogService) ListMedications(ctx context.Context, q MedicationQuery) ([]models.Medication, error) {
	return s.store.ListMedications(ctx, store.MedicationFilter{
		Category:    q.Category,
		Subcategory: q.Subcategory,
		Search:      strings.TrimSpace(q.Search),
		ActiveOnly:  true,
	})
}

// SearchMedications matches name, description and search terms
func (s *CatalogService) SearchMedications(ctx context.Context, term string) ([]models.Medication, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return []models.Medication{}, nil
	}
	return s.store.ListMedications(ctx, store.MedicationFilter{Search: term, ActiveOnly: true, Limit: searchLimit})
}

// MedicationDetail is a medication with its in-stock offers
type MedicationDetail struct {
	Medication *models.Medication      `json:"medication"`
	Prices     []models.PricedPharmacy `json:"prices"`
}

// GetMedication returns an active medication with its in-stock prices, cheapest first
func (s *CatalogService) GetMedication(ctx context.Context, id models.MedicationID) (*MedicationDetail, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.GetMedication")
	defer span.End()

	med, err := s.store.GetMedication(ctx, id)
	if err != nil {
		return nil, err
	}
	if !med.Active {
		return nil, store.ErrNotFound
	}
	prices, err := s.store.ListPricedPharmacies(ctx, store.PricedPharmacyQuery{MedicationID: id, InStockOnly: true})
	if err != nil {
		return nil, err
	}
	return &MedicationDetail{Medication: med, Prices: prices}, nil
}

// MedicationPage is a page of the admin medication listing
type MedicationPage struct {
	Medications []models.Medication `json:"medications"`
	Pagination  models.Page         `json:"pagination"`
}

// AdminListMedications lists every medication, active or not
func (s *CatalogService) AdminListMedications(ctx context.Context, q MedicationQuery, page, limit int) (*MedicationPage, error) {
	page, limit, offset := normalizePage(page, limit)
	filter := store.MedicationFilter{
		Category:    q.Category,
		Subcategory: q.Subcategory,
		Search:      strings.TrimSpace(q.Search),
	}

	total, err := s.store.CountMedications(ctx, filter)
	if err != nil {
		return nil, err
	}
	filter.Limit, filter.Offset = limit, offset
	meds, err := s.store.ListMedications(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &MedicationPage{Medications: meds, Pagination: models.NewPage(page, limit, total)}, nil
}

// AdminMedicationDetail is what the admin price editor needs for one medication
type AdminMedicationDetail struct {
	Medication *models.Medication `json:"medication"`
	Prices     []models.Price     `json:"prices"`
	Pharmacies []models.Pharmacy  `json:"pharmacies"`
}

// AdminGetMedication returns a medication with every price row and the active pharmacies
func (s *CatalogService) AdminGetMedication(ctx context.Context, id models.MedicationID) (*AdminMedicationDetail, error) {
	med, err := s.store.GetMedication(ctx, id)
	if err != nil {
		return nil, err
	}
	prices, err := s.store.ListPricesForMedication(ctx, id)
	if err != nil {
		return nil, err
	}
	pharmacies, err := s.store.ListPharmacies(ctx, true)
	if err != nil {
		return nil, err
	}
	return &AdminMedicationDetail{Medication: med, Prices: prices, Pharmacies: pharmacies}, nil
}

// MedicationRequest creates or updates a medication
type MedicationRequest struct {
	Name        string   `json:"name" binding:"required"`
	Category    string   `json:"category" binding:"required"`
	Subcategory string   `json:"subcategory" binding:"required"`
	Description string   `json:"description"`
	Dosage      []string `json:"dosage"`
	Form        string   `json:"form"`
	SearchTerms []string `json:"search_terms"`
	Active      *bool    `json:"active"`
}

func cleanLabels(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// CreateMedication adds a medication under a slug derived from its name
func (s *CatalogService) CreateMedication(ctx context.Context, actor Actor, req *MedicationRequest) (*models.Medication, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.CreateMedication")
	defer span.End()

	med := models.NewMedication(strings.TrimSpace(req.Name), req.Category, req.Subcategory, req.Description,
		strings.TrimSpace(req.Form), cleanLabels(req.Dosage), cleanLabels(req.SearchTerms), time.Now().UTC())
	if med.ID == "" {
		return nil, fmt.Errorf("%w: name %q yields an empty id", ErrInvalidInput, req.Name)
	}
	if req.Active != nil {
		med.Active = *req.Active
	}

	if err := s.store.CreateMedication(ctx, med); err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	s.logger.Info("Medication created", zap.String("id", string(med.ID)))
	s.audit.RecordAs(ctx, actor, "medication", string(med.ID), &models.MedicationCreateChanges{Created: *med})
	return med, nil
}

// UpdateMedication overwrites a medication's fields. The slug never changes.
func (s *CatalogService) UpdateMedication(ctx context.Context, actor Actor, id models.MedicationID, req *MedicationRequest) (*models.Medication, error) {
	before, err := s.store.GetMedication(ctx, id)
	if err != nil {
		return nil, err
	}

	after := *before
	after.Name = strings.TrimSpace(req.Name)
	after.Category = req.Category
	after.Subcategory = req.Subcategory
	after.Description = req.Description
	after.Form = strings.TrimSpace(req.Form)
	after.Dosage = cleanLabels(req.Dosage)
	after.SearchTerms = cleanLabels(req.SearchTerms)
	if req.Active != nil {
		after.Active = *req.Active
	}
	after.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateMedication(ctx, &after); err != nil {
		return nil, err
	}

	s.audit.RecordAs(ctx, actor, "medication", string(id), &models.MedicationUpdateChanges{Before: *before, After: after})
	return &after, nil
}

// DeleteMedication deactivates a medication; its prices stay in place
func (s *CatalogService) DeleteMedication(ctx context.Context, actor Actor, id models.MedicationID) error {
	med, err := s.store.GetMedication(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeactivateMedication(ctx, id); err != nil {
		return err
	}
	s.audit.RecordAs(ctx, actor, "medication", string(id), &models.MedicationDeleteChanges{ID: id, Name: med.Name})
	return nil
}

// ListPharmacies returns active pharmacies, best rated first
func (s *CatalogService) ListPharmacies(ctx context.Context) ([]models.Pharmacy, error) {
	return s.store.ListPharmacies(ctx, true)
}

// AdminListPharmacies includes inactive pharmacies
func (s *CatalogService) AdminListPharmacies(ctx context.Context) ([]models.Pharmacy, error) {
	return s.store.ListPharmacies(ctx, false)
}

// TopRatedPharmacies returns active pharmacies rated 4 or more
func (s *CatalogService) TopRatedPharmacies(ctx context.Context, limit int) ([]models.Pharmacy, error) {
	if limit <= 0 {
		limit = topRatedLimit
	}
	return s.store.TopRatedPharmacies(ctx, topRatedMinRating, limit)
}

// GetPharmacy returns a pharmacy by slug
func (s *CatalogService) GetPharmacy(ctx context.Context, id models.PharmacyID) (*models.Pharmacy, error) {
	return s.store.GetPharmacy(ctx, id)
}

// PharmacyRequest creates or updates a pharmacy
type PharmacyRequest struct {
	Name                 string   `json:"name" binding:"required"`
	Website              string   `json:"website"`
	Rating               *float64 `json:"rating" binding:"omitempty,min=0,max=5"`
	DeliveryTime         string   `json:"delivery_time"`
	PrescriptionRequired *bool    `json:"prescription_required"`
	Logo                 string   `json:"logo"`
	Active               *bool    `json:"active"`
	Verified             *bool    `json:"verified"`
}

func (r *PharmacyRequest) applyTo(p *models.Pharmacy) {
	p.Name = strings.TrimSpace(r.Name)
	if r.Website != "" {
		p.Website = r.Website
	}
	if r.Rating != nil {
		p.Rating = models.ClampRating(*r.Rating)
	}
	if r.DeliveryTime != "" {
		p.DeliveryTime = r.DeliveryTime
	}
	if r.PrescriptionRequired != nil {
		p.PrescriptionRequired = *r.PrescriptionRequired
	}
	if r.Logo != "" {
		p.Logo = r.Logo
	}
	if r.Active != nil {
		p.Active = *r.Active
	}
	if r.Verified != nil {
		p.Verified = *r.Verified
	}
}

// CreatePharmacy adds a pharmacy under a slug derived from its name
func (s *CatalogService) CreatePharmacy(ctx context.Context, actor Actor, req *PharmacyRequest) (*models.Pharmacy, error) {
	p := models.NewPharmacy(strings.TrimSpace(req.Name), req.Website, 0, time.Now().UTC())
	if p.ID == "" {
		return nil, fmt.Errorf("%w: name %q yields an empty id", ErrInvalidInput, req.Name)
	}
	req.applyTo(p)

	if err := s.store.CreatePharmacy(ctx, p); err != nil {
		return nil, err
	}

	s.logger.Info("Pharmacy created", zap.String("id", string(p.ID)))
	s.audit.RecordAs(ctx, actor, "pharmacy", string(p.ID), &models.PharmacyCreateChanges{Created: *p})
	return p, nil
}

// UpdatePharmacy changes a pharmacy's fields. The slug never changes.
func (s *CatalogService) UpdatePharmacy(ctx context.Context, actor Actor, id models.PharmacyID, req *PharmacyRequest) (*models.Pharmacy, error) {
	before, err := s.store.GetPharmacy(ctx, id)
	if err != nil {
		return nil, err
	}

	after := *before
	req.applyTo(&after)
	after.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdatePharmacy(ctx, &after); err != nil {
		return nil, err
	}

	s.audit.RecordAs(ctx, actor, "pharmacy", string(id), &models.PharmacyUpdateChanges{Before: *before, After: after})
	return &after, nil
}

// DeletePharmacy removes a pharmacy together with all of its prices
func (s *CatalogService) DeletePharmacy(ctx context.Context, actor Actor, id models.PharmacyID) (int64, error) {
	p, err := s.store.GetPharmacy(ctx, id)
	if err != nil {
		return 0, err
	}
	removed, err := s.store.DeletePharmacy(ctx, id)
	if err != nil {
		return 0, err
	}

	s.logger.Info("Pharmacy deleted", zap.String("id", string(id)), zap.Int64("prices_removed", removed))
	s.audit.RecordAs(ctx, actor, "pharmacy", string(id), &models.PharmacyDeleteChanges{ID: id, Name: p.Name, PricesRemoved: removed})
	return removed, nil
}

// ListCategories returns active categories with their active subcategories
func (s *CatalogService) ListCategories(ctx context.Context) ([]models.Category, error) {
	return s.store.ListCategories(ctx, true)
}

// GetCategory returns a category by id
func (s *CatalogService) GetCategory(ctx context.Context, id string) (*models.Category, error) {
	return s.store.GetCategory(ctx, id)
}

// GetSubcategory returns one subcategory of a category
func (s *CatalogService) GetSubcategory(ctx context.Context, categoryID, subcategoryID string) (*models.Subcategory, error) {
	cat, err := s.store.GetCategory(ctx, categoryID)
	if err != nil {
		return nil, err
	}
	sub, ok := cat.FindSubcategory(subcategoryID)
	if !ok {
		return nil, store.ErrNotFound
	}
	return sub, nil
}

// CategoryRequest upserts a category
type CategoryRequest struct {
	ID          string `json:"id" binding:"required"`
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Order       int    `json:"order"`
	Active      *bool  `json:"active"`
}

// UpsertCategory creates or updates a category by id
func (s *CatalogService) UpsertCategory(ctx context.Context, actor Actor, req *CategoryRequest) (*models.Category, error) {
	cat := &models.Category{
		ID:          strings.TrimSpace(req.ID),
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		SortOrder:   req.Order,
		Active:      req.Active == nil || *req.Active,
	}
	if err := s.store.UpsertCategory(ctx, cat); err != nil {
		return nil, err
	}
	s.audit.RecordAs(ctx, actor, "category", cat.ID, &models.CategoryUpdateChanges{CategoryID: cat.ID, Name: cat.Name})
	return s.store.GetCategory(ctx, cat.ID)
}

// SubcategoryRequest appends a subcategory
type SubcategoryRequest struct {
	ID          string `json:"id" binding:"required"`
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

// AddSubcategory appends a subcategory after the existing ones
func (s *CatalogService) AddSubcategory(ctx context.Context, actor Actor, categoryID string, req *SubcategoryRequest) (*models.Subcategory, error) {
	sub := &models.Subcategory{
		ID:          strings.TrimSpace(req.ID),
		CategoryID:  categoryID,
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Active:      true,
	}
	if err := s.store.AppendSubcategory(ctx, sub); err != nil {
		return nil, err
	}
	s.audit.RecordAs(ctx, actor, "category", categoryID, &models.CategoryUpdateChanges{
		CategoryID:  categoryID,
		Name:        sub.Name,
		Subcategory: sub,
	})
	return sub, nil
}
