package service

import (
	"context"
	"testing"

	"medprice-service/internal/models"
	"medprice-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCatalogStore struct {
	CatalogStore
	meds          map[models.MedicationID]*models.Medication
	pharmacies    map[models.PharmacyID]*models.Pharmacy
	pharmacyRows  map[models.PharmacyID]int64
	categories    map[string]*models.Category
	lastFilter    store.MedicationFilter
	createErr     error
	deactivated   []models.MedicationID
	upsertedCats  []models.Category
	appendedSubs  []models.Subcategory
	pricedQueries []store.PricedPharmacyQuery
}

func newFakeCatalogStore() *fakeCatalogStore {
	return &fakeCatalogStore{
		meds: map[models.MedicationID]*models.Medication{
			"ozempic": {ID: "ozempic", Name: "Ozempic", Active: true},
			"retired": {ID: "retired", Name: "Retired", Active: false},
		},
		pharmacies: map[models.PharmacyID]*models.Pharmacy{
			"boots": {ID: "boots", Name: "Boots", Rating: 4.5, Active: true},
		},
		pharmacyRows: map[models.PharmacyID]int64{"boots": 7},
		categories: map[string]*models.Category{
			"mens-health": {ID: "mens-health", Name: "Men's Health", Subcategories: []models.Subcategory{
				{CategoryID: "mens-health", ID: "hair-loss", Name: "Hair Loss"},
			}},
		},
	}
}

func (f *fakeCatalogStore) ListMedications(_ context.Context, flt store.MedicationFilter) ([]models.Medication, error) {
	f.lastFilter = flt
	var out []models.Medication
	for _, m := range f.meds {
		if !flt.ActiveOnly || m.Active {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (f *fakeCatalogStore) GetMedication(_ context.Context, id models.MedicationID) (*models.Medication, error) {
	m, ok := f.meds[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (f *fakeCatalogStore) CreateMedication(_ context.Context, m *models.Medication) error {
	if f.createErr != nil {
		return f.createErr
	}
	if _, ok := f.meds[m.ID]; ok {
		return store.ErrDuplicate
	}
	f.meds[m.ID] = m
	return nil
}

func (f *fakeCatalogStore) UpdateMedication(_ context.Context, m *models.Medication) error {
	f.meds[m.ID] = m
	return nil
}

func (f *fakeCatalogStore) DeactivateMedication(_ context.Context, id models.MedicationID) error {
	f.deactivated = append(f.deactivated, id)
	f.meds[id].Active = false
	return nil
}

func (f *fakeCatalogStore) GetPharmacy(_ context.Context, id models.PharmacyID) (*models.Pharmacy, error) {
	p, ok := f.pharmacies[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeCatalogStore) CreatePharmacy(_ context.Context, p *models.Pharmacy) error {
	f.pharmacies[p.ID] = p
	return nil
}

func (f *fakeCatalogStore) DeletePharmacy(_ context.Context, id models.PharmacyID) (int64, error) {
	if _, ok := f.pharmacies[id]; !ok {
		return 0, store.ErrNotFound
	}
	delete(f.pharmacies, id)
	return f.pharmacyRows[id], nil
}

func (f *fakeCatalogStore) GetCategory(_ context.Context, id string) (*models.Category, error) {
	c, ok := f.categories[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return c, nil
}

func (f *fakeCatalogStore) UpsertCategory(_ context.Context, c *models.Category) error {
	f.upsertedCats = append(f.upsertedCats, *c)
	f.categories[c.ID] = c
	return nil
}

func (f *fakeCatalogStore) AppendSubcategory(_ context.Context, sub *models.Subcategory) error {
	if _, ok := f.categories[sub.CategoryID]; !ok {
		return store.ErrNotFound
	}
	f.appendedSubs = append(f.appendedSubs, *sub)
	return nil
}

func (f *fakeCatalogStore) ListPricedPharmacies(_ context.Context, q store.PricedPharmacyQuery) ([]models.PricedPharmacy, error) {
	f.pricedQueries = append(f.pricedQueries, q)
	return []models.PricedPharmacy{{Price: models.Price{MedicationID: q.MedicationID, PharmacyID: "boots", Price: 99}}}, nil
}

func TestCreateMedication_DerivesSlugAndAudits(t *testing.T) {
	st := newFakeCatalogStore()
	audits := &fakeAuditStore{}
	svc := NewCatalogService(st, NewAuditLogger(audits, nil))

	med, err := svc.CreateMedication(context.Background(), admin, &MedicationRequest{
		Name:        " Mounjaro (KwikPen) ",
		Category:    "weight-loss",
		Subcategory: "weight-loss-injections",
		Dosage:      []string{"2.5mg", " 2.5mg", "", "5mg"},
	})
	require.NoError(t, err)

	assert.Equal(t, models.MedicationID("mounjaro-kwikpen"), med.ID)
	assert.Equal(t, "Mounjaro (KwikPen)", med.Name)
	assert.Equal(t, []string{"2.5mg", "5mg"}, []string(med.Dosage))
	assert.Equal(t, []models.AuditAction{models.ActionMedicationCreate}, audits.actions())
	assert.Equal(t, admin.User, audits.entries[0].User)
}

func TestCreateMedication_EmptySlugRejected(t *testing.T) {
	st := newFakeCatalogStore()
	audits := &fakeAuditStore{}
	svc := NewCatalogService(st, NewAuditLogger(audits, nil))

	_, err := svc.CreateMedication(context.Background(), admin, &MedicationRequest{Name: "(!!)", Category: "x", Subcategory: "y"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Empty(t, audits.actions())
}

func TestCreateMedication_DuplicateNotAudited(t *testing.T) {
	st := newFakeCatalogStore()
	audits := &fakeAuditStore{}
	svc := NewCatalogService(st, NewAuditLogger(audits, nil))

	_, err := svc.CreateMedication(context.Background(), admin, &MedicationRequest{Name: "Ozempic", Category: "x", Subcategory: "y"})
	assert.ErrorIs(t, err, store.ErrDuplicate)
	assert.Empty(t, audits.actions())
}

func TestGetMedication_InactiveIsNotFound(t *testing.T) {
	st := newFakeCatalogStore()
	svc := NewCatalogService(st, nil)

	_, err := svc.GetMedication(context.Background(), "retired")
	assert.ErrorIs(t, err, store.ErrNotFound)

	detail, err := svc.GetMedication(context.Background(), "ozempic")
	require.NoError(t, err)
	require.Len(t, detail.Prices, 1)
	require.Len(t, st.pricedQueries, 1)
	assert.True(t, st.pricedQueries[0].InStockOnly)
}

func TestSearchMedications_BlankTermSkipsStore(t *testing.T) {
	st := newFakeCatalogStore()
	svc := NewCatalogService(st, nil)

	meds, err := svc.SearchMedications(context.Background(), "   ")
	require.NoError(t, err)
	assert.Empty(t, meds)
	assert.Equal(t, store.MedicationFilter{}, st.lastFilter)

	_, err = svc.SearchMedications(context.Background(), " ozem ")
	require.NoError(t, err)
	assert.Equal(t, "ozem", st.lastFilter.Search)
	assert.True(t, st.lastFilter.ActiveOnly)
	assert.Equal(t, searchLimit, st.lastFilter.Limit)
}

func TestUpdateMedication_KeepsSlug(t *testing.T) {
	st := newFakeCatalogStore()
	audits := &fakeAuditStore{}
	svc := NewCatalogService(st, NewAuditLogger(audits, nil))

	off := false
	med, err := svc.UpdateMedication(context.Background(), admin, "ozempic", &MedicationRequest{
		Name: "Ozempic Pen", Category: "weight-loss", Subcategory: "weight-loss-injections", Active: &off,
	})
	require.NoError(t, err)
	assert.Equal(t, models.MedicationID("ozempic"), med.ID)
	assert.Equal(t, "Ozempic Pen", med.Name)
	assert.False(t, med.Active)
	assert.Equal(t, []models.AuditAction{models.ActionMedicationUpdate}, audits.actions())
}

func TestDeleteMedication_Deactivates(t *testing.T) {
	st := newFakeCatalogStore()
	audits := &fakeAuditStore{}
	svc := NewCatalogService(st, NewAuditLogger(audits, nil))

	require.NoError(t, svc.DeleteMedication(context.Background(), admin, "ozempic"))
	assert.Equal(t, []models.MedicationID{"ozempic"}, st.deactivated)
	assert.Equal(t, []models.AuditAction{models.ActionMedicationDelete}, audits.actions())

	assert.ErrorIs(t, svc.DeleteMedication(context.Background(), admin, "missing"), store.ErrNotFound)
}

func TestCreatePharmacy_ClampsRating(t *testing.T) {
	st := newFakeCatalogStore()
	audits := &fakeAuditStore{}
	svc := NewCatalogService(st, NewAuditLogger(audits, nil))

	rating := 7.0
	p, err := svc.CreatePharmacy(context.Background(), admin, &PharmacyRequest{Name: "Dr. Fox", Rating: &rating})
	require.NoError(t, err)
	assert.Equal(t, models.PharmacyID("dr-fox"), p.ID)
	assert.Equal(t, float64(models.MaxPharmacyRating), p.Rating)
	assert.Equal(t, []models.AuditAction{models.ActionPharmacyCreate}, audits.actions())
}

func TestDeletePharmacy_AuditsRemovedPrices(t *testing.T) {
	st := newFakeCatalogStore()
	audits := &fakeAuditStore{}
	svc := NewCatalogService(st, NewAuditLogger(audits, nil))

	removed, err := svc.DeletePharmacy(context.Background(), admin, "boots")
	require.NoError(t, err)
	assert.Equal(t, int64(7), removed)

	require.Len(t, audits.entries, 1)
	changes, ok := audits.entries[0].Changes.(*models.PharmacyDeleteChanges)
	require.True(t, ok, "unexpected changes type %T", audits.entries[0].Changes)
	assert.Equal(t, "Boots", changes.Name)
	assert.Equal(t, int64(7), changes.PricesRemoved)

	_, err = svc.DeletePharmacy(context.Background(), admin, "boots")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Len(t, audits.entries, 1)
}

func TestGetSubcategory(t *testing.T) {
	svc := NewCatalogService(newFakeCatalogStore(), nil)

	sub, err := svc.GetSubcategory(context.Background(), "mens-health", "hair-loss")
	require.NoError(t, err)
	assert.Equal(t, "Hair Loss", sub.Name)

	_, err = svc.GetSubcategory(context.Background(), "mens-health", "acne")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = svc.GetSubcategory(context.Background(), "nope", "hair-loss")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpsertCategory_DefaultsActive(t *testing.T) {
	st := newFakeCatalogStore()
	audits := &fakeAuditStore{}
	svc := NewCatalogService(st, NewAuditLogger(audits, nil))

	cat, err := svc.UpsertCategory(context.Background(), admin, &CategoryRequest{ID: " skin ", Name: "Skin", Order: 4})
	require.NoError(t, err)
	assert.Equal(t, "skin", cat.ID)
	require.Len(t, st.upsertedCats, 1)
	assert.True(t, st.upsertedCats[0].Active)
	assert.Equal(t, 4, st.upsertedCats[0].SortOrder)
	assert.Equal(t, []models.AuditAction{models.ActionCategoryUpdate}, audits.actions())
}

func TestAddSubcategory(t *testing.T) {
	st := newFakeCatalogStore()
	audits := &fakeAuditStore{}
	svc := NewCatalogService(st, NewAuditLogger(audits, nil))

	sub, err := svc.AddSubcategory(context.Background(), admin, "mens-health", &SubcategoryRequest{ID: "ed", Name: " Erectile Dysfunction "})
	require.NoError(t, err)
	assert.Equal(t, "Erectile Dysfunction", sub.Name)
	assert.True(t, sub.Active)

	changes, ok := audits.entries[0].Changes.(*models.CategoryUpdateChanges)
	require.True(t, ok)
	require.NotNil(t, changes.Subcategory)
	assert.Equal(t, "ed", changes.Subcategory.ID)

	_, err = svc.AddSubcategory(context.Background(), admin, "nope", &SubcategoryRequest{ID: "x", Name: "X"})
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Len(t, audits.entries, 1)
}
