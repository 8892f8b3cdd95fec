package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"os"
	"regexp"
	"testing"
	"time"

	"medprice-service/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewFromDB(sqlx.NewDb(db, "postgres")), mock
}

func q(fragment string) string {
	return regexp.QuoteMeta(fragment)
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(&pq.Error{Code: "23505"}))
	assert.True(t, IsUniqueViolation(ErrDuplicate))
	assert.False(t, IsUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, IsUniqueViolation(errors.New("boom")))
	assert.False(t, IsUniqueViolation(nil))
}

func TestUpsertPriceReportsInsertThenUpdate(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Now()

	p := &models.Price{MedicationID: "ozempic", PharmacyID: "boots", Dosage: "1mg", Price: 120, Quantity: 1, InStock: true, LastUpdated: now, Source: models.PriceSourceManual}

	mock.ExpectQuery(q("ON CONFLICT (medication_id, pharmacy_id, dosage) DO UPDATE")).
		WithArgs("ozempic", "boots", "1mg", 120.0, 1, true, "", now, "manual").
		WillReturnRows(sqlmock.NewRows([]string{"id", "inserted"}).AddRow(7, true))
	mock.ExpectQuery(q("ON CONFLICT (medication_id, pharmacy_id, dosage) DO UPDATE")).
		WithArgs("ozempic", "boots", "1mg", 99.0, 1, true, "", now, "manual").
		WillReturnRows(sqlmock.NewRows([]string{"id", "inserted"}).AddRow(7, false))

	inserted, err := s.UpsertPrice(ctx, p)
	require.NoError(t, err)
	assert.True(t, inserted)

	second := *p
	second.ID = 0
	second.Price = 99
	inserted, err = s.UpsertPrice(ctx, &second)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, p.ID, second.ID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsertPricesCountsModifiedAndUpserted(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q("INSERT INTO prices")).WillReturnRows(sqlmock.NewRows([]string{"id", "inserted"}).AddRow(1, true))
	mock.ExpectQuery(q("INSERT INTO prices")).WillReturnRows(sqlmock.NewRows([]string{"id", "inserted"}).AddRow(2, false))
	mock.ExpectQuery(q("INSERT INTO prices")).WillReturnRows(sqlmock.NewRows([]string{"id", "inserted"}).AddRow(3, false))
	mock.ExpectCommit()

	res, err := s.BulkUpsertPrices(context.Background(), []models.Price{
		{MedicationID: "a", PharmacyID: "x", Dosage: "1mg"},
		{MedicationID: "a", PharmacyID: "y", Dosage: "1mg"},
		{MedicationID: "a", PharmacyID: "z", Dosage: "1mg"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.BulkResult{Modified: 2, Upserted: 1}, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsertPricesRollsBackOnError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q("INSERT INTO prices")).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := s.BulkUpsertPrices(context.Background(), []models.Price{{MedicationID: "a", PharmacyID: "x", Dosage: "1mg"}})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLowestPriceFiltersPositiveInStock(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(q("p.in_stock AND p.price > 0 AND p.dosage = $2 ORDER BY p.price ASC")).
		WithArgs("ozempic", "1mg").
		WillReturnRows(sqlmock.NewRows([]string{"id", "medication_id", "pharmacy_id", "pharmacy_name", "dosage", "price", "link"}).
			AddRow(5, "ozempic", "boots", "Boots", "1mg", "89.99", "https://boots.com"))

	lp, err := s.LowestPrice(context.Background(), "ozempic", "1mg")
	require.NoError(t, err)
	assert.Equal(t, 89.99, lp.Price)
	assert.Equal(t, "Boots", lp.PharmacyName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLowestPriceWithoutOffers(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(q("p.price > 0 ORDER BY")).
		WithArgs("ozempic").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.LowestPrice(context.Background(), "ozempic", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListDueAlertsScansSnapshot(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	cols := []string{"id", "email", "medication_id", "medication_name", "dosage", "current_price", "target_price",
		"lowest_pharmacy", "status", "triggered_at", "expires_at", "created_at", "updated_at"}
	mock.ExpectQuery(q("WHERE status = 'active' AND expires_at > $1")).
		WithArgs(now).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(1, "a@b.com", "ozempic", "Ozempic", "", "120.00", "100.00", []byte(`{"name":"Boots","price":120}`),
				"active", nil, now.Add(time.Hour), now, now))

	alerts, err := s.ListDueAlerts(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "Boots", alerts[0].LowestPharmacy.Name)
	assert.Nil(t, alerts[0].TriggeredAt)
	assert.Equal(t, 100.0, alerts[0].TargetPrice)
}

func TestMarkAlertTriggeredOnlyFromActive(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectExec(q("SET status = 'triggered'")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.MarkAlertTriggered(context.Background(), 9, 10, models.PharmacySnapshot{Name: "Boots", Price: 10}, now)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExpireAlertsIsConditional(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectExec(q("SET status = 'expired', updated_at = $1 WHERE status = 'active' AND expires_at <= $1")).
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.ExpireAlerts(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestCreateMedicationDuplicate(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(q("INSERT INTO medications")).WillReturnError(&pq.Error{Code: "23505"})

	err := s.CreateMedication(context.Background(), models.NewMedication("Ozempic", "weight-loss", "weight-loss-medications", "", "Pen", nil, nil, time.Now()))
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestAppendSubcategoryTakesNextOrder(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q("SELECT EXISTS (SELECT 1 FROM categories")).WithArgs("mens-health").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(q("COALESCE(MAX(sort_order) + 1, 0)")).WithArgs("mens-health").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(3))
	mock.ExpectExec(q("INSERT INTO subcategories")).
		WithArgs("mens-health", "hair-loss", "Hair Loss", "", 3, true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	sub := &models.Subcategory{CategoryID: "mens-health", ID: "hair-loss", Name: "Hair Loss", Active: true}
	require.NoError(t, s.AppendSubcategory(context.Background(), sub))
	assert.Equal(t, 3, sub.SortOrder)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendSubcategoryMissingCategory(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q("SELECT EXISTS")).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	err := s.AppendSubcategory(context.Background(), &models.Subcategory{CategoryID: "nope", ID: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReplaceCatalogCountsDuplicatePrices(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	catalog := &Catalog{
		Categories: []models.Category{{
			ID: "weight-loss", Name: "Weight Loss", Active: true,
			Subcategories: []models.Subcategory{{ID: "weight-loss-medications", CategoryID: "weight-loss", Name: "Weight Loss Medications", Active: true}},
		}},
		Medications: []models.Medication{{ID: "ozempic", Name: "Ozempic", Active: true, CreatedAt: now, UpdatedAt: now}},
		Pharmacies:  []models.Pharmacy{{ID: "boots", Name: "Boots", Website: "#", Active: true, CreatedAt: now, UpdatedAt: now}},
		Prices: []models.Price{
			{MedicationID: "ozempic", PharmacyID: "boots", Dosage: "0.25mg", Price: 100},
			{MedicationID: "ozempic", PharmacyID: "boots", Dosage: "0.25mg", Price: 110},
			{MedicationID: "ozempic", PharmacyID: "boots", Dosage: "0.5mg", Price: 120},
		},
	}

	mock.ExpectBegin()
	for _, table := range []string{"prices", "medications", "pharmacies", "subcategories", "categories"} {
		mock.ExpectExec(q("DELETE FROM " + table)).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectExec(q("INSERT INTO categories")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("INSERT INTO subcategories")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("INSERT INTO medications")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("INSERT INTO pharmacies")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9), ($10,")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("ON CONFLICT (medication_id, pharmacy_id, dosage) DO NOTHING")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := s.ReplaceCatalog(context.Background(), catalog, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Categories)
	assert.Equal(t, 1, res.Subcategories)
	assert.Equal(t, 2, res.Prices)
	assert.Equal(t, 1, res.DuplicatePrices)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceCatalogAbortsOnOtherErrors(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(q("DELETE FROM prices")).WillReturnError(errors.New("permission denied"))
	mock.ExpectRollback()

	_, err := s.ReplaceCatalog(context.Background(), &Catalog{}, 0)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertAuditLogIgnoresReplays(t *testing.T) {
	s, mock := newMockStore(t)

	entry := models.NewAuditLog("evt-1", "admin", "medication", "ozempic",
		models.MedicationDeleteChanges{ID: "ozempic", Name: "Ozempic"}, models.AuditMetadata{}, time.Now())

	mock.ExpectExec(q("ON CONFLICT (event_id) DO NOTHING")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(q("ON CONFLICT (event_id) DO NOTHING")).WillReturnResult(sqlmock.NewResult(0, 0))

	inserted, err := s.InsertAuditLog(context.Background(), entry)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.InsertAuditLog(context.Background(), entry)
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestActiveSubscribersUnknownAudience(t *testing.T) {
	s, _ := newMockStore(t)
	_, err := s.ActiveSubscribers(context.Background(), "everyone")
	assert.Error(t, err)
}

func TestRecordEmailsSentSkipsEmpty(t *testing.T) {
	s, mock := newMockStore(t)
	require.NoError(t, s.RecordEmailsSent(context.Background(), nil, time.Now()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkInsertPlaceholders(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(q("INSERT INTO t (a, b) VALUES ($1, $2), ($3, $4) ON CONFLICT DO NOTHING")).
		WithArgs(1, "x", 2, "y").
		WillReturnResult(driver.RowsAffected(2))

	n, err := bulkInsert(context.Background(), s.db, "INSERT INTO t (a, b)", [][]interface{}{{1, "x"}, {2, "y"}}, "ON CONFLICT DO NOTHING")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func integrationStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("Integration test - requires database")
	}
	s, err := NewStore(url)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestIntegrationDuplicatePriceUpsertKeepsOneRow(t *testing.T) {
	s := integrationStore(t)
	ctx := context.Background()

	_, err := s.db.ExecContext(ctx, "DELETE FROM prices WHERE medication_id = 'it-med'")
	require.NoError(t, err)

	now := time.Now()
	first := &models.Price{MedicationID: "it-med", PharmacyID: "it-pharm", Dosage: "1mg", Price: 10, Quantity: 1, InStock: true, LastUpdated: now, Source: models.PriceSourceManual}
	second := *first
	second.Price = 12.5

	_, err = s.UpsertPrice(ctx, first)
	require.NoError(t, err)
	_, err = s.UpsertPrice(ctx, &second)
	require.NoError(t, err)

	prices, err := s.ListPricesForMedication(ctx, "it-med")
	require.NoError(t, err)
	require.Len(t, prices, 1)
	assert.Equal(t, 12.5, prices[0].Price)
}

func TestIntegrationExpirySweepLeavesTriggeredAlone(t *testing.T) {
	s := integrationStore(t)
	ctx := context.Background()
	past := time.Now().Add(-time.Hour)

	active := models.NewPriceAlert("it@example.com", "it-med", "It Med", "", 20, 10, past.Add(-models.AlertLifetime))
	require.NoError(t, s.CreateAlert(ctx, active))
	triggered := models.NewPriceAlert("it2@example.com", "it-med", "It Med", "", 20, 10, past.Add(-models.AlertLifetime))
	require.NoError(t, s.CreateAlert(ctx, triggered))
	require.NoError(t, s.MarkAlertTriggered(ctx, triggered.ID, 9, models.PharmacySnapshot{Name: "X", Price: 9}, past))

	_, err := s.ExpireAlerts(ctx, time.Now())
	require.NoError(t, err)

	got, err := s.GetAlert(ctx, active.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusExpired, got.Status)

	got, err = s.GetAlert(ctx, triggered.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusTriggered, got.Status)
}

func TestDeletePharmacyRemovesItsPrices(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(q("DELETE FROM prices WHERE pharmacy_id = $1")).WithArgs("boots").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(q("DELETE FROM pharmacies WHERE id = $1")).WithArgs("boots").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	removed, err := s.DeletePharmacy(context.Background(), "boots")
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeletePharmacyMissingRollsBack(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(q("DELETE FROM prices")).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(q("DELETE FROM pharmacies")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	removed, err := s.DeletePharmacy(context.Background(), "nowhere")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeletePharmacyRowsAffectedError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(q("DELETE FROM prices")).WillReturnResult(sqlmock.NewErrorResult(errors.New("driver: no row count")))
	mock.ExpectRollback()

	_, err := s.DeletePharmacy(context.Background(), "boots")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListPricedPharmaciesInnerJoinsPharmacies(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(q("FROM prices p JOIN pharmacies ph ON ph.id = p.pharmacy_id")+
		".*"+q("AND p.dosage = $2 ORDER BY ph.rating DESC, p.price ASC")).
		WithArgs("ozempic", "1mg").
		WillReturnRows(sqlmock.NewRows([]string{"id", "medication_id", "pharmacy_id", "dosage", "price", "pharmacy_name", "pharmacy_rating"}).
			AddRow(1, "ozempic", "boots", "1mg", "120.00", "Boots", 4.5))

	rows, err := s.ListPricedPharmacies(context.Background(), PricedPharmacyQuery{MedicationID: "ozempic", Dosage: "1mg", Sort: SortRating})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Boots", rows[0].PharmacyName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMedicationExistsIgnoresActiveFlag(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(q("SELECT EXISTS (SELECT 1 FROM medications WHERE id = $1)")).WithArgs("retired").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := s.MedicationExists(context.Background(), "retired")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateBlogPostDuplicateSlug(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(q("INSERT INTO blog_posts")).WillReturnError(&pq.Error{Code: "23505"})

	err := s.CreateBlogPost(context.Background(), &models.BlogPost{Slug: "semaglutide-explained"})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestCreateBlogPostSetsID(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(q("INSERT INTO blog_posts")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))

	p := &models.BlogPost{Slug: "semaglutide-explained", Tags: pq.StringArray{}, MetaKeywords: pq.StringArray{}}
	require.NoError(t, s.CreateBlogPost(context.Background(), p))
	assert.Equal(t, int64(11), p.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListBlogPostsPublishedPage(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(q("'' AS content")+".*"+
		q("WHERE published AND category = $1 ORDER BY publish_date DESC NULLS LAST, id DESC LIMIT $2 OFFSET $3")).
		WithArgs(models.BlogHairLoss, 10, 20).
		WillReturnRows(sqlmock.NewRows([]string{"id", "slug", "title"}).AddRow(3, "finasteride", "Finasteride"))

	posts, err := s.ListBlogPosts(context.Background(), BlogFilter{Category: models.BlogHairLoss, PublishedOnly: true, Limit: 10, Offset: 20})
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, "finasteride", posts[0].Slug)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBlogPostBySlugDraftHidden(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(q("WHERE slug = $1 AND published")).WithArgs("draft-post").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.GetBlogPostBySlug(context.Background(), "draft-post", true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRelatedBlogPostsMatchesCategoryOrTag(t *testing.T) {
	s, mock := newMockStore(t)

	tags := pq.StringArray{"glp-1"}
	mock.ExpectQuery(q("id <> $1 AND published AND (category = $2 OR tags && $3)")).
		WithArgs(int64(4), models.BlogWeightLoss, tags, 3).
		WillReturnRows(sqlmock.NewRows([]string{"id", "slug"}).AddRow(5, "wegovy-vs-ozempic"))

	posts, err := s.RelatedBlogPosts(context.Background(), &models.BlogPost{ID: 4, Category: models.BlogWeightLoss, Tags: tags}, 3)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}
