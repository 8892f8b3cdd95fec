package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"medprice-service/internal/models"
	"medprice-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const workbookJSON = `{
  "Ozempic Tablet": [
    [], [], [],
    [null, "WEIGHT LOSS", "Ozempic", "Tablet"],
    ["Rating", "Pharmacy", "3mg", "7mg", "Link"],
    [4.2, "Pharmacy Two", 89, "95.50", "https://two.example/ozempic"]
  ],
  "Ozempic Pen": [
    [], [], [],
    [null, "WEIGHT LOSS", "Ozempic", "Pen"],
    ["Rating", "Pharmacy", "0.25mg", "0.5mg", "Link"],
    [4.8, "Pharmacy One", 120, 0, "https://one.example/ozempic"],
    [null, "  ", 10, 10],
    "not a row",
    [3, "Pharmacy Two", -5, "n/a", "https://ignored.example"]
  ],
  "Hay Fever": [
    [], [], [],
    [null, "Hay Fever", "Cetirizine", "Tablet"],
    ["Rating", "Pharmacy", "10mg"],
    [4, "Pharmacy One", 3]
  ],
  "Stub": [[], []]
}`

func mustWorkbook(t *testing.T, raw string) Workbook {
	t.Helper()
	wb, err := ReadWorkbook(strings.NewReader(raw))
	require.NoError(t, err)
	return wb
}

func medicationIDs(c *store.Catalog) []models.MedicationID {
	ids := make([]models.MedicationID, len(c.Medications))
	for i, m := range c.Medications {
		ids[i] = m.ID
	}
	return ids
}

func TestParse_CollidingNamesGetFormSuffix(t *testing.T) {
	wb := mustWorkbook(t, workbookJSON)
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	catalog, summary := Parse(wb, now)

	assert.Equal(t, []models.MedicationID{"ozempic", "ozempic-tablet"}, medicationIDs(catalog))
	assert.Equal(t, map[string]string{"Ozempic Tablet": "ozempic-tablet"}, summary.Renamed)

	again, _ := Parse(mustWorkbook(t, workbookJSON), now)
	assert.Equal(t, medicationIDs(catalog), medicationIDs(again))
}

func TestParse_MedicationFields(t *testing.T) {
	catalog, _ := Parse(mustWorkbook(t, workbookJSON), time.Now())

	pen := catalog.Medications[0]
	assert.Equal(t, "Ozempic", pen.Name)
	assert.Equal(t, "Ozempic - Pen", pen.Description)
	assert.Equal(t, "weight-loss", pen.Category)
	assert.Equal(t, "weight-loss-medications", pen.Subcategory)
	assert.Equal(t, []string{"0.25mg", "0.5mg"}, []string(pen.Dosage))
	assert.True(t, pen.Active)

	require.Len(t, catalog.Categories, 1)
	require.Len(t, catalog.Categories[0].Subcategories, 1)
	assert.Equal(t, "Weight Loss Medications", catalog.Categories[0].Subcategories[0].Name)
}

func TestParse_PricesAndPharmacies(t *testing.T) {
	catalog, summary := Parse(mustWorkbook(t, workbookJSON), time.Now())

	// Pharmacy One from the Pen sheet; Pharmacy Two first seen on the Pen sheet too
	require.Len(t, catalog.Pharmacies, 2)
	assert.Equal(t, models.PharmacyID("pharmacy-one"), catalog.Pharmacies[0].ID)
	assert.Equal(t, 4.8, catalog.Pharmacies[0].Rating)
	assert.Equal(t, "https://one.example/ozempic", catalog.Pharmacies[0].Website)
	assert.Equal(t, models.PharmacyID("pharmacy-two"), catalog.Pharmacies[1].ID)
	assert.Equal(t, 3.0, catalog.Pharmacies[1].Rating)

	var got []string
	for _, p := range catalog.Prices {
		got = append(got, string(p.MedicationID)+"|"+string(p.PharmacyID)+"|"+p.Dosage)
		assert.Equal(t, models.PriceSourceMigration, p.Source)
		assert.Equal(t, 1, p.Quantity)
		assert.True(t, p.InStock)
		assert.Greater(t, p.Price, 0.0)
	}
	assert.Equal(t, []string{
		"ozempic|pharmacy-one|0.25mg",
		"ozempic-tablet|pharmacy-two|3mg",
		"ozempic-tablet|pharmacy-two|7mg",
	}, got)
	assert.Equal(t, 95.5, catalog.Prices[2].Price)

	// 0, -5 and "n/a" are dropped
	assert.Equal(t, 3, summary.DroppedCells)
	// blank pharmacy name plus the non-array row
	assert.Equal(t, 2, summary.SkippedRows)
}

func TestParse_PricesRoundedToCents(t *testing.T) {
	wb := mustWorkbook(t, `{
  "Ozempic Pen": [
    [], [], [],
    [null, "WEIGHT LOSS", "Ozempic", "Pen"],
    ["Rating", "Pharmacy", "0.25mg", "0.5mg", "1mg", "Link"],
    [4.8, "Pharmacy One", 0.004, 0.005, "129.996", "https://one.example/ozempic"]
  ]
}`)

	catalog, summary := Parse(wb, time.Now())

	require.Len(t, catalog.Prices, 2)
	assert.Equal(t, "0.5mg", catalog.Prices[0].Dosage)
	assert.Equal(t, 0.01, catalog.Prices[0].Price)
	assert.Equal(t, 130.0, catalog.Prices[1].Price)
	assert.Equal(t, 1, summary.DroppedCells)
}

func TestParse_SkipsUnmappedAndShortSheets(t *testing.T) {
	catalog, summary := Parse(mustWorkbook(t, workbookJSON), time.Now())

	for _, m := range catalog.Medications {
		assert.NotEqual(t, models.MedicationID("cetirizine"), m.ID)
	}
	assert.Equal(t, 4, summary.Sheets)
	assert.ElementsMatch(t, []SkippedSheet{
		{Sheet: "Hay Fever", Reason: SkipUnmappedLabel, Condition: "Hay Fever"},
		{Sheet: "Stub", Reason: SkipTooShort},
	}, summary.Skipped)
}

func TestParse_MetadataFallsBackToRowFour(t *testing.T) {
	wb := Workbook{"Sheet A": []interface{}{
		[]interface{}{}, []interface{}{}, []interface{}{},
		[]interface{}{nil, ""},
		[]interface{}{nil, "Migraine", "", "Tablet"},
		[]interface{}{4.0, "Chemist", 5.0},
	}}

	catalog, summary := Parse(wb, time.Now())

	require.Len(t, catalog.Medications, 1)
	assert.Equal(t, "Sheet A", catalog.Medications[0].Name)
	assert.Equal(t, models.MedicationID("sheet-a"), catalog.Medications[0].ID)
	assert.Equal(t, "general-health", catalog.Medications[0].Category)
	assert.Empty(t, summary.Skipped)
}

func TestRightmostLink(t *testing.T) {
	row := []interface{}{4.0, "Chemist", 10.0, "http://first.example", nil, " https://last.example ", "note"}
	assert.Equal(t, "https://last.example", rightmostLink(row))
	assert.Equal(t, "", rightmostLink([]interface{}{1.0, "Chemist"}))
}

func TestDosageColumns_StopAtEmptyOrLink(t *testing.T) {
	dosages, cols := dosageColumns([]interface{}{"Rating", "Pharmacy", "5mg", "10mg", "", "20mg"})
	assert.Equal(t, []string{"5mg", "10mg"}, dosages)
	assert.Equal(t, []int{2, 3}, cols)

	dosages, _ = dosageColumns([]interface{}{"Rating", "Pharmacy", "5mg", "LINK", "10mg"})
	assert.Equal(t, []string{"5mg"}, dosages)
}

func TestCellNumber(t *testing.T) {
	cases := []struct {
		in   interface{}
		want float64
		ok   bool
	}{
		{12.5, 12.5, true},
		{"19.99", 19.99, true},
		{"12 (pack of 4)", 12, true},
		{"£12", 0, false},
		{"", 0, false},
		{nil, 0, false},
		{true, 0, false},
	}
	for _, tc := range cases {
		got, ok := cellNumber(tc.in)
		assert.Equal(t, tc.ok, ok, "%v", tc.in)
		assert.Equal(t, tc.want, got, "%v", tc.in)
	}
}

func TestLookupCondition(t *testing.T) {
	m, ok := LookupCondition("Erectyle Dysfunction")
	require.True(t, ok)
	assert.Equal(t, "ed", m.SubcategoryID)

	m, ok = LookupCondition("psoriasis")
	require.True(t, ok)
	assert.Equal(t, "skin-treatment", m.CategoryID)

	_, ok = LookupCondition("Hay Fever")
	assert.False(t, ok)
}

type fakeWriter struct {
	calls   int
	catalog *store.Catalog
	err     error
}

func (f *fakeWriter) ReplaceCatalog(_ context.Context, c *store.Catalog, _ int) (*store.ImportResult, error) {
	f.calls++
	f.catalog = c
	if f.err != nil {
		return nil, f.err
	}
	return &store.ImportResult{Medications: len(c.Medications), Pharmacies: len(c.Pharmacies), Prices: len(c.Prices)}, nil
}

type fakeAuditor struct {
	changes []models.AuditChanges
}

func (f *fakeAuditor) Record(_ context.Context, _, _, _ string, changes models.AuditChanges, _ models.AuditMetadata) {
	f.changes = append(f.changes, changes)
}

type fakeNotifier struct {
	events []*models.PricesImportedEvent
}

func (f *fakeNotifier) PublishPricesImported(_ context.Context, e *models.PricesImportedEvent) error {
	f.events = append(f.events, e)
	return nil
}

func TestLoader_Run(t *testing.T) {
	w, a, n := &fakeWriter{}, &fakeAuditor{}, &fakeNotifier{}
	loader := NewLoader(w, a, n, 1000)

	report, err := loader.Run(context.Background(), mustWorkbook(t, workbookJSON), false)
	require.NoError(t, err)

	assert.Equal(t, 1, w.calls)
	assert.Equal(t, 3, report.Result.Prices)
	require.Len(t, a.changes, 1)
	imp, ok := a.changes[0].(*models.DataImportChanges)
	require.True(t, ok)
	assert.Equal(t, 2, imp.SkippedSheets)
	require.Len(t, n.events, 1)
	assert.Equal(t, models.EventTypePricesImported, n.events[0].EventType)
}

func TestLoader_DryRunLeavesStoreAlone(t *testing.T) {
	w := &fakeWriter{}
	report, err := NewLoader(w, nil, nil, 0).Run(context.Background(), mustWorkbook(t, workbookJSON), true)
	require.NoError(t, err)

	assert.Zero(t, w.calls)
	assert.True(t, report.DryRun)
	assert.Nil(t, report.Result)
	assert.Equal(t, 2, report.Summary.Medications)
}

func TestLoader_StoreErrorAborts(t *testing.T) {
	w := &fakeWriter{err: errors.New("connection reset")}
	a := &fakeAuditor{}

	_, err := NewLoader(w, a, nil, 0).Run(context.Background(), mustWorkbook(t, workbookJSON), false)
	require.Error(t, err)
	assert.Empty(t, a.changes)
}
