package ingest

import (
	"fmt"
	"strings"
	"time"

	"medprice-service/internal/models"
	"medprice-service/internal/store"
	"medprice-service/internal/util"

	"go.uber.org/zap"
)

const (
	metadataRow    = 3
	headerRow      = 4
	firstDataRow   = 5
	minSheetRows   = 6
	firstDosageCol = 2
)

// Skip reasons reported per sheet
const (
	SkipTooShort      = "fewer than 6 rows"
	SkipNoCondition   = "no condition cell"
	SkipUnmappedLabel = "unmapped condition"
)

// SkippedSheet records a sheet that produced nothing
type SkippedSheet struct {
	Sheet     string `json:"sheet"`
	Reason    string `json:"reason"`
	Condition string `json:"condition,omitempty"`
}

// Summary describes one parse of a workbook
type Summary struct {
	Sheets        int               `json:"sheets"`
	Categories    int               `json:"categories"`
	Subcategories int               `json:"subcategories"`
	Medications   int               `json:"medications"`
	Pharmacies    int               `json:"pharmacies"`
	Prices        int               `json:"prices"`
	SkippedRows   int               `json:"skipped_rows"`
	DroppedCells  int               `json:"dropped_cells"`
	Skipped       []SkippedSheet    `json:"skipped,omitempty"`
	Renamed       map[string]string `json:"renamed,omitempty"`
}

type parser struct {
	now        time.Time
	logger     *zap.Logger
	catalog    *store.Catalog
	summary    *Summary
	categories map[string]int
	medIDs     map[models.MedicationID]bool
	pharmacies map[models.PharmacyID]bool
}

// Parse turns a workbook into a replacement catalog. Sheets are visited in name
// order so that id collisions resolve the same way on every run.
func Parse(wb Workbook, now time.Time) (*store.Catalog, *Summary) {
	p := &parser{
		now:        now,
		logger:     util.ComponentLogger("ingest"),
		catalog:    &store.Catalog{},
		summary:    &Summary{Renamed: map[string]string{}},
		categories: map[string]int{},
		medIDs:     map[models.MedicationID]bool{},
		pharmacies: map[models.PharmacyID]bool{},
	}

	for _, name := range wb.SheetNames() {
		p.summary.Sheets++
		p.parseSheet(name, wb[name])
	}

	s := p.summary
	s.Categories = len(p.catalog.Categories)
	for _, c := range p.catalog.Categories {
		s.Subcategories += len(c.Subcategories)
	}
	s.Medications = len(p.catalog.Medications)
	s.Pharmacies = len(p.catalog.Pharmacies)
	s.Prices = len(p.catalog.Prices)
	return p.catalog, s
}

func (p *parser) skip(sheet, reason, condition string) {
	p.summary.Skipped = append(p.summary.Skipped, SkippedSheet{Sheet: sheet, Reason: reason, Condition: condition})
}

func (p *parser) parseSheet(name string, rows []interface{}) {
	if len(rows) < minSheetRows {
		p.skip(name, SkipTooShort, "")
		return
	}

	condition, medName, form := sheetMetadata(name, rows)
	if condition == "" {
		p.skip(name, SkipNoCondition, "")
		return
	}
	mapping, ok := LookupCondition(condition)
	if !ok {
		p.logger.Warn("No mapping for condition",
			zap.String("sheet", name),
			zap.String("condition", condition))
		p.skip(name, SkipUnmappedLabel, condition)
		return
	}

	medID := p.medicationID(medName, form, mapping)
	if string(medID) != string(models.MedicationSlug(medName)) {
		p.logger.Warn("Duplicate medication name",
			zap.String("sheet", name),
			zap.String("medication", medName),
			zap.String("id", string(medID)))
		p.summary.Renamed[name] = string(medID)
	}

	header, _ := rowCells(rows[headerRow])
	dosages, dosageCols := dosageColumns(header)

	description := medName
	if form != "" {
		description = medName + " - " + form
	}
	p.catalog.Medications = append(p.catalog.Medications, models.Medication{
		ID:          medID,
		Name:        medName,
		Category:    mapping.CategoryID,
		Subcategory: mapping.SubcategoryID,
		Description: description,
		Dosage:      dosages,
		Form:        form,
		Active:      true,
		SearchTerms: []string{},
		CreatedAt:   p.now,
		UpdatedAt:   p.now,
	})
	util.IngestRecordsTotal.WithLabelValues("medication").Inc()
	p.addCategory(mapping)

	for i := firstDataRow; i < len(rows); i++ {
		cells, ok := rowCells(rows[i])
		if !ok || len(cells) < 3 {
			p.summary.SkippedRows++
			continue
		}
		p.parseRow(medID, cells, dosages, dosageCols)
	}
}

// sheetMetadata reads (condition, name, form) from row 3, falling back to row 4
// when row 3 carries no condition
func sheetMetadata(sheet string, rows []interface{}) (condition, name, form string) {
	read := func(row interface{}) (string, string, string) {
		cells, _ := rowCells(row)
		n := cellString(cellAt(cells, 2))
		if n == "" {
			n = sheet
		}
		return cellString(cellAt(cells, 1)), n, cellString(cellAt(cells, 3))
	}

	condition, name, form = read(rows[metadataRow])
	if condition == "" && rows[headerRow] != nil {
		condition, name, form = read(rows[headerRow])
	}
	return condition, name, form
}

// dosageColumns collects dosage labels from column 2 up to the first empty cell
// or a "link" header
func dosageColumns(header []interface{}) ([]string, []int) {
	dosages := []string{}
	var cols []int
	for i := firstDosageCol; i < len(header); i++ {
		label := cellString(header[i])
		if label == "" || strings.EqualFold(label, "link") {
			break
		}
		dosages = append(dosages, label)
		cols = append(cols, i)
	}
	return dosages, cols
}

// medicationID derives the slug for a sheet's medication. A clash with an id
// already produced in this run takes the form (or subcategory) as a suffix, then
// a counter if that is taken as well.
func (p *parser) medicationID(name, form string, m Mapping) models.MedicationID {
	id := models.MedicationSlug(name)
	if p.medIDs[id] {
		suffix := m.SubcategoryID
		if form != "" {
			suffix = models.FormSuffix(form)
		}
		base := models.MedicationID(fmt.Sprintf("%s-%s", id, suffix))
		id = base
		for n := 2; p.medIDs[id]; n++ {
			id = models.MedicationID(fmt.Sprintf("%s-%d", base, n))
		}
	}
	p.medIDs[id] = true
	return id
}

func (p *parser) addCategory(m Mapping) {
	idx, ok := p.categories[m.CategoryID]
	if !ok {
		idx = len(p.catalog.Categories)
		p.categories[m.CategoryID] = idx
		p.catalog.Categories = append(p.catalog.Categories, models.Category{
			ID:        m.CategoryID,
			Name:      m.CategoryName,
			SortOrder: idx,
			Active:    true,
			CreatedAt: p.now,
			UpdatedAt: p.now,
		})
	}

	cat := &p.catalog.Categories[idx]
	if _, exists := cat.FindSubcategory(m.SubcategoryID); exists {
		return
	}
	cat.Subcategories = append(cat.Subcategories, models.Subcategory{
		ID:         m.SubcategoryID,
		CategoryID: m.CategoryID,
		Name:       m.SubcategoryName,
		SortOrder:  len(cat.Subcategories),
		Active:     true,
	})
}

func (p *parser) parseRow(medID models.MedicationID, cells []interface{}, dosages []string, cols []int) {
	pharmacyName := cellString(cells[1])
	if pharmacyName == "" {
		p.summary.SkippedRows++
		return
	}

	rating, ok := cellNumber(cells[0])
	if !ok {
		rating = 0
	}
	link := rightmostLink(cells)

	pharmacy := models.NewPharmacy(pharmacyName, link, rating, p.now)
	if pharmacy.ID == "" {
		p.summary.SkippedRows++
		return
	}
	if !p.pharmacies[pharmacy.ID] {
		p.pharmacies[pharmacy.ID] = true
		p.catalog.Pharmacies = append(p.catalog.Pharmacies, *pharmacy)
		util.IngestRecordsTotal.WithLabelValues("pharmacy").Inc()
	}

	for i, col := range cols {
		value, ok := cellNumber(cellAt(cells, col))
		value = models.RoundPrice(value)
		if !ok || value <= 0 {
			if cellAt(cells, col) != nil {
				p.summary.DroppedCells++
			}
			continue
		}
		p.catalog.Prices = append(p.catalog.Prices, models.Price{
			MedicationID: medID,
			PharmacyID:   pharmacy.ID,
			Dosage:       dosages[i],
			Price:        value,
			Quantity:     1,
			InStock:      true,
			Link:         link,
			LastUpdated:  p.now,
			Source:       models.PriceSourceMigration,
		})
		util.IngestRecordsTotal.WithLabelValues("price").Inc()
	}
}
