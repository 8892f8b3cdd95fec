package store

import (
	"context"
	"fmt"

	"medprice-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// Catalog is a full replacement data set produced by sheet ingestion
type Catalog struct {
	Categories  []models.Category
	Medications []models.Medication
	Pharmacies  []models.Pharmacy
	Prices      []models.Price
}

// ImportResult counts what ReplaceCatalog wrote
type ImportResult struct {
	Categories      int
	Subcategories   int
	Medications     int
	Pharmacies      int
	Prices          int
	DuplicatePrices int
}

// ReplaceCatalog deletes the existing catalog and writes c in one transaction.
// Prices go in batches of batchSize; rows colliding on the price key are counted, not fatal.
func (s *Store) ReplaceCatalog(ctx context.Context, c *Catalog, batchSize int) (*ImportResult, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}
	result := &ImportResult{}

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, table := range []string{"prices", "medications", "pharmacies", "subcategories", "categories"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}

		catRows := make([][]interface{}, 0, len(c.Categories))
		var subRows [][]interface{}
		for _, cat := range c.Categories {
			catRows = append(catRows, []interface{}{cat.ID, cat.Name, cat.Description, cat.SortOrder, cat.Active})
			for _, sub := range cat.Subcategories {
				subRows = append(subRows, []interface{}{sub.CategoryID, sub.ID, sub.Name, sub.Description, sub.SortOrder, sub.Active})
			}
		}
		n, err := bulkInsert(ctx, tx, "INSERT INTO categories (id, name, description, sort_order, active)", catRows, "")
		if err != nil {
			return fmt.Errorf("failed to insert categories: %w", err)
		}
		result.Categories = int(n)

		n, err = bulkInsert(ctx, tx, "INSERT INTO subcategories ("+subcategoryColumns+")", subRows, "")
		if err != nil {
			return fmt.Errorf("failed to insert subcategories: %w", err)
		}
		result.Subcategories = int(n)

		for _, chunk := range chunkRows(medicationRows(c.Medications), batchSize) {
			n, err := bulkInsert(ctx, tx, "INSERT INTO medications ("+medicationColumns+")", chunk, "")
			if err != nil {
				return fmt.Errorf("failed to insert medications: %w", err)
			}
			result.Medications += int(n)
		}

		for _, chunk := range chunkRows(pharmacyRows(c.Pharmacies), batchSize) {
			n, err := bulkInsert(ctx, tx, "INSERT INTO pharmacies ("+pharmacyColumns+")", chunk, "")
			if err != nil {
				return fmt.Errorf("failed to insert pharmacies: %w", err)
			}
			result.Pharmacies += int(n)
		}

		for _, chunk := range chunkRows(priceRows(c.Prices), batchSize) {
			n, err := bulkInsert(ctx, tx,
				"INSERT INTO prices (medication_id, pharmacy_id, dosage, price, quantity, in_stock, link, last_updated, source)",
				chunk, "ON CONFLICT (medication_id, pharmacy_id, dosage) DO NOTHING")
			if err != nil {
				return fmt.Errorf("failed to insert prices: %w", err)
			}
			result.Prices += int(n)
			result.DuplicatePrices += len(chunk) - int(n)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func medicationRows(meds []models.Medication) [][]interface{} {
	rows := make([][]interface{}, len(meds))
	for i, m := range meds {
		rows[i] = []interface{}{m.ID, m.Name, m.Category, m.Subcategory, m.Description, m.Dosage, m.Form, m.Active, m.SearchTerms, m.CreatedAt, m.UpdatedAt}
	}
	return rows
}

func pharmacyRows(pharmacies []models.Pharmacy) [][]interface{} {
	rows := make([][]interface{}, len(pharmacies))
	for i, p := range pharmacies {
		rows[i] = []interface{}{p.ID, p.Name, p.Website, p.Rating, p.DeliveryTime, p.PrescriptionRequired, p.Logo, p.Active, p.Verified, p.CreatedAt, p.UpdatedAt}
	}
	return rows
}

func priceRows(prices []models.Price) [][]interface{} {
	rows := make([][]interface{}, len(prices))
	for i, p := range prices {
		rows[i] = []interface{}{p.MedicationID, p.PharmacyID, p.Dosage, p.Price, p.Quantity, p.InStock, p.Link, p.LastUpdated, p.Source}
	}
	return rows
}

func chunkRows(rows [][]interface{}, size int) [][][]interface{} {
	var chunks [][][]interface{}
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		chunks = append(chunks, rows[start:end])
	}
	return chunks
}
