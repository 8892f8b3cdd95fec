package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"medprice-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const priceColumns = `id, medication_id, pharmacy_id, dosage, price, quantity, in_stock, link, last_updated, source`

const upsertPriceSQL = `
	INSERT INTO prices (medication_id, pharmacy_id, dosage, price, quantity, in_stock, link, last_updated, source)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (medication_id, pharmacy_id, dosage) DO UPDATE
	SET price = EXCLUDED.price, quantity = EXCLUDED.quantity, in_stock = EXCLUDED.in_stock,
	    link = EXCLUDED.link, last_updated = EXCLUDED.last_updated, source = EXCLUDED.source
	RETURNING id, (xmax = 0) AS inserted`

type upsertResult struct {
	ID       int64 `db:"id"`
	Inserted bool  `db:"inserted"`
}

func upsertPrice(ctx context.Context, q sqlx.QueryerContext, p *models.Price) (bool, error) {
	var res upsertResult
	err := sqlx.GetContext(ctx, q, &res, upsertPriceSQL,
		p.MedicationID, p.PharmacyID, p.Dosage, p.Price, p.Quantity, p.InStock, p.Link, p.LastUpdated, p.Source)
	if err != nil {
		return false, err
	}
	p.ID = res.ID
	return res.Inserted, nil
}

// UpsertPrice writes a price keyed by (medication, pharmacy, dosage).
// It reports whether a new row was created.
func (s *Store) UpsertPrice(ctx context.Context, p *models.Price) (bool, error) {
	inserted, err := upsertPrice(ctx, s.db, p)
	if err != nil {
		return false, fmt.Errorf("failed to upsert price: %w", err)
	}
	return inserted, nil
}

// BulkUpsertPrices upserts every price in one transaction
func (s *Store) BulkUpsertPrices(ctx context.Context, prices []models.Price) (models.BulkResult, error) {
	var result models.BulkResult
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		for i := range prices {
			inserted, err := upsertPrice(ctx, tx, &prices[i])
			if err != nil {
				return fmt.Errorf("failed to upsert price %s/%s/%s: %w",
					prices[i].MedicationID, prices[i].PharmacyID, prices[i].Dosage, err)
			}
			if inserted {
				result.Upserted++
			} else {
				result.Modified++
			}
		}
		return nil
	})
	if err != nil {
		return models.BulkResult{}, err
	}
	return result, nil
}

// GetPrice retrieves a price by record id
func (s *Store) GetPrice(ctx context.Context, id int64) (*models.Price, error) {
	var p models.Price
	err := s.db.GetContext(ctx, &p, "SELECT "+priceColumns+" FROM prices WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get price %d: %w", id, err)
	}
	return &p, nil
}

// SavePrice overwrites the offer fields of an existing price
func (s *Store) SavePrice(ctx context.Context, p *models.Price) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE prices SET price = $2, quantity = $3, in_stock = $4, link = $5, last_updated = $6, source = $7
		 WHERE id = $1`,
		p.ID, p.Price, p.Quantity, p.InStock, p.Link, p.LastUpdated, p.Source)
	if err != nil {
		return fmt.Errorf("failed to save price: %w", err)
	}
	return requireAffected(res)
}

// DeletePrice removes a price and returns what was removed
func (s *Store) DeletePrice(ctx context.Context, id int64) (*models.Price, error) {
	var p models.Price
	err := s.db.GetContext(ctx, &p, "DELETE FROM prices WHERE id = $1 RETURNING "+priceColumns, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to delete price %d: %w", id, err)
	}
	return &p, nil
}

// ListPricesForMedication returns every price row of a medication
func (s *Store) ListPricesForMedication(ctx context.Context, id models.MedicationID) ([]models.Price, error) {
	prices := []models.Price{}
	err := s.db.SelectContext(ctx, &prices,
		"SELECT "+priceColumns+" FROM prices WHERE medication_id = $1 ORDER BY pharmacy_id, dosage", id)
	if err != nil {
		return nil, fmt.Errorf("failed to list prices: %w", err)
	}
	return prices, nil
}

// ListPricesForMedications returns prices for any of the medications
func (s *Store) ListPricesForMedications(ctx context.Context, ids []models.MedicationID, inStockOnly bool) ([]models.Price, error) {
	prices := []models.Price{}
	if len(ids) == 0 {
		return prices, nil
	}
	query := "SELECT " + priceColumns + " FROM prices WHERE medication_id = ANY($1)"
	if inStockOnly {
		query += " AND in_stock"
	}
	query += " ORDER BY medication_id, pharmacy_id, dosage"

	if err := s.db.SelectContext(ctx, &prices, query, pq.Array(medicationIDStrings(ids))); err != nil {
		return nil, fmt.Errorf("failed to list prices: %w", err)
	}
	return prices, nil
}

// PriceSort selects the ordering of ListPricedPharmacies
type PriceSort string

const (
	SortPriceAsc  PriceSort = "price"
	SortPriceDesc PriceSort = "price_desc"
	SortRating    PriceSort = "rating"
)

// PricedPharmacyQuery selects the offers of one medication
type PricedPharmacyQuery struct {
	MedicationID models.MedicationID
	Dosage       string
	InStockOnly  bool
	Sort         PriceSort
}

// ListPricedPharmacies joins prices to their pharmacy. Prices whose pharmacy is missing are dropped.
func (s *Store) ListPricedPharmacies(ctx context.Context, q PricedPharmacyQuery) ([]models.PricedPharmacy, error) {
	query := `
		SELECT p.id, p.medication_id, p.pharmacy_id, p.dosage, p.price, p.quantity, p.in_stock, p.link,
		       p.last_updated, p.source,
		       ph.name AS pharmacy_name, ph.website AS pharmacy_website, ph.rating AS pharmacy_rating,
		       ph.delivery_time, ph.prescription_required, ph.logo AS pharmacy_logo
		FROM prices p
		JOIN pharmacies ph ON ph.id = p.pharmacy_id
		WHERE p.medication_id = $1`
	args := []interface{}{q.MedicationID}
	if q.Dosage != "" {
		args = append(args, q.Dosage)
		query += fmt.Sprintf(" AND p.dosage = $%d", len(args))
	}
	if q.InStockOnly {
		query += " AND p.in_stock"
	}

	switch q.Sort {
	case SortPriceDesc:
		query += " ORDER BY p.price DESC, p.id"
	case SortRating:
		query += " ORDER BY ph.rating DESC, p.price ASC, p.id"
	default:
		query += " ORDER BY p.price ASC, p.id"
	}

	rows := []models.PricedPharmacy{}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list priced pharmacies: %w", err)
	}
	return rows, nil
}

// RecentPriceUpdates returns prices updated since the cutoff, newest first.
// Rows referencing a missing medication or pharmacy are excluded.
func (s *Store) RecentPriceUpdates(ctx context.Context, since time.Time, limit int) ([]models.RecentPriceUpdate, error) {
	rows := []models.RecentPriceUpdate{}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT p.id, p.medication_id, p.pharmacy_id, p.dosage, p.price, p.quantity, p.in_stock, p.link,
		       p.last_updated, p.source, m.name AS medication_name, ph.name AS pharmacy_name
		FROM prices p
		JOIN medications m ON m.id = p.medication_id
		JOIN pharmacies ph ON ph.id = p.pharmacy_id
		WHERE p.last_updated >= $1
		ORDER BY p.last_updated DESC, p.id DESC
		LIMIT $2`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent price updates: %w", err)
	}
	return rows, nil
}

// LowestPrice returns the cheapest in-stock offer with a strictly positive price.
// An empty dosage matches every dosage. ErrNotFound means no qualifying offer.
func (s *Store) LowestPrice(ctx context.Context, id models.MedicationID, dosage string) (*models.LowestPrice, error) {
	query := `
		SELECT p.id, p.medication_id, p.pharmacy_id, ph.name AS pharmacy_name, p.dosage, p.price, p.link
		FROM prices p
		JOIN pharmacies ph ON ph.id = p.pharmacy_id
		WHERE p.medication_id = $1 AND p.in_stock AND p.price > 0`
	args := []interface{}{id}
	if dosage != "" {
		args = append(args, dosage)
		query += " AND p.dosage = $2"
	}
	query += " ORDER BY p.price ASC, p.id ASC LIMIT 1"

	var lp models.LowestPrice
	err := s.db.GetContext(ctx, &lp, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lowest price: %w", err)
	}
	return &lp, nil
}

const lowestOfferLateral = `
	SELECT p.price, ph.name AS pharmacy_name
	FROM prices p
	JOIN pharmacies ph ON ph.id = p.pharmacy_id
	WHERE p.medication_id = m.id AND p.in_stock AND p.price > 0
	ORDER BY p.price ASC
	LIMIT 1`

// CheapestMedications returns active medications ordered by their lowest offer
func (s *Store) CheapestMedications(ctx context.Context, limit int) ([]models.MedicationWithLowest, error) {
	rows := []models.MedicationWithLowest{}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT m.id, m.name, m.category, m.subcategory, m.description, m.dosage, m.form, m.active,
		       m.search_terms, m.created_at, m.updated_at, lp.price AS lowest_price, lp.pharmacy_name
		FROM medications m
		JOIN LATERAL (`+lowestOfferLateral+`) lp ON TRUE
		WHERE m.active
		ORDER BY lp.price ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list cheapest medications: %w", err)
	}
	return rows, nil
}

// MedicationsCreatedSince returns active medications added after since, with their lowest offer if any
func (s *Store) MedicationsCreatedSince(ctx context.Context, since time.Time) ([]models.MedicationWithLowest, error) {
	rows := []models.MedicationWithLowest{}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT m.id, m.name, m.category, m.subcategory, m.description, m.dosage, m.form, m.active,
		       m.search_terms, m.created_at, m.updated_at,
		       COALESCE(lp.price, 0) AS lowest_price, COALESCE(lp.pharmacy_name, '') AS pharmacy_name
		FROM medications m
		LEFT JOIN LATERAL (`+lowestOfferLateral+`) lp ON TRUE
		WHERE m.active AND m.created_at >= $1
		ORDER BY m.created_at DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list new medications: %w", err)
	}
	return rows, nil
}

// MedicationExists reports whether a medication has the slug, active or not
func (s *Store) MedicationExists(ctx context.Context, id models.MedicationID) (bool, error) {
	var ok bool
	err := s.db.GetContext(ctx, &ok, "SELECT EXISTS (SELECT 1 FROM medications WHERE id = $1)", id)
	return ok, err
}

// PharmacyExists reports whether a pharmacy has the slug
func (s *Store) PharmacyExists(ctx context.Context, id models.PharmacyID) (bool, error) {
	var ok bool
	err := s.db.GetContext(ctx, &ok, "SELECT EXISTS (SELECT 1 FROM pharmacies WHERE id = $1)", id)
	return ok, err
}

// DashboardStats aggregates catalog counts for the admin dashboard
func (s *Store) DashboardStats(ctx context.Context, since time.Time) (*models.DashboardStats, error) {
	var stats models.DashboardStats
	queries := []struct {
		dst   *int64
		query string
		args  []interface{}
	}{
		{&stats.TotalMedications, "SELECT COUNT(*) FROM medications WHERE active", nil},
		{&stats.TotalPharmacies, "SELECT COUNT(*) FROM pharmacies WHERE active", nil},
		{&stats.TotalPrices, "SELECT COUNT(*) FROM prices", nil},
		{&stats.RecentUpdates, "SELECT COUNT(*) FROM prices WHERE last_updated >= $1", []interface{}{since}},
		{&stats.MissingPriceCount, `
			SELECT COUNT(*)
			FROM medications m
			CROSS JOIN LATERAL unnest(m.dosage) AS d(dosage)
			WHERE m.active
			  AND NOT EXISTS (SELECT 1 FROM prices p WHERE p.medication_id = m.id AND p.dosage = d.dosage)`, nil},
	}
	for _, q := range queries {
		if err := s.db.GetContext(ctx, q.dst, q.query, q.args...); err != nil {
			return nil, fmt.Errorf("failed to compute dashboard stats: %w", err)
		}
	}
	return &stats, nil
}
