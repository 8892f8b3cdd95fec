package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"medprice-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const medicationColumns = `id, name, category, subcategory, description, dosage, form, active, search_terms, created_at, updated_at`

// MedicationFilter narrows medication listings. Zero values match everything.
type MedicationFilter struct {
	Category    string
	Subcategory string
	Search      string
	ActiveOnly  bool
	Limit       int
	Offset      int
}

func (f MedicationFilter) where() (string, []interface{}) {
	var conds []string
	var args []interface{}
	if f.ActiveOnly {
		conds = append(conds, "active")
	}
	if f.Category != "" {
		args = append(args, f.Category)
		conds = append(conds, fmt.Sprintf("category = $%d", len(args)))
	}
	if f.Subcategory != "" {
		args = append(args, f.Subcategory)
		conds = append(conds, fmt.Sprintf("subcategory = $%d", len(args)))
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf(
			"(name ILIKE $%d OR description ILIKE $%d OR EXISTS (SELECT 1 FROM unnest(search_terms) t WHERE t ILIKE $%d))", n, n, n))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ListMedications returns medications ordered by name
func (s *Store) ListMedications(ctx context.Context, f MedicationFilter) ([]models.Medication, error) {
	where, args := f.where()
	query := "SELECT " + medicationColumns + " FROM medications" + where + " ORDER BY name"
	if f.Limit > 0 {
		args = append(args, f.Limit, f.Offset)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	meds := []models.Medication{}
	if err := s.db.SelectContext(ctx, &meds, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list medications: %w", err)
	}
	return meds, nil
}

// CountMedications counts medications matching f, ignoring its paging
func (s *Store) CountMedications(ctx context.Context, f MedicationFilter) (int64, error) {
	where, args := f.where()
	var total int64
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM medications"+where, args...); err != nil {
		return 0, fmt.Errorf("failed to count medications: %w", err)
	}
	return total, nil
}

// GetMedication retrieves a medication by slug
func (s *Store) GetMedication(ctx context.Context, id models.MedicationID) (*models.Medication, error) {
	var med models.Medication
	err := s.db.GetContext(ctx, &med, "SELECT "+medicationColumns+" FROM medications WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get medication %s: %w", id, err)
	}
	return &med, nil
}

// ListMedicationsByIDs returns the medications whose slug is in ids
func (s *Store) ListMedicationsByIDs(ctx context.Context, ids []models.MedicationID) ([]models.Medication, error) {
	meds := []models.Medication{}
	if len(ids) == 0 {
		return meds, nil
	}
	err := s.db.SelectContext(ctx, &meds,
		"SELECT "+medicationColumns+" FROM medications WHERE id = ANY($1) ORDER BY name", pq.Array(medicationIDStrings(ids)))
	if err != nil {
		return nil, fmt.Errorf("failed to list medications by id: %w", err)
	}
	return meds, nil
}

// CreateMedication inserts a medication. A taken slug yields ErrDuplicate.
func (s *Store) CreateMedication(ctx context.Context, m *models.Medication) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO medications (`+medicationColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		m.ID, m.Name, m.Category, m.Subcategory, m.Description, m.Dosage, m.Form, m.Active, m.SearchTerms, m.CreatedAt, m.UpdatedAt)
	if IsUniqueViolation(err) {
		return fmt.Errorf("medication %s: %w", m.ID, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to create medication: %w", err)
	}
	return nil
}

// UpdateMedication overwrites the mutable fields of a medication
func (s *Store) UpdateMedication(ctx context.Context, m *models.Medication) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE medications
		 SET name = $2, category = $3, subcategory = $4, description = $5, dosage = $6,
		     form = $7, active = $8, search_terms = $9, updated_at = $10
		 WHERE id = $1`,
		m.ID, m.Name, m.Category, m.Subcategory, m.Description, m.Dosage, m.Form, m.Active, m.SearchTerms, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update medication: %w", err)
	}
	return requireAffected(res)
}

// DeactivateMedication soft deletes a medication
func (s *Store) DeactivateMedication(ctx context.Context, id models.MedicationID) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE medications SET active = FALSE, updated_at = NOW() WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to deactivate medication: %w", err)
	}
	return requireAffected(res)
}

const pharmacyColumns = `id, name, website, rating, delivery_time, prescription_required, logo, active, verified, created_at, updated_at`

// ListPharmacies returns pharmacies by rating, best first
func (s *Store) ListPharmacies(ctx context.Context, activeOnly bool) ([]models.Pharmacy, error) {
	query := "SELECT " + pharmacyColumns + " FROM pharmacies"
	if activeOnly {
		query += " WHERE active"
	}
	query += " ORDER BY rating DESC, name"

	pharmacies := []models.Pharmacy{}
	if err := s.db.SelectContext(ctx, &pharmacies, query); err != nil {
		return nil, fmt.Errorf("failed to list pharmacies: %w", err)
	}
	return pharmacies, nil
}

// TopRatedPharmacies returns active pharmacies rated at least minRating
func (s *Store) TopRatedPharmacies(ctx context.Context, minRating float64, limit int) ([]models.Pharmacy, error) {
	pharmacies := []models.Pharmacy{}
	err := s.db.SelectContext(ctx, &pharmacies,
		"SELECT "+pharmacyColumns+" FROM pharmacies WHERE active AND rating >= $1 ORDER BY rating DESC, name LIMIT $2",
		minRating, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list top rated pharmacies: %w", err)
	}
	return pharmacies, nil
}

// ListPharmaciesByIDs returns the active pharmacies whose slug is in ids
func (s *Store) ListPharmaciesByIDs(ctx context.Context, ids []models.PharmacyID) ([]models.Pharmacy, error) {
	pharmacies := []models.Pharmacy{}
	if len(ids) == 0 {
		return pharmacies, nil
	}
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = string(id)
	}
	err := s.db.SelectContext(ctx, &pharmacies,
		"SELECT "+pharmacyColumns+" FROM pharmacies WHERE active AND id = ANY($1) ORDER BY rating DESC, name", pq.Array(strs))
	if err != nil {
		return nil, fmt.Errorf("failed to list pharmacies by id: %w", err)
	}
	return pharmacies, nil
}

// GetPharmacy retrieves a pharmacy by slug
func (s *Store) GetPharmacy(ctx context.Context, id models.PharmacyID) (*models.Pharmacy, error) {
	var p models.Pharmacy
	err := s.db.GetContext(ctx, &p, "SELECT "+pharmacyColumns+" FROM pharmacies WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pharmacy %s: %w", id, err)
	}
	return &p, nil
}

// CreatePharmacy inserts a pharmacy. A taken slug yields ErrDuplicate.
func (s *Store) CreatePharmacy(ctx context.Context, p *models.Pharmacy) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pharmacies (`+pharmacyColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, p.Name, p.Website, p.Rating, p.DeliveryTime, p.PrescriptionRequired, p.Logo, p.Active, p.Verified, p.CreatedAt, p.UpdatedAt)
	if IsUniqueViolation(err) {
		return fmt.Errorf("pharmacy %s: %w", p.ID, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to create pharmacy: %w", err)
	}
	return nil
}

// UpdatePharmacy overwrites the mutable fields of a pharmacy
func (s *Store) UpdatePharmacy(ctx context.Context, p *models.Pharmacy) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pharmacies
		 SET name = $2, website = $3, rating = $4, delivery_time = $5, prescription_required = $6,
		     logo = $7, active = $8, verified = $9, updated_at = $10
		 WHERE id = $1`,
		p.ID, p.Name, p.Website, p.Rating, p.DeliveryTime, p.PrescriptionRequired, p.Logo, p.Active, p.Verified, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update pharmacy: %w", err)
	}
	return requireAffected(res)
}

// DeletePharmacy removes a pharmacy and every price it carries
func (s *Store) DeletePharmacy(ctx context.Context, id models.PharmacyID) (int64, error) {
	var removed int64
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM prices WHERE pharmacy_id = $1", id)
		if err != nil {
			return fmt.Errorf("failed to delete pharmacy prices: %w", err)
		}
		if removed, err = res.RowsAffected(); err != nil {
			return fmt.Errorf("failed to count deleted pharmacy prices: %w", err)
		}

		res, err = tx.ExecContext(ctx, "DELETE FROM pharmacies WHERE id = $1", id)
		if err != nil {
			return fmt.Errorf("failed to delete pharmacy: %w", err)
		}
		return requireAffected(res)
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

const subcategoryColumns = `category_id, id, name, description, sort_order, active`

// ListCategories returns categories with their subcategories in insertion order
func (s *Store) ListCategories(ctx context.Context, activeOnly bool) ([]models.Category, error) {
	query := "SELECT id, name, description, sort_order, active, created_at, updated_at FROM categories"
	if activeOnly {
		query += " WHERE active"
	}
	query += " ORDER BY sort_order, name"

	cats := []models.Category{}
	if err := s.db.SelectContext(ctx, &cats, query); err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	if len(cats) == 0 {
		return cats, nil
	}

	var subs []models.Subcategory
	if err := s.db.SelectContext(ctx, &subs,
		"SELECT "+subcategoryColumns+" FROM subcategories ORDER BY category_id, sort_order"); err != nil {
		return nil, fmt.Errorf("failed to list subcategories: %w", err)
	}

	byCategory := make(map[string][]models.Subcategory, len(cats))
	for _, sub := range subs {
		if activeOnly && !sub.Active {
			continue
		}
		byCategory[sub.CategoryID] = append(byCategory[sub.CategoryID], sub)
	}
	for i := range cats {
		cats[i].Subcategories = byCategory[cats[i].ID]
		if cats[i].Subcategories == nil {
			cats[i].Subcategories = []models.Subcategory{}
		}
	}
	return cats, nil
}

// GetCategory retrieves a category with its subcategories
func (s *Store) GetCategory(ctx context.Context, id string) (*models.Category, error) {
	var cat models.Category
	err := s.db.GetContext(ctx, &cat,
		"SELECT id, name, description, sort_order, active, created_at, updated_at FROM categories WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get category %s: %w", id, err)
	}

	cat.Subcategories = []models.Subcategory{}
	if err := s.db.SelectContext(ctx, &cat.Subcategories,
		"SELECT "+subcategoryColumns+" FROM subcategories WHERE category_id = $1 ORDER BY sort_order", id); err != nil {
		return nil, fmt.Errorf("failed to list subcategories: %w", err)
	}
	return &cat, nil
}

// UpsertCategory creates a category or updates its descriptive fields
func (s *Store) UpsertCategory(ctx context.Context, c *models.Category) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO categories (id, name, description, sort_order, active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		 ON CONFLICT (id) DO UPDATE
		 SET name = EXCLUDED.name, description = EXCLUDED.description,
		     sort_order = EXCLUDED.sort_order, active = EXCLUDED.active, updated_at = NOW()`,
		c.ID, c.Name, c.Description, c.SortOrder, c.Active)
	if err != nil {
		return fmt.Errorf("failed to upsert category: %w", err)
	}
	return nil
}

// AppendSubcategory adds a subcategory after the existing ones.
// A missing category yields ErrNotFound, an existing (category, id) pair ErrDuplicate.
func (s *Store) AppendSubcategory(ctx context.Context, sub *models.Subcategory) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var exists bool
		if err := tx.GetContext(ctx, &exists,
			"SELECT EXISTS (SELECT 1 FROM categories WHERE id = $1)", sub.CategoryID); err != nil {
			return fmt.Errorf("failed to check category: %w", err)
		}
		if !exists {
			return ErrNotFound
		}

		if err := tx.GetContext(ctx, &sub.SortOrder,
			"SELECT COALESCE(MAX(sort_order) + 1, 0) FROM subcategories WHERE category_id = $1", sub.CategoryID); err != nil {
			return fmt.Errorf("failed to compute subcategory order: %w", err)
		}

		_, err := tx.ExecContext(ctx,
			"INSERT INTO subcategories ("+subcategoryColumns+") VALUES ($1, $2, $3, $4, $5, $6)",
			sub.CategoryID, sub.ID, sub.Name, sub.Description, sub.SortOrder, sub.Active)
		if IsUniqueViolation(err) {
			return fmt.Errorf("subcategory %s/%s: %w", sub.CategoryID, sub.ID, ErrDuplicate)
		}
		if err != nil {
			return fmt.Errorf("failed to insert subcategory: %w", err)
		}
		return nil
	})
}

func medicationIDStrings(ids []models.MedicationID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
