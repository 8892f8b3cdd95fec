package models

import "time"

// GridEntry is one cell of a medication's price grid, keyed by "pharmacyId:dosage"
type GridEntry struct {
	Price       float64   `json:"price"`
	InStock     bool      `json:"in_stock"`
	Link        string    `json:"link"`
	LastUpdated time.Time `json:"last_updated"`
	RecordID    int64     `json:"record_id"`
}

// GridKey builds the key of a GridEntry
func GridKey(pharmacyID PharmacyID, dosage string) string {
	return string(pharmacyID) + ":" + dosage
}

// PricedPharmacy is a price row joined to its pharmacy
type PricedPharmacy struct {
	Price
	PharmacyName         string  `db:"pharmacy_name" json:"pharmacy_name"`
	PharmacyWebsite      string  `db:"pharmacy_website" json:"pharmacy_website"`
	PharmacyRating       float64 `db:"pharmacy_rating" json:"pharmacy_rating"`
	DeliveryTime         string  `db:"delivery_time" json:"delivery_time"`
	PrescriptionRequired bool    `db:"prescription_required" json:"prescription_required"`
	PharmacyLogo         string  `db:"pharmacy_logo" json:"pharmacy_logo,omitempty"`
}

// DosagePrice is one offer listed under a pharmacy in a comparison
type DosagePrice struct {
	Dosage      string    `json:"dosage"`
	Price       float64   `json:"price"`
	InStock     bool      `json:"in_stock"`
	Link        string    `json:"link"`
	LastUpdated time.Time `json:"last_updated"`
}

// PharmacyComparison groups a medication's offers by pharmacy
type PharmacyComparison struct {
	PharmacyID           PharmacyID    `json:"pharmacy_id"`
	PharmacyName         string        `json:"pharmacy_name"`
	Website              string        `json:"website"`
	Rating               float64       `json:"rating"`
	DeliveryTime         string        `json:"delivery_time"`
	PrescriptionRequired bool          `json:"prescription_required"`
	Prices               []DosagePrice `json:"prices"`
}

// MatrixCell is a known price in a subcategory matrix
type MatrixCell struct {
	Price   float64 `json:"price"`
	InStock bool    `json:"in_stock"`
	Link    string  `json:"link"`
}

// PriceMatrix is sparse: a missing key means no price is known
type PriceMatrix struct {
	Subcategory string                `json:"subcategory"`
	Medications []Medication          `json:"medications"`
	Pharmacies  []Pharmacy            `json:"pharmacies"`
	Prices      map[string]MatrixCell `json:"prices"`
}

// MatrixKey builds the key of a matrix cell
func MatrixKey(medicationID MedicationID, pharmacyID PharmacyID, dosage string) string {
	return string(medicationID) + ":" + string(pharmacyID) + ":" + dosage
}

// RecentPriceUpdate is a price joined to medication and pharmacy names
type RecentPriceUpdate struct {
	Price
	MedicationName string `db:"medication_name" json:"medication_name"`
	PharmacyName   string `db:"pharmacy_name" json:"pharmacy_name"`
}

// LowestPrice is the cheapest in-stock positive offer for a medication
type LowestPrice struct {
	PriceID      int64        `db:"id" json:"price_id"`
	MedicationID MedicationID `db:"medication_id" json:"medication_id"`
	PharmacyID   PharmacyID   `db:"pharmacy_id" json:"pharmacy_id"`
	PharmacyName string       `db:"pharmacy_name" json:"pharmacy_name"`
	Dosage       string       `db:"dosage" json:"dosage"`
	Price        float64      `db:"price" json:"price"`
	Link         string       `db:"link" json:"link"`
}

// MedicationWithLowest is a medication and its cheapest offer, used in mail digests
type MedicationWithLowest struct {
	Medication
	LowestPrice  float64 `db:"lowest_price" json:"lowest_price"`
	PharmacyName string  `db:"pharmacy_name" json:"pharmacy_name"`
}

// DashboardStats summarises the catalog for the admin dashboard
type DashboardStats struct {
	TotalMedications  int64 `json:"total_medications"`
	TotalPharmacies   int64 `json:"total_pharmacies"`
	TotalPrices       int64 `json:"total_prices"`
	RecentUpdates     int64 `json:"recent_updates"`
	MissingPriceCount int64 `json:"missing_prices"`
}

// BulkResult reports the outcome of a bulk price upsert
type BulkResult struct {
	Modified int64 `json:"modified"`
	Upserted int64 `json:"upserted"`
}

// Page describes a paginated listing
type Page struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int64 `json:"pages"`
}

// NewPage computes the page count for a total
func NewPage(page, limit int, total int64) Page {
	pages := int64(0)
	if limit > 0 {
		pages = (total + int64(limit) - 1) / int64(limit)
	}
	return Page{Page: page, Limit: limit, Total: total, Pages: pages}
}
