package models

import "time"

// Admin message categories
const (
	MessageWarning     = "warning"
	MessagePromo       = "promo"
	MessageInformation = "information"
)

// AdminMessage is a notice shown on a medication page while it is in its active window
type AdminMessage struct {
	ID             int64        `db:"id" json:"id"`
	MedicationID   MedicationID `db:"medication_id" json:"medication_id"`
	MedicationName string       `db:"medication_name" json:"medication_name"`
	Category       string       `db:"category" json:"category"`
	Title          string       `db:"title" json:"title"`
	Message        string       `db:"message" json:"message"`
	Active         bool         `db:"active" json:"active"`
	StartDate      time.Time    `db:"start_date" json:"start_date"`
	EndDate        *time.Time   `db:"end_date" json:"end_date,omitempty"`
	Priority       int          `db:"priority" json:"priority"`
	CreatedBy      string       `db:"created_by" json:"created_by"`
	CreatedAt      time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time    `db:"updated_at" json:"updated_at"`
}

// CurrentlyActive reports whether the message should be shown at now
func (m *AdminMessage) CurrentlyActive(now time.Time) bool {
	return m.Active && !m.StartDate.After(now) && (m.EndDate == nil || m.EndDate.After(now))
}

// Contact statuses
const (
	ContactNew     = "new"
	ContactRead    = "read"
	ContactReplied = "replied"
)

// Contact is a message submitted through the public contact form
type Contact struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email" json:"email"`
	Subject   string    `db:"subject" json:"subject"`
	Message   string    `db:"message" json:"message"`
	Status    string    `db:"status" json:"status"`
	IPAddress string    `db:"ip_address" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
