package service

import (
	"errors"

	"medprice-service/internal/models"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrUnknownMedication  = errors.New("medication not found")
	ErrUnknownPharmacy    = errors.New("pharmacy not found")
	ErrAlertNotActive     = errors.New("alert is no longer active")
	ErrAlreadySubscribed  = errors.New("email is already subscribed")
	ErrNotSubscribed      = errors.New("subscription is not active")
	ErrCampaignDispatched = errors.New("campaign already dispatched")
	ErrNoRecipients       = errors.New("no recipients for audience")
)

// Actor identifies who performed an admin operation
type Actor struct {
	User string
	Meta models.AuditMetadata
}

// SystemActor is used for scheduled and command-line work
var SystemActor = Actor{User: "system", Meta: models.AuditMetadata{Source: models.AuditSourceAPI}}

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// normalizePage clamps a 1-based page request and returns the row offset
func normalizePage(page, limit int) (int, int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return page, limit, (page - 1) * limit
}
