package api

import (
	"errors"
	"net/http"
	"strconv"

	"medprice-service/internal/service"
	"medprice-service/internal/store"

	"github.com/gin-gonic/gin"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrUnknownMedication),
		errors.Is(err, service.ErrUnknownPharmacy),
		errors.Is(err, service.ErrAlreadySubscribed),
		errors.Is(err, service.ErrNotSubscribed),
		errors.Is(err, service.ErrNoRecipients):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrDuplicate),
		errors.Is(err, service.ErrAlertNotActive),
		errors.Is(err, service.ErrCampaignDispatched):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err using the status its class maps to
func respondError(c *gin.Context, message string, err error) {
	code := statusFor(err)
	if code == http.StatusNotFound {
		message = "Not found"
	}
	c.JSON(code, gin.H{
		"error":   message,
		"details": err.Error(),
	})
}

func badRequest(c *gin.Context, message string, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   message,
		"details": err.Error(),
	})
}

func paramInt64(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid " + name,
		})
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, name string, def int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return def
	}
	return v
}
