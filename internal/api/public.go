package api

import (
	"net/http"
	"time"

	"medprice-service/internal/models"
	"medprice-service/internal/service"

	"github.com/gin-gonic/gin"
)

func (h *Handler) listMedications(c *gin.Context) {
	var q service.MedicationQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, "Invalid query", err)
		return
	}
	meds, err := h.svc.Catalog.ListMedications(c.Request.Context(), q)
	if err != nil {
		respondError(c, "Failed to list medications", err)
		return
	}
	c.JSON(http.StatusOK, meds)
}

func (h *Handler) searchMedications(c *gin.Context) {
	meds, err := h.svc.Catalog.SearchMedications(c.Request.Context(), c.Query("q"))
	if err != nil {
		respondError(c, "Failed to search medications", err)
		return
	}
	c.JSON(http.StatusOK, meds)
}

func (h *Handler) getMedication(c *gin.Context) {
	detail, err := h.svc.Catalog.GetMedication(c.Request.Context(), models.MedicationID(c.Param("id")))
	if err != nil {
		respondError(c, "Failed to get medication", err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *Handler) listPrices(c *gin.Context) {
	var q service.PricesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, "Invalid query", err)
		return
	}
	prices, err := h.svc.Prices.ListPrices(c.Request.Context(), models.MedicationID(c.Param("id")), q)
	if err != nil {
		respondError(c, "Failed to list prices", err)
		return
	}
	c.JSON(http.StatusOK, prices)
}

func (h *Handler) priceGrid(c *gin.Context) {
	grid, err := h.svc.Prices.Grid(c.Request.Context(), models.MedicationID(c.Param("id")))
	if err != nil {
		respondError(c, "Failed to build price grid", err)
		return
	}
	c.JSON(http.StatusOK, grid)
}

func (h *Handler) comparePrices(c *gin.Context) {
	cmp, err := h.svc.Prices.Compare(c.Request.Context(), models.MedicationID(c.Param("id")), c.Query("dosage"))
	if err != nil {
		respondError(c, "Failed to compare prices", err)
		return
	}
	c.JSON(http.StatusOK, cmp)
}

func (h *Handler) lowestPrice(c *gin.Context) {
	lowest, err := h.svc.Prices.Lowest(c.Request.Context(), models.MedicationID(c.Param("id")), c.Query("dosage"))
	if err != nil {
		respondError(c, "Failed to get lowest price", err)
		return
	}
	c.JSON(http.StatusOK, lowest)
}

func (h *Handler) activeMessages(c *gin.Context) {
	msgs, err := h.svc.Messages.Active(c.Request.Context(), models.MedicationID(c.Param("id")))
	if err != nil {
		respondError(c, "Failed to list messages", err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

func (h *Handler) listPharmacies(c *gin.Context) {
	pharmacies, err := h.svc.Catalog.ListPharmacies(c.Request.Context())
	if err != nil {
		respondError(c, "Failed to list pharmacies", err)
		return
	}
	c.JSON(http.StatusOK, pharmacies)
}

func (h *Handler) topRatedPharmacies(c *gin.Context) {
	pharmacies, err := h.svc.Catalog.TopRatedPharmacies(c.Request.Context(), queryInt(c, "limit", 0))
	if err != nil {
		respondError(c, "Failed to list pharmacies", err)
		return
	}
	c.JSON(http.StatusOK, pharmacies)
}

func (h *Handler) getPharmacy(c *gin.Context) {
	p, err := h.svc.Catalog.GetPharmacy(c.Request.Context(), models.PharmacyID(c.Param("id")))
	if err != nil {
		respondError(c, "Failed to get pharmacy", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) listCategories(c *gin.Context) {
	cats, err := h.svc.Catalog.ListCategories(c.Request.Context())
	if err != nil {
		respondError(c, "Failed to list categories", err)
		return
	}
	c.JSON(http.StatusOK, cats)
}

func (h *Handler) getCategory(c *gin.Context) {
	cat, err := h.svc.Catalog.GetCategory(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "Failed to get category", err)
		return
	}
	c.JSON(http.StatusOK, cat)
}

func (h *Handler) getSubcategory(c *gin.Context) {
	sub, err := h.svc.Catalog.GetSubcategory(c.Request.Context(), c.Param("id"), c.Param("subId"))
	if err != nil {
		respondError(c, "Failed to get subcategory", err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (h *Handler) priceMatrix(c *gin.Context) {
	matrix, err := h.svc.Prices.Matrix(c.Request.Context(), c.Param("subcategory"))
	if err != nil {
		respondError(c, "Failed to build price matrix", err)
		return
	}
	c.JSON(http.StatusOK, matrix)
}

func (h *Handler) recentPrices(c *gin.Context) {
	window := time.Duration(queryInt(c, "hours", 0)) * time.Hour
	updates, err := h.svc.Prices.RecentUpdates(c.Request.Context(), window, queryInt(c, "limit", 0))
	if err != nil {
		respondError(c, "Failed to list recent prices", err)
		return
	}
	c.JSON(http.StatusOK, updates)
}

// createAlert answers 201 for a new alert and 200 when an active one was refreshed
func (h *Handler) createAlert(c *gin.Context) {
	var req service.CreateAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	resp, err := h.svc.Alerts.Create(c.Request.Context(), &req)
	if err != nil {
		respondError(c, "Failed to create price alert", err)
		return
	}

	code := http.StatusOK
	if resp.Created {
		code = http.StatusCreated
	}
	c.JSON(code, resp)
}

func (h *Handler) cancelAlert(c *gin.Context) {
	id, ok := paramInt64(c, "id")
	if !ok {
		return
	}
	if err := h.svc.Alerts.Cancel(c.Request.Context(), id); err != nil {
		respondError(c, "Failed to cancel price alert", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Price alert cancelled"})
}

func (h *Handler) subscribe(c *gin.Context) {
	var req service.SubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	res, err := h.svc.Subscriptions.Subscribe(c.Request.Context(), &req)
	if err != nil {
		respondError(c, "Failed to subscribe", err)
		return
	}

	if res.Reactivated {
		c.JSON(http.StatusOK, gin.H{
			"message":      "Welcome back! Your subscription has been reactivated",
			"subscription": res.Subscription,
		})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message":      "Successfully subscribed",
		"subscription": res.Subscription,
	})
}

// unsubscribe accepts the token from an email link or a JSON body with token or email
func (h *Handler) unsubscribe(c *gin.Context) {
	var req service.UnsubscribeRequest
	var err error
	if c.Request.Method == http.MethodGet {
		err = c.ShouldBindQuery(&req)
	} else {
		err = c.ShouldBindJSON(&req)
	}
	if err != nil {
		badRequest(c, "Invalid request", err)
		return
	}

	already, err := h.svc.Subscriptions.Unsubscribe(c.Request.Context(), &req)
	if err != nil {
		respondError(c, "Failed to unsubscribe", err)
		return
	}

	message := "You have been unsubscribed"
	if already {
		message = "You are already unsubscribed"
	}
	c.JSON(http.StatusOK, gin.H{"message": message})
}

func (h *Handler) updatePreferences(c *gin.Context) {
	var req service.PreferencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	sub, err := h.svc.Subscriptions.UpdatePreferences(c.Request.Context(), &req)
	if err != nil {
		respondError(c, "Failed to update preferences", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":     "Preferences updated",
		"preferences": sub.Preferences,
	})
}

func (h *Handler) submitContact(c *gin.Context) {
	var req service.ContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	contact, err := h.svc.Messages.SubmitContact(c.Request.Context(), &req, c.ClientIP())
	if err != nil {
		respondError(c, "Failed to submit message", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message": "Thank you for your message. We will get back to you soon.",
		"id":      contact.ID,
	})
}

func (h *Handler) listBlogPosts(c *gin.Context) {
	var q service.BlogQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, "Invalid query", err)
		return
	}
	page, err := h.svc.Blog.Published(c.Request.Context(), q)
	if err != nil {
		respondError(c, "Failed to list blog posts", err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) getBlogPost(c *gin.Context) {
	post, err := h.svc.Blog.BySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		respondError(c, "Failed to get blog post", err)
		return
	}
	c.JSON(http.StatusOK, post)
}

func (h *Handler) relatedBlogPosts(c *gin.Context) {
	posts, err := h.svc.Blog.Related(c.Request.Context(), c.Param("slug"))
	if err != nil {
		respondError(c, "Failed to list related posts", err)
		return
	}
	c.JSON(http.StatusOK, posts)
}
