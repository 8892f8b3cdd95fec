package api

import (
	"net/http"

	"medprice-service/internal/models"
	"medprice-service/internal/service"

	"github.com/gin-gonic/gin"
)

func (h *Handler) setupAdminRoutes(admin *gin.RouterGroup) {
	admin.GET("/stats", h.dashboardStats)

	admin.GET("/medications", h.adminListMedications)
	admin.POST("/medications", h.createMedication)
	admin.GET("/medications/:id", h.adminGetMedication)
	admin.PUT("/medications/:id", h.updateMedication)
	admin.DELETE("/medications/:id", h.deleteMedication)

	admin.GET("/pharmacies", h.adminListPharmacies)
	admin.POST("/pharmacies", h.createPharmacy)
	admin.GET("/pharmacies/:id", h.getPharmacy)
	admin.PUT("/pharmacies/:id", h.updatePharmacy)
	admin.DELETE("/pharmacies/:id", h.deletePharmacy)

	admin.PUT("/categories", h.upsertCategory)
	admin.POST("/categories/:id/subcategories", h.addSubcategory)

	admin.POST("/prices/bulk", h.bulkUpdatePrices)
	admin.PUT("/prices/:id", h.updatePrice)
	admin.DELETE("/prices/:id", h.deletePrice)

	admin.GET("/alerts", h.adminListAlerts)
	admin.GET("/alerts/:id", h.adminGetAlert)
	admin.POST("/alerts/run", h.runAlertCycle)

	admin.GET("/subscriptions", h.adminListSubscriptions)
	admin.GET("/subscriptions/stats", h.subscriptionStats)

	email := admin.Group("/email")
	{
		email.GET("/composer", h.composerData)
		email.POST("/preview", h.previewCampaign)
		email.POST("/test", h.testCampaign)
		email.POST("/send", h.sendCampaign)
		email.GET("/campaigns", h.listCampaigns)
		email.GET("/campaigns/:id", h.getCampaign)
		email.POST("/campaigns/:id/dispatch", h.dispatchCampaign)
		email.POST("/digest/run", h.runDigest)
		email.POST("/digest/test", h.testDigest)
	}

	admin.GET("/messages", h.adminListMessages)
	admin.POST("/messages", h.createMessage)
	admin.PUT("/messages/:id", h.updateMessage)
	admin.DELETE("/messages/:id", h.deleteMessage)
	admin.GET("/contacts", h.listContacts)

	admin.GET("/blog/posts", h.adminListBlogPosts)
	admin.POST("/blog/posts", h.createBlogPost)
	admin.GET("/blog/posts/:id", h.adminGetBlogPost)
	admin.PUT("/blog/posts/:id", h.updateBlogPost)
	admin.DELETE("/blog/posts/:id", h.deleteBlogPost)
	admin.PATCH("/blog/posts/:id/publish", h.toggleBlogPublish)

	admin.GET("/audit-logs", h.listAuditLogs)
}

func (h *Handler) dashboardStats(c *gin.Context) {
	stats, err := h.svc.Prices.Stats(c.Request.Context())
	if err != nil {
		respondError(c, "Failed to load stats", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) adminListMedications(c *gin.Context) {
	var q service.MedicationQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, "Invalid query", err)
		return
	}
	page, err := h.svc.Catalog.AdminListMedications(c.Request.Context(), q, queryInt(c, "page", 1), queryInt(c, "limit", 0))
	if err != nil {
		respondError(c, "Failed to list medications", err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) adminGetMedication(c *gin.Context) {
	detail, err := h.svc.Catalog.AdminGetMedication(c.Request.Context(), models.MedicationID(c.Param("id")))
	if err != nil {
		respondError(c, "Failed to get medication", err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *Handler) createMedication(c *gin.Context) {
	var req service.MedicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	med, err := h.svc.Catalog.CreateMedication(c.Request.Context(), actorFrom(c), &req)
	if err != nil {
		respondError(c, "Failed to create medication", err)
		return
	}
	c.JSON(http.StatusCreated, med)
}

func (h *Handler) updateMedication(c *gin.Context) {
	var req service.MedicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	med, err := h.svc.Catalog.UpdateMedication(c.Request.Context(), actorFrom(c), models.MedicationID(c.Param("id")), &req)
	if err != nil {
		respondError(c, "Failed to update medication", err)
		return
	}
	c.JSON(http.StatusOK, med)
}

func (h *Handler) deleteMedication(c *gin.Context) {
	if err := h.svc.Catalog.DeleteMedication(c.Request.Context(), actorFrom(c), models.MedicationID(c.Param("id"))); err != nil {
		respondError(c, "Failed to delete medication", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Medication deactivated"})
}

func (h *Handler) adminListPharmacies(c *gin.Context) {
	pharmacies, err := h.svc.Catalog.AdminListPharmacies(c.Request.Context())
	if err != nil {
		respondError(c, "Failed to list pharmacies", err)
		return
	}
	c.JSON(http.StatusOK, pharmacies)
}

func (h *Handler) createPharmacy(c *gin.Context) {
	var req service.PharmacyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	p, err := h.svc.Catalog.CreatePharmacy(c.Request.Context(), actorFrom(c), &req)
	if err != nil {
		respondError(c, "Failed to create pharmacy", err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *Handler) updatePharmacy(c *gin.Context) {
	var req service.PharmacyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	p, err := h.svc.Catalog.UpdatePharmacy(c.Request.Context(), actorFrom(c), models.PharmacyID(c.Param("id")), &req)
	if err != nil {
		respondError(c, "Failed to update pharmacy", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) deletePharmacy(c *gin.Context) {
	removed, err := h.svc.Catalog.DeletePharmacy(c.Request.Context(), actorFrom(c), models.PharmacyID(c.Param("id")))
	if err != nil {
		respondError(c, "Failed to delete pharmacy", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":        "Pharmacy deleted",
		"prices_removed": removed,
	})
}

func (h *Handler) upsertCategory(c *gin.Context) {
	var req service.CategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	cat, err := h.svc.Catalog.UpsertCategory(c.Request.Context(), actorFrom(c), &req)
	if err != nil {
		respondError(c, "Failed to save category", err)
		return
	}
	c.JSON(http.StatusOK, cat)
}

func (h *Handler) addSubcategory(c *gin.Context) {
	var req service.SubcategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	sub, err := h.svc.Catalog.AddSubcategory(c.Request.Context(), actorFrom(c), c.Param("id"), &req)
	if err != nil {
		respondError(c, "Failed to add subcategory", err)
		return
	}
	c.JSON(http.StatusCreated, sub)
}

func (h *Handler) bulkUpdatePrices(c *gin.Context) {
	var req service.BulkUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	res, err := h.svc.Prices.BulkUpdate(c.Request.Context(), actorFrom(c), &req)
	if err != nil {
		respondError(c, "Failed to update prices", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) updatePrice(c *gin.Context) {
	id, ok := paramInt64(c, "id")
	if !ok {
		return
	}
	var req service.PriceUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	p, err := h.svc.Prices.UpdatePrice(c.Request.Context(), actorFrom(c), id, &req)
	if err != nil {
		respondError(c, "Failed to update price", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) deletePrice(c *gin.Context) {
	id, ok := paramInt64(c, "id")
	if !ok {
		return
	}
	p, err := h.svc.Prices.DeletePrice(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		respondError(c, "Failed to delete price", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Price deleted", "price": p})
}

func (h *Handler) adminListAlerts(c *gin.Context) {
	alerts, err := h.svc.Alerts.List(c.Request.Context(), c.Query("status"), queryInt(c, "page", 1), queryInt(c, "limit", 0))
	if err != nil {
		respondError(c, "Failed to list alerts", err)
		return
	}
	c.JSON(http.StatusOK, alerts)
}

func (h *Handler) adminGetAlert(c *gin.Context) {
	id, ok := paramInt64(c, "id")
	if !ok {
		return
	}
	alert, err := h.svc.Alerts.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, "Failed to get alert", err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

func (h *Handler) runAlertCycle(c *gin.Context) {
	res, err := h.svc.AlertEngine.RunCycle(c.Request.Context())
	if err != nil {
		respondError(c, "Price alert check failed", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) adminListSubscriptions(c *gin.Context) {
	page, err := h.svc.Subscriptions.List(c.Request.Context(), c.Query("status"), c.Query("source"),
		queryInt(c, "page", 1), queryInt(c, "limit", 0))
	if err != nil {
		respondError(c, "Failed to list subscriptions", err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) subscriptionStats(c *gin.Context) {
	stats, err := h.svc.Subscriptions.Stats(c.Request.Context())
	if err != nil {
		respondError(c, "Failed to load subscription stats", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) composerData(c *gin.Context) {
	data, err := h.svc.Campaigns.ComposerData(c.Request.Context())
	if err != nil {
		respondError(c, "Failed to load composer data", err)
		return
	}
	c.JSON(http.StatusOK, data)
}

func (h *Handler) previewCampaign(c *gin.Context) {
	var req service.CampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	preview, err := h.svc.Campaigns.Preview(c.Request.Context(), &req)
	if err != nil {
		respondError(c, "Failed to preview campaign", err)
		return
	}
	c.JSON(http.StatusOK, preview)
}

func (h *Handler) testCampaign(c *gin.Context) {
	var req service.TestSendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	res, err := h.svc.Campaigns.TestSend(c.Request.Context(), actorFrom(c), &req)
	if err != nil {
		respondError(c, "Failed to send test email", err)
		return
	}
	code := http.StatusOK
	if !res.Success {
		code = http.StatusBadGateway
	}
	c.JSON(code, res)
}

func (h *Handler) sendCampaign(c *gin.Context) {
	var req service.CampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	campaign, err := h.svc.Campaigns.Send(c.Request.Context(), actorFrom(c), &req)
	if err != nil {
		respondError(c, "Failed to send campaign", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"message":         "Campaign is being sent",
		"campaign_id":     campaign.ID,
		"recipient_count": campaign.RecipientCount,
	})
}

func (h *Handler) dispatchCampaign(c *gin.Context) {
	campaign, err := h.svc.Campaigns.Dispatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "Failed to dispatch campaign", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"message":     "Campaign is being sent",
		"campaign_id": campaign.ID,
	})
}

func (h *Handler) listCampaigns(c *gin.Context) {
	page, err := h.svc.Campaigns.List(c.Request.Context(), queryInt(c, "page", 1), queryInt(c, "limit", 0))
	if err != nil {
		respondError(c, "Failed to list campaigns", err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) getCampaign(c *gin.Context) {
	campaign, err := h.svc.Campaigns.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "Failed to get campaign", err)
		return
	}
	c.JSON(http.StatusOK, campaign)
}

func (h *Handler) runDigest(c *gin.Context) {
	res, err := h.svc.Digest.Send(c.Request.Context())
	if err != nil {
		respondError(c, "Weekly digest failed", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) testDigest(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	res, err := h.svc.Digest.SendTest(c.Request.Context(), req.Email)
	if err != nil {
		respondError(c, "Failed to send test digest", err)
		return
	}
	code := http.StatusOK
	if !res.Success {
		code = http.StatusBadGateway
	}
	c.JSON(code, gin.H{"success": res.Success, "message_id": res.MessageID, "error": res.Error})
}

func (h *Handler) adminListMessages(c *gin.Context) {
	msgs, err := h.svc.Messages.List(c.Request.Context(), models.MedicationID(c.Query("medication_id")))
	if err != nil {
		respondError(c, "Failed to list messages", err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

func (h *Handler) createMessage(c *gin.Context) {
	var req service.MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	msg, err := h.svc.Messages.Create(c.Request.Context(), actorFrom(c), &req)
	if err != nil {
		respondError(c, "Failed to create message", err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *Handler) updateMessage(c *gin.Context) {
	id, ok := paramInt64(c, "id")
	if !ok {
		return
	}
	var req service.MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	msg, err := h.svc.Messages.Update(c.Request.Context(), actorFrom(c), id, &req)
	if err != nil {
		respondError(c, "Failed to update message", err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (h *Handler) deleteMessage(c *gin.Context) {
	id, ok := paramInt64(c, "id")
	if !ok {
		return
	}
	if err := h.svc.Messages.Delete(c.Request.Context(), actorFrom(c), id); err != nil {
		respondError(c, "Failed to delete message", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Message deleted"})
}

func (h *Handler) listContacts(c *gin.Context) {
	contacts, err := h.svc.Messages.ListContacts(c.Request.Context(), queryInt(c, "page", 1), queryInt(c, "limit", 0))
	if err != nil {
		respondError(c, "Failed to list contacts", err)
		return
	}
	c.JSON(http.StatusOK, contacts)
}

func (h *Handler) listAuditLogs(c *gin.Context) {
	page, err := h.svc.Audit.List(c.Request.Context(), c.Query("action"), c.Query("user"), c.Query("entity"),
		queryInt(c, "page", 1), queryInt(c, "limit", 0))
	if err != nil {
		respondError(c, "Failed to list audit logs", err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) adminListBlogPosts(c *gin.Context) {
	posts, err := h.svc.Blog.List(c.Request.Context())
	if err != nil {
		respondError(c, "Failed to list blog posts", err)
		return
	}
	c.JSON(http.StatusOK, posts)
}

func (h *Handler) adminGetBlogPost(c *gin.Context) {
	id, ok := paramInt64(c, "id")
	if !ok {
		return
	}
	post, err := h.svc.Blog.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, "Failed to get blog post", err)
		return
	}
	c.JSON(http.StatusOK, post)
}

func (h *Handler) createBlogPost(c *gin.Context) {
	var req service.BlogPostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	post, err := h.svc.Blog.Create(c.Request.Context(), actorFrom(c), &req)
	if err != nil {
		respondError(c, "Failed to create blog post", err)
		return
	}
	c.JSON(http.StatusCreated, post)
}

func (h *Handler) updateBlogPost(c *gin.Context) {
	id, ok := paramInt64(c, "id")
	if !ok {
		return
	}
	var req service.BlogPostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	post, err := h.svc.Blog.Update(c.Request.Context(), actorFrom(c), id, &req)
	if err != nil {
		respondError(c, "Failed to update blog post", err)
		return
	}
	c.JSON(http.StatusOK, post)
}

func (h *Handler) deleteBlogPost(c *gin.Context) {
	id, ok := paramInt64(c, "id")
	if !ok {
		return
	}
	if err := h.svc.Blog.Delete(c.Request.Context(), actorFrom(c), id); err != nil {
		respondError(c, "Failed to delete blog post", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Blog post deleted"})
}

func (h *Handler) toggleBlogPublish(c *gin.Context) {
	id, ok := paramInt64(c, "id")
	if !ok {
		return
	}
	post, err := h.svc.Blog.TogglePublish(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		respondError(c, "Failed to change publish state", err)
		return
	}
	message := "Blog post unpublished"
	if post.Published {
		message = "Blog post published"
	}
	c.JSON(http.StatusOK, gin.H{"message": message, "post": post})
}
