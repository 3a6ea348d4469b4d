package api

import (
	"net/http"
	"strings"

	"github.com/formy-ai/formy/pkg/auth"
	"github.com/formy-ai/formy/pkg/billing"
	"github.com/formy-ai/formy/pkg/storage"
	"github.com/gin-gonic/gin"
)

// maxUploadBytes bounds a single image upload.
const maxUploadBytes = 20 << 20

var allowedUploadTypes = map[string]struct{}{
	"image/png":  {},
	"image/jpeg": {},
	"image/webp": {},
	"image/gif":  {},
}

// UploadHandler serves image uploads.
type UploadHandler struct {
	store storage.ObjectStore
}

// NewUploadHandler creates the handler.
func NewUploadHandler(store storage.ObjectStore) *UploadHandler {
	return &UploadHandler{store: store}
}

// Upload stores a multipart image and returns its handle.
func (h *UploadHandler) Upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "message": "file field is required"})
		return
	}
	if file.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "INVALID_REQUEST", "message": "file exceeds 20MB"})
		return
	}
	contentType := file.Header.Get("Content-Type")
	if _, ok := allowedUploadTypes[strings.ToLower(contentType)]; !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_SOURCE_IMAGE", "message": "unsupported image type"})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_SOURCE_IMAGE", "message": "file not readable"})
		return
	}
	defer src.Close()

	obj, err := h.store.Save(c.Request.Context(), storage.CategoryUpload, file.Filename, src, file.Size, contentType)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"file_id": obj.Key,
		"url":     obj.URL,
		"size":    obj.Size,
	})
}

// BillingHandler serves the /billing endpoints.
type BillingHandler struct {
	svc *billing.Service
}

// NewBillingHandler creates the handler.
func NewBillingHandler(svc *billing.Service) *BillingHandler {
	return &BillingHandler{svc: svc}
}

// Me returns the caller's credit state.
func (h *BillingHandler) Me(c *gin.Context) {
	info, err := h.svc.GetBillingInfo(c.Request.Context(), auth.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// Plans lists the subscription tiers.
func (h *BillingHandler) Plans(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"plans": billing.ListPlans()})
}

type changePlanRequest struct {
	PlanID string `json:"plan_id" binding:"required"`
}

// ChangePlan switches the caller to a new tier.
func (h *BillingHandler) ChangePlan(c *gin.Context) {
	var req changePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "message": err.Error()})
		return
	}
	info, err := h.svc.ChangePlan(c.Request.Context(), auth.UserID(c), req.PlanID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}
