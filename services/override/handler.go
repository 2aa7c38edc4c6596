package override

import (
	"net/http"

	"cleanops/pkg/errutil"
	"cleanops/pkg/middleware"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func RegisterRoutes(api *gin.RouterGroup, h *Handler) {
	conflicts := api.Group("/jobs/:id/conflicts")
	conflicts.POST("/detect", h.Detect)
	conflicts.POST("/override", h.Override)
	conflicts.POST("/resolve-gps", h.ResolveGPS)
	conflicts.POST("/resolve-photos", h.ResolvePhotos)
	conflicts.POST("/reset", h.Reset)
	conflicts.GET("/history", h.History)
}

type decisionRequest struct {
	Reason string   `json:"reason"`
	Lat    *float64 `json:"lat"`
	Lng    *float64 `json:"lng"`
}

func bind(c *gin.Context) (decisionRequest, bool) {
	var req decisionRequest
	if c.Request.ContentLength == 0 {
		return req, true
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", err))
		return req, false
	}
	return req, true
}

func (h *Handler) Detect(c *gin.Context) {
	req, ok := bind(c)
	if !ok {
		return
	}

	res, err := h.svc.DetectConflicts(c.Request.Context(), middleware.MustActor(c), c.Param("id"), req.Lat, req.Lng)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Override(c *gin.Context) {
	req, ok := bind(c)
	if !ok {
		return
	}

	out, err := h.svc.OverrideCompletion(c.Request.Context(), middleware.MustActor(c), c.Param("id"), req.Reason, req.Lat, req.Lng)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) ResolveGPS(c *gin.Context) {
	req, ok := bind(c)
	if !ok {
		return
	}

	out, err := h.svc.ResolveGPSConflict(c.Request.Context(), middleware.MustActor(c), c.Param("id"), req.Reason, req.Lat, req.Lng)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) ResolvePhotos(c *gin.Context) {
	req, ok := bind(c)
	if !ok {
		return
	}

	out, err := h.svc.ResolvePhotoConflict(c.Request.Context(), middleware.MustActor(c), c.Param("id"), req.Reason)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) Reset(c *gin.Context) {
	req, ok := bind(c)
	if !ok {
		return
	}

	out, err := h.svc.ResetJob(c.Request.Context(), middleware.MustActor(c), c.Param("id"), req.Reason)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) History(c *gin.Context) {
	records, err := h.svc.History(c.Request.Context(), middleware.MustActor(c), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"overrides": records})
}
