package job

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
	jobs := api.Group("/jobs")
	jobs.POST("", h.Create)
	jobs.GET("", h.List)
	jobs.GET("/:id", h.Get)
	jobs.POST("/:id/accept", h.Accept)
	jobs.POST("/:id/start", h.Start)
	jobs.POST("/:id/complete", h.Complete)
	jobs.POST("/:id/reassign", h.Reassign)
	jobs.POST("/:id/access-denied", h.AccessDenied)
	jobs.POST("/:id/photos", h.RecordPhoto)
	jobs.POST("/:id/photos/upload-url", h.PhotoUploadURL)

	api.POST("/properties", h.CreateProperty)
	api.PUT("/cleaners/:id", h.UpsertCleaner)
}

// Location is the GPS fix a cleaner reports.
type Location struct {
	Lat *float64 `json:"lat" binding:"required"`
	Lng *float64 `json:"lng" binding:"required"`
}

func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", err))
		return false
	}
	return true
}

func (h *Handler) Create(c *gin.Context) {
	var req CreateJobRequest
	if !bind(c, &req) {
		return
	}

	j, err := h.svc.CreateJob(c.Request.Context(), middleware.MustActor(c), req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"job": j})
}

func (h *Handler) Get(c *gin.Context) {
	j, err := h.svc.GetJob(c.Request.Context(), middleware.MustActor(c), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": j})
}

func (h *Handler) List(c *gin.Context) {
	var req ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.Error(errutil.BadRequest("invalid query", err))
		return
	}

	resp, err := h.svc.ListJobs(c.Request.Context(), middleware.MustActor(c), req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Accept(c *gin.Context) {
	j, err := h.svc.Accept(c.Request.Context(), middleware.MustActor(c), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": j})
}

func (h *Handler) Start(c *gin.Context) {
	var req Location
	if !bind(c, &req) {
		return
	}

	j, err := h.svc.Start(c.Request.Context(), middleware.MustActor(c), c.Param("id"), *req.Lat, *req.Lng)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": j})
}

func (h *Handler) Complete(c *gin.Context) {
	var req Location
	if !bind(c, &req) {
		return
	}

	res, err := h.svc.Complete(c.Request.Context(), middleware.MustActor(c), c.Param("id"), *req.Lat, *req.Lng)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type reassignRequest struct {
	CleanerID string `json:"cleaner_id"`
}

func (h *Handler) Reassign(c *gin.Context) {
	var req reassignRequest
	if !bind(c, &req) {
		return
	}

	j, err := h.svc.Reassign(c.Request.Context(), middleware.MustActor(c), c.Param("id"), req.CleanerID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": j})
}

type accessDeniedRequest struct {
	Note string `json:"note"`
}

func (h *Handler) AccessDenied(c *gin.Context) {
	var req accessDeniedRequest
	if !bind(c, &req) {
		return
	}

	j, err := h.svc.ReportAccessDenied(c.Request.Context(), middleware.MustActor(c), c.Param("id"), req.Note)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": j})
}

type photoRequest struct {
	ObjectKey string `json:"object_key" binding:"required"`
}

func (h *Handler) RecordPhoto(c *gin.Context) {
	var req photoRequest
	if !bind(c, &req) {
		return
	}

	photo, err := h.svc.RecordPhoto(c.Request.Context(), middleware.MustActor(c), c.Param("id"), req.ObjectKey)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"photo": photo})
}

type uploadURLRequest struct {
	Filename string `json:"filename"`
}

func (h *Handler) PhotoUploadURL(c *gin.Context) {
	var req uploadURLRequest
	if !bind(c, &req) {
		return
	}

	upload, err := h.svc.PhotoUploadURL(c.Request.Context(), middleware.MustActor(c), c.Param("id"), req.Filename)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, upload)
}

func (h *Handler) CreateProperty(c *gin.Context) {
	var req CreatePropertyRequest
	if !bind(c, &req) {
		return
	}

	p, err := h.svc.CreateProperty(c.Request.Context(), middleware.MustActor(c), req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"property": p})
}

func (h *Handler) UpsertCleaner(c *gin.Context) {
	var req UpsertCleanerRequest
	if !bind(c, &req) {
		return
	}

	cl, err := h.svc.UpsertCleaner(c.Request.Context(), middleware.MustActor(c), c.Param("id"), req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleaner": cl})
}
