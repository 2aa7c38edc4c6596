package invoice

import (
	"context"
	"net/http"

	"cleanops/pkg/access"
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
	invoices := api.Group("/invoices")
	invoices.GET("", h.List)
	invoices.GET("/current", h.Current)
	invoices.GET("/:id", h.Get)
	invoices.POST("/:id/submit", h.Submit)
	invoices.POST("/:id/approve", h.Approve)
	invoices.POST("/:id/pay", h.Pay)

	api.POST("/invoice-line-items/:id/void", h.Void)
}

func (h *Handler) Current(c *gin.Context) {
	inv, err := h.svc.GetCurrent(c.Request.Context(), middleware.MustActor(c))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"invoice": inv})
}

func (h *Handler) List(c *gin.Context) {
	var req ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.Error(errutil.BadRequest("invalid query", err))
		return
	}

	resp, err := h.svc.List(c.Request.Context(), middleware.MustActor(c), req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Get(c *gin.Context) {
	inv, err := h.svc.Get(c.Request.Context(), middleware.MustActor(c), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"invoice": inv})
}

func (h *Handler) Submit(c *gin.Context) {
	h.transition(c, h.svc.Submit)
}

func (h *Handler) Approve(c *gin.Context) {
	h.transition(c, h.svc.Approve)
}

func (h *Handler) Pay(c *gin.Context) {
	h.transition(c, h.svc.MarkPaid)
}

type voidRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (h *Handler) Void(c *gin.Context) {
	var req voidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	item, err := h.svc.VoidLineItem(c.Request.Context(), middleware.MustActor(c), c.Param("id"), req.Reason)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"line_item": item})
}

func (h *Handler) transition(c *gin.Context, fn func(context.Context, access.Actor, string) (*Invoice, error)) {
	inv, err := fn(c.Request.Context(), middleware.MustActor(c), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"invoice": inv})
}
