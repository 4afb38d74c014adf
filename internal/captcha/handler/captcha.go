// Package handler exposes the captcha service over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/captcha/internal/captcha/service"
	"go.uber.org/zap"
)

// TypeInvalidRequest is returned when a request body cannot be decoded.
const TypeInvalidRequest = "invalid_request"

// CaptchaHandler serves the captcha lifecycle operations. Every response
// body is a service.Result and the HTTP status equals its code.
type CaptchaHandler struct {
	svc    *service.CaptchaService
	logger *zap.Logger
}

// NewCaptchaHandler creates a new CaptchaHandler.
func NewCaptchaHandler(svc *service.CaptchaService, logger *zap.Logger) *CaptchaHandler {
	return &CaptchaHandler{svc: svc, logger: logger}
}

// Register mounts the captcha routes on the given router group.
func (h *CaptchaHandler) Register(rg *gin.RouterGroup) {
	g := rg.Group("/captcha")
	{
		g.POST("", h.Create)
		g.POST("/verify", h.Verify)
		g.DELETE("/:id", h.Delete)
		g.POST("/sweep", h.Sweep)
		g.POST("/reconcile", h.Reconcile)
	}
}

// verifyRequest is the body of POST /captcha/verify.
type verifyRequest struct {
	ID   string `json:"id" form:"id"`
	Code string `json:"code" form:"code"`
}

// Create handles POST /captcha.
//
// Response: {"code":200,"status":"success","data":{"id":"...","image_url":"..."}}
func (h *CaptchaHandler) Create(c *gin.Context) {
	h.respond(c, "create captcha", h.svc.Create)
}

// Verify handles POST /captcha/verify.
//
// Request body: {"id": "...", "code": "..."}
func (h *CaptchaHandler) Verify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, service.Result{
			Code:    http.StatusBadRequest,
			Status:  service.StatusError,
			Type:    TypeInvalidRequest,
			Message: "request body must be {\"id\": string, \"code\": string}",
		})
		return
	}
	h.respond(c, "verify captcha", func(ctx context.Context) (service.Result, error) {
		return h.svc.Verify(ctx, req.ID, req.Code)
	})
}

// Delete handles DELETE /captcha/:id.
func (h *CaptchaHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	h.respond(c, "delete captcha", func(ctx context.Context) (service.Result, error) {
		return h.svc.Delete(ctx, id)
	})
}

// Sweep handles POST /captcha/sweep.
func (h *CaptchaHandler) Sweep(c *gin.Context) {
	h.respond(c, "sweep captchas", h.svc.Sweep)
}

// Reconcile handles POST /captcha/reconcile.
func (h *CaptchaHandler) Reconcile(c *gin.Context) {
	h.respond(c, "reconcile captcha images", h.svc.Reconcile)
}

func (h *CaptchaHandler) respond(c *gin.Context, op string, fn func(context.Context) (service.Result, error)) {
	res, err := fn(c.Request.Context())
	if err != nil {
		h.logger.Error(op,
			zap.String("request_id", c.GetString(RequestIDKey)),
			zap.Error(err),
		)
	}
	c.JSON(res.Code, res)
}
