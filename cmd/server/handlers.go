package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"

	"github.com/yourorg/multigateway/internal/adapter"
	"github.com/yourorg/multigateway/internal/context"
	"github.com/yourorg/multigateway/internal/monitor"
	"github.com/yourorg/multigateway/internal/orchestrator"
	"github.com/yourorg/multigateway/internal/policy"
	"github.com/yourorg/multigateway/internal/registry"
	"github.com/yourorg/multigateway/internal/router"
	"github.com/yourorg/multigateway/internal/store"
)

const traceHeader = "X-Trace-Id"

// purchaseBody is the inbound purchase contract (see internal/monitor/schemas/purchase.json).
type purchaseBody struct {
	Amount      int64  `json:"amount"`
	ClientName  string `json:"client_name"`
	ClientEmail string `json:"client_email"`
	CardNumber  string `json:"card_number"`
	CardCVV     string `json:"card_cvv"`
}

type gatewayBody struct {
	Type        context.GatewayType `json:"type" binding:"required"`
	Name        string              `json:"name" binding:"required"`
	IsActive    *bool               `json:"is_active"`
	Priority    int                 `json:"priority"`
	Credentials context.Credentials `json:"credentials"`
}

type priorityBody struct {
	Priority int `json:"priority" binding:"required"`
}

// gatewayView never exposes credentials.
type gatewayView struct {
	ID        int64               `json:"id"`
	Type      context.GatewayType `json:"type"`
	Name      string              `json:"name"`
	IsActive  bool                `json:"is_active"`
	Priority  int                 `json:"priority"`
	UpdatedAt time.Time           `json:"updated_at"`
}

func viewOf(cfg context.GatewayConfig) gatewayView {
	return gatewayView{
		ID:        cfg.ID,
		Type:      cfg.Type,
		Name:      cfg.Name,
		IsActive:  cfg.IsActive,
		Priority:  cfg.Priority,
		UpdatedAt: cfg.UpdatedAt,
	}
}

type api struct {
	app *app
}

func setupRouter(a *app) *gin.Engine {
	h := &api{app: a}

	r := gin.New()
	r.Use(gin.Recovery(), otelgin.Middleware("multigateway"), h.accessLog)

	r.GET("/health", h.health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.metrics, promhttp.HandlerOpts{})))

	r.POST("/purchase", h.purchase)
	r.GET("/transactions", h.listTransactions)
	r.GET("/transactions/:id", h.getTransaction)
	r.POST("/transactions/:id/refund", h.refund)

	gw := r.Group("/gateways")
	gw.GET("", h.listGateways)
	gw.POST("", h.createGateway)
	gw.GET("/:id", h.getGateway)
	gw.PUT("/:id", h.updateGateway)
	gw.DELETE("/:id", h.deleteGateway)
	gw.PATCH("/:id/toggle", h.toggleGateway)
	gw.PATCH("/:id/priority", h.setPriority)

	r.GET("/reports/retrospective", h.retrospective)
	r.GET("/reports/reconciliation", h.reconciliation)
	return r
}

// traceContext adopts the otel trace id when the middleware started a sampled span.
func (h *api) traceContext(c *gin.Context) context.TraceContext {
	ctx := c.Request.Context()
	var tc context.TraceContext
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		tc = context.NewTraceContextWithIDs(ctx, sc.TraceID().String(), sc.SpanID().String())
	} else {
		tc = context.NewTraceContext(ctx)
	}
	c.Header(traceHeader, tc.GetTraceID())
	return tc
}

func (h *api) accessLog(c *gin.Context) {
	start := time.Now()
	c.Next()
	h.app.logger.Info("HTTP request",
		"method", c.Request.Method,
		"path", c.FullPath(),
		"status", c.Writer.Status(),
		"duration_ms", time.Since(start).Milliseconds(),
		"trace_id", c.Writer.Header().Get(traceHeader),
	)
}

func (h *api) health(c *gin.Context) {
	body, ok := h.app.health(c.Request.Context())
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, body)
}

func (h *api) purchase(c *gin.Context) {
	tc := h.traceContext(c)

	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "failed to read request body"})
		return
	}
	valid, violations, err := h.app.monitor.Validate(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "request body is not valid JSON"})
		return
	}
	if !valid {
		h.app.logger.Info("purchase body rejected", "trace_id", tc.GetTraceID(), "violations", monitor.FormatErrors(violations))
		c.JSON(http.StatusBadRequest, gin.H{"message": "validation failed", "errors": violations})
		return
	}
	var body purchaseBody
	if err := json.Unmarshal(raw, &body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "request body is not valid JSON"})
		return
	}

	result, err := h.app.orchestrator.Purchase(tc, adapter.PaymentRequest{
		AmountMinorUnits: body.Amount,
		PayerName:        body.ClientName,
		PayerEmail:       body.ClientEmail,
		CardNumber:       body.CardNumber,
		CardCVV:          body.CardCVV,
	})
	switch {
	case errors.Is(err, adapter.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	case err != nil:
		h.app.logger.Error("purchase failed", "trace_id", tc.GetTraceID(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "payment could not be processed"})
		return
	}

	if !result.Succeeded() {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"message": "payment failed on every gateway",
			"errors":  result.Outcome.Errors,
		})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message":     "purchase completed",
		"transaction": result.Transaction,
		"gateway_id":  result.Outcome.GatewayID,
		"errors":      result.Outcome.Errors,
	})
}

func (h *api) refund(c *gin.Context) {
	tc := h.traceContext(c)
	id := c.Param("id")

	result, err := h.app.orchestrator.Refund(tc, id)
	if err != nil {
		status, msg := refundErrorStatus(err)
		if status == http.StatusInternalServerError {
			h.app.logger.Error("refund failed", "trace_id", tc.GetTraceID(), "transaction_id", id, "error", err)
		}
		c.JSON(status, gin.H{"message": msg, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":     "refund completed",
		"transaction": result.Transaction,
		"response":    result.Outcome.RawResponse.Body,
	})
}

func refundErrorStatus(err error) (int, string) {
	var failed *router.RefundFailedError
	switch {
	case errors.Is(err, orchestrator.ErrTransactionNotFound):
		return http.StatusNotFound, "transaction not found"
	case errors.Is(err, policy.ErrAlreadyRefunded):
		return http.StatusUnprocessableEntity, "transaction already refunded"
	case errors.Is(err, policy.ErrNotRefundable), errors.Is(err, policy.ErrRefundDenied), errors.Is(err, adapter.ErrInvalidRequest):
		return http.StatusUnprocessableEntity, "transaction cannot be refunded"
	case errors.Is(err, registry.ErrGatewayNotFound), errors.As(err, &failed):
		return http.StatusUnprocessableEntity, "refund failed"
	}
	return http.StatusInternalServerError, "refund could not be processed"
}

func (h *api) getTransaction(c *gin.Context) {
	tx, err := h.app.orchestrator.GetTransaction(h.traceContext(c), c.Param("id"))
	if errors.Is(err, orchestrator.ErrTransactionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"message": "transaction not found"})
		return
	}
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

func (h *api) listTransactions(c *gin.Context) {
	filter, err := transactionFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	txs, err := h.app.orchestrator.ListTransactions(h.traceContext(c), filter)
	if err != nil {
		h.internalError(c, err)
		return
	}
	if txs == nil {
		txs = []context.Transaction{}
	}
	c.JSON(http.StatusOK, txs)
}

func transactionFilter(c *gin.Context) (store.TransactionFilter, error) {
	var f store.TransactionFilter
	if v := c.Query("status"); v != "" {
		f.Status = context.TransactionStatus(v)
	}
	for key, dst := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
		if v := c.Query(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return f, errors.New(key + " must be a non-negative integer")
			}
			*dst = n
		}
	}
	if v := c.Query("gateway_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return f, errors.New("gateway_id must be an integer")
		}
		f.GatewayID = id
	}
	return f, nil
}

func (h *api) listGateways(c *gin.Context) {
	cfgs, err := h.app.admin.List(c.Request.Context())
	if err != nil {
		h.internalError(c, err)
		return
	}
	views := make([]gatewayView, 0, len(cfgs))
	for _, cfg := range cfgs {
		views = append(views, viewOf(cfg))
	}
	c.JSON(http.StatusOK, views)
}

func (h *api) getGateway(c *gin.Context) {
	id, ok := gatewayID(c)
	if !ok {
		return
	}
	cfg, err := h.app.admin.Get(c.Request.Context(), id)
	h.respondGateway(c, http.StatusOK, cfg, err)
}

func (h *api) createGateway(c *gin.Context) {
	var body gatewayBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	cfg := context.GatewayConfig{
		Type:        body.Type,
		Name:        body.Name,
		IsActive:    body.IsActive == nil || *body.IsActive,
		Priority:    body.Priority,
		Credentials: body.Credentials,
	}
	created, err := h.app.admin.Create(c.Request.Context(), cfg)
	h.respondGateway(c, http.StatusCreated, created, err)
}

func (h *api) updateGateway(c *gin.Context) {
	id, ok := gatewayID(c)
	if !ok {
		return
	}
	var body gatewayBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	current, err := h.app.admin.Get(c.Request.Context(), id)
	if err != nil {
		h.respondGateway(c, http.StatusOK, current, err)
		return
	}
	current.Type = body.Type
	current.Name = body.Name
	current.Credentials = body.Credentials
	if body.IsActive != nil {
		current.IsActive = *body.IsActive
	}
	if body.Priority != 0 {
		current.Priority = body.Priority
	}
	updated, err := h.app.admin.Update(c.Request.Context(), current)
	h.respondGateway(c, http.StatusOK, updated, err)
}

func (h *api) deleteGateway(c *gin.Context) {
	id, ok := gatewayID(c)
	if !ok {
		return
	}
	if err := h.app.admin.Delete(c.Request.Context(), id); err != nil {
		h.respondGateway(c, http.StatusNoContent, context.GatewayConfig{}, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *api) toggleGateway(c *gin.Context) {
	id, ok := gatewayID(c)
	if !ok {
		return
	}
	cfg, err := h.app.admin.Toggle(c.Request.Context(), id)
	h.respondGateway(c, http.StatusOK, cfg, err)
}

func (h *api) setPriority(c *gin.Context) {
	id, ok := gatewayID(c)
	if !ok {
		return
	}
	var body priorityBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	cfg, err := h.app.admin.SetPriority(c.Request.Context(), id, body.Priority)
	h.respondGateway(c, http.StatusOK, cfg, err)
}

func (h *api) respondGateway(c *gin.Context, status int, cfg context.GatewayConfig, err error) {
	switch {
	case err == nil:
		c.JSON(status, viewOf(cfg))
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": "gateway not found"})
	case errors.Is(err, store.ErrInvalid), errors.Is(err, adapter.ErrConfiguration):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"message": err.Error()})
	default:
		h.internalError(c, err)
	}
}

func gatewayID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "gateway id must be an integer"})
		return 0, false
	}
	return id, true
}

func (h *api) retrospective(c *gin.Context) {
	report, err := h.app.retrospective(c.Request.Context())
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *api) reconciliation(c *gin.Context) {
	report, err := h.app.reconciler.Reconcile(c.Request.Context())
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"consistent": report.Consistent(), "gateways": report.Gateways})
}

func (h *api) internalError(c *gin.Context, err error) {
	h.app.logger.Error("request failed", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"message": "internal error"})
}
