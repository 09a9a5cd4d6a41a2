package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"metamarket.backend/internal/domain/entities"
	domainerrors "metamarket.backend/internal/domain/errors"
	"metamarket.backend/internal/interfaces/http/response"
	"metamarket.backend/internal/usecases"
	"metamarket.backend/pkg/logger"
	"metamarket.backend/pkg/utils"
)

// PurchaseStream is a running attempt; *usecases.PurchaseTask satisfies it
type PurchaseStream interface {
	AttemptID() uuid.UUID
	Events() <-chan entities.ProgressEvent
	Wait() *entities.PurchaseResult
}

// PurchaseService runs purchase attempts and exposes their audit records
type PurchaseService interface {
	Start(ctx context.Context, req entities.PurchaseRequest) (PurchaseStream, error)
	Run(ctx context.Context, req entities.PurchaseRequest) (*entities.PurchaseResult, error)
	GetAttempt(ctx context.Context, id uuid.UUID) (*entities.PurchaseAttempt, error)
	ListAttempts(ctx context.Context, session string, params utils.PaginationParams) ([]*entities.PurchaseAttempt, utils.PaginationMeta, error)
}

// PurchaseHandler handles purchase endpoints
type PurchaseHandler struct {
	purchases PurchaseService
}

// NewPurchaseHandler creates a new purchase handler
func NewPurchaseHandler(purchases PurchaseService) *PurchaseHandler {
	return &PurchaseHandler{purchases: purchases}
}

type purchaseBody struct {
	SessionKey    string `json:"sessionKey"`
	SourceChainID uint64 `json:"sourceChainId"`
}

// Purchase runs one attempt to completion and returns its result.
// Failed attempts are still 200; the state and failure code are in the body.
// POST /api/v1/products/:id/purchase
func (h *PurchaseHandler) Purchase(c *gin.Context) {
	productID, ok := productIDParam(c)
	if !ok {
		return
	}

	var body purchaseBody
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
			response.Error(c, domainerrors.BadRequest(err.Error()))
			return
		}
	}

	result, err := h.purchases.Run(c.Request.Context(), entities.PurchaseRequest{
		ProductID:     productID,
		SessionKey:    body.SessionKey,
		SourceChainID: body.SourceChainID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// StreamPurchase starts an attempt and streams its progress as server-sent events.
// A disconnecting client stops the stream, not the attempt.
// GET /api/v1/products/:id/purchase/stream
func (h *PurchaseHandler) StreamPurchase(c *gin.Context) {
	productID, ok := productIDParam(c)
	if !ok {
		return
	}
	var sourceChainID uint64
	if raw := c.Query("sourceChainId"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			response.Error(c, domainerrors.BadRequest("Invalid sourceChainId"))
			return
		}
		sourceChainID = parsed
	}

	task, err := h.purchases.Start(c.Request.Context(), entities.PurchaseRequest{
		ProductID:     productID,
		SessionKey:    c.Query("sessionKey"),
		SourceChainID: sourceChainID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("attempt", gin.H{"attemptId": task.AttemptID()})

	events := task.Events()
	clientGone := c.Stream(func(w io.Writer) bool {
		select {
		case ev, open := <-events:
			if !open {
				c.SSEvent("result", task.Wait())
				return false
			}
			c.SSEvent("progress", ev)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
	if clientGone {
		logger.Info(c.Request.Context(), "Purchase stream client disconnected",
			zap.String("attempt_id", task.AttemptID().String()),
		)
	}
}

// GetPurchase returns the audit record of an attempt
// GET /api/v1/purchases/:id
func (h *PurchaseHandler) GetPurchase(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, domainerrors.BadRequest("Invalid purchase ID"))
		return
	}

	attempt, err := h.purchases.GetAttempt(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"purchase": attempt})
}

// ListPurchases pages through the attempts of a session, newest first
// GET /api/v1/purchases
func (h *PurchaseHandler) ListPurchases(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	pagination := utils.GetPaginationParams(page, limit)

	attempts, meta, err := h.purchases.ListAttempts(c.Request.Context(), c.Query("sessionKey"), pagination)
	if err != nil {
		response.Error(c, err)
		return
	}
	if attempts == nil {
		attempts = []*entities.PurchaseAttempt{}
	}
	response.Paginated(c, http.StatusOK, attempts, meta)
}

// OrchestratorService adapts the orchestrator to PurchaseService
type OrchestratorService struct {
	*usecases.PurchaseOrchestrator
}

func (s OrchestratorService) Start(ctx context.Context, req entities.PurchaseRequest) (PurchaseStream, error) {
	task, err := s.PurchaseOrchestrator.Start(ctx, req)
	if err != nil {
		return nil, err
	}
	return task, nil
}
