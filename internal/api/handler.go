package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/paystream-io/auditanchor/internal/anchor"
	"github.com/paystream-io/auditanchor/pkg/proofbundle"
)

// AnchorHandler exposes the ingestion and verification HTTP endpoints of
// the anchoring engine.
type AnchorHandler struct {
	engine *anchor.Engine
	logger *zap.Logger
}

// NewAnchorHandler creates a new AnchorHandler.
func NewAnchorHandler(engine *anchor.Engine, logger *zap.Logger) *AnchorHandler {
	return &AnchorHandler{engine: engine, logger: logger}
}

// Register mounts the anchoring routes on the given router group.
func (h *AnchorHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/logs", h.Submit)
	rg.GET("/logs/:id/verify", h.VerifyByID)
	rg.POST("/verify", h.VerifyRecord)
	rg.POST("/proofs/export", h.Export)
	rg.GET("/chain", h.Chain)
}

// Submit handles POST /logs — accepts a record into the pending batch.
func (h *AnchorHandler) Submit(c *gin.Context) {
	var rec anchor.LogRecord
	if err := c.ShouldBindJSON(&rec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "rejected", "reason": "invalid JSON: " + err.Error()})
		return
	}

	if err := h.engine.Submit(c.Request.Context(), &rec); err != nil {
		var encErr *anchor.EncodingError
		switch {
		case errors.As(err, &encErr):
			c.JSON(http.StatusBadRequest, gin.H{"status": "rejected", "reason": encErr.Error()})
		case errors.Is(err, anchor.ErrAlreadyAnchored):
			c.JSON(http.StatusConflict, gin.H{"status": "rejected", "reason": "log record already anchored or pending"})
		default:
			h.logger.Error("submit failed", zap.String("log_id", rec.ID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"status": "rejected", "reason": "internal error"})
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "id": rec.ID})
}

// VerifyByID handles GET /logs/:id/verify — checks the stored anchor and
// proof for a log ID. A failed integrity check is a finding, not a server
// error: it comes back 200 with verified=false and the failed sub-check
// named, distinct from 404 for an unknown ID.
func (h *AnchorHandler) VerifyByID(c *gin.Context) {
	h.respondVerification(c)(h.engine.VerifyByID(c.Request.Context(), c.Param("id")))
}

// VerifyRecord handles POST /verify — the full check for a
// caller-supplied record: its hash is recomputed from content before the
// proof checks run.
func (h *AnchorHandler) VerifyRecord(c *gin.Context) {
	var rec anchor.LogRecord
	if err := c.ShouldBindJSON(&rec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON: " + err.Error()})
		return
	}
	h.respondVerification(c)(h.engine.VerifyRecord(c.Request.Context(), &rec))
}

func (h *AnchorHandler) respondVerification(c *gin.Context) func(*anchor.Verification, error) {
	return func(v *anchor.Verification, err error) {
		switch {
		case err == nil:
			c.JSON(http.StatusOK, v)
		case errors.Is(err, anchor.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"verified": false, "error": "not_found"})
		case errors.Is(err, anchor.ErrHashMismatch), errors.Is(err, anchor.ErrProofInvalid):
			h.logger.Warn("verification failed",
				zap.String("log_id", v.LogID),
				zap.String("failed_check", v.FailedCheck),
			)
			c.JSON(http.StatusOK, v)
		default:
			var encErr *anchor.EncodingError
			if errors.As(err, &encErr) {
				c.JSON(http.StatusBadRequest, gin.H{"error": encErr.Error()})
				return
			}
			h.logger.Error("verification error", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
	}
}

type exportRequest struct {
	LogIDs []string `json:"log_ids"`
}

// Export handles POST /proofs/export — returns a self-contained proof
// bundle for the given log IDs, verifiable offline without store access.
func (h *AnchorHandler) Export(c *gin.Context) {
	var req exportRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.LogIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "log_ids must be a non-empty array"})
		return
	}

	records, err := h.engine.ExportProofs(c.Request.Context(), req.LogIDs)
	if err != nil {
		if errors.Is(err, anchor.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		h.logger.Error("proof export failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, proofbundle.FromRecords(records))
}

// Chain handles GET /chain — returns the anchored count, chain tip, and
// pending buffer depth.
func (h *AnchorHandler) Chain(c *gin.Context) {
	info, err := h.engine.Overview(c.Request.Context())
	if err != nil {
		h.logger.Error("chain overview failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query store"})
		return
	}
	c.JSON(http.StatusOK, info)
}
