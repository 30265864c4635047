package handler

import (
	"net/http"

	"github.com/dubaigit/task-mail-sub001/internal/cache"
	"github.com/dubaigit/task-mail-sub001/internal/domain"
	"github.com/dubaigit/task-mail-sub001/internal/logger"
	"github.com/gin-gonic/gin"
)

// CacheHandler handles cache administration endpoints, primarily explicit
// invalidation around model upgrades.
type CacheHandler struct {
	store *cache.Store
}

// NewCacheHandler creates a new cache admin handler.
func NewCacheHandler(store *cache.Store) *CacheHandler {
	return &CacheHandler{store: store}
}

// InvalidateKey handles DELETE /api/v1/cache/:key.
func (h *CacheHandler) InvalidateKey(c *gin.Context) {
	key := c.Param("key")
	if err := h.store.InvalidateKey(c.Request.Context(), key); err != nil {
		logger.CtxError(c.Request.Context(), "Failed to invalidate cache key: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to invalidate key"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"invalidated": key})
}

// Invalidate handles DELETE /api/v1/cache. With an operation_type query
// parameter it drops every entry for that operation; without one it flushes
// the whole cache.
func (h *CacheHandler) Invalidate(c *gin.Context) {
	ctx := c.Request.Context()

	if opParam := c.Query("operation_type"); opParam != "" {
		op := domain.OperationType(opParam)
		if !op.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown operation_type"})
			return
		}
		removed, err := h.store.InvalidateOperation(ctx, op)
		if err != nil {
			logger.CtxError(ctx, "Failed to invalidate operation cache: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to invalidate operation"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"operation_type": opParam, "removed": removed})
		return
	}

	removed, err := h.store.Flush(ctx)
	if err != nil {
		logger.CtxError(ctx, "Failed to flush cache: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to flush cache"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}
