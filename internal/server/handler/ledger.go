package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pharmatrust/pharmaledger/internal/ledger"
)

// defaultRecentLimit bounds GET /ledger/transactions when no limit is given.
const defaultRecentLimit = 20

// LedgerHandler exposes read-only HTTP endpoints over the hash chain.
type LedgerHandler struct {
	chain  *ledger.Ledger
	logger *zap.Logger
}

// NewLedgerHandler creates a LedgerHandler.
func NewLedgerHandler(chain *ledger.Ledger, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{chain: chain, logger: logger}
}

// Register mounts the ledger routes on the given router group.
func (h *LedgerHandler) Register(rg *gin.RouterGroup) {
	l := rg.Group("/ledger")
	{
		l.GET("", h.Overview)
		l.GET("/verify", h.Verify)
		l.GET("/transactions", h.Recent)
		l.GET("/transactions/:idx", h.GetTransaction)
		l.GET("/history/:entityId", h.History)
		l.GET("/statistics", h.Statistics)
		l.GET("/export", h.Export)
	}
}

// Overview handles GET /ledger — chain length and current root hash.
func (h *LedgerHandler) Overview(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"transactions": h.chain.Len(),
		"root":         h.chain.Root(),
	})
}

// Verify handles GET /ledger/verify — full chain integrity walk. An invalid
// chain is still a 200: the finding is data for the caller, not a server
// failure.
func (h *LedgerHandler) Verify(c *gin.Context) {
	res := h.chain.VerifyChain()
	if !res.Valid {
		h.logger.Warn("chain integrity check failed",
			zap.Int("violations", len(res.Violations)),
		)
	}
	c.JSON(http.StatusOK, res)
}

// Recent handles GET /ledger/transactions?limit=N — most recent first.
func (h *LedgerHandler) Recent(c *gin.Context) {
	limit := defaultRecentLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	txs := h.chain.Recent(limit)
	c.JSON(http.StatusOK, gin.H{"transactions": txs, "count": len(txs)})
}

// GetTransaction handles GET /ledger/transactions/:idx.
func (h *LedgerHandler) GetTransaction(c *gin.Context) {
	idx, err := strconv.Atoi(c.Param("idx"))
	if err != nil || idx < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "idx must be a non-negative integer"})
		return
	}
	tx, err := h.chain.Get(idx)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
		return
	}
	c.JSON(http.StatusOK, tx)
}

// History handles GET /ledger/history/:entityId — oldest first.
func (h *LedgerHandler) History(c *gin.Context) {
	entityID := c.Param("entityId")
	txs := h.chain.History(entityID)
	c.JSON(http.StatusOK, gin.H{
		"entityId":     entityID,
		"transactions": txs,
		"count":        len(txs),
	})
}

// Statistics handles GET /ledger/statistics.
func (h *LedgerHandler) Statistics(c *gin.Context) {
	c.JSON(http.StatusOK, h.chain.Statistics())
}

// Export handles GET /ledger/export — the full chain including genesis.
func (h *LedgerHandler) Export(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"chain": h.chain.ExportAll()})
}
