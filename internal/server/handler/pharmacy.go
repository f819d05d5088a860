package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pharmatrust/pharmaledger/internal/auth"
	"github.com/pharmatrust/pharmaledger/internal/ledger"
	"github.com/pharmatrust/pharmaledger/internal/pharmacy"
)

// PharmacyHandler handles HTTP requests for inventory and prescriptions.
// Every mutating route drives exactly one ledger append through the service.
type PharmacyHandler struct {
	svc    *pharmacy.Service
	tokens *auth.TokenIssuer // nil = no auth enforcement (development mode)
	logger *zap.Logger
}

// NewPharmacyHandler creates a PharmacyHandler. tokens may be nil to disable
// bearer-token auth on mutating routes.
func NewPharmacyHandler(svc *pharmacy.Service, tokens *auth.TokenIssuer, logger *zap.Logger) *PharmacyHandler {
	return &PharmacyHandler{svc: svc, tokens: tokens, logger: logger}
}

func (h *PharmacyHandler) requireToken() gin.HandlerFunc {
	if h.tokens == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return auth.RequireToken(h.tokens)
}

// Register mounts the pharmacy routes on the given router group.
func (h *PharmacyHandler) Register(rg *gin.RouterGroup) {
	drugs := rg.Group("/drugs")
	{
		drugs.POST("", h.requireToken(), h.CreateDrug)
		drugs.GET("", h.ListDrugs)
		drugs.GET("/:id", h.GetDrug)
		drugs.POST("/:id/stock-in", h.requireToken(), h.StockIn)
		drugs.POST("/:id/dispense", h.requireToken(), h.Dispense)
		drugs.POST("/:id/expire", h.requireToken(), h.Expire)
		drugs.POST("/:id/damage", h.requireToken(), h.Damage)
		drugs.POST("/:id/return", h.requireToken(), h.Return)
		drugs.POST("/:id/adjust", h.requireToken(), h.Adjust)
	}

	prescriptions := rg.Group("/prescriptions")
	{
		prescriptions.POST("", h.requireToken(), h.CreatePrescription)
		prescriptions.GET("/:id", h.GetPrescription)
	}
}

type createDrugRequest struct {
	Name         string     `json:"name" binding:"required"`
	Unit         string     `json:"unit" binding:"required"`
	BatchNumber  string     `json:"batchNumber"`
	ExpiryDate   *time.Time `json:"expiryDate"`
	InitialStock int        `json:"initialStock"`
	actorFields
}

type stockRequest struct {
	Quantity       int    `json:"quantity" binding:"required"`
	BatchNumber    string `json:"batchNumber"`
	PrescriptionID string `json:"prescriptionId"`
	Notes          string `json:"notes"`
	actorFields
}

type adjustRequest struct {
	NewStock *int   `json:"newStock" binding:"required"`
	Reason   string `json:"reason"`
	actorFields
}

type createPrescriptionRequest struct {
	PatientName string `json:"patientName" binding:"required"`
	DrugID      string `json:"drugId" binding:"required"`
	Dosage      string `json:"dosage" binding:"required"`
	Diagnosis   string `json:"diagnosis"`
	Quantity    int    `json:"quantity" binding:"required"`
	actorFields
}

// actorFields carry the performer identity. They are free-form and recorded
// as-is; when a bearer token is present its subject/role win over the body.
type actorFields struct {
	PerformedBy     string `json:"performedBy"`
	PerformedByRole string `json:"performedByRole"`
}

func (h *PharmacyHandler) actor(c *gin.Context, f actorFields) pharmacy.Actor {
	if claims := auth.ClaimsFromCtx(c); claims != nil {
		return pharmacy.Actor{Name: claims.Subject, Role: claims.Role}
	}
	return pharmacy.Actor{Name: f.PerformedBy, Role: f.PerformedByRole}
}

// CreateDrug handles POST /drugs.
func (h *PharmacyHandler) CreateDrug(c *gin.Context) {
	var req createDrugRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	d, err := h.svc.CreateDrug(c.Request.Context(), req.Name, req.Unit, req.BatchNumber, req.ExpiryDate, req.InitialStock, h.actor(c, req.actorFields))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

// ListDrugs handles GET /drugs.
func (h *PharmacyHandler) ListDrugs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	drugs, err := h.svc.ListDrugs(c.Request.Context(), limit, offset)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"drugs": drugs, "count": len(drugs)})
}

// GetDrug handles GET /drugs/:id.
func (h *PharmacyHandler) GetDrug(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	d, err := h.svc.GetDrug(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// StockIn handles POST /drugs/:id/stock-in.
func (h *PharmacyHandler) StockIn(c *gin.Context) {
	h.stockOp(c, func(id uuid.UUID, req stockRequest, actor pharmacy.Actor) (*pharmacy.Drug, *ledger.Transaction, error) {
		return h.svc.AddStock(c.Request.Context(), id, req.Quantity, req.BatchNumber, actor)
	})
}

// Dispense handles POST /drugs/:id/dispense.
func (h *PharmacyHandler) Dispense(c *gin.Context) {
	h.stockOp(c, func(id uuid.UUID, req stockRequest, actor pharmacy.Actor) (*pharmacy.Drug, *ledger.Transaction, error) {
		return h.svc.Dispense(c.Request.Context(), id, req.Quantity, req.PrescriptionID, actor)
	})
}

// Expire handles POST /drugs/:id/expire.
func (h *PharmacyHandler) Expire(c *gin.Context) {
	h.stockOp(c, func(id uuid.UUID, req stockRequest, actor pharmacy.Actor) (*pharmacy.Drug, *ledger.Transaction, error) {
		return h.svc.MarkExpired(c.Request.Context(), id, req.Quantity, actor)
	})
}

// Damage handles POST /drugs/:id/damage.
func (h *PharmacyHandler) Damage(c *gin.Context) {
	h.stockOp(c, func(id uuid.UUID, req stockRequest, actor pharmacy.Actor) (*pharmacy.Drug, *ledger.Transaction, error) {
		return h.svc.MarkDamaged(c.Request.Context(), id, req.Quantity, req.Notes, actor)
	})
}

// Return handles POST /drugs/:id/return.
func (h *PharmacyHandler) Return(c *gin.Context) {
	h.stockOp(c, func(id uuid.UUID, req stockRequest, actor pharmacy.Actor) (*pharmacy.Drug, *ledger.Transaction, error) {
		return h.svc.Return(c.Request.Context(), id, req.Quantity, req.Notes, actor)
	})
}

// Adjust handles POST /drugs/:id/adjust.
func (h *PharmacyHandler) Adjust(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	var req adjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	d, tx, err := h.svc.Adjust(c.Request.Context(), id, *req.NewStock, req.Reason, h.actor(c, req.actorFields))
	if err != nil {
		h.writeError(c, err)
		return
	}
	RecordTransaction(tx.Type)
	c.JSON(http.StatusOK, gin.H{"drug": d, "transaction": tx})
}

// CreatePrescription handles POST /prescriptions.
func (h *PharmacyHandler) CreatePrescription(c *gin.Context) {
	var req createPrescriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	drugID, err := uuid.Parse(req.DrugID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "drugId must be a UUID"})
		return
	}

	p, tx, err := h.svc.CreatePrescription(c.Request.Context(), req.PatientName, drugID, req.Dosage, req.Diagnosis, req.Quantity, h.actor(c, req.actorFields))
	if err != nil {
		h.writeError(c, err)
		return
	}
	RecordTransaction(tx.Type)
	c.JSON(http.StatusCreated, gin.H{"prescription": p, "transaction": tx})
}

// GetPrescription handles GET /prescriptions/:id.
func (h *PharmacyHandler) GetPrescription(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	p, err := h.svc.GetPrescription(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *PharmacyHandler) stockOp(c *gin.Context, op func(uuid.UUID, stockRequest, pharmacy.Actor) (*pharmacy.Drug, *ledger.Transaction, error)) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	var req stockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	d, tx, err := op(id, req, h.actor(c, req.actorFields))
	if err != nil {
		h.writeError(c, err)
		return
	}
	RecordTransaction(tx.Type)
	c.JSON(http.StatusOK, gin.H{"drug": d, "transaction": tx})
}

func (h *PharmacyHandler) parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a UUID"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *PharmacyHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, pharmacy.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, pharmacy.ErrInvalidQuantity):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, pharmacy.ErrInsufficientStock), errors.Is(err, pharmacy.ErrPrescriptionNotPending):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, ledger.ErrInvalidKind):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Error("pharmacy operation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
