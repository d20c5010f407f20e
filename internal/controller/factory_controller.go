package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"energy-trading-api/internal/engine"
	"energy-trading-api/internal/models"
	"energy-trading-api/internal/repository"
	"energy-trading-api/internal/service"
)

type FactoryController struct {
	factoryService service.FactoryService
}

func NewFactoryController(factoryService service.FactoryService) *FactoryController {
	return &FactoryController{
		factoryService: factoryService,
	}
}

// @Summary Register a factory
// @Description Register a factory together with its opening balances
// @Tags factories
// @Accept json
// @Produce json
// @Param request body RegisterFactoryRequest true "Register factory request"
// @Success 201 {object} service.FactoryResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/factories [post]
func (c *FactoryController) RegisterFactory(ctx *gin.Context) {
	var req RegisterFactoryRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		respondBindingError(ctx, err)
		return
	}

	response, err := c.factoryService.RegisterFactory(ctx.Request.Context(), &service.RegisterFactoryRequest{
		FactoryID:        req.FactoryID,
		Name:             req.Name,
		EnergyType:       req.EnergyType,
		InitialEnergy:    req.InitialEnergy,
		InitialCurrency:  req.InitialCurrency,
		DailyConsumption: req.DailyConsumption,
		AvailableEnergy:  req.AvailableEnergy,
	})
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, response)
}

// @Summary List factories
// @Tags factories
// @Produce json
// @Success 200 {array} service.FactoryResponse
// @Router /api/factories [get]
func (c *FactoryController) ListFactories(ctx *gin.Context) {
	factories, err := c.factoryService.ListFactories(ctx.Request.Context())
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"factories": factories,
		"count":     len(factories),
	})
}

// @Summary Get a factory with its balances
// @Tags factories
// @Produce json
// @Param id path string true "Factory ID"
// @Success 200 {object} service.FactoryResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/factories/{id} [get]
func (c *FactoryController) GetFactory(ctx *gin.Context) {
	response, err := c.factoryService.GetFactory(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, response)
}

func (c *FactoryController) GetBalance(ctx *gin.Context) {
	balance, err := c.factoryService.GetBalance(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, balance)
}

func (c *FactoryController) GetEnergyStatus(ctx *gin.Context) {
	status, err := c.factoryService.GetEnergyStatus(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, status)
}

// @Summary Trade history of a factory
// @Description Trades where the factory is seller or buyer, newest first
// @Tags factories
// @Produce json
// @Param id path string true "Factory ID"
// @Param limit query int false "Page size" default(50)
// @Param offset query int false "Offset" default(0)
// @Success 200 {object} HistoryResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/factories/{id}/history [get]
func (c *FactoryController) GetHistory(ctx *gin.Context) {
	limit := getQueryInt(ctx, "limit", repository.DefaultTradeLimit)
	offset := getQueryInt(ctx, "offset", 0)

	trades, err := c.factoryService.GetHistory(ctx.Request.Context(), ctx.Param("id"), limit, offset)
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, HistoryResponse{
		FactoryID: ctx.Param("id"),
		Trades:    trades,
		Count:     len(trades),
	})
}

func (c *FactoryController) UpdateAvailableEnergy(ctx *gin.Context) {
	var req UpdateAvailableEnergyRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		respondBindingError(ctx, err)
		return
	}

	balance, err := c.factoryService.UpdateAvailableEnergy(ctx.Request.Context(), ctx.Param("id"), req.AvailableEnergy)
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, balance)
}

func (c *FactoryController) UpdateDailyConsumption(ctx *gin.Context) {
	var req UpdateDailyConsumptionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		respondBindingError(ctx, err)
		return
	}

	balance, err := c.factoryService.UpdateDailyConsumption(ctx.Request.Context(), ctx.Param("id"), req.DailyConsumption)
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, balance)
}

// @Summary Mint energy
// @Description Credit newly produced energy to a factory
// @Tags energy
// @Accept json
// @Produce json
// @Param request body MintRequest true "Mint request"
// @Success 200 {object} models.FactoryBalance
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/energy/mint [post]
func (c *FactoryController) MintEnergy(ctx *gin.Context) {
	var req MintRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		respondBindingError(ctx, err)
		return
	}

	balance, err := c.factoryService.MintEnergy(ctx.Request.Context(), &service.MintRequest{
		FactoryID: req.FactoryID,
		Amount:    req.Amount,
	})
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, balance)
}

// @Summary Transfer energy or currency
// @Tags energy
// @Accept json
// @Produce json
// @Param request body TransferRequest true "Transfer request"
// @Success 200 {object} engine.TransferResult
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/energy/transfer [post]
func (c *FactoryController) TransferEnergy(ctx *gin.Context) {
	var req TransferRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		respondBindingError(ctx, err)
		return
	}

	result, err := c.factoryService.TransferEnergy(ctx.Request.Context(), &engine.TransferRequest{
		FromID: req.FromID,
		ToID:   req.ToID,
		Kind:   engine.BalanceKind(req.Kind),
		Amount: req.Amount,
	})
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, result)
}

// Request/Response DTOs
type RegisterFactoryRequest struct {
	FactoryID        string           `json:"factory_id" binding:"omitempty,max=64"`
	Name             string           `json:"name" binding:"required,max=120"`
	EnergyType       string           `json:"energy_type" binding:"omitempty,max=40"`
	InitialEnergy    decimal.Decimal  `json:"initial_energy" binding:"decimal_gte0"`
	InitialCurrency  decimal.Decimal  `json:"initial_currency" binding:"decimal_gte0"`
	DailyConsumption decimal.Decimal  `json:"daily_consumption" binding:"decimal_gte0"`
	AvailableEnergy  *decimal.Decimal `json:"available_energy,omitempty" binding:"omitempty,decimal_gte0"`
}

type UpdateAvailableEnergyRequest struct {
	AvailableEnergy decimal.Decimal `json:"available_energy" binding:"decimal_gte0"`
}

type UpdateDailyConsumptionRequest struct {
	DailyConsumption decimal.Decimal `json:"daily_consumption" binding:"decimal_gte0"`
}

type MintRequest struct {
	FactoryID string          `json:"factory_id" binding:"required"`
	Amount    decimal.Decimal `json:"amount" binding:"decimal_gt0"`
}

type TransferRequest struct {
	FromID string          `json:"from_id" binding:"required"`
	ToID   string          `json:"to_id" binding:"required"`
	Kind   string          `json:"kind" binding:"omitempty,oneof=energy currency"`
	Amount decimal.Decimal `json:"amount" binding:"decimal_gt0"`
}

type HistoryResponse struct {
	FactoryID string          `json:"factory_id"`
	Trades    []*models.Trade `json:"trades"`
	Count     int             `json:"count"`
}
