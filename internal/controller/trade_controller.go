package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"energy-trading-api/internal/engine"
	"energy-trading-api/internal/service"
)

type TradeController struct {
	tradeService service.TradeService
}

func NewTradeController(tradeService service.TradeService) *TradeController {
	return &TradeController{
		tradeService: tradeService,
	}
}

// @Summary Create a pending trade
// @Description Record a trade between seller and buyer. Balances move only when it is executed.
// @Tags trades
// @Accept json
// @Produce json
// @Param request body CreateTradeRequest true "Create trade request"
// @Success 201 {object} models.Trade
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/trades [post]
func (c *TradeController) CreateTrade(ctx *gin.Context) {
	var req CreateTradeRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		respondBindingError(ctx, err)
		return
	}

	trade, err := c.tradeService.CreateTrade(ctx.Request.Context(), &engine.CreateTradeRequest{
		TradeID:      req.TradeID,
		SellerID:     req.SellerID,
		BuyerID:      req.BuyerID,
		EnergyAmount: req.EnergyAmount,
		PricePerUnit: req.PricePerUnit,
	})
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, trade)
}

// @Summary List trades
// @Tags trades
// @Produce json
// @Param factory_id query string false "Seller or buyer"
// @Param status query string false "pending, completed or cancelled"
// @Param limit query int false "Page size" default(50)
// @Param offset query int false "Offset" default(0)
// @Success 200 {object} service.ListTradesResponse
// @Failure 400 {object} ErrorResponse
// @Router /api/trades [get]
func (c *TradeController) ListTrades(ctx *gin.Context) {
	response, err := c.tradeService.ListTrades(ctx.Request.Context(), &service.ListTradesRequest{
		FactoryID: ctx.Query("factory_id"),
		Status:    ctx.Query("status"),
		Limit:     getQueryInt(ctx, "limit", 0),
		Offset:    getQueryInt(ctx, "offset", 0),
	})
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, response)
}

func (c *TradeController) GetTrade(ctx *gin.Context) {
	trade, err := c.tradeService.GetTrade(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, trade)
}

// @Summary Execute a pending trade
// @Description Settle the trade: energy moves to the buyer and payment to the seller atomically.
// @Tags trades
// @Produce json
// @Param id path string true "Trade ID"
// @Success 200 {object} engine.SettlementResult
// @Failure 404 {object} ErrorResponse "Trade missing or no longer pending"
// @Failure 422 {object} ErrorResponse "Seller lacks energy or buyer lacks currency"
// @Security BearerAuth
// @Router /api/trades/{id}/execute [post]
func (c *TradeController) ExecuteTrade(ctx *gin.Context) {
	result, err := c.tradeService.ExecuteTrade(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, result)
}

func (c *TradeController) CancelTrade(ctx *gin.Context) {
	trade, err := c.tradeService.CancelTrade(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, trade)
}

type CreateTradeRequest struct {
	TradeID      string          `json:"trade_id" binding:"omitempty,max=64"`
	SellerID     string          `json:"seller_id" binding:"required"`
	BuyerID      string          `json:"buyer_id" binding:"required"`
	EnergyAmount decimal.Decimal `json:"energy_amount" binding:"decimal_gt0"`
	PricePerUnit decimal.Decimal `json:"price_per_unit" binding:"decimal_gt0"`
}
