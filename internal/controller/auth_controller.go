package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"energy-trading-api/internal/service"
)

type AuthController struct {
	authService service.AuthService
}

func NewAuthController(authService service.AuthService) *AuthController {
	return &AuthController{
		authService: authService,
	}
}

// @Summary Sign up a factory account
// @Tags auth
// @Accept json
// @Produce json
// @Param request body SignupRequest true "Signup request"
// @Success 201 {object} service.FactoryResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse "Email already registered"
// @Failure 429 {object} ErrorResponse
// @Router /api/auth/signup [post]
func (c *AuthController) Signup(ctx *gin.Context) {
	var req SignupRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		respondBindingError(ctx, err)
		return
	}

	response, err := c.authService.Signup(ctx.Request.Context(), &service.SignupRequest{
		FactoryName:     req.FactoryName,
		Localisation:    req.Localisation,
		FiscalMatricule: req.FiscalMatricule,
		EnergyCapacity:  req.EnergyCapacity,
		ContactInfo:     req.ContactInfo,
		EnergySource:    req.EnergySource,
		Email:           req.Email,
		Password:        req.Password,
	})
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, response)
}

// @Summary Log in
// @Tags auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login request"
// @Success 200 {object} service.AuthResponse
// @Failure 401 {object} ErrorResponse "Invalid email or password"
// @Failure 429 {object} ErrorResponse
// @Router /api/auth/login [post]
func (c *AuthController) Login(ctx *gin.Context) {
	var req LoginRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		respondBindingError(ctx, err)
		return
	}

	response, err := c.authService.Login(ctx.Request.Context(), &service.LoginRequest{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, response)
}

// Password strength is checked by the service so that its message reaches the client
type SignupRequest struct {
	FactoryName     string          `json:"factory_name" binding:"required,max=120"`
	Localisation    string          `json:"localisation" binding:"max=200"`
	FiscalMatricule string          `json:"fiscal_matricule" binding:"required,max=64"`
	EnergyCapacity  decimal.Decimal `json:"energy_capacity" binding:"decimal_gte0"`
	ContactInfo     string          `json:"contact_info" binding:"max=200"`
	EnergySource    string          `json:"energy_source" binding:"max=40"`
	Email           string          `json:"email" binding:"required,email"`
	Password        string          `json:"password" binding:"required"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}
