package routes

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	"energy-trading-api/internal/config"
	"energy-trading-api/internal/controller"
	"energy-trading-api/internal/engine"
	"energy-trading-api/internal/external"
	"energy-trading-api/internal/middleware"
	"energy-trading-api/internal/monitoring"
	"energy-trading-api/internal/ratelimit"
	"energy-trading-api/internal/repository"
	"energy-trading-api/internal/service"
)

type EnergyAPITestSuite struct {
	suite.Suite
	router *gin.Engine
	store  *repository.MemoryStore
	token  string
	selfID string
}

func TestEnergyAPITestSuite(t *testing.T) {
	suite.Run(t, new(EnergyAPITestSuite))
}

func testConfig() *config.Config {
	return &config.Config{
		Storage: config.StorageConfig{OpTimeout: time.Second},
		Auth: config.AuthConfig{
			Required:   true,
			JWTSecret:  "suite-secret",
			JWTExpiry:  time.Hour,
			JWTIssuer:  "energy-trading-api",
			BcryptCost: bcrypt.MinCost,
		},
		RateLimit: config.RateLimitConfig{
			LoginMaxAttempts:  5,
			LoginWindow:       15 * time.Minute,
			SignupMaxAttempts: 3,
			SignupWindow:      time.Hour,
		},
		Defaults: config.DefaultsConfig{
			EnergyBalance:    decimal.NewFromInt(100),
			CurrencyBalance:  decimal.NewFromInt(1000),
			AvailableEnergy:  decimal.NewFromInt(100),
			DailyConsumption: decimal.NewFromInt(50),
		},
	}
}

func (s *EnergyAPITestSuite) SetupTest() {
	gin.SetMode(gin.TestMode)
	cfg := testConfig()

	logger, _ := logtest.NewNullLogger()
	metrics := monitoring.NewPrometheusMetrics()
	audit := service.NewAuditService(logger)
	queue := external.NewNoopMessageQueue()
	s.store = repository.NewMemoryStore()

	ledger := engine.NewBalanceLedger(s.store, cfg.Storage.OpTimeout)
	settlement := engine.NewSettlementEngine(s.store, cfg.Storage.OpTimeout)
	tokens := service.NewTokenService(cfg.Auth)

	health := monitoring.NewHealthChecker("test")
	health.RegisterCheck("store", monitoring.NewStoreChecker("store", s.store))

	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(1000), ratelimit.AuthPolicies(cfg.RateLimit))

	router := NewRouter(Dependencies{
		FactoryController:   controller.NewFactoryController(service.NewFactoryService(s.store, ledger, queue, metrics, audit, cfg.Storage.OpTimeout)),
		TradeController:     controller.NewTradeController(service.NewTradeService(settlement, queue, metrics, audit)),
		AuthController:      controller.NewAuthController(service.NewAuthService(s.store, tokens, queue, metrics, audit, cfg)),
		HealthController:    controller.NewHealthController(health, metrics, controller.BuildInfo{Version: "test", Service: "energy-trading-api"}),
		AuthMiddleware:      middleware.NewAuthMiddleware(tokens, cfg.Auth.Required),
		LogMiddleware:       middleware.NewLoggingMiddleware(logger, metrics, nil),
		RateLimitMiddleware: middleware.NewRateLimitMiddleware(limiter, metrics, cfg.RateLimit),
		SecurityMiddleware:  middleware.NewSecurityMiddleware(0),
		Metrics:             metrics,
	})
	s.Require().NoError(router.SetupRoutes(&RouterConfig{EnableMetrics: true}))
	s.router = router.GetEngine()

	w := s.do(http.MethodPost, "/api/auth/signup", map[string]interface{}{
		"factory_name":     "Sun Farm",
		"fiscal_matricule": "FM-1",
		"energy_capacity":  "5000",
		"email":            "ops@sunfarm.example",
		"password":         "photon99",
	})
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	var created service.FactoryResponse
	s.decode(w, &created)
	s.selfID = created.Factory.ID

	w = s.do(http.MethodPost, "/api/auth/login", map[string]interface{}{
		"email":    "ops@sunfarm.example",
		"password": "photon99",
	})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var auth service.AuthResponse
	s.decode(w, &auth)
	s.token = auth.AccessToken
}

func (s *EnergyAPITestSuite) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *EnergyAPITestSuite) decode(w *httptest.ResponseRecorder, v interface{}) {
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), v))
}

func (s *EnergyAPITestSuite) registerFactory(id, energy, currency string) {
	w := s.do(http.MethodPost, "/api/factories", map[string]interface{}{
		"factory_id":       id,
		"name":             id + " plant",
		"initial_energy":   energy,
		"initial_currency": currency,
	})
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
}

func (s *EnergyAPITestSuite) TestHealthEndpoints() {
	w := s.do(http.MethodGet, "/health", nil)
	s.Equal(http.StatusOK, w.Code)
	var status monitoring.HealthStatus
	s.decode(w, &status)
	s.Equal(monitoring.StatusHealthy, status.Status)

	s.Equal(http.StatusOK, s.do(http.MethodGet, "/ready", nil).Code)

	w = s.do(http.MethodGet, "/version", nil)
	s.Equal(http.StatusOK, w.Code)
	var version controller.VersionResponse
	s.decode(w, &version)
	s.Equal("energy-trading-api", version.Service)
	s.Equal("test", version.Version)
	s.Contains(version.Runtime, "uptime_seconds")
	s.Contains(version.Runtime, "goroutine_count")

	w = s.do(http.MethodGet, "/metrics", nil)
	s.Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), "energy_trading_http_requests_total")
}

func (s *EnergyAPITestSuite) TestReadyFailsWhenStoreIsClosed() {
	s.Require().NoError(s.store.Close())
	s.Equal(http.StatusServiceUnavailable, s.do(http.MethodGet, "/ready", nil).Code)
}

func (s *EnergyAPITestSuite) TestProtectedRoutesRequireToken() {
	s.token = ""
	w := s.do(http.MethodGet, "/api/factories", nil)
	s.Equal(http.StatusUnauthorized, w.Code)

	var resp controller.ErrorResponse
	s.decode(w, &resp)
	s.Equal("unauthorized", resp.Error)
	s.NotEmpty(resp.RequestID)
}

func (s *EnergyAPITestSuite) TestTradeLifecycle() {
	s.registerFactory("Seller", "100", "0")
	s.registerFactory("Buyer", "0", "500")

	w := s.do(http.MethodPost, "/api/trades", map[string]interface{}{
		"seller_id":      "Seller",
		"buyer_id":       "Buyer",
		"energy_amount":  "40",
		"price_per_unit": "2.5",
	})
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	var trade struct {
		ID         string `json:"trade_id"`
		Status     string `json:"status"`
		TotalPrice string `json:"total_price"`
	}
	s.decode(w, &trade)
	s.Equal("pending", trade.Status)
	s.Equal("100", trade.TotalPrice)

	w = s.do(http.MethodPost, "/api/trades/"+trade.ID+"/execute", nil)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var settled engine.SettlementResult
	s.decode(w, &settled)
	s.True(settled.SellerBalance.EnergyBalance.Equal(decimal.NewFromInt(60)))
	s.True(settled.SellerBalance.CurrencyBalance.Equal(decimal.NewFromInt(100)))
	s.True(settled.BuyerBalance.EnergyBalance.Equal(decimal.NewFromInt(40)))
	s.True(settled.BuyerBalance.CurrencyBalance.Equal(decimal.NewFromInt(400)))

	// Only pending trades can be executed or cancelled
	s.Equal(http.StatusNotFound, s.do(http.MethodPost, "/api/trades/"+trade.ID+"/execute", nil).Code)
	s.Equal(http.StatusNotFound, s.do(http.MethodPost, "/api/trades/"+trade.ID+"/cancel", nil).Code)

	w = s.do(http.MethodGet, "/api/factories/Buyer/history", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var history controller.HistoryResponse
	s.decode(w, &history)
	s.Equal(1, history.Count)

	w = s.do(http.MethodGet, "/api/trades?status=completed&factory_id=Seller", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var list service.ListTradesResponse
	s.decode(w, &list)
	s.Equal(1, list.Count)
}

func (s *EnergyAPITestSuite) TestExecuteWithInsufficientFunds() {
	s.registerFactory("Seller", "100", "0")
	s.registerFactory("Buyer", "0", "10")

	w := s.do(http.MethodPost, "/api/trades", map[string]interface{}{
		"trade_id":       "T-poor",
		"seller_id":      "Seller",
		"buyer_id":       "Buyer",
		"energy_amount":  "10",
		"price_per_unit": "2",
	})
	s.Require().Equal(http.StatusCreated, w.Code)

	w = s.do(http.MethodPost, "/api/trades/T-poor/execute", nil)
	s.Equal(http.StatusUnprocessableEntity, w.Code)
	var resp controller.ErrorResponse
	s.decode(w, &resp)
	s.Equal("insufficient_funds", resp.Error)

	w = s.do(http.MethodGet, "/api/factories/Buyer/balance", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), `"currency_balance":"10"`)

	s.Equal(http.StatusOK, s.do(http.MethodPost, "/api/trades/T-poor/cancel", nil).Code)
}

func (s *EnergyAPITestSuite) TestValidationErrors() {
	tests := []struct {
		name    string
		path    string
		body    map[string]interface{}
		message string
	}{
		{
			name:    "negative trade amount",
			path:    "/api/trades",
			body:    map[string]interface{}{"seller_id": "A", "buyer_id": "B", "energy_amount": "-1", "price_per_unit": "1"},
			message: "energy_amount must be a positive number",
		},
		{
			name:    "missing buyer",
			path:    "/api/trades",
			body:    map[string]interface{}{"seller_id": "A", "energy_amount": "1", "price_per_unit": "1"},
			message: "buyer_id is required",
		},
		{
			name:    "unknown transfer kind",
			path:    "/api/energy/transfer",
			body:    map[string]interface{}{"from_id": "A", "to_id": "B", "kind": "gold", "amount": "1"},
			message: "kind must be one of: energy currency",
		},
		{
			name:    "zero mint",
			path:    "/api/energy/mint",
			body:    map[string]interface{}{"factory_id": "A", "amount": "0"},
			message: "amount must be a positive number",
		},
		{
			name:    "too many decimal places",
			path:    "/api/trades",
			body:    map[string]interface{}{"seller_id": "A", "buyer_id": "B", "energy_amount": "1.123456", "price_per_unit": "1"},
			message: "decimal places",
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			w := s.do(http.MethodPost, tt.path, tt.body)
			s.Equal(http.StatusBadRequest, w.Code)
			var resp controller.ErrorResponse
			s.decode(w, &resp)
			s.Equal("invalid_argument", resp.Error)
			s.Contains(resp.Message, tt.message)
		})
	}
}

func (s *EnergyAPITestSuite) TestMintAndTransfer() {
	s.registerFactory("A", "10", "0")
	s.registerFactory("B", "0", "0")

	w := s.do(http.MethodPost, "/api/energy/mint", map[string]interface{}{"factory_id": "A", "amount": "15"})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	s.Contains(w.Body.String(), `"energy_balance":"25"`)

	w = s.do(http.MethodPost, "/api/energy/transfer", map[string]interface{}{"from_id": "A", "to_id": "B", "amount": "30"})
	s.Equal(http.StatusUnprocessableEntity, w.Code)

	w = s.do(http.MethodPost, "/api/energy/transfer", map[string]interface{}{"from_id": "A", "to_id": "B", "amount": "20"})
	s.Require().Equal(http.StatusOK, w.Code)
	var result engine.TransferResult
	s.decode(w, &result)
	s.True(result.From.EnergyBalance.Equal(decimal.NewFromInt(5)))
	s.True(result.To.EnergyBalance.Equal(decimal.NewFromInt(20)))
}

func (s *EnergyAPITestSuite) TestEnergyLevelsAreSelfService() {
	s.registerFactory("Other", "10", "0")

	w := s.do(http.MethodPut, "/api/factories/"+s.selfID+"/available-energy", map[string]interface{}{"available_energy": "30"})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodPut, "/api/factories/"+s.selfID+"/daily-consumption", map[string]interface{}{"daily_consumption": "45"})
	s.Require().Equal(http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/api/factories/"+s.selfID+"/energy-status", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var status struct {
		Status     string `json:"status"`
		Difference string `json:"difference"`
	}
	s.decode(w, &status)
	s.Equal("deficit", status.Status)
	s.Equal("-15", status.Difference)

	w = s.do(http.MethodPut, "/api/factories/Other/available-energy", map[string]interface{}{"available_energy": "1"})
	s.Equal(http.StatusUnauthorized, w.Code)
}

func (s *EnergyAPITestSuite) TestLoginIsRateLimited() {
	// One login already happened in SetupTest
	for i := 0; i < 4; i++ {
		w := s.do(http.MethodPost, "/api/auth/login", map[string]interface{}{"email": "ops@sunfarm.example", "password": "wrong-pass1"})
		s.Require().Equal(http.StatusUnauthorized, w.Code)
		s.Contains(w.Body.String(), "invalid email or password")
	}

	w := s.do(http.MethodPost, "/api/auth/login", map[string]interface{}{"email": "ops@sunfarm.example", "password": "photon99"})
	s.Equal(http.StatusTooManyRequests, w.Code)
	s.NotEmpty(w.Header().Get("Retry-After"))
	s.True(strings.Contains(w.Body.String(), "too many login attempts"))
}

func (s *EnergyAPITestSuite) TestDuplicateSignup() {
	w := s.do(http.MethodPost, "/api/auth/signup", map[string]interface{}{
		"factory_name":     "Sun Farm Again",
		"fiscal_matricule": "FM-2",
		"email":            "OPS@sunfarm.example",
		"password":         "photon99",
	})
	s.Equal(http.StatusConflict, w.Code)
}
