package service

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"energy-trading-api/internal/config"
	"energy-trading-api/internal/external"
	"energy-trading-api/internal/models"
	"energy-trading-api/internal/monitoring"
	"energy-trading-api/internal/repository"
	apperrors "energy-trading-api/pkg/errors"
)

const minPasswordLength = 8

type AuthService interface {
	Signup(ctx context.Context, req *SignupRequest) (*FactoryResponse, error)
	Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error)
}

type authService struct {
	store      repository.Store
	tokens     TokenService
	events     eventPublisher
	metrics    monitoring.MetricsService
	audit      AuditService
	defaults   config.DefaultsConfig
	bcryptCost int
	opTimeout  time.Duration
	now        func() time.Time
}

func NewAuthService(
	store repository.Store,
	tokens TokenService,
	queue external.MessageQueue,
	metrics monitoring.MetricsService,
	audit AuditService,
	cfg *config.Config,
) AuthService {
	return &authService{
		store:      store,
		tokens:     tokens,
		events:     eventPublisher{queue: queue, metrics: metrics},
		metrics:    metrics,
		audit:      audit,
		defaults:   cfg.Defaults,
		bcryptCost: cfg.Auth.BcryptCost,
		opTimeout:  cfg.Storage.OpTimeout,
		now:        time.Now,
	}
}

type SignupRequest struct {
	FactoryName     string          `json:"factory_name"`
	Localisation    string          `json:"localisation"`
	FiscalMatricule string          `json:"fiscal_matricule"`
	EnergyCapacity  decimal.Decimal `json:"energy_capacity"`
	ContactInfo     string          `json:"contact_info"`
	EnergySource    string          `json:"energy_source"`
	Email           string          `json:"email"`
	Password        string          `json:"password"`
}

func (r *SignupRequest) Validate() error {
	if strings.TrimSpace(r.Email) == "" || r.Password == "" ||
		strings.TrimSpace(r.FactoryName) == "" || strings.TrimSpace(r.FiscalMatricule) == "" {
		return apperrors.NewInvalidArgumentError("email, password, factory name and fiscal matricule are required")
	}
	if !strings.Contains(r.Email, "@") {
		return apperrors.NewInvalidArgumentError("email address is malformed")
	}
	if r.EnergyCapacity.IsNegative() {
		return apperrors.NewInvalidArgumentError("energy capacity cannot be negative")
	}
	return validatePassword(r.Password)
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	AccessToken string          `json:"access_token"`
	TokenType   string          `json:"token_type"`
	ExpiresIn   int64           `json:"expires_in"`
	Factory     *models.Factory `json:"factory"`
}

func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return apperrors.NewInvalidArgumentError("password must be at least %d characters long", minPasswordLength)
	}

	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return apperrors.NewInvalidArgumentError("password must contain at least one letter and one number")
	}
	return nil
}

// Signup creates a factory profile with the configured starting balances
func (s *authService) Signup(ctx context.Context, req *SignupRequest) (*FactoryResponse, error) {
	resp, err := s.signup(ctx, req)
	s.metrics.RecordAuthAttempt("signup", outcomeOf(err))
	s.audit.LogAuthEvent(ctx, AuditSignup, normalizeEmail(req.Email), err == nil)
	return resp, err
}

func (s *authService) signup(ctx context.Context, req *SignupRequest) (*FactoryResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to hash password", err)
	}

	ctx, cancel := withOpTimeout(ctx, s.opTimeout)
	defer cancel()

	now := s.now()
	email := normalizeEmail(req.Email)
	factory := &models.Factory{
		ID:              models.GenerateFactoryID(now),
		Name:            strings.TrimSpace(req.FactoryName),
		EnergyType:      req.EnergySource,
		Email:           &email,
		PasswordHash:    string(hash),
		Localisation:    req.Localisation,
		FiscalMatricule: strings.TrimSpace(req.FiscalMatricule),
		EnergyCapacity:  req.EnergyCapacity,
		ContactInfo:     req.ContactInfo,
		CreatedAt:       now.UTC(),
	}
	available := s.defaults.AvailableEnergy
	balance := models.NewFactoryBalance(factory.ID,
		s.defaults.EnergyBalance,
		s.defaults.CurrencyBalance,
		&available,
		s.defaults.DailyConsumption,
		now,
	)

	err = s.store.WithinTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.CreateFactory(ctx, factory, balance)
	})
	if err != nil {
		return nil, err
	}

	s.events.publish(ctx, external.CreateFactoryEvent(factory, balance, now))
	return &FactoryResponse{Factory: factory, Balance: balance}, nil
}

// Login verifies the password and issues an access token. Unknown emails and
// wrong passwords produce the same error.
func (s *authService) Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error) {
	resp, err := s.login(ctx, req)
	s.metrics.RecordAuthAttempt("login", outcomeOf(err))
	s.audit.LogAuthEvent(ctx, AuditLogin, normalizeEmail(req.Email), err == nil)
	return resp, err
}

func (s *authService) login(ctx context.Context, req *LoginRequest) (*AuthResponse, error) {
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return nil, apperrors.NewInvalidArgumentError("email and password are required")
	}

	ctx, cancel := withOpTimeout(ctx, s.opTimeout)
	defer cancel()

	factory, err := s.store.GetFactoryByEmail(ctx, normalizeEmail(req.Email))
	if apperrors.IsKind(err, apperrors.KindNotFound) {
		return nil, apperrors.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(factory.PasswordHash), []byte(req.Password)); err != nil {
		return nil, apperrors.ErrInvalidCredentials
	}

	token, ttl, err := s.tokens.GenerateAccessToken(factory)
	if err != nil {
		return nil, err
	}

	return &AuthResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(ttl.Seconds()),
		Factory:     factory,
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
