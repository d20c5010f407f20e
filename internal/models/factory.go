package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Energy status values derived from available energy versus daily consumption
const (
	EnergyStatusSurplus  = "surplus"
	EnergyStatusDeficit  = "deficit"
	EnergyStatusBalanced = "balanced"
)

// Factory is the profile of a trading participant
type Factory struct {
	ID              string          `json:"factory_id" db:"factory_id" gorm:"column:factory_id;primaryKey;size:64"`
	Name            string          `json:"name" db:"name" gorm:"size:255;not null"`
	EnergyType      string          `json:"energy_type" db:"energy_type" gorm:"size:32"`
	Email           *string         `json:"email,omitempty" db:"email" gorm:"size:191;uniqueIndex"`
	PasswordHash    string          `json:"-" db:"password_hash" gorm:"size:255"`
	Localisation    string          `json:"localisation,omitempty" db:"localisation" gorm:"size:255"`
	FiscalMatricule string          `json:"fiscal_matricule,omitempty" db:"fiscal_matricule" gorm:"size:64"`
	EnergyCapacity  decimal.Decimal `json:"energy_capacity" db:"energy_capacity" gorm:"type:decimal(38,8);not null;default:0"`
	ContactInfo     string          `json:"contact_info,omitempty" db:"contact_info" gorm:"size:255"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at" gorm:"autoCreateTime:false"`
}

func (Factory) TableName() string {
	return "factories"
}

// EmailAddress returns the login email or an empty string
func (f *Factory) EmailAddress() string {
	if f.Email == nil {
		return ""
	}
	return *f.Email
}

// FactoryBalance is the authoritative balance record of a factory
type FactoryBalance struct {
	FactoryID        string          `json:"factory_id" db:"factory_id" gorm:"column:factory_id;primaryKey;size:64"`
	EnergyBalance    decimal.Decimal `json:"energy_balance" db:"energy_balance" gorm:"type:decimal(38,8);not null;default:0"`
	CurrencyBalance  decimal.Decimal `json:"currency_balance" db:"currency_balance" gorm:"type:decimal(38,8);not null;default:0"`
	AvailableEnergy  decimal.Decimal `json:"available_energy" db:"available_energy" gorm:"type:decimal(38,8);not null;default:0"`
	DailyConsumption decimal.Decimal `json:"daily_consumption" db:"daily_consumption" gorm:"type:decimal(38,8);not null;default:0"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at" gorm:"autoUpdateTime:false"`
}

func (FactoryBalance) TableName() string {
	return "factory_balances"
}

// EnergyStatus describes whether a factory produces more than it consumes
type EnergyStatus struct {
	FactoryID        string          `json:"factory_id"`
	FactoryName      string          `json:"factory_name,omitempty"`
	AvailableEnergy  decimal.Decimal `json:"available_energy"`
	DailyConsumption decimal.Decimal `json:"daily_consumption"`
	Difference       decimal.Decimal `json:"difference"`
	Status           string          `json:"status"`
}

// NewFactoryBalance creates a balance record; availableEnergy follows energy when not given
func NewFactoryBalance(factoryID string, energy, currency decimal.Decimal, available *decimal.Decimal, dailyConsumption decimal.Decimal, now time.Time) *FactoryBalance {
	avail := energy
	if available != nil {
		avail = *available
	}
	return &FactoryBalance{
		FactoryID:        factoryID,
		EnergyBalance:    energy,
		CurrencyBalance:  currency,
		AvailableEnergy:  avail,
		DailyConsumption: dailyConsumption,
		UpdatedAt:        now.UTC(),
	}
}

// Clone returns an independent copy of the record
func (b *FactoryBalance) Clone() *FactoryBalance {
	c := *b
	return &c
}

// Touch records a mutation time
func (b *FactoryBalance) Touch(now time.Time) {
	b.UpdatedAt = now.UTC()
}

// EnergyStatus computes the surplus/deficit view of the balance
func (b *FactoryBalance) EnergyStatus() EnergyStatus {
	diff := b.AvailableEnergy.Sub(b.DailyConsumption)

	status := EnergyStatusBalanced
	switch diff.Sign() {
	case 1:
		status = EnergyStatusSurplus
	case -1:
		status = EnergyStatusDeficit
	}

	return EnergyStatus{
		FactoryID:        b.FactoryID,
		AvailableEnergy:  b.AvailableEnergy,
		DailyConsumption: b.DailyConsumption,
		Difference:       diff,
		Status:           status,
	}
}

// Validate checks that no balance is negative
func (b *FactoryBalance) Validate() error {
	if strings.TrimSpace(b.FactoryID) == "" {
		return fmt.Errorf("factory ID is required")
	}
	if b.EnergyBalance.IsNegative() {
		return fmt.Errorf("energy balance cannot be negative")
	}
	if b.CurrencyBalance.IsNegative() {
		return fmt.Errorf("currency balance cannot be negative")
	}
	if b.AvailableEnergy.IsNegative() {
		return fmt.Errorf("available energy cannot be negative")
	}
	if b.DailyConsumption.IsNegative() {
		return fmt.Errorf("daily consumption cannot be negative")
	}
	return nil
}

// GenerateFactoryID returns an id of the form Factory_<unix millis>_<suffix>
func GenerateFactoryID(now time.Time) string {
	return generateID("Factory", now)
}

// GenerateTradeID returns an id of the form Trade_<unix millis>_<suffix>
func GenerateTradeID(now time.Time) string {
	return generateID("Trade", now)
}

func generateID(prefix string, now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("%s_%d_%s", prefix, now.UnixMilli(), suffix)
}
