package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"energy-trading-api/internal/models"
	apperrors "energy-trading-api/pkg/errors"
)

type seedFactory struct {
	id, name, energyType                      string
	energy, currency, dailyConsumption, avail int64
}

var demoFactories = []seedFactory{
	{"Factory01", "Solar Manufacturing Plant", "solar", 1000, 1000, 800, 1200},
	{"Factory02", "Wind Power Assembly", "wind", 800, 800, 750, 850},
	{"Factory03", "Tech Production Facility", "footstep", 500, 500, 600, 450},
	{"Factory04", "Heavy Industry Corp", "solar", 300, 300, 900, 250},
	{"Factory05", "Electronics Assembly", "wind", 600, 600, 550, 700},
}

// SeedDemoData registers the demo factories, skipping any that already exist
func SeedDemoData(ctx context.Context, store Store, now time.Time) (int, error) {
	created := 0
	for _, s := range demoFactories {
		factory := &models.Factory{
			ID:         s.id,
			Name:       s.name,
			EnergyType: s.energyType,
			CreatedAt:  now.UTC(),
		}
		avail := decimal.NewFromInt(s.avail)
		balance := models.NewFactoryBalance(s.id,
			decimal.NewFromInt(s.energy),
			decimal.NewFromInt(s.currency),
			&avail,
			decimal.NewFromInt(s.dailyConsumption),
			now,
		)

		err := store.WithinTransaction(ctx, func(ctx context.Context, tx Tx) error {
			return tx.CreateFactory(ctx, factory, balance)
		})
		if apperrors.IsKind(err, apperrors.KindConflict) {
			continue
		}
		if err != nil {
			return created, err
		}
		created++
	}

	return created, nil
}
