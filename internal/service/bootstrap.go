package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/poolmarket/internal/domain"
)

// Bootstrap initializes the registry on first start. An existing registry is
// left untouched, whoever created it.
func (s *SettlementService) Bootstrap(ctx context.Context, authority common.Address, feeBps uint32, feeRecipient common.Address) (domain.Registry, error) {
	reg, err := s.Registry(ctx)
	if err == nil {
		s.logger.InfoContext(ctx, "registry already initialized",
			slog.String("authority", reg.Authority.Hex()),
			slog.Int("fee_bps", int(reg.FeeBps)),
		)
		return reg, nil
	}
	if !errors.Is(err, domain.ErrRegistryNotInitialized) {
		return domain.Registry{}, err
	}

	reg, err = s.Initialize(ctx, authority, feeBps, feeRecipient)
	if errors.Is(err, domain.ErrRegistryAlreadyInitialized) {
		// Another instance won the race.
		return s.Registry(ctx)
	}
	return reg, err
}
