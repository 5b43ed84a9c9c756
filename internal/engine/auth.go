package engine

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/poolmarket/internal/domain"
)

// requireSigner fails with denied unless caller is the stored identity.
func requireSigner(stored, caller common.Address, denied error) error {
	if stored == (common.Address{}) || stored != caller {
		return denied
	}
	return nil
}

// requireResolver allows the market's oracle or the platform authority. A
// market created without an oracle can only be resolved by the authority.
func requireResolver(m domain.Market, reg domain.Registry, caller common.Address) error {
	if requireSigner(m.Oracle, caller, domain.ErrUnauthorizedResolver) == nil {
		return nil
	}
	return requireSigner(reg.Authority, caller, domain.ErrUnauthorizedResolver)
}
