package ledger

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Seed tags for deterministic account addresses. An address is
// keccak256(tag || seeds...), so every key tuple maps to exactly one account.
const (
	seedGlobal = "global"
	seedMarket = "market"
	seedVault  = "vault"
	seedBet    = "bet"
	seedToken  = "token"
)

func derive(tag string, seeds ...[]byte) common.Hash {
	parts := make([][]byte, 0, len(seeds)+1)
	parts = append(parts, []byte(tag))
	parts = append(parts, seeds...)
	return crypto.Keccak256Hash(parts...)
}

// RegistryAddress is the address of the platform registry singleton.
func RegistryAddress() common.Hash {
	return derive(seedGlobal)
}

// MarketAddress derives the market record address from its id.
func MarketAddress(id uint64) common.Hash {
	var le [8]byte
	binary.LittleEndian.PutUint64(le[:], id)
	return derive(seedMarket, le[:])
}

// VaultAddress derives a market's escrow vault address from the market address.
func VaultAddress(market common.Hash) common.Hash {
	return derive(seedVault, market.Bytes())
}

// BetAddress derives the ledger entry address for a (user, market) pair.
func BetAddress(user common.Address, market common.Hash) common.Hash {
	return derive(seedBet, user.Bytes(), market.Bytes())
}

// TokenAddress derives the external token account address of owner.
func TokenAddress(owner common.Address) common.Hash {
	return derive(seedToken, owner.Bytes())
}
