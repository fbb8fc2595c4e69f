package domain

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Asset is a token on a specific chain.
type Asset struct {
	Chain    string
	Token    string
	Contract string
	Decimals int32
}

// AssetKey normalises a chain/token pair for registry lookups.
func AssetKey(chain, token string) string {
	return strings.ToLower(chain) + ":" + strings.ToLower(token)
}

// ToBaseUnits converts a token amount to integer base units, flooring any
// precision beyond the token's decimals. Floating point is never involved.
func ToBaseUnits(amount decimal.Decimal, decimals int32) (*big.Int, error) {
	if amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	raw := amount.Shift(decimals).Floor().BigInt()
	if raw.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	return raw, nil
}

// FromBaseUnits converts base units back to a token amount for presentation.
func FromBaseUnits(raw *big.Int, decimals int32) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -decimals)
}

// ValidAddress reports whether addr is a well-formed EVM address.
func ValidAddress(addr string) bool {
	return common.IsHexAddress(addr) && common.HexToAddress(addr) != (common.Address{})
}

// AssetRegistry resolves configured tokens and platform wallets.
// It is built once at startup and read concurrently afterwards.
type AssetRegistry struct {
	assets  map[string]Asset
	wallets map[string]PlatformWallet
}

// NewAssetRegistry indexes assets and wallets.
func NewAssetRegistry(assets []Asset, wallets []PlatformWallet) *AssetRegistry {
	r := &AssetRegistry{
		assets:  make(map[string]Asset, len(assets)),
		wallets: make(map[string]PlatformWallet, len(wallets)),
	}
	for _, a := range assets {
		r.assets[AssetKey(a.Chain, a.Token)] = a
	}
	for _, w := range wallets {
		r.wallets[AssetKey(w.Chain, string(w.Role))] = w
	}
	return r
}

// Asset looks up a token on a chain.
func (r *AssetRegistry) Asset(chain, token string) (Asset, bool) {
	a, ok := r.assets[AssetKey(chain, token)]
	return a, ok
}

// Wallet looks up a platform wallet on a chain.
func (r *AssetRegistry) Wallet(chain string, role WalletRole) (PlatformWallet, bool) {
	w, ok := r.wallets[AssetKey(chain, string(role))]
	return w, ok
}

// Assets returns every configured asset.
func (r *AssetRegistry) Assets() []Asset {
	out := make([]Asset, 0, len(r.assets))
	for _, a := range r.assets {
		out = append(out, a)
	}
	return out
}
