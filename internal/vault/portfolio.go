package vault

import (
	"fmt"

	"asset-rebalancer/internal/allocation"
	"asset-rebalancer/pkg/address"
	"asset-rebalancer/pkg/oracle"
)

// Derivation seeds. Every privileged address is re-derived from these and a
// stored bump before use.
const (
	SeedPortfolio   = "portfolio_info"
	SeedVaultSigner = "vault_signer"
	SeedTokenAVault = "token_a_vault"
	SeedTokenBVault = "token_b_vault"
	SeedQuoteVault  = "pc_vault"
	SeedOpenOrdersA = "open_orders_a"
	SeedOpenOrdersB = "open_orders_b"
)

// Holding is one risk asset of a portfolio.
type Holding struct {
	Symbol         string            `json:"symbol"`
	Mint           address.Address   `json:"mint"`
	Decimals       uint8             `json:"decimals"`
	Vault          address.Address   `json:"vault"`
	VaultBump      uint8             `json:"vault_bump"`
	Market         address.Address   `json:"market"`
	OpenOrders     address.Address   `json:"open_orders"`
	OpenOrdersBump uint8             `json:"open_orders_bump"`
	Feed           string            `json:"feed"`
	TargetPct      uint16            `json:"target_pct"`
	LastPrice      oracle.PriceQuote `json:"last_price"`
}

// Portfolio is the per-owner program account. It holds only values so the
// runtime can copy it between transactions.
type Portfolio struct {
	Address         address.Address `json:"address"`
	Bump            uint8           `json:"bump"`
	Owner           address.Address `json:"owner"`
	VaultSigner     address.Address `json:"vault_signer"`
	VaultSignerBump uint8           `json:"vault_signer_bump"`

	A Holding `json:"token_a"`
	B Holding `json:"token_b"`

	QuoteMint      address.Address `json:"quote_mint"`
	QuoteDecimals  uint8           `json:"quote_decimals"`
	QuoteVault     address.Address `json:"quote_vault"`
	QuoteVaultBump uint8           `json:"quote_vault_bump"`

	State           State  `json:"state"`
	AutoRebalance   bool   `json:"auto_rebalance"`
	Sequence        uint64 `json:"sequence"`
	LastPriceUpdate int64  `json:"last_price_update"`
	CreatedAt       int64  `json:"created_at"`
	UpdatedAt       int64  `json:"updated_at"`
}

func (p Portfolio) holding(w allocation.Which) Holding {
	if w == allocation.AssetA {
		return p.A
	}
	return p.B
}

// tombstone is what remains after withdraw.
func (p Portfolio) tombstone(now int64) Portfolio {
	return Portfolio{
		Address:   p.Address,
		Bump:      p.Bump,
		Owner:     p.Owner,
		State:     StateWithdrawn,
		Sequence:  p.Sequence,
		CreatedAt: p.CreatedAt,
		UpdatedAt: now,
	}
}

// Addresses derives every program address of one owner.
type Addresses struct {
	Portfolio       address.Address
	PortfolioBump   uint8
	VaultSigner     address.Address
	VaultSignerBump uint8
	VaultA          address.Address
	VaultABump      uint8
	VaultB          address.Address
	VaultBBump      uint8
	QuoteVault      address.Address
	QuoteVaultBump  uint8
	OpenOrdersA     address.Address
	OpenOrdersABump uint8
	OpenOrdersB     address.Address
	OpenOrdersBBump uint8
}

// Derive computes the addresses of owner's portfolio under program.
func Derive(program, owner address.Address) (Addresses, error) {
	var (
		a   Addresses
		err error
	)
	if a.Portfolio, a.PortfolioBump, err = address.FindProgramAddress(seeds(SeedPortfolio, owner), program); err != nil {
		return a, err
	}
	if a.VaultSigner, a.VaultSignerBump, err = address.FindProgramAddress(seeds(SeedVaultSigner, a.Portfolio), program); err != nil {
		return a, err
	}
	if a.VaultA, a.VaultABump, err = address.FindProgramAddress(seeds(SeedTokenAVault, a.Portfolio), program); err != nil {
		return a, err
	}
	if a.VaultB, a.VaultBBump, err = address.FindProgramAddress(seeds(SeedTokenBVault, a.Portfolio), program); err != nil {
		return a, err
	}
	if a.QuoteVault, a.QuoteVaultBump, err = address.FindProgramAddress(seeds(SeedQuoteVault, a.Portfolio), program); err != nil {
		return a, err
	}
	if a.OpenOrdersA, a.OpenOrdersABump, err = address.FindProgramAddress(seeds(SeedOpenOrdersA, a.VaultSigner), program); err != nil {
		return a, err
	}
	a.OpenOrdersB, a.OpenOrdersBBump, err = address.FindProgramAddress(seeds(SeedOpenOrdersB, a.VaultSigner), program)
	return a, err
}

// PortfolioAddress derives only the portfolio account of owner.
func PortfolioAddress(program, owner address.Address) (address.Address, uint8, error) {
	return address.FindProgramAddress(seeds(SeedPortfolio, owner), program)
}

func seeds(label string, key address.Address) [][]byte {
	return [][]byte{[]byte(label), key.Bytes()}
}

type derivation struct {
	label    string
	key      address.Address
	bump     uint8
	expected address.Address
}

// verify re-derives the stored authorities of p.
func (p Portfolio) verify(program address.Address) error {
	checks := []derivation{
		{SeedPortfolio, p.Owner, p.Bump, p.Address},
		{SeedVaultSigner, p.Address, p.VaultSignerBump, p.VaultSigner},
		{SeedTokenAVault, p.Address, p.A.VaultBump, p.A.Vault},
		{SeedTokenBVault, p.Address, p.B.VaultBump, p.B.Vault},
		{SeedQuoteVault, p.Address, p.QuoteVaultBump, p.QuoteVault},
	}
	if p.State.hasOpenOrders() {
		checks = append(checks,
			derivation{SeedOpenOrdersA, p.VaultSigner, p.A.OpenOrdersBump, p.A.OpenOrders},
			derivation{SeedOpenOrdersB, p.VaultSigner, p.B.OpenOrdersBump, p.B.OpenOrders},
		)
	}
	for _, c := range checks {
		if err := address.VerifyProgramAddress(seeds(c.label, c.key), c.bump, program, c.expected); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidDerivation, c.label, err)
		}
	}
	return nil
}
