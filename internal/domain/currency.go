/**
 * @description
 * This file defines the currency ledger domain models. Each currency row
 * tracks the organization's custodial balance in whole units alongside the
 * on-chain scaling factor (number of decimals). Balance mutations use
 * exact-precision decimal arithmetic; see internal/app/settlement.go.
 */

package domain

import "github.com/shopspring/decimal"

// Currency kinds, as reported by the settlement proxy.
const (
	CurrencyKindCoin  = 0
	CurrencyKindToken = 1
)

// Currency is one supported coin or token and its custodial balance.
type Currency struct {
	ID        int64           `json:"id"`
	Currency  string          `json:"currency"`
	Factor    int32           `json:"factor"`
	Balance   decimal.Decimal `json:"balance"`
	Address   *string         `json:"address,omitempty"`
	Available bool            `json:"-"`
	IsToken   bool            `json:"-"`
}

// ScaleFactor returns 10^factor as a decimal, the multiplier between whole
// units and the on-chain integer representation.
func (c *Currency) ScaleFactor() decimal.Decimal {
	return decimal.New(1, c.Factor)
}

// DepositRecord is one credited on-chain deposit. Multi-input deposits
// produce one row per source address under a shared order number.
type DepositRecord struct {
	OrderNumber string          `json:"order_number"`
	FromAddr    string          `json:"from_addr"`
	ToAddr      string          `json:"to_addr"`
	CurrencyID  int64           `json:"-"`
	Amount      decimal.Decimal `json:"amount"`
	ChainTxID   string          `json:"tx_id"`
}

// CurrencyListing is one row of the currency list exposed to clients.
type CurrencyListing struct {
	Currency string  `json:"currency"`
	Address  *string `json:"address"`
}

// AssetBalance is one row of the root-only asset listing.
type AssetBalance struct {
	Currency string          `json:"currency"`
	Balance  decimal.Decimal `json:"balance"`
}
