/**
 * @description
 * Capital bookkeeping: the currency ledger and the settlement-layer
 * callbacks that move it. Deposits are credited when the agent reports an
 * on-chain arrival; withdrawals are debited only on the final settlement
 * confirmation. All balance arithmetic is exact decimal scaled by the
 * currency's declared factor.
 *
 * @notes
 * - Callbacks are level-triggered notifications from the agent; an unknown
 *   withdrawal hash is acknowledged and dropped rather than failed, since
 *   the agent fans the same notice out to every companion service.
 */

package app

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/boxproject/box-appServer/internal/domain"
	"github.com/boxproject/box-appServer/internal/store"
	"github.com/boxproject/box-appServer/pkg/rabbitmq"
)

// DepositNotice is the agent's deposit-arrival callback payload. From may
// carry several source addresses separated by commas.
type DepositNotice struct {
	From     string
	To       string
	Amount   string
	ChainTx  string
	Category int64
}

// TradeListing is one page of the merged deposit and withdrawal history for
// a currency.
type TradeListing struct {
	domain.Page
	Currency string               `json:"currency"`
	List     []domain.TradeRecord `json:"list"`
}

// AssetListing is one page of the root-only asset overview.
type AssetListing struct {
	List []domain.AssetBalance `json:"list"`
}

// RecordDeposit credits an on-chain deposit reported by the agent. The raw
// amount arrives in the chain's integer representation and is scaled down by
// the currency factor; multi-input deposits store one row per source address
// under a shared order number but credit the balance once.
func (s *Service) RecordDeposit(ctx context.Context, notice DepositNotice) error {
	if notice.From == "" || notice.To == "" || notice.Amount == "" || notice.ChainTx == "" {
		return ErrInvalidParams
	}
	currency, err := s.repo.FindCurrencyByID(ctx, notice.Category)
	if err != nil {
		if errors.Is(err, store.ErrCurrencyNotFound) {
			return ErrCurrencyNotListed
		}
		return err
	}

	raw, err := decimal.NewFromString(notice.Amount)
	if err != nil {
		return ErrInvalidParams
	}
	amount := raw.DivRound(currency.ScaleFactor(), 8)

	orderNumber := uuid.NewString()
	var rows []domain.DepositRecord
	for _, from := range strings.Split(notice.From, ",") {
		rows = append(rows, domain.DepositRecord{
			OrderNumber: orderNumber,
			FromAddr:    from,
			ToAddr:      notice.To,
			CurrencyID:  currency.ID,
			Amount:      amount,
			ChainTxID:   notice.ChainTx,
		})
	}
	if err := s.repo.RecordDeposit(ctx, rows, amount); err != nil {
		return err
	}

	// The arrival address doubles as the currency's deposit address.
	if currency.Address == nil || *currency.Address == "" {
		if err := s.repo.UpdateCurrencyAddress(ctx, currency.ID, notice.To); err != nil {
			log.Printf("level=warn component=service op=record_deposit currency=%s msg=\"deposit address update failed\" err=%v", currency.Currency, err)
		}
	}

	event := rabbitmq.DepositEvent{
		OrderNumber: orderNumber,
		Currency:    currency.Currency,
		Amount:      amount.String(),
		ChainTxID:   notice.ChainTx,
		Timestamp:   time.Now(),
	}
	if err := s.eventProducer.PublishDepositEvent(ctx, event); err != nil {
		log.Printf("level=warn component=service op=record_deposit order_number=%s msg=\"event publish failed\" err=%v", orderNumber, err)
	}
	return nil
}

// RecordWithdrawalBroadcast marks a withdrawal as broadcast on chain. The
// balance is untouched until the final confirmation arrives.
func (s *Service) RecordWithdrawalBroadcast(ctx context.Context, wdHash, chainTxID string) error {
	if wdHash == "" || chainTxID == "" {
		return ErrInvalidParams
	}
	err := s.repo.MarkWithdrawalBroadcast(ctx, wdHash, chainTxID)
	if errors.Is(err, store.ErrTransferNotFound) {
		log.Printf("level=warn component=service op=withdraw_broadcast wd_hash=%s msg=\"no matching transfer; notice dropped\"", wdHash)
		return nil
	}
	return err
}

// RecordWithdrawalSettled marks a withdrawal as settled and debits the
// currency balance.
func (s *Service) RecordWithdrawalSettled(ctx context.Context, wdHash, chainTxID string) error {
	if wdHash == "" || chainTxID == "" {
		return ErrInvalidParams
	}
	settled, err := s.repo.FinalizeWithdrawal(ctx, wdHash, chainTxID)
	if errors.Is(err, store.ErrTransferNotFound) {
		log.Printf("level=warn component=service op=withdraw_settled wd_hash=%s msg=\"no matching transfer; notice dropped\"", wdHash)
		return nil
	}
	if err != nil {
		return err
	}

	var currencyName string
	if currency, err := s.repo.FindCurrencyByID(ctx, settled.CurrencyID); err == nil {
		currencyName = currency.Currency
	}
	event := rabbitmq.WithdrawalEvent{
		OrderNumber: settled.OrderNumber,
		Currency:    currencyName,
		Amount:      settled.Amount,
		ChainTxID:   chainTxID,
		Timestamp:   time.Now(),
	}
	if err := s.eventProducer.PublishWithdrawalEvent(ctx, event); err != nil {
		log.Printf("level=warn component=service op=withdraw_settled order_number=%s msg=\"event publish failed\" err=%v", settled.OrderNumber, err)
	}
	return nil
}

// SyncCurrencies pulls the agent's currency roster of the given kind and
// reconciles the local ledger against it: rows the agent no longer reports
// are retired, new rows are inserted, known rows are revived.
func (s *Service) SyncCurrencies(ctx context.Context, kind int) error {
	if kind != domain.CurrencyKindCoin && kind != domain.CurrencyKindToken {
		return ErrInvalidParams
	}

	var currencies []domain.Currency
	switch kind {
	case domain.CurrencyKindCoin:
		coins, err := s.agent.CoinList(ctx)
		if err != nil {
			return ErrUpstreamFault
		}
		for _, coin := range coins {
			currencies = append(currencies, domain.Currency{
				ID:       coin.Category,
				Currency: coin.Name,
				Factor:   coin.Decimals,
			})
		}
	case domain.CurrencyKindToken:
		tokens, err := s.agent.TokenList(ctx)
		if err != nil {
			return ErrUpstreamFault
		}
		// Tokens share the contract address the agent published.
		var tokenAddr *string
		if addrs, err := s.agent.DepositAddress(ctx); err == nil && addrs.ContractAddress != "" {
			tokenAddr = &addrs.ContractAddress
		}
		for _, token := range tokens {
			currencies = append(currencies, domain.Currency{
				ID:       token.Category,
				Currency: token.TokenName,
				Factor:   token.Decimals,
				Address:  tokenAddr,
				IsToken:  true,
			})
		}
	}
	return s.repo.SyncCurrencies(ctx, kind, currencies)
}

// Balance returns the custodial balance of one currency.
func (s *Service) Balance(ctx context.Context, appAccountID, currencyName string) (*domain.AssetBalance, error) {
	if appAccountID == "" || currencyName == "" {
		return nil, ErrInvalidParams
	}
	if _, err := s.accountByAppID(ctx, appAccountID); err != nil {
		return nil, err
	}
	currency, err := s.repo.FindCurrencyByName(ctx, currencyName)
	if err != nil {
		if errors.Is(err, store.ErrCurrencyNotFound) {
			return nil, ErrCurrencyNotListed
		}
		return nil, err
	}
	return &domain.AssetBalance{Currency: currency.Currency, Balance: currency.Balance}, nil
}

// CurrencyList returns the available currencies, backfilling any missing
// deposit address from the agent's published addresses on the way out.
func (s *Service) CurrencyList(ctx context.Context, appAccountID, keyword string) ([]domain.CurrencyListing, error) {
	if appAccountID == "" {
		return nil, ErrInvalidParams
	}
	if _, err := s.accountByAppID(ctx, appAccountID); err != nil {
		return nil, err
	}

	currencies, err := s.repo.ListCurrencies(ctx)
	if err != nil {
		return nil, err
	}

	var missing bool
	for i := range currencies {
		if currencies[i].Address == nil || *currencies[i].Address == "" {
			missing = true
			break
		}
	}
	if missing {
		if addrs, err := s.agent.DepositAddress(ctx); err == nil {
			for i := range currencies {
				currency := &currencies[i]
				if currency.Address != nil && *currency.Address != "" {
					continue
				}
				var addr string
				switch currency.Currency {
				case "ETH":
					addr = addrs.ContractAddress
				case "BTC":
					addr = addrs.BtcAddress
				}
				if addr == "" {
					continue
				}
				if err := s.repo.UpdateCurrencyAddress(ctx, currency.ID, addr); err != nil {
					log.Printf("level=warn component=service op=currency_list currency=%s msg=\"address backfill failed\" err=%v", currency.Currency, err)
					continue
				}
				currency.Address = &addr
			}
		} else {
			log.Printf("level=warn component=service op=currency_list msg=\"agent address query failed\" err=%v", err)
		}
	}

	listing := make([]domain.CurrencyListing, 0, len(currencies))
	for _, currency := range currencies {
		if keyword != "" && !strings.Contains(strings.ToUpper(currency.Currency), strings.ToUpper(keyword)) {
			continue
		}
		listing = append(listing, domain.CurrencyListing{Currency: currency.Currency, Address: currency.Address})
	}
	return listing, nil
}

// Assets returns every currency balance. Only the organization owner may
// see the full book.
func (s *Service) Assets(ctx context.Context, appAccountID string, page, limit int) (*AssetListing, error) {
	if appAccountID == "" {
		return nil, ErrInvalidParams
	}
	account, err := s.accountByAppID(ctx, appAccountID)
	if err != nil {
		return nil, err
	}
	if !account.IsRoot() {
		return nil, ErrNotAuthorized
	}

	page, limit = normalizePage(page, limit)
	currencies, err := s.repo.ListCurrencies(ctx)
	if err != nil {
		return nil, err
	}

	start := (page - 1) * limit
	if start > len(currencies) {
		start = len(currencies)
	}
	end := start + limit
	if end > len(currencies) {
		end = len(currencies)
	}
	listing := &AssetListing{List: make([]domain.AssetBalance, 0, end-start)}
	for _, currency := range currencies[start:end] {
		listing.List = append(listing.List, domain.AssetBalance{Currency: currency.Currency, Balance: currency.Balance})
	}
	return listing, nil
}

// TradeRecords returns the merged deposit and withdrawal history of one
// currency, newest first.
func (s *Service) TradeRecords(ctx context.Context, appAccountID, currencyName string, page, limit int) (*TradeListing, error) {
	if appAccountID == "" || currencyName == "" {
		return nil, ErrInvalidParams
	}
	if _, err := s.accountByAppID(ctx, appAccountID); err != nil {
		return nil, err
	}
	currency, err := s.repo.FindCurrencyByName(ctx, currencyName)
	if err != nil {
		if errors.Is(err, store.ErrCurrencyNotFound) {
			return nil, ErrCurrencyNotListed
		}
		return nil, err
	}

	page, limit = normalizePage(page, limit)
	records, count, err := s.repo.ListTradeRecords(ctx, currency.ID, page, limit)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []domain.TradeRecord{}
	}
	return &TradeListing{
		Page:     domain.PageOf(count, page, limit),
		Currency: currency.Currency,
		List:     records,
	}, nil
}
