/**
 * @description
 * HTTP handlers for the capital surface: balance and asset reads, the
 * currency roster, merged trade history, and the agent's settlement
 * callbacks (deposit arrival, withdrawal broadcast and finalization,
 * currency roster refresh).
 */

package api

import (
	"net/http"

	"github.com/boxproject/box-appServer/internal/app"
	"github.com/boxproject/box-appServer/internal/domain"
)

type depositNoticeRequest struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Amount   string `json:"amount"`
	ChainTx  string `json:"tx_id"`
	Category int64  `json:"category"`
}

type withdrawNoticeRequest struct {
	WdHash  string `json:"wd_hash"`
	ChainTx string `json:"tx_id"`
}

type currencyAddRequest struct {
	Kind int `json:"type"`
}

// BalanceHandler answers the asset overview for the owner, or a single
// currency's balance when currency_name is supplied.
func (h *AppHandlers) BalanceHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if name := q.Get("currency_name"); name != "" {
		balance, err := h.service.Balance(r.Context(), q.Get("app_account_id"), name)
		if err != nil {
			h.writeServiceError(w, "capital_balance", err)
			return
		}
		h.writeData(w, balance)
		return
	}

	page, limit := parsePage(r)
	listing, err := h.service.Assets(r.Context(), q.Get("app_account_id"), page, limit)
	if err != nil {
		h.writeServiceError(w, "capital_balance", err)
		return
	}
	h.writeData(w, listing)
}

// CurrencyListHandler returns the listed currencies, backfilling missing
// arrival addresses from the agent.
func (h *AppHandlers) CurrencyListHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := h.service.CurrencyList(r.Context(), q.Get("app_account_id"), q.Get("keywords"))
	if err != nil {
		h.writeServiceError(w, "capital_currency_list", err)
		return
	}
	h.writeData(w, map[string]interface{}{"list": list})
}

// TradeHistoryHandler pages the merged deposit and withdrawal history for
// one currency.
func (h *AppHandlers) TradeHistoryHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, limit := parsePage(r)
	listing, err := h.service.TradeRecords(r.Context(), q.Get("app_account_id"), q.Get("currency_name"), page, limit)
	if err != nil {
		h.writeServiceError(w, "capital_trade_history", err)
		return
	}
	h.writeData(w, listing)
}

// DepositHandler is the agent callback reporting an on-chain deposit.
func (h *AppHandlers) DepositHandler(w http.ResponseWriter, r *http.Request) {
	var req depositNoticeRequest
	if !h.decodeBody(w, r, "capital_deposit", &req) {
		return
	}
	if err := h.service.RecordDeposit(r.Context(), app.DepositNotice{
		From:     req.From,
		To:       req.To,
		Amount:   req.Amount,
		ChainTx:  req.ChainTx,
		Category: req.Category,
	}); err != nil {
		h.writeServiceError(w, "capital_deposit", err)
		return
	}
	h.writeData(w, nil)
}

// WithdrawBroadcastHandler is the agent callback reporting that a
// withdrawal hit the chain; the balance debit stays provisional.
func (h *AppHandlers) WithdrawBroadcastHandler(w http.ResponseWriter, r *http.Request) {
	var req withdrawNoticeRequest
	if !h.decodeBody(w, r, "capital_withdraw_broadcast", &req) {
		return
	}
	if err := h.service.RecordWithdrawalBroadcast(r.Context(), req.WdHash, req.ChainTx); err != nil {
		h.writeServiceError(w, "capital_withdraw_broadcast", err)
		return
	}
	h.writeData(w, nil)
}

// WithdrawSettledHandler is the agent callback confirming a withdrawal on
// chain; the balance debit becomes final.
func (h *AppHandlers) WithdrawSettledHandler(w http.ResponseWriter, r *http.Request) {
	var req withdrawNoticeRequest
	if !h.decodeBody(w, r, "capital_withdraw_settled", &req) {
		return
	}
	if err := h.service.RecordWithdrawalSettled(r.Context(), req.WdHash, req.ChainTx); err != nil {
		h.writeServiceError(w, "capital_withdraw_settled", err)
		return
	}
	h.writeData(w, nil)
}

// CurrencyAddHandler is the agent callback announcing roster changes; the
// service re-pulls the full coin or token roster.
func (h *AppHandlers) CurrencyAddHandler(w http.ResponseWriter, r *http.Request) {
	var req currencyAddRequest
	if !h.decodeBody(w, r, "capital_currency_add", &req) {
		return
	}
	kind := domain.CurrencyKindCoin
	if req.Kind == domain.CurrencyKindToken {
		kind = domain.CurrencyKindToken
	}
	if err := h.service.SyncCurrencies(r.Context(), kind); err != nil {
		h.writeServiceError(w, "capital_currency_add", err)
		return
	}
	h.writeData(w, nil)
}
