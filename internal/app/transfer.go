/**
 * @description
 * Transfer workflow engine: the quorum state machine that moves a money
 * movement request through the tiers of its bound flow template. Vote rows
 * are seeded tier by tier; a tier passes when its quorum approves and fails
 * as soon as quorum becomes unreachable. An approved transfer is handed to
 * the settlement layer with every collected signature before the approved
 * state is persisted.
 *
 * @notes
 * - The overall progress is recomputed from vote rows on every cast; no
 *   "current tier" column exists.
 * - Next-tier seeding is guarded inside the repository so concurrent
 *   winning votes in one tier seed the following tier exactly once.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/boxproject/box-appServer/internal/domain"
	"github.com/boxproject/box-appServer/internal/store"
	"github.com/boxproject/box-appServer/pkg/agentclient"
	"github.com/boxproject/box-appServer/pkg/rabbitmq"
)

// TransferApply carries one transfer application. ApplyInfo is the raw
// serialized content the applicant signed.
type TransferApply struct {
	AppAccountID string
	ApplyInfo    string
	FlowID       string
	Sign         string
}

// TransferApproval carries one approver's decision on a transfer.
type TransferApproval struct {
	OrderNumber  string
	AppAccountID string
	Progress     int
	Sign         string
}

// TransferListing is one page of the role-aware transfer history.
type TransferListing struct {
	domain.Page
	List []domain.TransferRecord `json:"list"`
}

// SubmitTransfer validates a signed transfer application against its bound
// flow template and stores it together with the first tier's vote rows. The
// template must already be anchored on the settlement layer.
func (s *Service) SubmitTransfer(ctx context.Context, apply TransferApply) (string, error) {
	if apply.AppAccountID == "" || apply.ApplyInfo == "" || apply.FlowID == "" || apply.Sign == "" {
		return "", ErrInvalidParams
	}

	applyer, err := s.accountByAppID(ctx, apply.AppAccountID)
	if err != nil {
		return "", err
	}
	if err := verifySign(apply.ApplyInfo, applyer.PubKey, apply.Sign); err != nil {
		return "", err
	}

	content, err := domain.ParseApplyContent(apply.ApplyInfo)
	if err != nil {
		return "", ErrApplyMalformed
	}
	currency, err := s.repo.FindCurrencyByName(ctx, content.Currency)
	if err != nil {
		if errors.Is(err, store.ErrCurrencyNotFound) {
			return "", ErrUnknownCurrency
		}
		return "", err
	}

	flow, err := s.repo.FindFlowByFlowID(ctx, apply.FlowID)
	if err != nil {
		if errors.Is(err, store.ErrFlowNotFound) {
			return "", ErrFlowUnavailable
		}
		return "", err
	}
	if s.refreshFlowProgress(ctx, flow) != domain.FlowApproved {
		return "", ErrFlowUnavailable
	}

	flowContent, err := domain.ParseFlowContent(flow.Content)
	if err != nil {
		return "", ErrInternal
	}
	managerIDs, err := s.resolveApproverIDs(ctx, flowContent.ApprovalInfo[0].Approvers)
	if err != nil {
		return "", err
	}

	transfer := &domain.Transfer{
		OrderNumber:  uuid.NewString(),
		TxInfo:       content.TxInfo,
		TransHash:    domain.ContentHash(apply.ApplyInfo),
		ApplyerID:    applyer.ID,
		CurrencyID:   currency.ID,
		Amount:       content.Amount,
		FlowID:       flow.ID,
		ApplyContent: apply.ApplyInfo,
		ApplyerSign:  apply.Sign,
		Progress:     domain.TransferAwaiting,
	}
	if err := s.repo.CreateTransferWithReviews(ctx, transfer, managerIDs); err != nil {
		log.Printf("level=error component=service op=submit_transfer order_number=%s msg=\"transfer insert failed\" err=%v", transfer.OrderNumber, err)
		return "", ErrTransferCreate
	}
	return transfer.OrderNumber, nil
}

// ApproveTransfer records one approver's vote and advances the quorum state
// machine: it may seed the next tier, reject the transfer, or hand the fully
// approved payload to the settlement layer.
func (s *Service) ApproveTransfer(ctx context.Context, approval TransferApproval) error {
	if approval.OrderNumber == "" || approval.AppAccountID == "" || approval.Sign == "" {
		return ErrInvalidParams
	}
	if approval.Progress != domain.ReviewApproved && approval.Progress != domain.ReviewRejected {
		return ErrInvalidParams
	}

	approver, err := s.accountByAppID(ctx, approval.AppAccountID)
	if err != nil {
		return err
	}
	transfer, err := s.repo.FindTransferByOrderNumber(ctx, approval.OrderNumber)
	if err != nil {
		if errors.Is(err, store.ErrTransferNotFound) {
			return ErrOrderNotFound
		}
		return err
	}
	// Terminal progress never changes; a vote arriving after the decision
	// is a replay.
	if transfer.Progress >= domain.TransferRejected {
		return ErrAlreadyVoted
	}

	review, err := s.repo.FindReview(ctx, transfer.ID, approver.ID)
	if err != nil {
		if errors.Is(err, store.ErrReviewNotFound) {
			return ErrNotApprover
		}
		return err
	}
	if review.Comments != domain.ReviewPending {
		return ErrAlreadyVoted
	}

	if err := verifySign(transfer.ApplyContent, approver.PubKey, approval.Sign); err != nil {
		return err
	}
	if err := s.repo.RecordReview(ctx, transfer.ID, approver.ID, approval.Progress, approval.Sign); err != nil {
		return err
	}

	flow, err := s.repo.FindFlowByID(ctx, transfer.FlowID)
	if err != nil {
		if errors.Is(err, store.ErrFlowNotFound) {
			return ErrFlowUnavailable
		}
		return err
	}
	if s.refreshFlowProgress(ctx, flow) != domain.FlowApproved {
		// The vote stands; the transfer stays in progress until the
		// template's anchoring completes and the cast is retried by the
		// next approver.
		if err := s.repo.UpdateTransferProgress(ctx, transfer.ID, domain.TransferInProgress); err != nil {
			return err
		}
		return ErrFlowUnavailable
	}

	content, err := domain.ParseFlowContent(flow.Content)
	if err != nil {
		return ErrInternal
	}
	location, ok := content.Locate(approver.AppAccountID)
	if !ok {
		return ErrNotApprover
	}

	votes, err := s.voteIndex(ctx, transfer.ID)
	if err != nil {
		return err
	}
	progress := overallProgress(content, votes)

	// A passed tier that is not the last invites the next tier's roster.
	// Seeding is idempotent under concurrent winning votes.
	if progress == domain.TransferInProgress && location.Level+1 < len(content.ApprovalInfo) {
		if tierPassed(content.ApprovalInfo[location.Level], votes) {
			nextIDs, err := s.resolveApproverIDs(ctx, content.ApprovalInfo[location.Level+1].Approvers)
			if err != nil {
				return err
			}
			if _, err := s.repo.SeedReviews(ctx, transfer.ID, nextIDs); err != nil {
				return err
			}
			if votes, err = s.voteIndex(ctx, transfer.ID); err != nil {
				return err
			}
			progress = overallProgress(content, votes)
		}
	}

	if progress == domain.TransferApproved {
		if err := s.settleApprovedTransfer(ctx, transfer, flow, content, votes); err != nil {
			return err
		}
	} else {
		if err := s.repo.UpdateTransferProgress(ctx, transfer.ID, progress); err != nil {
			return err
		}
	}
	if progress == domain.TransferRejected || progress == domain.TransferApproved {
		s.publishTransferEvent(ctx, transfer, progress)
	}
	return nil
}

// settleApprovedTransfer scales the approved amounts by the currency factor,
// aggregates every collected signature in tier-then-roster order and hands
// the withdrawal to the settlement layer. The approved state is only
// persisted after the settlement layer accepts the payload; a refused
// payload records the transfer as failed to settle.
func (s *Service) settleApprovedTransfer(ctx context.Context, transfer *domain.Transfer, flow *domain.Flow, content *domain.FlowContent, votes map[string]store.ReviewRecord) error {
	apply, err := domain.ParseApplyContent(transfer.ApplyContent)
	if err != nil {
		return ErrApplyMalformed
	}
	currency, err := s.repo.FindCurrencyByName(ctx, apply.Currency)
	if err != nil {
		if errors.Is(err, store.ErrCurrencyNotFound) {
			return ErrCurrencyNotListed
		}
		return err
	}
	amount, err := decimal.NewFromString(apply.Amount)
	if err != nil {
		return ErrApplyMalformed
	}
	fee, err := decimal.NewFromString(apply.Miner)
	if err != nil {
		return ErrApplyMalformed
	}

	signs := collectApproverSigns(content, votes)
	signsJSON, err := json.Marshal(signs)
	if err != nil {
		return err
	}

	scale := currency.ScaleFactor()
	sub := agentclient.TransferSubmission{
		Hash:       flow.FlowHash,
		WdHash:     domain.ContentHash(transfer.ApplyContent),
		Category:   currency.ID,
		Amount:     amount.Mul(scale).StringFixed(0),
		Fee:        fee.Mul(scale).StringFixed(0),
		RecAddress: apply.ToAddress,
		Apply:      transfer.ApplyContent,
		ApplySign:  string(signsJSON),
	}
	if err := s.agent.SubmitTransfer(ctx, sub); err != nil {
		log.Printf("level=error component=service op=settle_transfer order_number=%s msg=\"settlement submission refused\" err=%v", transfer.OrderNumber, err)
		if updErr := s.repo.UpdateTransferProgress(ctx, transfer.ID, domain.TransferRejected); updErr != nil {
			log.Printf("level=error component=service op=settle_transfer order_number=%s msg=\"failed to record settlement refusal\" err=%v", transfer.OrderNumber, updErr)
		}
		return ErrSettlementSubmit
	}
	return s.repo.MarkTransferSubmitted(ctx, transfer.ID)
}

// TransferList returns one page of the caller's transfer history, either as
// applicant or as invited approver. A progress of -1 lists every state.
func (s *Service) TransferList(ctx context.Context, appAccountID string, role, progress, page, limit int) (*TransferListing, error) {
	if appAccountID == "" {
		return nil, ErrInvalidParams
	}
	account, err := s.accountByAppID(ctx, appAccountID)
	if err != nil {
		return nil, err
	}

	page, limit = normalizePage(page, limit)
	var (
		records []domain.TransferRecord
		count   int64
	)
	switch role {
	case domain.TransferRoleApplyer:
		records, count, err = s.repo.ListTransfersByApplyer(ctx, account.ID, progress, page, limit)
	case domain.TransferRoleApprover:
		records, count, err = s.repo.ListTransfersForApprover(ctx, account.ID, progress, page, limit)
	default:
		return nil, ErrInvalidParams
	}
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []domain.TransferRecord{}
	}
	if role == domain.TransferRoleApprover {
		// An approver sees a transfer awaiting its first vote as in progress.
		for i := range records {
			if records[i].Progress == domain.TransferAwaiting {
				records[i].Progress = domain.TransferInProgress
			}
		}
	}
	return &TransferListing{
		Page: domain.PageOf(count, page, limit),
		List: records,
	}, nil
}

// TransferDetail returns the full state of one transfer including the
// per-tier approval picture reconstructed from its vote rows.
func (s *Service) TransferDetail(ctx context.Context, appAccountID, orderNumber string) (*domain.TransferDetail, error) {
	if appAccountID == "" || orderNumber == "" {
		return nil, ErrInvalidParams
	}
	if _, err := s.accountByAppID(ctx, appAccountID); err != nil {
		return nil, err
	}

	transfer, err := s.repo.FindTransferByOrderNumber(ctx, orderNumber)
	if err != nil {
		if errors.Is(err, store.ErrTransferNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	flow, err := s.repo.FindFlowByID(ctx, transfer.FlowID)
	if err != nil {
		if errors.Is(err, store.ErrFlowNotFound) {
			return nil, ErrFlowUnavailable
		}
		return nil, err
	}
	content, err := domain.ParseFlowContent(flow.Content)
	if err != nil {
		return nil, ErrInternal
	}
	votes, err := s.voteIndex(ctx, transfer.ID)
	if err != nil {
		return nil, err
	}

	return &domain.TransferDetail{
		TransferHash: transfer.TransHash,
		OrderNumber:  transfer.OrderNumber,
		TxInfo:       transfer.TxInfo,
		Applyer:      transfer.ApplyerAcc,
		ApplyerUID:   transfer.ApplyerUID,
		Progress:     transfer.Progress,
		Arrived:      transfer.Arrived,
		ApplyAt:      transfer.ApplyAt,
		ApprovalAt:   transfer.ApprovalAt,
		RejectAt:     transfer.RejectAt,
		ApplyInfo:    transfer.ApplyContent,
		SingleLimit:  content.SingleLimit,
		ApprovalInfo: buildTierViews(content, votes),
	}, nil
}

// resolveApproverIDs maps a tier roster onto internal account ids.
func (s *Service) resolveApproverIDs(ctx context.Context, approvers []domain.FlowApprover) ([]int64, error) {
	ids := make([]int64, 0, len(approvers))
	for _, approver := range approvers {
		account, err := s.repo.FindAccountByAppID(ctx, approver.AppAccountID)
		if err != nil {
			if errors.Is(err, store.ErrAccountNotFound) {
				return nil, ErrAccountNotFound
			}
			return nil, err
		}
		ids = append(ids, account.ID)
	}
	return ids, nil
}

// voteIndex loads a transfer's vote rows keyed by approver app account id.
func (s *Service) voteIndex(ctx context.Context, transferID int64) (map[string]store.ReviewRecord, error) {
	reviews, err := s.repo.ListReviews(ctx, transferID)
	if err != nil {
		return nil, err
	}
	votes := make(map[string]store.ReviewRecord, len(reviews))
	for _, review := range reviews {
		votes[review.AppAccountID] = review
	}
	return votes, nil
}

// tierTally counts the approvals and rejections recorded for one tier.
func tierTally(tier domain.FlowTier, votes map[string]store.ReviewRecord) (approvals, rejections int) {
	for _, approver := range tier.Approvers {
		switch votes[approver.AppAccountID].Comments {
		case domain.ReviewApproved:
			approvals++
		case domain.ReviewRejected:
			rejections++
		}
	}
	return approvals, rejections
}

// tierPassed reports whether a tier's quorum has approved.
func tierPassed(tier domain.FlowTier, votes map[string]store.ReviewRecord) bool {
	approvals, _ := tierTally(tier, votes)
	return approvals >= tier.Require
}

// overallProgress rescans the tiers strictly in order. A tier whose quorum
// is mathematically unreachable rejects the transfer; a tier with fewer
// decisions than its quorum leaves it in progress; once every tier resolves
// the transfer is approved.
func overallProgress(content *domain.FlowContent, votes map[string]store.ReviewRecord) int {
	for _, tier := range content.ApprovalInfo {
		approvals, rejections := tierTally(tier, votes)
		if rejections > len(tier.Approvers)-tier.Require {
			return domain.TransferRejected
		}
		if approvals+rejections < tier.Require {
			return domain.TransferInProgress
		}
	}
	return domain.TransferApproved
}

// collectApproverSigns gathers every recorded signature in tier-then-roster
// order for the settlement payload.
func collectApproverSigns(content *domain.FlowContent, votes map[string]store.ReviewRecord) []domain.ApproverSign {
	var signs []domain.ApproverSign
	for _, tier := range content.ApprovalInfo {
		for _, approver := range tier.Approvers {
			vote, ok := votes[approver.AppAccountID]
			if !ok || vote.Sign == nil || *vote.Sign == "" {
				continue
			}
			signs = append(signs, domain.ApproverSign{AppID: approver.AppAccountID, Sign: *vote.Sign})
		}
	}
	return signs
}

// buildTierViews decorates each tier with its recorded decisions and an
// aggregate tier progress for the detail view.
func buildTierViews(content *domain.FlowContent, votes map[string]store.ReviewRecord) []domain.TierApprovalView {
	views := make([]domain.TierApprovalView, 0, len(content.ApprovalInfo))
	for _, tier := range content.ApprovalInfo {
		view := domain.TierApprovalView{
			Require:   tier.Require,
			Total:     len(tier.Approvers),
			Approvers: make([]domain.ApproverDecision, 0, len(tier.Approvers)),
		}
		approvals, rejections := tierTally(tier, votes)
		for _, approver := range tier.Approvers {
			decision := domain.ApproverDecision{
				Account:      approver.Account,
				AppAccountID: approver.AppAccountID,
			}
			if vote, ok := votes[approver.AppAccountID]; ok {
				decision.Progress = vote.Comments
				decision.Sign = vote.Sign
			}
			view.Approvers = append(view.Approvers, decision)
		}
		switch {
		case approvals >= tier.Require:
			view.CurrentProgress = domain.TransferApproved
		case rejections > len(tier.Approvers)-tier.Require:
			view.CurrentProgress = domain.TransferRejected
		case approvals == 0 && rejections == 0:
			view.CurrentProgress = domain.TransferAwaiting
		default:
			view.CurrentProgress = domain.TransferInProgress
		}
		views = append(views, view)
	}
	return views
}

// publishTransferEvent emits a terminal transfer decision, best effort.
func (s *Service) publishTransferEvent(ctx context.Context, transfer *domain.Transfer, progress int) {
	currency, err := s.repo.FindCurrencyByID(ctx, transfer.CurrencyID)
	name := ""
	if err == nil {
		name = currency.Currency
	}
	event := rabbitmq.TransferEvent{
		OrderNumber: transfer.OrderNumber,
		Progress:    progress,
		Currency:    name,
		Amount:      transfer.Amount,
		Timestamp:   time.Now(),
	}
	if err := s.eventProducer.PublishTransferEvent(ctx, event); err != nil {
		log.Printf("level=warn component=service op=publish_transfer_event order_number=%s msg=\"event publish failed\" err=%v", transfer.OrderNumber, err)
	}
}
