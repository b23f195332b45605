/**
 * @description
 * Approval-flow template logic. Templates are content addressed: the raw
 * serialized content is hashed, signed by the organization owner and
 * anchored on the settlement layer under that hash. The local progress
 * column is a pull-refreshed cache of the anchoring status; listings and
 * detail reads refresh any still-pending templates on the way out.
 */

package app

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/boxproject/box-appServer/internal/domain"
	"github.com/boxproject/box-appServer/internal/store"
	"github.com/boxproject/box-appServer/pkg/agentclient"
)

// FlowCreateRequest carries one new template submission. Flow holds the raw
// serialized content exactly as the owner signed it.
type FlowCreateRequest struct {
	AppAccountID string
	Flow         string
	Sign         string
}

// FlowListing is one page of a founder's templates.
type FlowListing struct {
	domain.Page
	List []domain.FlowSummary `json:"list"`
}

// CreateFlow validates, anchors and stores a new approval-flow template and
// returns its public id. Only the organization owner may create templates.
// The template is reported to the settlement layer before the local insert,
// so a stored template is always at least pending on the anchor side.
func (s *Service) CreateFlow(ctx context.Context, req FlowCreateRequest) (string, error) {
	if req.AppAccountID == "" || req.Flow == "" || req.Sign == "" {
		return "", ErrInvalidParams
	}

	founder, err := s.accountByAppID(ctx, req.AppAccountID)
	if err != nil {
		return "", err
	}
	if !founder.IsRoot() {
		return "", ErrNotRoot
	}

	content, err := domain.ParseFlowContent(req.Flow)
	if err != nil {
		return "", ErrInvalidParams
	}
	if err := verifySign(req.Flow, founder.PubKey, req.Sign); err != nil {
		return "", err
	}

	hash := domain.ContentHash(req.Flow)
	if _, err := s.repo.FindFlowByHash(ctx, hash); err == nil {
		return "", ErrFlowExists
	} else if !errors.Is(err, store.ErrFlowNotFound) {
		return "", err
	}

	// The owner's registration carries the signer identity the anchor
	// expects as captain id.
	reg, err := s.repo.FindRegistrationByID(ctx, founder.RegID)
	if err != nil {
		return "", err
	}
	sub := agentclient.FlowSubmission{
		Name:      content.FlowName,
		AppID:     req.AppAccountID,
		Flow:      req.Flow,
		Sign:      req.Sign,
		Hash:      hash,
		CaptainID: reg.CaptainID,
	}
	if err := s.agent.SubmitFlow(ctx, sub); err != nil {
		return "", ErrUpstreamCancelFault
	}

	flow := &domain.Flow{
		FlowID:      uuid.NewString(),
		FlowHash:    hash,
		FlowName:    content.FlowName,
		FounderID:   founder.ID,
		Content:     req.Flow,
		FounderSign: req.Sign,
		SingleLimit: content.SingleLimit,
		Progress:    domain.FlowPending,
	}
	if err := s.repo.CreateFlow(ctx, flow); err != nil {
		if errors.Is(err, store.ErrFlowExists) {
			return "", ErrFlowExists
		}
		return "", err
	}
	return flow.FlowID, nil
}

// FlowList returns one page of the templates owned by the caller's
// organization. Any caller inside the tree sees the owner's templates.
// A progress of -1 lists every state; pending rows are refreshed against
// the settlement layer before they are returned.
func (s *Service) FlowList(ctx context.Context, appAccountID, keyword string, progress, page, limit int) (*FlowListing, error) {
	if appAccountID == "" {
		return nil, ErrInvalidParams
	}
	founder, err := s.founderFor(ctx, appAccountID)
	if err != nil {
		return nil, err
	}

	page, limit = normalizePage(page, limit)
	flows, count, err := s.repo.ListFlows(ctx, founder.ID, keyword, progress, page, limit)
	if err != nil {
		return nil, err
	}

	listing := &FlowListing{
		Page: domain.PageOf(count, page, limit),
		List: make([]domain.FlowSummary, 0, len(flows)),
	}
	for i := range flows {
		flow := &flows[i]
		listing.List = append(listing.List, domain.FlowSummary{
			ID:          flow.ID,
			FlowID:      flow.FlowID,
			FlowName:    flow.FlowName,
			FlowHash:    flow.FlowHash,
			SingleLimit: flow.SingleLimit,
			Progress:    s.refreshFlowProgress(ctx, flow),
		})
	}
	return listing, nil
}

// FlowDetail returns the parsed tiers of one template. Callers only see
// templates belonging to their own organization.
func (s *Service) FlowDetail(ctx context.Context, appAccountID, flowID string) (*domain.FlowDetail, error) {
	if appAccountID == "" || flowID == "" {
		return nil, ErrInvalidParams
	}
	founder, err := s.founderFor(ctx, appAccountID)
	if err != nil {
		return nil, err
	}

	flow, err := s.repo.FindFlowByFlowID(ctx, flowID)
	if err != nil {
		if errors.Is(err, store.ErrFlowNotFound) {
			return nil, ErrFlowUnavailable
		}
		return nil, err
	}
	if flow.FounderID != founder.ID {
		return nil, ErrFlowUnavailable
	}

	content, err := domain.ParseFlowContent(flow.Content)
	if err != nil {
		return nil, ErrInternal
	}
	return &domain.FlowDetail{
		FlowName:     flow.FlowName,
		Progress:     s.refreshFlowProgress(ctx, flow),
		SingleLimit:  flow.SingleLimit,
		ApprovalInfo: content.ApprovalInfo,
	}, nil
}

// founderFor resolves the depth-zero owner of the caller's organization.
func (s *Service) founderFor(ctx context.Context, appAccountID string) (*domain.Account, error) {
	account, err := s.accountByAppID(ctx, appAccountID)
	if err != nil {
		return nil, err
	}
	if account.IsRoot() {
		return account, nil
	}
	root, err := s.repo.FindRootAbove(ctx, account.Lft, account.Rgt)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return root, nil
}
