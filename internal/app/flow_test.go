package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/boxproject/box-appServer/internal/domain"
	"github.com/boxproject/box-appServer/internal/store"
	"github.com/boxproject/box-appServer/pkg/agentclient"
	"github.com/boxproject/box-appServer/pkg/rabbitmq"
)

type flowRepoStub struct {
	store.Repository

	accounts      map[string]*domain.Account
	root          *domain.Account
	registrations map[int64]*domain.Registration
	flowsByHash   map[string]*domain.Flow
	flowsByFlowID map[string]*domain.Flow

	created        *domain.Flow
	progressWrites map[int64]int
}

func (r *flowRepoStub) FindAccountAnyByAppID(ctx context.Context, appAccountID string) (*domain.Account, error) {
	if account, ok := r.accounts[appAccountID]; ok {
		return account, nil
	}
	return nil, store.ErrAccountNotFound
}

func (r *flowRepoStub) FindRootAbove(ctx context.Context, lft, rgt int64) (*domain.Account, error) {
	if r.root != nil && r.root.Lft <= lft && r.root.Rgt >= rgt {
		return r.root, nil
	}
	return nil, store.ErrAccountNotFound
}

func (r *flowRepoStub) FindRegistrationByID(ctx context.Context, id int64) (*domain.Registration, error) {
	if reg, ok := r.registrations[id]; ok {
		return reg, nil
	}
	return nil, store.ErrRegistrationNotFound
}

func (r *flowRepoStub) FindFlowByHash(ctx context.Context, hash string) (*domain.Flow, error) {
	if flow, ok := r.flowsByHash[hash]; ok {
		return flow, nil
	}
	return nil, store.ErrFlowNotFound
}

func (r *flowRepoStub) FindFlowByFlowID(ctx context.Context, flowID string) (*domain.Flow, error) {
	if flow, ok := r.flowsByFlowID[flowID]; ok {
		return flow, nil
	}
	return nil, store.ErrFlowNotFound
}

func (r *flowRepoStub) CreateFlow(ctx context.Context, flow *domain.Flow) error {
	flow.ID = int64(len(r.flowsByHash) + 1)
	r.created = flow
	return nil
}

func (r *flowRepoStub) ListFlows(ctx context.Context, founderID int64, keyword string, progress, page, limit int) ([]domain.Flow, int64, error) {
	var flows []domain.Flow
	for _, flow := range r.flowsByFlowID {
		if flow.FounderID == founderID {
			flows = append(flows, *flow)
		}
	}
	return flows, int64(len(flows)), nil
}

func (r *flowRepoStub) UpdateFlowProgress(ctx context.Context, id int64, progress int) error {
	if r.progressWrites == nil {
		r.progressWrites = map[int64]int{}
	}
	r.progressWrites[id] = progress
	return nil
}

func flowContentJSON(t *testing.T, approvers ...domain.FlowApprover) string {
	t.Helper()
	raw, err := json.Marshal(domain.FlowContent{
		FlowName:    "ops payout",
		SingleLimit: "100",
		ApprovalInfo: []domain.FlowTier{
			{Require: 1, Approvers: approvers},
		},
	})
	if err != nil {
		t.Fatalf("marshal flow content: %v", err)
	}
	return string(raw)
}

func TestCreateFlowAnchorsAndStoresTemplate(t *testing.T) {
	owner := newSigner(t)
	repo := &flowRepoStub{
		accounts: map[string]*domain.Account{
			"owner-app-id": {ID: 7, AppAccountID: "owner-app-id", RegID: 3, PubKey: owner.pubKey, Lft: 1, Rgt: 4, Depth: 0},
		},
		registrations: map[int64]*domain.Registration{
			3: {ID: 3, RegID: "reg-owner", CaptainID: "signer-id"},
		},
	}
	var submitted agentclient.FlowSubmission
	gateway := &stubGateway{
		submitFlow: func(sub agentclient.FlowSubmission) error {
			submitted = sub
			return nil
		},
	}
	svc := NewService(repo, gateway, &rabbitmq.EventProducerFallback{})

	content := flowContentJSON(t, domain.FlowApprover{Account: "bob", AppAccountID: "bob-app-id", PubKey: "key"})
	flowID, err := svc.CreateFlow(context.Background(), FlowCreateRequest{
		AppAccountID: "owner-app-id",
		Flow:         content,
		Sign:         owner.sign(t, content),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if flowID == "" {
		t.Fatal("expected a flow id")
	}
	if repo.created == nil {
		t.Fatal("expected the template to be stored")
	}
	if repo.created.Progress != domain.FlowPending {
		t.Fatalf("expected stored progress %d, got %d", domain.FlowPending, repo.created.Progress)
	}
	if repo.created.FlowHash != domain.ContentHash(content) {
		t.Fatalf("unexpected content hash %s", repo.created.FlowHash)
	}
	if submitted.CaptainID != "signer-id" {
		t.Fatalf("expected the registration signer id forwarded, got %q", submitted.CaptainID)
	}
	if submitted.Hash != repo.created.FlowHash {
		t.Fatal("anchored hash and stored hash disagree")
	}
}

func TestCreateFlowRejectsNonOwner(t *testing.T) {
	member := newSigner(t)
	repo := &flowRepoStub{
		accounts: map[string]*domain.Account{
			"member-app-id": {ID: 8, AppAccountID: "member-app-id", PubKey: member.pubKey, Lft: 2, Rgt: 3, Depth: 1},
		},
	}
	svc := NewService(repo, &stubGateway{}, &rabbitmq.EventProducerFallback{})

	content := flowContentJSON(t, domain.FlowApprover{Account: "bob", AppAccountID: "bob-app-id", PubKey: "key"})
	_, err := svc.CreateFlow(context.Background(), FlowCreateRequest{
		AppAccountID: "member-app-id",
		Flow:         content,
		Sign:         member.sign(t, content),
	})
	if !errors.Is(err, ErrNotRoot) {
		t.Fatalf("expected ErrNotRoot, got %v", err)
	}
}

func TestCreateFlowRejectsDuplicateHash(t *testing.T) {
	owner := newSigner(t)
	content := flowContentJSON(t, domain.FlowApprover{Account: "bob", AppAccountID: "bob-app-id", PubKey: "key"})
	repo := &flowRepoStub{
		accounts: map[string]*domain.Account{
			"owner-app-id": {ID: 7, AppAccountID: "owner-app-id", RegID: 3, PubKey: owner.pubKey, Depth: 0},
		},
		flowsByHash: map[string]*domain.Flow{
			domain.ContentHash(content): {ID: 1, FlowHash: domain.ContentHash(content)},
		},
	}
	svc := NewService(repo, &stubGateway{}, &rabbitmq.EventProducerFallback{})

	_, err := svc.CreateFlow(context.Background(), FlowCreateRequest{
		AppAccountID: "owner-app-id",
		Flow:         content,
		Sign:         owner.sign(t, content),
	})
	if !errors.Is(err, ErrFlowExists) {
		t.Fatalf("expected ErrFlowExists, got %v", err)
	}
}

func TestCreateFlowDoesNotStoreWhenAnchorRejects(t *testing.T) {
	owner := newSigner(t)
	repo := &flowRepoStub{
		accounts: map[string]*domain.Account{
			"owner-app-id": {ID: 7, AppAccountID: "owner-app-id", RegID: 3, PubKey: owner.pubKey, Depth: 0},
		},
		registrations: map[int64]*domain.Registration{
			3: {ID: 3, RegID: "reg-owner", CaptainID: "signer-id"},
		},
	}
	svc := NewService(repo, &stubGateway{}, &rabbitmq.EventProducerFallback{})

	content := flowContentJSON(t, domain.FlowApprover{Account: "bob", AppAccountID: "bob-app-id", PubKey: "key"})
	_, err := svc.CreateFlow(context.Background(), FlowCreateRequest{
		AppAccountID: "owner-app-id",
		Flow:         content,
		Sign:         owner.sign(t, content),
	})
	if !errors.Is(err, ErrUpstreamCancelFault) {
		t.Fatalf("expected ErrUpstreamCancelFault, got %v", err)
	}
	if repo.created != nil {
		t.Fatal("template must not be stored when anchoring fails")
	}
}

func TestCreateFlowRejectsBadSignature(t *testing.T) {
	owner := newSigner(t)
	intruder := newSigner(t)
	repo := &flowRepoStub{
		accounts: map[string]*domain.Account{
			"owner-app-id": {ID: 7, AppAccountID: "owner-app-id", PubKey: owner.pubKey, Depth: 0},
		},
	}
	svc := NewService(repo, &stubGateway{}, &rabbitmq.EventProducerFallback{})

	content := flowContentJSON(t, domain.FlowApprover{Account: "bob", AppAccountID: "bob-app-id", PubKey: "key"})
	_, err := svc.CreateFlow(context.Background(), FlowCreateRequest{
		AppAccountID: "owner-app-id",
		Flow:         content,
		Sign:         intruder.sign(t, content),
	})
	if !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
}

func TestFlowListRefreshesPendingProgress(t *testing.T) {
	repo := &flowRepoStub{
		accounts: map[string]*domain.Account{
			"member-app-id": {ID: 8, AppAccountID: "member-app-id", Lft: 2, Rgt: 3, Depth: 1},
		},
		root: &domain.Account{ID: 7, AppAccountID: "owner-app-id", Lft: 1, Rgt: 4, Depth: 0},
		flowsByFlowID: map[string]*domain.Flow{
			"flow-1": {ID: 1, FlowID: "flow-1", FounderID: 7, FlowHash: "0xaa", Progress: domain.FlowPending},
		},
	}
	gateway := &stubGateway{
		flowStatus: func(hash string) (int, error) { return domain.AnchorStatusApproved, nil },
	}
	svc := NewService(repo, gateway, &rabbitmq.EventProducerFallback{})

	listing, err := svc.FlowList(context.Background(), "member-app-id", "", -1, 1, 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(listing.List) != 1 {
		t.Fatalf("expected 1 template, got %d", len(listing.List))
	}
	if listing.List[0].Progress != domain.FlowApproved {
		t.Fatalf("expected refreshed progress %d, got %d", domain.FlowApproved, listing.List[0].Progress)
	}
	if repo.progressWrites[1] != domain.FlowApproved {
		t.Fatal("expected the refreshed progress to be cached")
	}
}

func TestFlowDetailHidesForeignTemplates(t *testing.T) {
	repo := &flowRepoStub{
		accounts: map[string]*domain.Account{
			"owner-app-id": {ID: 7, AppAccountID: "owner-app-id", Lft: 1, Rgt: 4, Depth: 0},
		},
		flowsByFlowID: map[string]*domain.Flow{
			"flow-other": {ID: 2, FlowID: "flow-other", FounderID: 99, Progress: domain.FlowApproved},
		},
	}
	svc := NewService(repo, &stubGateway{}, &rabbitmq.EventProducerFallback{})

	_, err := svc.FlowDetail(context.Background(), "owner-app-id", "flow-other")
	if !errors.Is(err, ErrFlowUnavailable) {
		t.Fatalf("expected ErrFlowUnavailable, got %v", err)
	}
}

func TestFlowDetailParsesTiers(t *testing.T) {
	content := flowContentJSON(t, domain.FlowApprover{Account: "bob", AppAccountID: "bob-app-id", PubKey: "key"})
	repo := &flowRepoStub{
		accounts: map[string]*domain.Account{
			"owner-app-id": {ID: 7, AppAccountID: "owner-app-id", Lft: 1, Rgt: 4, Depth: 0},
		},
		flowsByFlowID: map[string]*domain.Flow{
			"flow-1": {
				ID:          1,
				FlowID:      "flow-1",
				FounderID:   7,
				FlowName:    "ops payout",
				SingleLimit: "100",
				Content:     content,
				Progress:    domain.FlowApproved,
			},
		},
	}
	svc := NewService(repo, &stubGateway{}, &rabbitmq.EventProducerFallback{})

	detail, err := svc.FlowDetail(context.Background(), "owner-app-id", "flow-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if detail.FlowName != "ops payout" || detail.SingleLimit != "100" {
		t.Fatalf("unexpected detail header: %+v", detail)
	}
	if len(detail.ApprovalInfo) != 1 || detail.ApprovalInfo[0].Require != 1 {
		t.Fatalf("unexpected tiers: %+v", detail.ApprovalInfo)
	}
	if detail.ApprovalInfo[0].Approvers[0].AppAccountID != "bob-app-id" {
		t.Fatal("approver roster not preserved")
	}
}
