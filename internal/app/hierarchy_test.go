package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/boxproject/box-appServer/internal/domain"
	"github.com/boxproject/box-appServer/internal/store"
	"github.com/boxproject/box-appServer/pkg/rabbitmq"
)

type hierarchyRepoStub struct {
	store.Repository

	accounts    map[string]*domain.Account
	reports     map[string][]domain.EmployeeSummary
	pendingKeys []domain.EmployeeKey

	removed        string
	removedUpdates []domain.CipherUpdate
	relocated      [][2]string
	markedUploaded []string
}

func (r *hierarchyRepoStub) FindAccountAnyByAppID(ctx context.Context, appAccountID string) (*domain.Account, error) {
	if account, ok := r.accounts[appAccountID]; ok {
		return account, nil
	}
	return nil, store.ErrAccountNotFound
}

func (r *hierarchyRepoStub) ListDirectReports(ctx context.Context, leaderAppID string, page, limit int) ([]domain.EmployeeSummary, int64, error) {
	reports := r.reports[leaderAppID]
	return reports, int64(len(reports)), nil
}

func (r *hierarchyRepoStub) SearchEmployees(ctx context.Context, viewerAppID, keyword string, page, limit int) ([]domain.EmployeeSummary, int64, error) {
	var hits []domain.EmployeeSummary
	for _, reports := range r.reports {
		for _, report := range reports {
			if report.Account == keyword {
				hits = append(hits, report)
			}
		}
	}
	return hits, int64(len(hits)), nil
}

func (r *hierarchyRepoStub) ListPendingKeyUploads(ctx context.Context) ([]domain.EmployeeKey, error) {
	return r.pendingKeys, nil
}

func (r *hierarchyRepoStub) FindEmployeeKey(ctx context.Context, employeeAppID string) (*domain.EmployeeKey, error) {
	for i := range r.pendingKeys {
		if r.pendingKeys[i].Applyer == employeeAppID {
			return &r.pendingKeys[i], nil
		}
	}
	return nil, store.ErrAccountNotFound
}

func (r *hierarchyRepoStub) MarkKeysUploaded(ctx context.Context, appAccountIDs []string) error {
	r.markedUploaded = append(r.markedUploaded, appAccountIDs...)
	return nil
}

func (r *hierarchyRepoStub) RemoveAccount(ctx context.Context, appAccountID string, updates []domain.CipherUpdate) (*domain.Account, error) {
	account, ok := r.accounts[appAccountID]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	r.removed = appAccountID
	r.removedUpdates = updates
	account.Departed = true
	return account, nil
}

func (r *hierarchyRepoStub) RelocateAccount(ctx context.Context, memberAppID, leaderAppID string, updates []domain.CipherUpdate) error {
	r.relocated = append(r.relocated, [2]string{memberAppID, leaderAppID})
	return nil
}

// newHierarchyRepo builds owner(depth 0) > bob(depth 1) > {carol, dave}
// with eve as bob's peer at depth 1.
func newHierarchyRepo(ownerKey, bobKey string) *hierarchyRepoStub {
	return &hierarchyRepoStub{
		accounts: map[string]*domain.Account{
			"owner-id": {ID: 1, Account: "owner", AppAccountID: "owner-id", PubKey: ownerKey, Lft: 1, Rgt: 12, Depth: 0},
			"bob-id":   {ID: 2, Account: "bob", AppAccountID: "bob-id", PubKey: bobKey, Lft: 2, Rgt: 7, Depth: 1},
			"carol-id": {ID: 3, Account: "carol", AppAccountID: "carol-id", Lft: 3, Rgt: 4, Depth: 2},
			"dave-id":  {ID: 4, Account: "dave", AppAccountID: "dave-id", Lft: 5, Rgt: 6, Depth: 2},
			"eve-id":   {ID: 5, Account: "eve", AppAccountID: "eve-id", Lft: 8, Rgt: 9, Depth: 1},
		},
		reports: map[string][]domain.EmployeeSummary{
			"owner-id": {
				{Account: "bob", AppAccountID: "bob-id", EmployeeNum: 2},
				{Account: "eve", AppAccountID: "eve-id"},
			},
			"bob-id": {
				{Account: "carol", AppAccountID: "carol-id"},
				{Account: "dave", AppAccountID: "dave-id"},
			},
		},
	}
}

func TestEmployeeListReturnsDirectReports(t *testing.T) {
	repo := newHierarchyRepo("", "")
	svc := NewService(repo, &stubGateway{}, &rabbitmq.EventProducerFallback{})

	listing, err := svc.EmployeeList(context.Background(), "owner-id", "", 1, 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(listing.List) != 2 {
		t.Fatalf("expected 2 direct reports, got %d", len(listing.List))
	}
	if listing.List[0].EmployeeNum != 2 {
		t.Fatalf("expected bob's report count carried, got %d", listing.List[0].EmployeeNum)
	}
}

func TestEmployeeDetailRequiresSeniority(t *testing.T) {
	repo := newHierarchyRepo("", "")
	svc := NewService(repo, &stubGateway{}, &rabbitmq.EventProducerFallback{})

	// eve and bob share a depth; eve may not inspect bob.
	if _, err := svc.EmployeeDetail(context.Background(), "eve-id", "bob-id"); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}

	detail, err := svc.EmployeeDetail(context.Background(), "owner-id", "bob-id")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(detail.Employees) != 2 {
		t.Fatalf("expected bob's reports in the detail, got %d", len(detail.Employees))
	}
}

func TestEmployeeKeyListMarksDelivered(t *testing.T) {
	repo := newHierarchyRepo("", "")
	repo.pendingKeys = []domain.EmployeeKey{
		{Applyer: "carol-id", ApplyerAccount: "carol", Captain: "bob-id", PubKey: "pk-carol"},
		{Applyer: "dave-id", ApplyerAccount: "dave", Captain: "bob-id", PubKey: "pk-dave"},
	}
	svc := NewService(repo, &stubGateway{}, &rabbitmq.EventProducerFallback{})

	if _, err := svc.EmployeeKeyList(context.Background(), "bob-id"); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized for a non-owner, got %v", err)
	}

	keys, err := svc.EmployeeKeyList(context.Background(), "owner-id")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 escrowed bundles, got %d", len(keys))
	}
	if len(repo.markedUploaded) != 2 {
		t.Fatalf("expected both bundles marked delivered, got %v", repo.markedUploaded)
	}
}

func TestEmployeeKeySingleBundle(t *testing.T) {
	repo := newHierarchyRepo("", "")
	repo.pendingKeys = []domain.EmployeeKey{
		{Applyer: "carol-id", ApplyerAccount: "carol", Captain: "bob-id", PubKey: "pk-carol"},
	}
	svc := NewService(repo, &stubGateway{}, &rabbitmq.EventProducerFallback{})

	key, err := svc.EmployeeKey(context.Background(), "owner-id", "carol-id")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key.PubKey != "pk-carol" {
		t.Fatalf("unexpected bundle: %+v", key)
	}
	if len(repo.markedUploaded) != 1 || repo.markedUploaded[0] != "carol-id" {
		t.Fatalf("expected carol's bundle marked delivered, got %v", repo.markedUploaded)
	}
}

func TestChangeEmployeeRemovesAndReplaces(t *testing.T) {
	owner := newSigner(t)
	repo := newHierarchyRepo(owner.pubKey, "")
	svc := NewService(repo, &stubGateway{}, &rabbitmq.EventProducerFallback{})

	ciphers, err := json.Marshal([]domain.CipherUpdate{
		{AppAccountID: "carol-id", CipherText: "cipher-carol-2"},
		{AppAccountID: "dave-id", CipherText: "cipher-dave-2"},
		{AppAccountID: "stranger-id", CipherText: "noise"},
	})
	if err != nil {
		t.Fatalf("marshal cipher updates: %v", err)
	}

	replaced, err := svc.ChangeEmployee(context.Background(), ChangeEmployeeRequest{
		EmployeeID:  "bob-id",
		ManagerID:   "owner-id",
		Sign:        owner.sign(t, "bob-id"),
		CipherTexts: string(ciphers),
		ReplacerID:  "eve-id",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !replaced {
		t.Fatal("expected a replacement")
	}
	if repo.removed != "bob-id" {
		t.Fatal("expected bob removed")
	}
	if len(repo.removedUpdates) != 2 {
		t.Fatalf("expected only the real reports' digests kept, got %+v", repo.removedUpdates)
	}
	if len(repo.relocated) != 2 {
		t.Fatalf("expected both reports relocated, got %v", repo.relocated)
	}
	for _, move := range repo.relocated {
		if move[1] != "eve-id" {
			t.Fatalf("expected relocation under eve, got %v", move)
		}
	}
}

func TestChangeEmployeeRejectsDepthMismatchReplacer(t *testing.T) {
	owner := newSigner(t)
	repo := newHierarchyRepo(owner.pubKey, "")
	svc := NewService(repo, &stubGateway{}, &rabbitmq.EventProducerFallback{})

	ciphers, _ := json.Marshal([]domain.CipherUpdate{
		{AppAccountID: "carol-id", CipherText: "c2"},
		{AppAccountID: "dave-id", CipherText: "d2"},
	})
	_, err := svc.ChangeEmployee(context.Background(), ChangeEmployeeRequest{
		EmployeeID:  "bob-id",
		ManagerID:   "owner-id",
		Sign:        owner.sign(t, "bob-id"),
		CipherTexts: string(ciphers),
		ReplacerID:  "carol-id",
	})
	if !errors.Is(err, ErrDepthMismatch) {
		t.Fatalf("expected ErrDepthMismatch, got %v", err)
	}
}

func TestChangeEmployeeRejectsJuniorManager(t *testing.T) {
	bob := newSigner(t)
	repo := newHierarchyRepo("", bob.pubKey)
	svc := NewService(repo, &stubGateway{}, &rabbitmq.EventProducerFallback{})

	_, err := svc.ChangeEmployee(context.Background(), ChangeEmployeeRequest{
		EmployeeID: "eve-id",
		ManagerID:  "bob-id",
		Sign:       bob.sign(t, "eve-id"),
	})
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
}

func TestChangeEmployeeRequiresUsableCiphers(t *testing.T) {
	owner := newSigner(t)
	repo := newHierarchyRepo(owner.pubKey, "")
	svc := NewService(repo, &stubGateway{}, &rabbitmq.EventProducerFallback{})

	_, err := svc.ChangeEmployee(context.Background(), ChangeEmployeeRequest{
		EmployeeID:  "bob-id",
		ManagerID:   "owner-id",
		Sign:        owner.sign(t, "bob-id"),
		CipherTexts: "",
	})
	if !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams when reports would keep stale ciphers, got %v", err)
	}
}
