/**
 * @description
 * Organization hierarchy logic: direct-report listings, subtree search, the
 * owner's key-upload handshake, and removal or replacement of members.
 * Removal collapses the member's interval and pulls their reports up one
 * level; an optional replacer at the removed member's depth adopts those
 * reports instead.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/boxproject/box-appServer/internal/domain"
	"github.com/boxproject/box-appServer/internal/store"
)

// EmployeeListing is the paginated direct-report or search result.
type EmployeeListing struct {
	domain.Page
	List []domain.EmployeeSummary `json:"list"`
}

// EmployeeList returns the caller's direct reports, or a subtree search
// when keyword is set.
func (s *Service) EmployeeList(ctx context.Context, appAccountID, keyword string, page, limit int) (*EmployeeListing, error) {
	if appAccountID == "" {
		return nil, ErrInvalidParams
	}
	if _, err := s.accountByAppID(ctx, appAccountID); err != nil {
		return nil, err
	}
	page, limit = normalizePage(page, limit)

	var (
		list  []domain.EmployeeSummary
		count int64
		err   error
	)
	if keyword != "" {
		list, count, err = s.repo.SearchEmployees(ctx, appAccountID, keyword, page, limit)
	} else {
		list, count, err = s.repo.ListDirectReports(ctx, appAccountID, page, limit)
	}
	if err != nil {
		return nil, err
	}
	return &EmployeeListing{Page: domain.PageOf(count, page, limit), List: list}, nil
}

// EmployeeDetail returns one subordinate's cipher digest and their own
// direct reports. The caller must sit above the subordinate.
func (s *Service) EmployeeDetail(ctx context.Context, managerID, employeeID string) (*domain.EmployeeDetail, error) {
	if managerID == "" || employeeID == "" {
		return nil, ErrInvalidParams
	}
	manager, err := s.accountByAppID(ctx, managerID)
	if err != nil {
		return nil, err
	}
	employee, err := s.employeeByAppID(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	if manager.Depth >= employee.Depth {
		return nil, ErrNotAuthorized
	}

	reports, _, err := s.repo.ListDirectReports(ctx, employeeID, 1, DefaultPageLimit)
	if err != nil {
		return nil, err
	}
	return &domain.EmployeeDetail{
		AppAccountID: employee.AppAccountID,
		CipherText:   employee.CipherText,
		Employees:    reports,
	}, nil
}

// EmployeeKeyList hands the organization owner every escrowed key bundle
// not yet delivered, marking them delivered in the same call.
func (s *Service) EmployeeKeyList(ctx context.Context, appAccountID string) ([]domain.EmployeeKey, error) {
	if appAccountID == "" {
		return nil, ErrInvalidParams
	}
	owner, err := s.accountByAppID(ctx, appAccountID)
	if err != nil {
		return nil, err
	}
	if !owner.IsRoot() {
		return nil, ErrNotAuthorized
	}

	keys, err := s.repo.ListPendingKeyUploads(ctx)
	if err != nil {
		return nil, err
	}
	if len(keys) > 0 {
		ids := make([]string, len(keys))
		for i, k := range keys {
			ids[i] = k.Applyer
		}
		if err := s.repo.MarkKeysUploaded(ctx, ids); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

// EmployeeKey hands the owner one member's escrowed key bundle and marks it
// delivered.
func (s *Service) EmployeeKey(ctx context.Context, managerID, employeeID string) (*domain.EmployeeKey, error) {
	if managerID == "" || employeeID == "" {
		return nil, ErrInvalidParams
	}
	manager, err := s.accountByAppID(ctx, managerID)
	if err != nil {
		return nil, err
	}
	if !manager.IsRoot() {
		return nil, ErrNotAuthorized
	}
	if _, err := s.employeeByAppID(ctx, employeeID); err != nil {
		return nil, err
	}

	key, err := s.repo.FindEmployeeKey(ctx, employeeID)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return nil, ErrEmployeeNotFound
		}
		return nil, err
	}
	if err := s.repo.MarkKeysUploaded(ctx, []string{employeeID}); err != nil {
		return nil, err
	}
	return key, nil
}

// ChangeEmployeeRequest removes a member from the tree, optionally handing
// their direct reports to a replacer at the same depth. CipherTexts is the
// JSON array of refreshed digests for the surviving reports, signed context
// the clients compute.
type ChangeEmployeeRequest struct {
	EmployeeID  string
	ManagerID   string
	Sign        string
	CipherTexts string
	ReplacerID  string
}

// ChangeEmployee removes (and optionally replaces) a member. Returns true
// when a replacement happened.
func (s *Service) ChangeEmployee(ctx context.Context, req ChangeEmployeeRequest) (replaced bool, err error) {
	if req.EmployeeID == "" || req.ManagerID == "" || req.Sign == "" {
		return false, ErrInvalidParams
	}
	manager, err := s.accountByAppID(ctx, req.ManagerID)
	if err != nil {
		return false, err
	}
	employee, err := s.employeeByAppID(ctx, req.EmployeeID)
	if err != nil {
		return false, err
	}
	if manager.Depth >= employee.Depth {
		return false, ErrNotAuthorized
	}
	if err := verifySign(req.EmployeeID, manager.PubKey, req.Sign); err != nil {
		return false, err
	}

	reports, _, err := s.repo.ListDirectReports(ctx, req.EmployeeID, 1, DefaultPageLimit)
	if err != nil {
		return false, err
	}
	updates, err := matchCipherUpdates(reports, req.CipherTexts)
	if err != nil {
		return false, err
	}

	if _, err := s.repo.RemoveAccount(ctx, req.EmployeeID, updates); err != nil {
		return false, err
	}

	if req.ReplacerID == "" {
		return false, nil
	}
	replacer, err := s.employeeByAppID(ctx, req.ReplacerID)
	if err != nil {
		return false, err
	}
	if replacer.Depth != employee.Depth {
		return false, ErrDepthMismatch
	}
	for _, report := range reports {
		if err := s.repo.RelocateAccount(ctx, report.AppAccountID, req.ReplacerID, nil); err != nil {
			return false, err
		}
	}
	return true, nil
}

// employeeByAppID resolves a subordinate, mapping absence and departure
// onto the employee-specific wire codes.
func (s *Service) employeeByAppID(ctx context.Context, appAccountID string) (*domain.Account, error) {
	account, err := s.repo.FindAccountAnyByAppID(ctx, appAccountID)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return nil, ErrEmployeeNotFound
		}
		return nil, err
	}
	if account.Departed {
		return nil, ErrEmployeeDeparted
	}
	return account, nil
}

// matchCipherUpdates intersects the client-supplied digests with the
// removed member's actual reports. A member with reports but no usable
// digests is a malformed request: the survivors would be left with stale
// ciphers.
func matchCipherUpdates(reports []domain.EmployeeSummary, cipherTexts string) ([]domain.CipherUpdate, error) {
	if len(reports) == 0 {
		return nil, nil
	}
	var supplied []domain.CipherUpdate
	if cipherTexts != "" {
		if err := json.Unmarshal([]byte(cipherTexts), &supplied); err != nil {
			return nil, ErrInvalidParams
		}
	}
	var updates []domain.CipherUpdate
	for _, u := range supplied {
		for _, report := range reports {
			if u.AppAccountID == report.AppAccountID {
				updates = append(updates, u)
				break
			}
		}
	}
	if len(updates) == 0 {
		return nil, ErrInvalidParams
	}
	return updates, nil
}
