/**
 * @description
 * This file defines the core identity and organization-tree domain models for
 * the app server. Accounts form a single tree encoded with the nested-set
 * model: every account owns a contiguous integer interval [lft, rgt], an
 * ancestor's interval strictly contains all of its descendants' intervals,
 * and depth 0 marks the organization owner.
 *
 * @notes
 * - All cross-entity references use the externally-facing app account id
 *   (the identifier the mobile app generates), never the database id.
 * - Registration records are terminal: once a captain (or the admin app)
 *   records a decision the row is soft-deleted and can never be replayed.
 */

package domain

import "time"

// Registration consent states.
const (
	ConsentPending  = 0
	ConsentRejected = 1
	ConsentApproved = 2
)

// Account is one participant in the organization tree.
type Account struct {
	ID           int64     `json:"id"`
	Account      string    `json:"account"`
	AppAccountID string    `json:"app_account_id"`
	RegID        int64     `json:"-"`
	PubKey       string    `json:"pub_key"`
	EnPubKey     *string   `json:"-"`
	CipherText   string    `json:"cipher_text"`
	Lft          int64     `json:"-"`
	Rgt          int64     `json:"-"`
	Depth        int64     `json:"depth"`
	Departed     bool      `json:"-"`
	Uploaded     bool      `json:"is_uploaded"`
	CreatedAt    time.Time `json:"-"`
}

// IsRoot reports whether the account is an organization owner.
func (a *Account) IsRoot() bool { return a.Depth == 0 }

// Contains reports whether other lies strictly inside a's interval,
// i.e. a is an ancestor of other.
func (a *Account) Contains(other *Account) bool {
	return a.Lft < other.Lft && a.Rgt > other.Rgt
}

// Registration is one pending or resolved onboarding handshake between an
// applicant and their direct superior (captain).
type Registration struct {
	ID             int64     `json:"-"`
	RegID          string    `json:"reg_id"`
	ApplyerID      string    `json:"applyer_id"`
	CaptainID      string    `json:"captain_id"`
	ApplyerAccount string    `json:"applyer_account"`
	Msg            string    `json:"msg"`
	Consent        int       `json:"consent"`
	Deleted        bool      `json:"-"`
	AppliedAt      time.Time `json:"-"`
}

// RegistrationDetail is the registration row joined with the account the
// approval created, if any. Depth is -1 until an account exists.
type RegistrationDetail struct {
	Registration
	Depth      int64   `json:"depth"`
	CipherText *string `json:"cipher_text,omitempty"`
}

// EmployeeSummary is one row of a captain's direct-report listing.
type EmployeeSummary struct {
	Account          string `json:"account"`
	AppAccountID     string `json:"app_account_id"`
	ManagerAccountID string `json:"manager_account_id"`
	CipherText       string `json:"cipher_text"`
	Uploaded         bool   `json:"is_uploaded"`
	EmployeeNum      int    `json:"employee_num"`
}

// EmployeeKey is one subordinate's escrowed public-key bundle, returned to
// the organization owner during the key-upload handshake.
type EmployeeKey struct {
	Applyer        string  `json:"applyer"`
	ApplyerAccount string  `json:"applyer_account"`
	Captain        string  `json:"captain"`
	PubKey         string  `json:"pub_key"`
	Msg            *string `json:"msg"`
	CipherText     string  `json:"cipher_text"`
	AppliedAt      int64   `json:"apply_at"`
}

// EmployeeDetail is one subordinate's detail view, including their own
// direct reports.
type EmployeeDetail struct {
	AppAccountID string            `json:"app_account_id"`
	CipherText   string            `json:"cipher_text"`
	Employees    []EmployeeSummary `json:"employee_accounts_info,omitempty"`
}

// CipherUpdate carries a refreshed cipher digest for one surviving direct
// report when their superior is removed or replaced.
type CipherUpdate struct {
	AppAccountID string `json:"app_account_id"`
	CipherText   string `json:"cipher_text"`
}

// Page bundles the pagination envelope shared by all listing endpoints.
type Page struct {
	Count       int64 `json:"count"`
	TotalPages  int64 `json:"total_pages"`
	CurrentPage int   `json:"current_page"`
}

// PageOf computes the pagination envelope for a total row count.
func PageOf(count int64, page, limit int) Page {
	if limit <= 0 {
		limit = 20
	}
	pages := (count + int64(limit) - 1) / int64(limit)
	if pages == 0 {
		pages = 1
	}
	return Page{Count: count, TotalPages: pages, CurrentPage: page}
}
