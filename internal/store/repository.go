/**
 * @description
 * This file defines the `Repository` interface, the contract for all data
 * access the approval service needs. The application layer only ever talks
 * to this interface, which keeps the quorum and hierarchy logic testable
 * against in-memory stubs and decoupled from PostgreSQL.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/shopspring/decimal: Exact balance arithmetic.
 * - internal/domain: The service's domain models.
 */

package store

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/boxproject/box-appServer/internal/domain"
)

// CreateAccountParams carries everything needed to insert one account into
// the organization tree. A CaptainRgt of 0 inserts a new root.
type CreateAccountParams struct {
	Account      string
	AppAccountID string
	RegID        int64
	PubKey       string
	EnPubKey     *string
	CipherText   string
	CaptainRgt   int64
	Depth        int64
	Uploaded     bool
}

// ReviewRecord is a vote row joined with its approver's account identity,
// which the application layer needs to map votes onto flow tiers.
type ReviewRecord struct {
	ManagerAccID int64
	AppAccountID string
	Account      string
	Comments     int
	Sign         *string
}

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Account and hierarchy methods. All tree mutations renumber nested-set
	// intervals and run in a single transaction.
	FindAccountByAppID(ctx context.Context, appAccountID string) (*domain.Account, error)
	FindAccountAnyByAppID(ctx context.Context, appAccountID string) (*domain.Account, error)
	FindAccountByID(ctx context.Context, id int64) (*domain.Account, error)
	AccountNameExists(ctx context.Context, account string) (bool, error)
	FindRootAbove(ctx context.Context, lft, rgt int64) (*domain.Account, error)
	CreateAccount(ctx context.Context, params CreateAccountParams) (*domain.Account, error)
	RemoveAccount(ctx context.Context, appAccountID string, updates []domain.CipherUpdate) (*domain.Account, error)
	RelocateAccount(ctx context.Context, memberAppID, leaderAppID string, updates []domain.CipherUpdate) error
	ListDirectReports(ctx context.Context, leaderAppID string, page, limit int) ([]domain.EmployeeSummary, int64, error)
	SearchEmployees(ctx context.Context, viewerAppID, keyword string, page, limit int) ([]domain.EmployeeSummary, int64, error)
	ListPendingKeyUploads(ctx context.Context) ([]domain.EmployeeKey, error)
	FindEmployeeKey(ctx context.Context, employeeAppID string) (*domain.EmployeeKey, error)
	MarkKeysUploaded(ctx context.Context, appAccountIDs []string) error

	// Registration methods
	CreateRegistration(ctx context.Context, reg *domain.Registration) error
	FindRegistrationByRegID(ctx context.Context, regID string) (*domain.Registration, error)
	FindRegistrationByID(ctx context.Context, id int64) (*domain.Registration, error)
	PendingRegistrationExists(ctx context.Context, applyerID, captainID string) (bool, error)
	ListPendingRegistrations(ctx context.Context, captainID string, limit int) ([]domain.Registration, error)
	ResolveRegistration(ctx context.Context, regID string, consent int) error
	RegistrationDetail(ctx context.Context, regID string) (*domain.RegistrationDetail, error)

	// Flow template methods
	CreateFlow(ctx context.Context, flow *domain.Flow) error
	FindFlowByFlowID(ctx context.Context, flowID string) (*domain.Flow, error)
	FindFlowByID(ctx context.Context, id int64) (*domain.Flow, error)
	FindFlowByHash(ctx context.Context, hash string) (*domain.Flow, error)
	ListFlows(ctx context.Context, founderID int64, keyword string, progress, page, limit int) ([]domain.Flow, int64, error)
	UpdateFlowProgress(ctx context.Context, id int64, progress int) error

	// Transfer and review methods
	CreateTransferWithReviews(ctx context.Context, transfer *domain.Transfer, managerIDs []int64) error
	FindTransferByOrderNumber(ctx context.Context, orderNumber string) (*domain.Transfer, error)
	FindTransferByHash(ctx context.Context, transHash string) (*domain.Transfer, error)
	FindReview(ctx context.Context, transferID, managerAccID int64) (*domain.Review, error)
	RecordReview(ctx context.Context, transferID, managerAccID int64, comments int, sign string) error
	ListReviews(ctx context.Context, transferID int64) ([]ReviewRecord, error)
	SeedReviews(ctx context.Context, transferID int64, managerIDs []int64) (bool, error)
	UpdateTransferProgress(ctx context.Context, id int64, progress int) error
	MarkTransferSubmitted(ctx context.Context, id int64) error
	ListTransfersByApplyer(ctx context.Context, applyerID int64, progress, page, limit int) ([]domain.TransferRecord, int64, error)
	ListTransfersForApprover(ctx context.Context, managerAccID int64, progress, page, limit int) ([]domain.TransferRecord, int64, error)
	MarkWithdrawalBroadcast(ctx context.Context, transHash, chainTxID string) error
	FinalizeWithdrawal(ctx context.Context, transHash, chainTxID string) (*domain.Transfer, error)

	// Currency and deposit methods
	FindCurrencyByName(ctx context.Context, name string) (*domain.Currency, error)
	FindCurrencyByID(ctx context.Context, id int64) (*domain.Currency, error)
	ListCurrencies(ctx context.Context) ([]domain.Currency, error)
	SyncCurrencies(ctx context.Context, kind int, currencies []domain.Currency) error
	UpdateCurrencyAddress(ctx context.Context, id int64, address string) error
	RecordDeposit(ctx context.Context, rows []domain.DepositRecord, credit decimal.Decimal) error
	ListTradeRecords(ctx context.Context, currencyID int64, page, limit int) ([]domain.TradeRecord, int64, error)
}
