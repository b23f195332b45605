/**
 * @description
 * This file contains the core service type for the approval backend. The
 * `Service` struct orchestrates the registration handshake, the hierarchy,
 * flow templates, transfer approvals and capital bookkeeping, coordinating
 * between the database repository, the signing agent and the message
 * broker.
 *
 * Key properties:
 * - The signing agent is the source of truth for anchoring status; the
 *   local progress columns are a pull-based cache refreshed on read.
 * - Events published to RabbitMQ are best effort and never gate an
 *   operation.
 *
 * @dependencies
 * - context, errors, log: Standard Go libraries.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/agentclient, pkg/rabbitmq, pkg/sigverify: External communication
 *   and request authentication.
 */

package app

import (
	"context"
	"errors"
	"log"

	"github.com/boxproject/box-appServer/internal/domain"
	"github.com/boxproject/box-appServer/internal/store"
	"github.com/boxproject/box-appServer/pkg/agentclient"
	"github.com/boxproject/box-appServer/pkg/rabbitmq"
	"github.com/boxproject/box-appServer/pkg/sigverify"
)

// DefaultPageLimit is the page size listings fall back to.
const DefaultPageLimit = 20

// PendingRegistrationCap is how many undecided applications a captain sees;
// older ones are retired.
const PendingRegistrationCap = 5

// SettlementGateway is the slice of the signing agent the service depends
// on. *agentclient.Client satisfies it; tests substitute stubs.
type SettlementGateway interface {
	FlowStatus(ctx context.Context, hash string) (int, error)
	SubmitFlow(ctx context.Context, sub agentclient.FlowSubmission) error
	SubmitTransfer(ctx context.Context, sub agentclient.TransferSubmission) error
	SubmitRegistration(ctx context.Context, sub agentclient.RegistrationSubmission) error
	CoinList(ctx context.Context) ([]agentclient.CoinStatus, error)
	TokenList(ctx context.Context) ([]agentclient.TokenInfo, error)
	DepositAddress(ctx context.Context) (*agentclient.DepositAddresses, error)
}

// Service provides the core business logic for the approval backend.
type Service struct {
	repo          store.Repository
	agent         SettlementGateway
	eventProducer rabbitmq.Publisher
}

// NewService creates a new service instance.
func NewService(repo store.Repository, agent SettlementGateway, producer rabbitmq.Publisher) *Service {
	return &Service{
		repo:          repo,
		agent:         agent,
		eventProducer: producer,
	}
}

// accountByAppID resolves a non-departed account, mapping absence onto the
// wire error codes: a departed account reports 1011, an unknown one 1004.
func (s *Service) accountByAppID(ctx context.Context, appAccountID string) (*domain.Account, error) {
	account, err := s.repo.FindAccountAnyByAppID(ctx, appAccountID)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	if account.Departed {
		return nil, ErrAccountDeparted
	}
	return account, nil
}

// verifySign checks a request signature against the caller's stored key.
func verifySign(msg, pubKey, sign string) error {
	if err := sigverify.Verify(msg, pubKey, sign); err != nil {
		return ErrSignatureInvalid
	}
	return nil
}

// normalizePage clamps pagination input to sane values.
func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageLimit
	}
	return page, limit
}

// refreshFlowProgress pulls the anchoring status of a flow from the agent
// and updates the cached progress. The cache is only consulted again once a
// flow is pending: terminal states are sticky. A transport failure leaves
// the cache untouched and returns the stale value.
func (s *Service) refreshFlowProgress(ctx context.Context, flow *domain.Flow) int {
	if flow.Progress >= domain.FlowRejected {
		return flow.Progress
	}
	raw, err := s.agent.FlowStatus(ctx, flow.FlowHash)
	if err != nil {
		log.Printf("level=warn component=service op=refresh_flow flow_id=%s msg=\"agent status query failed; keeping cached progress\" err=%v", flow.FlowID, err)
		return flow.Progress
	}
	progress := domain.ProgressForAnchorStatus(raw)
	if progress != flow.Progress {
		if err := s.repo.UpdateFlowProgress(ctx, flow.ID, progress); err != nil {
			log.Printf("level=warn component=service op=refresh_flow flow_id=%s msg=\"progress cache update failed\" err=%v", flow.FlowID, err)
			return flow.Progress
		}
		flow.Progress = progress
	}
	return flow.Progress
}
