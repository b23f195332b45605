/**
 * @description
 * Registration handshake logic: a prospective member applies under their
 * direct superior (captain), the captain decides, and an approval inserts
 * the member into the organization tree. Applications addressed to an
 * identity that is not in the tree are owner registrations and are
 * forwarded to the hardware signer through the agent; the signer answers
 * via the admin decision callback.
 */

package app

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/boxproject/box-appServer/internal/domain"
	"github.com/boxproject/box-appServer/internal/store"
	"github.com/boxproject/box-appServer/pkg/agentclient"
	"github.com/boxproject/box-appServer/pkg/rabbitmq"
)

// RegistrationApply carries one onboarding application.
type RegistrationApply struct {
	Msg            string
	ApplyerID      string
	CaptainID      string
	ApplyerAccount string
}

// RegistrationDecision carries a captain's verdict on an application. The
// key material fields are required when Consent approves.
type RegistrationDecision struct {
	RegID         string
	Consent       int
	ApplyerPubKey string
	CipherText    string
	EnPubKey      string
}

// AdminDecision carries the hardware signer's verdict on an owner
// registration, delivered through the agent callback.
type AdminDecision struct {
	RegID      string
	Status     int
	PubKey     string
	CipherText string
}

// ApplyForAccount validates and stores a fresh application and returns its
// registration id. Owner applications are forwarded to the signer; if that
// forward fails the application is retired immediately.
func (s *Service) ApplyForAccount(ctx context.Context, apply RegistrationApply) (string, error) {
	if apply.Msg == "" || apply.ApplyerID == "" || apply.CaptainID == "" || apply.ApplyerAccount == "" {
		return "", ErrInvalidParams
	}

	nameTaken, err := s.repo.AccountNameExists(ctx, apply.ApplyerAccount)
	if err != nil {
		return "", err
	}
	if nameTaken {
		return "", ErrAccountExists
	}

	existing, err := s.repo.FindAccountAnyByAppID(ctx, apply.ApplyerID)
	switch {
	case err == nil && !existing.Departed:
		return "", ErrAccountExists
	case err == nil && existing.Departed:
		return "", ErrAccountDeparted
	case !errors.Is(err, store.ErrAccountNotFound):
		return "", err
	}

	applied, err := s.repo.PendingRegistrationExists(ctx, apply.ApplyerID, apply.CaptainID)
	if err != nil {
		return "", err
	}
	if applied {
		return "", ErrDuplicateApply
	}

	reg := &domain.Registration{
		RegID:          uuid.NewString(),
		ApplyerID:      apply.ApplyerID,
		CaptainID:      apply.CaptainID,
		ApplyerAccount: apply.ApplyerAccount,
		Msg:            apply.Msg,
		Consent:        domain.ConsentPending,
	}
	if err := s.repo.CreateRegistration(ctx, reg); err != nil {
		return "", err
	}

	// A captain unknown to the tree is the hardware signer's identity, so
	// this is an owner registration.
	_, err = s.repo.FindAccountAnyByAppID(ctx, apply.CaptainID)
	if errors.Is(err, store.ErrAccountNotFound) {
		sub := agentclient.RegistrationSubmission{
			RegID:          reg.RegID,
			Msg:            apply.Msg,
			ApplyerID:      apply.ApplyerID,
			CaptainID:      apply.CaptainID,
			ApplyerAccount: apply.ApplyerAccount,
			Status:         0,
		}
		if err := s.agent.SubmitRegistration(ctx, sub); err != nil {
			log.Printf("level=warn component=service op=apply_registration reg_id=%s msg=\"signer forward failed; retiring application\" err=%v", reg.RegID, err)
			if revokeErr := s.repo.ResolveRegistration(ctx, reg.RegID, domain.ConsentRejected); revokeErr != nil {
				log.Printf("level=error component=service op=apply_registration reg_id=%s msg=\"failed to retire application\" err=%v", reg.RegID, revokeErr)
			}
			return "", ErrUpstreamFault
		}
	} else if err != nil {
		return "", err
	}

	return reg.RegID, nil
}

// PendingRegistrations lists the captain's newest undecided applications.
func (s *Service) PendingRegistrations(ctx context.Context, captainID string) ([]domain.Registration, error) {
	if captainID == "" {
		return nil, ErrInvalidParams
	}
	return s.repo.ListPendingRegistrations(ctx, captainID, PendingRegistrationCap)
}

// RegistrationInfo returns the detail view of one application, joined with
// the account its approval created.
func (s *Service) RegistrationInfo(ctx context.Context, regID string) (*domain.RegistrationDetail, error) {
	if regID == "" {
		return nil, ErrInvalidParams
	}
	detail, err := s.repo.RegistrationDetail(ctx, regID)
	if err != nil {
		if errors.Is(err, store.ErrRegistrationNotFound) {
			return nil, ErrRegNotFound
		}
		return nil, err
	}
	return detail, nil
}

// ApproveRegistration records a captain's decision. Approval inserts the
// applicant under the captain; EnPubKey must be the captain's signature
// over the applicant's public key, which proves the captain saw the key it
// is vouching for.
func (s *Service) ApproveRegistration(ctx context.Context, decision RegistrationDecision) error {
	if decision.RegID == "" || decision.Consent == 0 {
		return ErrInvalidParams
	}

	reg, err := s.pendingRegistration(ctx, decision.RegID)
	if err != nil {
		return err
	}

	if decision.Consent == domain.ConsentApproved {
		if decision.ApplyerPubKey == "" || decision.CipherText == "" || decision.EnPubKey == "" {
			return ErrInvalidParams
		}
		captain, err := s.repo.FindAccountAnyByAppID(ctx, reg.CaptainID)
		if err != nil {
			if errors.Is(err, store.ErrAccountNotFound) {
				return ErrAccountNotFound
			}
			return err
		}
		if captain.Departed {
			return ErrCaptainDeparted
		}
		if err := verifySign(decision.ApplyerPubKey, captain.PubKey, decision.EnPubKey); err != nil {
			return err
		}

		// Only the owner's own direct reports hand their key over in
		// person; everyone deeper escrows it for the upload handshake.
		uploaded := captain.Depth == 0
		params := store.CreateAccountParams{
			Account:      reg.ApplyerAccount,
			AppAccountID: reg.ApplyerID,
			RegID:        reg.ID,
			PubKey:       decision.ApplyerPubKey,
			EnPubKey:     &decision.EnPubKey,
			CipherText:   decision.CipherText,
			CaptainRgt:   captain.Rgt,
			Depth:        captain.Depth + 1,
			Uploaded:     uploaded,
		}
		if _, err := s.repo.CreateAccount(ctx, params); err != nil {
			return err
		}
	}

	if err := s.repo.ResolveRegistration(ctx, decision.RegID, decision.Consent); err != nil {
		return err
	}
	s.publishRegistrationEvent(ctx, reg, decision.Consent)
	return nil
}

// CancelRegistration handles the applicant reporting that the approval
// reached them corrupted: the freshly created account is rolled back out of
// the tree and the application is retired as rejected. Owner accounts also
// notify the signer of the cancellation.
func (s *Service) CancelRegistration(ctx context.Context, regID, applyerID, sign string) error {
	if regID == "" || applyerID == "" || sign == "" {
		return ErrInvalidParams
	}

	account, err := s.accountByAppID(ctx, applyerID)
	if err != nil {
		return err
	}
	reg, err := s.pendingRegistration(ctx, regID)
	if err != nil {
		return err
	}
	if reg.ApplyerID != applyerID {
		return ErrNotAuthorized
	}
	if err := verifySign(regID, account.PubKey, sign); err != nil {
		return err
	}

	if _, err := s.repo.RemoveAccount(ctx, applyerID, nil); err != nil {
		return err
	}
	if account.IsRoot() {
		sub := agentclient.RegistrationSubmission{
			RegID:          regID,
			Msg:            reg.Msg,
			ApplyerID:      applyerID,
			CaptainID:      reg.CaptainID,
			ApplyerAccount: account.Account,
			Status:         1,
		}
		if err := s.agent.SubmitRegistration(ctx, sub); err != nil {
			return ErrUpstreamCancelFault
		}
	}
	if err := s.repo.ResolveRegistration(ctx, regID, domain.ConsentRejected); err != nil {
		return err
	}
	s.publishRegistrationEvent(ctx, reg, domain.ConsentRejected)
	return nil
}

// AdminApproveRegistration handles the signer's verdict on an owner
// registration. Approval creates a fresh root in the tree.
func (s *Service) AdminApproveRegistration(ctx context.Context, decision AdminDecision) error {
	if decision.RegID == "" || decision.Status == 0 {
		return ErrInvalidParams
	}
	reg, err := s.pendingRegistration(ctx, decision.RegID)
	if err != nil {
		return err
	}

	if decision.Status == domain.ConsentApproved {
		if decision.CipherText == "" {
			return ErrInvalidParams
		}
		params := store.CreateAccountParams{
			Account:      reg.ApplyerAccount,
			AppAccountID: reg.ApplyerID,
			RegID:        reg.ID,
			PubKey:       decision.PubKey,
			CipherText:   decision.CipherText,
			CaptainRgt:   0,
			Depth:        0,
			Uploaded:     true,
		}
		if _, err := s.repo.CreateAccount(ctx, params); err != nil {
			return err
		}
	}
	if err := s.repo.ResolveRegistration(ctx, decision.RegID, decision.Status); err != nil {
		return err
	}
	s.publishRegistrationEvent(ctx, reg, decision.Status)
	return nil
}

// pendingRegistration resolves an application that is still open.
func (s *Service) pendingRegistration(ctx context.Context, regID string) (*domain.Registration, error) {
	reg, err := s.repo.FindRegistrationByRegID(ctx, regID)
	if err != nil {
		if errors.Is(err, store.ErrRegistrationNotFound) {
			return nil, ErrRegNotFound
		}
		return nil, err
	}
	if reg.Deleted {
		return nil, ErrRegNotFound
	}
	return reg, nil
}

func (s *Service) publishRegistrationEvent(ctx context.Context, reg *domain.Registration, consent int) {
	event := rabbitmq.RegistrationEvent{
		RegID:     reg.RegID,
		ApplyerID: reg.ApplyerID,
		CaptainID: reg.CaptainID,
		Consent:   consent,
		Timestamp: time.Now().UTC(),
	}
	if err := s.eventProducer.PublishRegistrationEvent(ctx, event); err != nil {
		log.Printf("level=warn component=service op=publish_registration reg_id=%s msg=\"event publish failed\" err=%v", reg.RegID, err)
	}
}
