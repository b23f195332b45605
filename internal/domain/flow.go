/**
 * @description
 * This file defines the approval-flow template domain model. A flow template
 * is an immutable, content-addressed policy: an ordered list of approval
 * tiers, each with a quorum and a roster of approvers. Templates are keyed
 * by the SHA-256 hash of their raw serialized content, which both
 * de-duplicates submissions and anchors the template on the settlement
 * layer under the same identifier.
 *
 * @notes
 * - The local progress column is a pull-refreshed cache of the settlement
 *   layer's anchoring status; it is never pushed to by the gateway.
 * - The raw content string is hashed and signed as-is. Re-serializing it
 *   would break both the hash and the creator's signature, so the raw form
 *   is stored verbatim and parsed on demand.
 */

package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
)

// Flow template anchoring progress (cache of the settlement layer state).
const (
	FlowPending  = 1
	FlowRejected = 2
	FlowApproved = 3
)

// Raw anchoring statuses reported by the settlement proxy.
// Status 7 is the terminal "anchored" state; 0,1,3,4,6 are intermediate.
const AnchorStatusApproved = 7

var anchorStatusPending = map[int]bool{0: true, 1: true, 3: true, 4: true, 6: true}

// ProgressForAnchorStatus maps a raw settlement-layer status onto the local
// flow progress cache.
func ProgressForAnchorStatus(raw int) int {
	switch {
	case raw == AnchorStatusApproved:
		return FlowApproved
	case anchorStatusPending[raw]:
		return FlowPending
	default:
		return FlowRejected
	}
}

// Flow is one stored approval-flow template.
type Flow struct {
	ID          int64  `json:"id"`
	FlowID      string `json:"flow_id"`
	FlowHash    string `json:"flow_hash"`
	FlowName    string `json:"flow_name"`
	FounderID   int64  `json:"-"`
	Content     string `json:"-"`
	FounderSign string `json:"-"`
	SingleLimit string `json:"single_limit"`
	Progress    int    `json:"progress"`
	CreatedAt   int64  `json:"created_at"`
	ApprovalAt  *int64 `json:"approval_at"`
}

// FlowApprover is one approver entry within a tier's roster.
type FlowApprover struct {
	Account      string `json:"account"`
	AppAccountID string `json:"app_account_id"`
	PubKey       string `json:"pub_key,omitempty"`
}

// FlowTier is one approval level: Require approvals out of the roster pass
// the tier.
type FlowTier struct {
	Require   int            `json:"require"`
	Approvers []FlowApprover `json:"approvers"`
}

// FlowContent is the parsed form of a template's raw serialized content.
type FlowContent struct {
	FlowName     string     `json:"flow_name"`
	SingleLimit  string     `json:"single_limit"`
	ApprovalInfo []FlowTier `json:"approval_info"`
}

var (
	ErrFlowContentMalformed = errors.New("flow content malformed")
)

// ParseFlowContent decodes and validates raw template content. Every tier
// must carry a positive quorum no larger than its roster, and every roster
// entry must carry an identity and a public key.
func ParseFlowContent(raw string) (*FlowContent, error) {
	var content FlowContent
	if err := json.Unmarshal([]byte(raw), &content); err != nil {
		return nil, ErrFlowContentMalformed
	}
	if content.FlowName == "" || content.SingleLimit == "" || len(content.ApprovalInfo) == 0 {
		return nil, ErrFlowContentMalformed
	}
	for _, tier := range content.ApprovalInfo {
		if tier.Require <= 0 || len(tier.Approvers) == 0 || tier.Require > len(tier.Approvers) {
			return nil, ErrFlowContentMalformed
		}
		for _, approver := range tier.Approvers {
			if approver.Account == "" || approver.AppAccountID == "" || approver.PubKey == "" {
				return nil, ErrFlowContentMalformed
			}
		}
	}
	return &content, nil
}

// ApproverLocation identifies where an account sits inside a template.
type ApproverLocation struct {
	Level   int
	Num     int
	Require int
}

// Locate scans tiers in order and returns the first position at which the
// account appears in a roster. Duplicate appearances across tiers are
// deliberately not reconciled; the first one wins.
func (c *FlowContent) Locate(appAccountID string) (ApproverLocation, bool) {
	for i, tier := range c.ApprovalInfo {
		for j, approver := range tier.Approvers {
			if approver.AppAccountID == appAccountID {
				return ApproverLocation{Level: i, Num: j, Require: tier.Require}, true
			}
		}
	}
	return ApproverLocation{}, false
}

// ContentHash computes the content address of raw serialized bytes:
// 0x-prefixed hex of their SHA-256 digest. Flow templates and transfer
// apply-content share this scheme.
func ContentHash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return "0x" + hex.EncodeToString(sum[:])
}

// TierApprovalView is one tier of a template decorated with per-approver
// decisions for a specific transfer.
type TierApprovalView struct {
	Require         int                `json:"require"`
	Total           int                `json:"total"`
	Approvers       []ApproverDecision `json:"approvers"`
	CurrentProgress int                `json:"current_progress"`
}

// ApproverDecision is one approver's recorded decision on a transfer.
type ApproverDecision struct {
	Account      string  `json:"account"`
	AppAccountID string  `json:"app_account_id"`
	Progress     int     `json:"progress"`
	Sign         *string `json:"sign"`
}

// FlowSummary is one row of the template listing.
type FlowSummary struct {
	ID          int64  `json:"id"`
	FlowID      string `json:"flow_id"`
	FlowName    string `json:"flow_name"`
	FlowHash    string `json:"flow_hash"`
	SingleLimit string `json:"single_limit"`
	Progress    int    `json:"progress"`
}

// FlowDetail is the template detail view: parsed tiers without decisions.
type FlowDetail struct {
	FlowName     string     `json:"flow_name"`
	Progress     int        `json:"progress"`
	SingleLimit  string     `json:"single_limit"`
	ApprovalInfo []FlowTier `json:"approval_info"`
}
