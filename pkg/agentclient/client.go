/**
 * @description
 * This package provides a client for the signing agent, the companion
 * service that anchors approval-flow templates, broadcasts approved
 * withdrawals and forwards owner registrations to the hardware signer. The
 * agent speaks form-encoded requests and answers with a {RspNo, RspDesc}
 * envelope where RspNo 0 means success.
 *
 * @dependencies
 * - context, encoding/json, fmt, net/http, net/url, time: Standard Go libraries.
 */
package agentclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	flowStatusPath     = "/api/v1/flow/status"
	flowSubmitPath     = "/api/v1/flow/create"
	transferSubmitPath = "/api/v1/transfer/apply"
	registrationPath   = "/api/v1/registrations"
	coinListPath       = "/api/v1/coin/list"
	tokenListPath      = "/api/v1/token/list"
	depositAddressPath = "/api/v1/token/depositaddress"
)

// Client is a client for the signing agent API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a new signing agent client. The agent sits on the same
// trust boundary as the database, so the timeout is short and there is no
// retry: callers treat a failed call as "status unknown".
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 3 * time.Second,
		},
	}
}

// envelope is the response wrapper every agent endpoint uses.
type envelope struct {
	RspNo   json.Number `json:"RspNo"`
	RspDesc string      `json:"RspDesc"`
}

func (e *envelope) ok() bool {
	return e.RspNo.String() == "0"
}

// FlowSubmission is the payload anchoring one flow template.
type FlowSubmission struct {
	Name      string
	AppID     string
	Flow      string
	Sign      string
	Hash      string
	CaptainID string
}

// TransferSubmission is the payload broadcasting one approved withdrawal.
type TransferSubmission struct {
	Hash       string
	WdHash     string
	Category   int64
	Amount     string
	Fee        string
	RecAddress string
	Apply      string
	ApplySign  string
}

// RegistrationSubmission forwards an organization-owner registration to the
// hardware signer for consent.
type RegistrationSubmission struct {
	RegID          string
	Msg            string
	ApplyerID      string
	CaptainID      string
	ApplyerAccount string
	Status         int
}

// CoinStatus is one base-chain currency as the agent reports it.
type CoinStatus struct {
	Category int64  `json:"Category"`
	Name     string `json:"Name"`
	Decimals int32  `json:"Decimals"`
}

// TokenInfo is one contract token as the agent reports it.
type TokenInfo struct {
	Category  int64  `json:"Category"`
	TokenName string `json:"TokenName"`
	Decimals  int32  `json:"Decimals"`
}

// DepositAddresses holds the agent's current custody deposit addresses.
type DepositAddresses struct {
	ContractAddress string `json:"ContractAddress"`
	BtcAddress      string `json:"BtcAddress"`
}

// FlowStatus fetches the raw anchoring status of a flow template hash.
func (c *Client) FlowStatus(ctx context.Context, hash string) (int, error) {
	var resp struct {
		envelope
		ApprovalInfo struct {
			Status int `json:"Status"`
		} `json:"ApprovalInfo"`
	}
	params := url.Values{"hash": {hash}}
	if err := c.get(ctx, flowStatusPath, params, &resp); err != nil {
		return 0, err
	}
	if !resp.ok() {
		return 0, fmt.Errorf("agent rejected flow status query: %s", resp.RspDesc)
	}
	return resp.ApprovalInfo.Status, nil
}

// SubmitFlow hands a new flow template to the agent for anchoring.
func (c *Client) SubmitFlow(ctx context.Context, sub FlowSubmission) error {
	params := url.Values{
		"name":      {sub.Name},
		"appid":     {sub.AppID},
		"flow":      {sub.Flow},
		"sign":      {sub.Sign},
		"hash":      {sub.Hash},
		"captainid": {sub.CaptainID},
	}
	var resp envelope
	if err := c.get(ctx, flowSubmitPath, params, &resp); err != nil {
		return err
	}
	if !resp.ok() {
		return fmt.Errorf("agent rejected flow submission: %s", resp.RspDesc)
	}
	return nil
}

// SubmitTransfer hands a fully approved withdrawal to the agent for
// broadcast.
func (c *Client) SubmitTransfer(ctx context.Context, sub TransferSubmission) error {
	params := url.Values{
		"hash":       {sub.Hash},
		"wdhash":     {sub.WdHash},
		"category":   {strconv.FormatInt(sub.Category, 10)},
		"amount":     {sub.Amount},
		"fee":        {sub.Fee},
		"recaddress": {sub.RecAddress},
		"apply":      {sub.Apply},
		"applysign":  {sub.ApplySign},
	}
	var resp envelope
	if err := c.postForm(ctx, transferSubmitPath, params, &resp); err != nil {
		return err
	}
	if !resp.ok() {
		return fmt.Errorf("agent rejected transfer submission: %s", resp.RspDesc)
	}
	return nil
}

// SubmitRegistration notifies the hardware signer of an owner-level
// registration event. Status 0 applies, 1 cancels.
func (c *Client) SubmitRegistration(ctx context.Context, sub RegistrationSubmission) error {
	params := url.Values{
		"regid":          {sub.RegID},
		"msg":            {sub.Msg},
		"applyerid":      {sub.ApplyerID},
		"captainid":      {sub.CaptainID},
		"applyeraccount": {sub.ApplyerAccount},
		"status":         {strconv.Itoa(sub.Status)},
	}
	var resp envelope
	if err := c.postForm(ctx, registrationPath, params, &resp); err != nil {
		return err
	}
	if !resp.ok() {
		return fmt.Errorf("agent rejected registration: %s", resp.RspDesc)
	}
	return nil
}

// CoinList fetches the agent's base-chain currency listing.
func (c *Client) CoinList(ctx context.Context) ([]CoinStatus, error) {
	var resp struct {
		envelope
		CoinStatus []CoinStatus `json:"CoinStatus"`
	}
	if err := c.get(ctx, coinListPath, nil, &resp); err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, fmt.Errorf("agent rejected coin list query: %s", resp.RspDesc)
	}
	return resp.CoinStatus, nil
}

// TokenList fetches the agent's contract token listing.
func (c *Client) TokenList(ctx context.Context) ([]TokenInfo, error) {
	var resp struct {
		envelope
		TokenInfos []TokenInfo `json:"TokenInfos"`
	}
	if err := c.get(ctx, tokenListPath, nil, &resp); err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, fmt.Errorf("agent rejected token list query: %s", resp.RspDesc)
	}
	return resp.TokenInfos, nil
}

// DepositAddress fetches the current custody deposit addresses.
func (c *Client) DepositAddress(ctx context.Context) (*DepositAddresses, error) {
	var resp struct {
		envelope
		Status DepositAddresses `json:"Status"`
	}
	if err := c.get(ctx, depositAddressPath, nil, &resp); err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, fmt.Errorf("agent rejected deposit address query: %s", resp.RspDesc)
	}
	return &resp.Status, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	target := c.BaseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, "GET", target, nil)
	if err != nil {
		return fmt.Errorf("failed to create agent request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req, path, out)
}

func (c *Client) postForm(ctx context.Context, path string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+path, strings.NewReader(params.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create agent request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	return c.do(req, path, out)
}

func (c *Client) do(req *http.Request, path string, out any) error {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute agent request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read agent response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("level=warn component=agent_client path=%s status=%d msg=\"non-2xx response\"", path, resp.StatusCode)
		return fmt.Errorf("agent returned status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode agent response: %w", err)
	}
	return nil
}
