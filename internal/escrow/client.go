package escrow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const statusSuccess = "SUCCESS"

var (
	// ErrNotSuccess is returned when the escrow service answers without a
	// SUCCESS status or without the unsigned transaction it should build.
	ErrNotSuccess = errors.New("escrow service did not return a successful transaction")
	// ErrUnavailable wraps transport failures and non-2xx responses.
	ErrUnavailable = errors.New("escrow service unavailable")
)

// Client talks to the escrow service HTTP API. Every state-changing call only
// builds an unsigned transaction; SendTransaction broadcasts the signed one.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *zap.Logger
}

func NewClient(baseURL, apiKey string, timeout time.Duration, log *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

type Roles struct {
	Approver        string `json:"approver"`
	ServiceProvider string `json:"serviceProvider"`
	PlatformAddress string `json:"platformAddress"`
	ReleaseSigner   string `json:"releaseSigner"`
	DisputeResolver string `json:"disputeResolver"`
	Receiver        string `json:"receiver"`
}

type Trustline struct {
	Address  string `json:"address"`
	Decimals int    `json:"decimals"`
}

type DeployMilestone struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Receiver    string          `json:"receiver"`
}

type DeployRequest struct {
	Signer       string            `json:"signer"`
	EngagementID string            `json:"engagementId"`
	Title        string            `json:"title"`
	Description  string            `json:"description"`
	Roles        Roles             `json:"roles"`
	PlatformFee  decimal.Decimal   `json:"platformFee"`
	Milestones   []DeployMilestone `json:"milestones"`
	Trustline    Trustline         `json:"trustline"`
}

type FundRequest struct {
	ContractID string          `json:"contractId"`
	Signer     string          `json:"signer"`
	Amount     decimal.Decimal `json:"amount"`
}

type ApproveMilestoneRequest struct {
	ContractID     string `json:"contractId"`
	MilestoneIndex string `json:"milestoneIndex"`
	Approver       string `json:"approver"`
}

type ReleaseMilestoneRequest struct {
	ContractID     string `json:"contractId"`
	MilestoneIndex string `json:"milestoneIndex"`
	ReleaseSigner  string `json:"releaseSigner"`
}

type ChangeMilestoneStatusRequest struct {
	ContractID      string `json:"contractId"`
	MilestoneIndex  string `json:"milestoneIndex"`
	NewStatus       string `json:"newStatus"`
	NewEvidence     string `json:"newEvidence,omitempty"`
	ServiceProvider string `json:"serviceProvider"`
}

// MilestoneIndex formats an index the way the escrow API expects it.
func MilestoneIndex(i int) string {
	return strconv.Itoa(i)
}

type TxResponse struct {
	Status              string `json:"status"`
	UnsignedTransaction string `json:"unsignedTransaction"`
	Message             string `json:"message,omitempty"`
}

type SendResult struct {
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
	ContractID string `json:"contractId,omitempty"`
}

func (c *Client) DeployEscrow(ctx context.Context, req DeployRequest) (string, error) {
	return c.build(ctx, "/deployer/multi-release", req)
}

func (c *Client) FundEscrow(ctx context.Context, req FundRequest) (string, error) {
	return c.build(ctx, "/escrow/multi-release/fund-escrow", req)
}

func (c *Client) ApproveMilestone(ctx context.Context, req ApproveMilestoneRequest) (string, error) {
	return c.build(ctx, "/escrow/multi-release/approve-milestone", req)
}

func (c *Client) ReleaseMilestoneFunds(ctx context.Context, req ReleaseMilestoneRequest) (string, error) {
	return c.build(ctx, "/escrow/multi-release/release-milestone-funds", req)
}

func (c *Client) ChangeMilestoneStatus(ctx context.Context, req ChangeMilestoneStatusRequest) (string, error) {
	return c.build(ctx, "/escrow/multi-release/change-milestone-status", req)
}

// SendTransaction broadcasts a signed transaction. Deploy transactions report
// the new contract id.
func (c *Client) SendTransaction(ctx context.Context, signedXDR string) (*SendResult, error) {
	var out SendResult
	if err := c.do(ctx, http.MethodPost, "/helper/send-transaction", map[string]string{"signedXdr": signedXDR}, &out); err != nil {
		return nil, err
	}
	if !strings.EqualFold(out.Status, statusSuccess) {
		return nil, fmt.Errorf("%w: send status %q: %s", ErrNotSuccess, out.Status, out.Message)
	}
	return &out, nil
}

// GetEscrowsByContractIDs fetches the live mirror for the given contracts.
// Ids are sorted and de-duplicated first; an empty set does no request.
func (c *Client) GetEscrowsByContractIDs(ctx context.Context, contractIDs []string) (Mirrors, error) {
	ids := ContractIDs(contractIDs)
	if len(ids) == 0 {
		return Mirrors{}, nil
	}

	q := url.Values{}
	for _, id := range ids {
		q.Add("contractIds", id)
	}
	q.Set("validateOnChain", "true")

	var list []Mirror
	if err := c.do(ctx, http.MethodGet, "/helper/get-escrow-by-contract-ids?"+q.Encode(), nil, &list); err != nil {
		return nil, err
	}
	return NewMirrors(list), nil
}

func (c *Client) build(ctx context.Context, path string, payload any) (string, error) {
	var out TxResponse
	if err := c.do(ctx, http.MethodPost, path, payload, &out); err != nil {
		return "", err
	}
	if !strings.EqualFold(out.Status, statusSuccess) || out.UnsignedTransaction == "" {
		return "", fmt.Errorf("%w: %s status %q: %s", ErrNotSuccess, path, out.Status, out.Message)
	}
	return out.UnsignedTransaction, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.log.Warn("escrow service error",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(data)),
		)
		return fmt.Errorf("%w: %s returned %d: %s", ErrUnavailable, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", ErrUnavailable, path, err)
	}
	return nil
}
