// Package clients provides typed HTTP clients for the vault recovery API,
// used by the owner dashboard, the guardian portal and integration tests.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/guardiavault/vault-recovery-backend/httpserver"
	"github.com/guardiavault/vault-recovery-backend/interfaces"
	"github.com/guardiavault/vault-recovery-backend/orchestrator"
)

// Client talks to the vault recovery API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for the API at baseURL.
func New(baseURL string, timeout ...time.Duration) *Client {
	clientTimeout := 30 * time.Second
	if len(timeout) > 0 {
		clientTimeout = timeout[0]
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: clientTimeout},
	}
}

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// APIError carries the server's error message and status code.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Message)
}

func (c *Client) call(ctx context.Context, method, path string, body, into any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var envelope apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to parse response (status %d): %w", resp.StatusCode, err)
	}
	if !envelope.Success {
		return &APIError{StatusCode: resp.StatusCode, Message: envelope.Error}
	}
	if into != nil {
		if err := json.Unmarshal(envelope.Data, into); err != nil {
			return fmt.Errorf("failed to parse response data: %w", err)
		}
	}
	return nil
}

// CreateVault creates a vault with its guardian set. The response includes
// the master secret backup, shown only this once.
func (c *Client) CreateVault(ctx context.Context, req httpserver.CreateVaultRequest) (*httpserver.CreateVaultResponse, error) {
	var out httpserver.CreateVaultResponse
	if err := c.call(ctx, http.MethodPost, "/api/vaults", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VaultStatus returns the vault's liveness and recoverability report.
func (c *Client) VaultStatus(ctx context.Context, vaultID interfaces.VaultID) (*orchestrator.StatusReport, error) {
	var out orchestrator.StatusReport
	if err := c.call(ctx, http.MethodGet, "/api/vaults/"+vaultID.String(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CheckIn resets the vault's liveness countdown.
func (c *Client) CheckIn(ctx context.Context, vaultID interfaces.VaultID) (*interfaces.Vault, error) {
	var out interfaces.Vault
	if err := c.call(ctx, http.MethodPost, fmt.Sprintf("/api/vaults/%s/checkin", vaultID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// InviteGuardian invites a guardian or beneficiary to a vault.
func (c *Client) InviteGuardian(ctx context.Context, vaultID interfaces.VaultID, req httpserver.InviteGuardianRequest) (*interfaces.Guardian, error) {
	var out interfaces.Guardian
	if err := c.call(ctx, http.MethodPost, fmt.Sprintf("/api/vaults/%s/guardians/invite", vaultID), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListGuardians returns the vault's guardians and beneficiaries.
func (c *Client) ListGuardians(ctx context.Context, vaultID interfaces.VaultID) ([]*interfaces.Guardian, error) {
	var out []*interfaces.Guardian
	if err := c.call(ctx, http.MethodGet, fmt.Sprintf("/api/vaults/%s/guardians", vaultID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RemoveGuardian removes a guardian; force overrides the threshold guard.
func (c *Client) RemoveGuardian(ctx context.Context, vaultID interfaces.VaultID, guardianID interfaces.GuardianID, force bool) (*interfaces.Guardian, error) {
	path := fmt.Sprintf("/api/vaults/%s/guardians/%s", vaultID, guardianID)
	if force {
		path += "?force=true"
	}
	var out interfaces.Guardian
	if err := c.call(ctx, http.MethodDelete, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RevealPassphrases retrieves the guardian passphrases for the current
// fragment epoch. Single use; a repeat call fails.
func (c *Client) RevealPassphrases(ctx context.Context, vaultID interfaces.VaultID) (map[interfaces.GuardianID]string, error) {
	var out httpserver.RevealPassphrasesResponse
	if err := c.call(ctx, http.MethodGet, fmt.Sprintf("/api/vaults/%s/fragments/passphrases", vaultID), nil, &out); err != nil {
		return nil, err
	}
	return out.Passphrases, nil
}

// RotateFragments reissues the fragment set under a new epoch.
func (c *Client) RotateFragments(ctx context.Context, vaultID interfaces.VaultID, req httpserver.RotateRequest) (*interfaces.Vault, error) {
	var out interfaces.Vault
	if err := c.call(ctx, http.MethodPost, fmt.Sprintf("/api/vaults/%s/fragments/rotate", vaultID), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AcceptInvite accepts a guardian invitation by token.
func (c *Client) AcceptInvite(ctx context.Context, token string) (*interfaces.Guardian, error) {
	var out interfaces.Guardian
	if err := c.call(ctx, http.MethodPost, "/api/guardian-portal/accept", httpserver.PortalRequest{Token: token}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeclineInvite declines a guardian invitation by token.
func (c *Client) DeclineInvite(ctx context.Context, token string) (*interfaces.Guardian, error) {
	var out interfaces.Guardian
	if err := c.call(ctx, http.MethodPost, "/api/guardian-portal/decline", httpserver.PortalRequest{Token: token}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FileClaim opens a recovery claim against a vault.
func (c *Client) FileClaim(ctx context.Context, vaultID interfaces.VaultID, claimant string, reason interfaces.ClaimReason) (*interfaces.Claim, error) {
	var out interfaces.Claim
	err := c.call(ctx, http.MethodPost, "/api/recovery/create", httpserver.CreateClaimRequest{
		VaultID:  vaultID.String(),
		Claimant: claimant,
		Reason:   string(reason),
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetClaim returns a claim by ID.
func (c *Client) GetClaim(ctx context.Context, claimID interfaces.ClaimID) (*interfaces.Claim, error) {
	var out interfaces.Claim
	if err := c.call(ctx, http.MethodGet, "/api/claims/"+claimID.String(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CastVote records a guardian's vote on a claim.
func (c *Client) CastVote(ctx context.Context, claimID interfaces.ClaimID, guardianID interfaces.GuardianID, decision interfaces.VoteDecision) (*interfaces.Claim, error) {
	var out interfaces.Claim
	err := c.call(ctx, http.MethodPost, fmt.Sprintf("/api/claims/%s/vote", claimID), httpserver.VoteRequest{
		GuardianID: guardianID.String(),
		Decision:   string(decision),
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ResolveExpired times out a claim past its voting deadline.
func (c *Client) ResolveExpired(ctx context.Context, claimID interfaces.ClaimID) (*interfaces.Claim, error) {
	var out interfaces.Claim
	if err := c.call(ctx, http.MethodPost, fmt.Sprintf("/api/claims/%s/resolve-expired", claimID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Reconstruct recovers the master secret of a released vault from guardian
// fragment credentials.
func (c *Client) Reconstruct(ctx context.Context, vaultID interfaces.VaultID, creds []httpserver.FragmentCredential) (string, error) {
	var out httpserver.ReconstructResponse
	err := c.call(ctx, http.MethodPost, fmt.Sprintf("/api/vaults/%s/reconstruct", vaultID), httpserver.ReconstructRequest{
		Credentials: creds,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.MasterSecret, nil
}
