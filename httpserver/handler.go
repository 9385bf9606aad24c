package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/guardiavault/vault-recovery-backend/claims"
	"github.com/guardiavault/vault-recovery-backend/fragstore"
	"github.com/guardiavault/vault-recovery-backend/interfaces"
	"github.com/guardiavault/vault-recovery-backend/orchestrator"
	"github.com/guardiavault/vault-recovery-backend/registry"
)

// maxBodySize is the maximum allowed request body size (1MB).
const maxBodySize = 1024 * 1024

// Handler processes the vault recovery API requests, delegating to the
// orchestrator for lifecycle operations and to the registry for the guardian
// portal.
type Handler struct {
	orc       *orchestrator.Orchestrator
	guardians *registry.Registry
	claims    *claims.Service
	log       *slog.Logger
}

// NewHandler creates an API handler over the given collaborators.
func NewHandler(orc *orchestrator.Orchestrator, guardians *registry.Registry, claimSvc *claims.Service, log *slog.Logger) *Handler {
	return &Handler{
		orc:       orc,
		guardians: guardians,
		claims:    claimSvc,
		log:       log,
	}
}

type apiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(apiResponse{Success: true, Data: data}); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, interfaces.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, interfaces.ErrInvalidParameters),
		errors.Is(err, interfaces.ErrInvalidToken),
		errors.Is(err, interfaces.ErrExpiredToken):
		status = http.StatusBadRequest
	case errors.Is(err, interfaces.ErrUnauthorizedVoter):
		status = http.StatusForbidden
	case errors.Is(err, interfaces.ErrClaimExists),
		errors.Is(err, interfaces.ErrDuplicateInvite),
		errors.Is(err, interfaces.ErrClaimAlreadyResolved),
		errors.Is(err, interfaces.ErrPassphrasesRevealed),
		errors.Is(err, interfaces.ErrThresholdBreach),
		errors.Is(err, interfaces.ErrVaultClosed),
		errors.Is(err, interfaces.ErrVaultNotReleased),
		errors.Is(err, interfaces.ErrVaultUnrecoverable),
		errors.Is(err, interfaces.ErrVersionConflict):
		status = http.StatusConflict
	case errors.Is(err, interfaces.ErrInsufficientFragments),
		errors.Is(err, interfaces.ErrCorruptFragment),
		errors.Is(err, interfaces.ErrDecryptionFailed):
		status = http.StatusUnprocessableEntity
	}

	if status == http.StatusInternalServerError {
		h.log.Error("Request failed", "err", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiResponse{Success: false, Error: err.Error()})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, into any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		h.writeError(w, errors.Join(interfaces.ErrInvalidParameters, err))
		return false
	}
	return true
}

func (h *Handler) vaultID(w http.ResponseWriter, r *http.Request) (interfaces.VaultID, bool) {
	id, err := interfaces.ParseVaultID(chi.URLParam(r, "vault_id"))
	if err != nil {
		h.writeError(w, err)
		return "", false
	}
	return id, true
}

// CreateVaultRequest is the POST /api/vaults body.
type CreateVaultRequest struct {
	OwnerID             string           `json:"owner_id"`
	Name                string           `json:"name"`
	Threshold           int              `json:"threshold"`
	Total               int              `json:"total"`
	CheckInIntervalDays int              `json:"check_in_interval_days"`
	GracePeriodDays     int              `json:"grace_period_days"`
	VotingWindowDays    int              `json:"voting_window_days"`
	TimeLockDays        int              `json:"time_lock_days"`
	Guardians           []GuardianInvite `json:"guardians"`
	Beneficiaries       []GuardianInvite `json:"beneficiaries"`
}

// GuardianInvite names one party to invite.
type GuardianInvite struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// CreateVaultResponse carries the one-time master secret backup alongside
// the created vault.
type CreateVaultResponse struct {
	Vault        *interfaces.Vault `json:"vault"`
	MasterSecret string            `json:"master_secret"`
	InviteTokens map[string]string `json:"invite_tokens"`
}

// HandleCreateVault processes POST /api/vaults.
func (h *Handler) HandleCreateVault(w http.ResponseWriter, r *http.Request) {
	var req CreateVaultRequest
	if !h.decode(w, r, &req) {
		return
	}

	toInvites := func(in []GuardianInvite) []orchestrator.GuardianInvite {
		out := make([]orchestrator.GuardianInvite, 0, len(in))
		for _, g := range in {
			out = append(out, orchestrator.GuardianInvite{Name: g.Name, Email: g.Email})
		}
		return out
	}

	result, err := h.orc.CreateVault(r.Context(), orchestrator.CreateVaultRequest{
		OwnerID:             req.OwnerID,
		Name:                req.Name,
		Scheme:              interfaces.Scheme{Threshold: req.Threshold, Total: req.Total},
		CheckInIntervalDays: req.CheckInIntervalDays,
		GracePeriodDays:     req.GracePeriodDays,
		VotingWindowDays:    req.VotingWindowDays,
		TimeLockDays:        req.TimeLockDays,
		Guardians:           toInvites(req.Guardians),
		Beneficiaries:       toInvites(req.Beneficiaries),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, CreateVaultResponse{
		Vault:        result.Vault,
		MasterSecret: orchestrator.MasterSecretHex(result.MasterSecret),
		InviteTokens: result.InviteTokens,
	})
}

// HandleVaultStatus processes GET /api/vaults/{vault_id}.
func (h *Handler) HandleVaultStatus(w http.ResponseWriter, r *http.Request) {
	vaultID, ok := h.vaultID(w, r)
	if !ok {
		return
	}
	report, err := h.orc.Status(r.Context(), vaultID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

// HandleCheckIn processes POST /api/vaults/{vault_id}/checkin.
func (h *Handler) HandleCheckIn(w http.ResponseWriter, r *http.Request) {
	vaultID, ok := h.vaultID(w, r)
	if !ok {
		return
	}
	vault, err := h.orc.CheckIn(r.Context(), vaultID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, vault)
}

// InviteGuardianRequest is the POST guardians/invite body.
type InviteGuardianRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// HandleInviteGuardian processes POST /api/vaults/{vault_id}/guardians/invite.
func (h *Handler) HandleInviteGuardian(w http.ResponseWriter, r *http.Request) {
	vaultID, ok := h.vaultID(w, r)
	if !ok {
		return
	}
	var req InviteGuardianRequest
	if !h.decode(w, r, &req) {
		return
	}

	role := interfaces.GuardianRole(req.Role)
	if role == "" {
		role = interfaces.RoleGuardian
	}
	if role != interfaces.RoleGuardian && role != interfaces.RoleBeneficiary {
		h.writeError(w, interfaces.ErrInvalidParameters)
		return
	}

	guardian, err := h.guardians.Invite(r.Context(), vaultID, req.Name, req.Email, role)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, guardian)
}

// HandleRemoveGuardian processes DELETE /api/vaults/{vault_id}/guardians/{guardian_id}.
// The force query parameter overrides the threshold-breach protection.
func (h *Handler) HandleRemoveGuardian(w http.ResponseWriter, r *http.Request) {
	guardianID, err := interfaces.ParseGuardianID(chi.URLParam(r, "guardian_id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	force := r.URL.Query().Get("force") == "true"

	guardian, err := h.guardians.Remove(r.Context(), guardianID, force)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, guardian)
}

// HandleListGuardians processes GET /api/vaults/{vault_id}/guardians.
func (h *Handler) HandleListGuardians(w http.ResponseWriter, r *http.Request) {
	vaultID, ok := h.vaultID(w, r)
	if !ok {
		return
	}
	guardians, err := h.guardians.List(r.Context(), vaultID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, guardians)
}

// RevealPassphrasesResponse maps guardian IDs to their fragment passphrases.
type RevealPassphrasesResponse struct {
	Passphrases map[interfaces.GuardianID]string `json:"passphrases"`
}

// HandleRevealPassphrases processes GET /api/vaults/{vault_id}/fragments/passphrases.
// The response is served exactly once per fragment epoch.
func (h *Handler) HandleRevealPassphrases(w http.ResponseWriter, r *http.Request) {
	vaultID, ok := h.vaultID(w, r)
	if !ok {
		return
	}
	passphrases, err := h.orc.RevealPassphrases(r.Context(), vaultID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, RevealPassphrasesResponse{Passphrases: passphrases})
}

// RotateRequest is the POST rotate body. The master secret comes from the
// owner's backup; it is never persisted server-side.
type RotateRequest struct {
	MasterSecret string `json:"master_secret"`
	Threshold    int    `json:"threshold"`
	Total        int    `json:"total"`
}

// HandleRotateFragments processes POST /api/vaults/{vault_id}/fragments/rotate.
func (h *Handler) HandleRotateFragments(w http.ResponseWriter, r *http.Request) {
	vaultID, ok := h.vaultID(w, r)
	if !ok {
		return
	}
	var req RotateRequest
	if !h.decode(w, r, &req) {
		return
	}

	secret, err := orchestrator.ParseMasterSecretHex(req.MasterSecret)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var scheme *interfaces.Scheme
	if req.Threshold != 0 || req.Total != 0 {
		scheme = &interfaces.Scheme{Threshold: req.Threshold, Total: req.Total}
	}

	vault, err := h.orc.RotateFragments(r.Context(), vaultID, secret, scheme)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, vault)
}

// PortalRequest carries the guardian's invitation token.
type PortalRequest struct {
	Token string `json:"token"`
}

// HandleAcceptInvite processes POST /api/guardian-portal/accept.
func (h *Handler) HandleAcceptInvite(w http.ResponseWriter, r *http.Request) {
	var req PortalRequest
	if !h.decode(w, r, &req) {
		return
	}
	guardian, err := h.guardians.Accept(r.Context(), req.Token)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, guardian)
}

// HandleDeclineInvite processes POST /api/guardian-portal/decline.
func (h *Handler) HandleDeclineInvite(w http.ResponseWriter, r *http.Request) {
	var req PortalRequest
	if !h.decode(w, r, &req) {
		return
	}
	guardian, err := h.guardians.Decline(r.Context(), req.Token)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, guardian)
}

// CreateClaimRequest is the POST /api/recovery/create body.
type CreateClaimRequest struct {
	VaultID  string `json:"vault_id"`
	Claimant string `json:"claimant"`
	Reason   string `json:"reason"`
}

// HandleCreateClaim processes POST /api/recovery/create.
func (h *Handler) HandleCreateClaim(w http.ResponseWriter, r *http.Request) {
	var req CreateClaimRequest
	if !h.decode(w, r, &req) {
		return
	}
	vaultID, err := interfaces.ParseVaultID(req.VaultID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	reason := interfaces.ClaimReason(req.Reason)
	if reason == "" {
		reason = interfaces.ReasonManual
	}

	claim, err := h.orc.FileClaim(r.Context(), vaultID, req.Claimant, reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, claim)
}

// HandleGetClaim processes GET /api/claims/{claim_id}.
func (h *Handler) HandleGetClaim(w http.ResponseWriter, r *http.Request) {
	claimID, err := interfaces.ParseClaimID(chi.URLParam(r, "claim_id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	claim, err := h.claims.Get(r.Context(), claimID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, claim)
}

// VoteRequest is the POST vote body.
type VoteRequest struct {
	GuardianID string `json:"guardian_id"`
	Decision   string `json:"decision"`
}

// HandleCastVote processes POST /api/claims/{claim_id}/vote.
func (h *Handler) HandleCastVote(w http.ResponseWriter, r *http.Request) {
	claimID, err := interfaces.ParseClaimID(chi.URLParam(r, "claim_id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req VoteRequest
	if !h.decode(w, r, &req) {
		return
	}
	guardianID, err := interfaces.ParseGuardianID(req.GuardianID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	claim, err := h.orc.CastVote(r.Context(), claimID, guardianID, interfaces.VoteDecision(req.Decision))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, claim)
}

// HandleResolveExpired processes POST /api/claims/{claim_id}/resolve-expired.
func (h *Handler) HandleResolveExpired(w http.ResponseWriter, r *http.Request) {
	claimID, err := interfaces.ParseClaimID(chi.URLParam(r, "claim_id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	claim, err := h.orc.ResolveExpiredClaim(r.Context(), claimID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, claim)
}

// ReconstructRequest carries the guardian-collected fragment credentials.
type ReconstructRequest struct {
	Credentials []FragmentCredential `json:"credentials"`
}

// FragmentCredential is one guardian's fragment index and passphrase.
type FragmentCredential struct {
	Index      int    `json:"index"`
	Passphrase string `json:"passphrase"`
}

// ReconstructResponse carries the recovered master secret.
type ReconstructResponse struct {
	MasterSecret string `json:"master_secret"`
}

// HandleReconstruct processes POST /api/vaults/{vault_id}/reconstruct.
// Only released vaults are eligible.
func (h *Handler) HandleReconstruct(w http.ResponseWriter, r *http.Request) {
	vaultID, ok := h.vaultID(w, r)
	if !ok {
		return
	}
	var req ReconstructRequest
	if !h.decode(w, r, &req) {
		return
	}

	creds := make([]fragstore.FragmentCredential, 0, len(req.Credentials))
	for _, c := range req.Credentials {
		creds = append(creds, fragstore.FragmentCredential{Index: c.Index, Passphrase: c.Passphrase})
	}

	secret, err := h.orc.Reconstruct(r.Context(), vaultID, creds)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ReconstructResponse{
		MasterSecret: orchestrator.MasterSecretHex(secret),
	})
}
