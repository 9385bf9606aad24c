package interfaces

import "context"

// Notification templates used by the state machines. The notification sender
// is an external collaborator; templates name the rendered message.
const (
	TemplateGuardianInvite = "guardian_invite"
	TemplateVotePending    = "vote_pending"
	TemplateClaimOpened    = "claim_opened"
	TemplateClaimResolved  = "claim_resolved"
	TemplateVaultReleased  = "vault_released"
	TemplateVaultWarning   = "vault_warning"
)

// Notifier sends a templated message to a recipient. Delivery failures are
// logged by implementations and never block a state transition.
type Notifier interface {
	Send(ctx context.Context, recipient, template string, payload map[string]any) error
}

// Event types published on vault lifecycle transitions.
const (
	EventClaimOpened    = "claim.opened"
	EventClaimCancelled = "claim.cancelled"
	EventClaimResolved  = "claim.resolved"
	EventVaultTriggered = "vault.triggered"
	EventVaultLocked    = "vault.timelocked"
	EventVaultReleased  = "vault.released"
	EventVaultWarning   = "vault.unrecoverable"
	EventCheckIn        = "vault.checkin"
)

// EventPublisher receives every state transition of the recovery
// orchestrator. The transport (polling, socket push, webhook) is the
// collaborator's concern.
type EventPublisher interface {
	Publish(vaultID VaultID, eventType string, payload map[string]any)
}
