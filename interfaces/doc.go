// Package interfaces defines the shared domain types, error taxonomy, and
// collaborator contracts used across the vault recovery service.
//
// The package is intentionally a leaf: every other package imports it, and it
// imports nothing from this module. Domain entities (Vault, Guardian,
// FragmentRecord, Claim, Vote) form a strict tree, with votes and fragments
// holding lookup references back to guardians.
//
// Collaborator interfaces (Store, Notifier, EventPublisher, ArchiveBackend)
// describe external systems: persistence with optimistic concurrency, the
// notification sender, the outbound event transport, and write-once fragment
// ciphertext archives.
package interfaces
