// Package storage provides the persistence implementations: the Store
// backing all vault, guardian, claim and vote state (in-memory and SQLite),
// and the redundant archive backends holding write-once copies of fragment
// ciphertext (file, S3, Vault KV, IPFS).
package storage

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/guardiavault/vault-recovery-backend/interfaces"
)

// Factory creates stores and archive backends from location URIs.
type Factory struct {
	log *slog.Logger
}

// NewFactory creates a storage factory.
func NewFactory(log *slog.Logger) *Factory {
	return &Factory{log: log}
}

// StoreFor creates a Store from a URI.
//
// Supported schemes:
//   - mem:// - in-process, non-durable
//   - sqlite:///path/to/db or sqlite://:memory:
func (f *Factory) StoreFor(locationURI string) (interfaces.Store, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidParameters, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "mem":
		return NewMemoryStore(), nil
	case "sqlite":
		path := u.Opaque
		if path == "" {
			path = u.Host + u.Path
		}
		if path == "" {
			return nil, fmt.Errorf("%w: sqlite URI needs a path", interfaces.ErrInvalidParameters)
		}
		return NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unsupported store scheme: %s", u.Scheme)
	}
}

// ArchiveFor creates an archive backend from a location URI.
//
// Supported schemes:
//   - file:///var/lib/fragments
//   - s3://bucket/prefix?region=us-east-1&endpoint=...&access_key=...&secret_key=...
//   - vault://https://vault.example.com:8200/secret/fragments?token=...
//   - ipfs://127.0.0.1:5001/
func (f *Factory) ArchiveFor(locationURI string) (interfaces.ArchiveBackend, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidParameters, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "file":
		return NewFileArchive(u.Host+u.Path, f.log)
	case "s3":
		return f.createS3Archive(u)
	case "vault":
		return f.createVaultArchive(u)
	case "ipfs":
		port := u.Port()
		if port == "" {
			port = "5001"
		}
		return NewIPFSArchive(u.Hostname(), port, f.log)
	default:
		return nil, fmt.Errorf("unsupported archive scheme: %s", u.Scheme)
	}
}

// ArchivesFor creates every archive the URI list yields. Invalid entries are
// logged and skipped; fragment distribution treats archives as best-effort
// redundancy, so a partial set is still useful.
func (f *Factory) ArchivesFor(locationURIs []string) []interfaces.ArchiveBackend {
	archives := make([]interfaces.ArchiveBackend, 0, len(locationURIs))
	for _, uri := range locationURIs {
		backend, err := f.ArchiveFor(uri)
		if err != nil {
			f.log.Warn("Failed to create archive backend",
				slog.String("locationURI", uri), "err", err)
			continue
		}
		archives = append(archives, backend)
	}
	return archives
}

func (f *Factory) createS3Archive(u *url.URL) (interfaces.ArchiveBackend, error) {
	bucket := u.Host
	if bucket == "" {
		return nil, fmt.Errorf("%w: s3 URI needs a bucket", interfaces.ErrInvalidParameters)
	}
	q := u.Query()
	region := q.Get("region")
	if region == "" {
		region = "us-east-1"
	}
	return NewS3Archive(bucket, strings.TrimPrefix(u.Path, "/"), region,
		q.Get("endpoint"), q.Get("access_key"), q.Get("secret_key"), f.log)
}

func (f *Factory) createVaultArchive(u *url.URL) (interfaces.ArchiveBackend, error) {
	// vault://host:port/mount/path?token=...&scheme=https
	q := u.Query()
	scheme := q.Get("scheme")
	if scheme == "" {
		scheme = "https"
	}
	address := fmt.Sprintf("%s://%s", scheme, u.Host)

	parts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: vault URI needs /mount/path", interfaces.ErrInvalidParameters)
	}
	return NewVaultKVArchive(address, q.Get("token"), parts[0], parts[1], f.log)
}
