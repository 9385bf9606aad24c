package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	shell "github.com/ipfs/go-ipfs-api"

	"github.com/guardiavault/vault-recovery-backend/interfaces"
)

// IPFSArchive stores fragment ciphertext copies on an IPFS node. IPFS is
// content-addressed, so the returned reference is the CID rather than the
// fragment key; only ciphertext ever reaches the network.
type IPFSArchive struct {
	shell       *shell.Shell
	host        string
	port        string
	log         *slog.Logger
	locationURI string
}

// NewIPFSArchive creates an archive against the IPFS API at host:port.
func NewIPFSArchive(host, port string, log *slog.Logger) (*IPFSArchive, error) {
	apiURL := fmt.Sprintf("%s:%s", host, port)
	return &IPFSArchive{
		shell:       shell.NewShell(apiURL),
		host:        host,
		port:        port,
		log:         log,
		locationURI: fmt.Sprintf("ipfs://%s/", apiURL),
	}, nil
}

func (a *IPFSArchive) Put(ctx context.Context, key interfaces.FragmentKey, ciphertext []byte) (string, error) {
	if !a.shell.IsUp() {
		return "", fmt.Errorf("IPFS node %s:%s is not reachable", a.host, a.port)
	}

	cid, err := a.shell.Add(bytes.NewReader(ciphertext), shell.Pin(true))
	if err != nil {
		return "", fmt.Errorf("failed to add fragment to IPFS: %w", err)
	}

	a.log.Debug("Archived fragment to IPFS",
		slog.String("cid", cid),
		slog.String("fragment", key.String()),
		slog.Int("size", len(ciphertext)))
	return cid, nil
}

func (a *IPFSArchive) Get(ctx context.Context, ref string) ([]byte, error) {
	if !a.shell.IsUp() {
		return nil, fmt.Errorf("IPFS node %s:%s is not reachable", a.host, a.port)
	}

	reader, err := a.shell.Cat(ref)
	if err != nil {
		if strings.Contains(err.Error(), "no link named") {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch fragment from IPFS: %w", err)
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

func (a *IPFSArchive) Available(ctx context.Context) bool {
	return a.shell.IsUp()
}

func (a *IPFSArchive) Name() string {
	return fmt.Sprintf("ipfs-%s", a.host)
}

func (a *IPFSArchive) LocationURI() string {
	return a.locationURI
}
