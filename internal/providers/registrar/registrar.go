// Package registrar implements core.TunnelConsumer by POSTing this
// agent's CSR to a director's registration endpoint over plain HTTP
// and JSON.
package registrar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/nitecon/director/internal/core"
	"github.com/nitecon/director/internal/pki"
)

// registerRequest mirrors the body decoded by the director's
// registration handler (internal/registration).
type registerRequest struct {
	AgentID string `json:"agentId"`
	CSRPEM  []byte `json:"csr"`
}

// registerResponse mirrors the director's registration response.
type registerResponse struct {
	Endpoint      string `json:"endpoint"`
	Certificate   []byte `json:"certificate"`
	CACertificate []byte `json:"caCertificate"`
}

// Registrar generates an ECDSA key pair and CSR at construction time
// and reuses them across registration attempts.
type Registrar struct {
	agentID    string
	client     *http.Client
	csrPEM     []byte
	privateKey []byte // PEM-encoded ECDSA private key
}

// New returns a TunnelConsumer that registers this agent against a
// director's /v1/register endpoint using CSR-based mTLS enrolment.
func New() (core.TunnelConsumer, error) {
	agentID, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("failed to get hostname: %w", err)
	}

	key, keyPEM, err := pki.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}

	csrPEM, err := pki.GenerateCSR(key, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to generate CSR: %w", err)
	}

	return &Registrar{
		agentID:    agentID,
		client:     &http.Client{Timeout: 30 * time.Second},
		csrPEM:     csrPEM,
		privateKey: keyPEM,
	}, nil
}

var _ core.TunnelConsumer = (*Registrar)(nil)

// Register submits the agent's CSR to serverURL. The director signs
// it with its internal CA and returns the signed certificate, CA
// certificate, and allocated tunnel endpoint.
func (r *Registrar) Register(ctx context.Context, serverURL string) (core.Registration, error) {
	body, err := json.Marshal(registerRequest{AgentID: r.agentID, CSRPEM: r.csrPEM})
	if err != nil {
		return core.Registration{}, fmt.Errorf("marshal registration request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL+"/v1/register", bytes.NewReader(body))
	if err != nil {
		return core.Registration{}, fmt.Errorf("create registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return core.Registration{}, fmt.Errorf("registration request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return core.Registration{}, fmt.Errorf("registration failed with status %d", resp.StatusCode)
	}

	var result registerResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return core.Registration{}, fmt.Errorf("decode registration response: %w", err)
	}

	return core.Registration{
		AgentID:       r.agentID,
		Endpoint:      result.Endpoint,
		Certificate:   result.Certificate,
		CACertificate: result.CACertificate,
		PrivateKeyPEM: r.privateKey,
	}, nil
}
