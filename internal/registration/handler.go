// Package registration implements the director's one-shot agent
// registration endpoint: the tunneled agent submits a CSR and
// receives a signed certificate, the CA certificate, and the fixed
// tunnel endpoint to dial.
package registration

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/nitecon/director/internal/core"
)

// Registrar is the subset of chisel.Service the registration handler
// depends on, kept narrow so it can be faked in tests without pulling
// in a real chisel server.
type Registrar interface {
	RegisterAgent(agentID string, csrPEM []byte) ([]byte, error)
	AgentEndpoint() string
	CACertPEM() []byte
}

// Handler serves the agent registration route.
type Handler struct {
	registrar Registrar
	log       *slog.Logger
}

// NewHandler returns a Handler backed by the given Registrar.
func NewHandler(registrar Registrar) *Handler {
	return &Handler{
		registrar: registrar,
		log:       slog.Default().With("component", "registration-handler"),
	}
}

type registerRequest struct {
	AgentID string `json:"agentId"`
	CSRPEM  []byte `json:"csr"`
}

type registerResponse struct {
	Endpoint      string `json:"endpoint"`
	Certificate   []byte `json:"certificate"`
	CACertificate []byte `json:"caCertificate"`
}

// Mount registers the registration route on mux.
func (h *Handler) Mount(mux *http.ServeMux) error {
	mux.HandleFunc("POST /v1/register", h.register)
	return nil
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %s", err), http.StatusBadRequest)
		return
	}
	if req.AgentID == "" || len(req.CSRPEM) == 0 {
		http.Error(w, "agentId and csr are required", http.StatusBadRequest)
		return
	}

	certPEM, err := h.registrar.RegisterAgent(req.AgentID, req.CSRPEM)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := registerResponse{
		Endpoint:      h.registrar.AgentEndpoint(),
		Certificate:   certPEM,
		CACertificate: h.registrar.CACertPEM(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Error("failed to encode registration response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var notReady *core.ErrNotReady
	if errors.As(err, &notReady) {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	h.log.Warn("registration failed", "error", err)
	http.Error(w, err.Error(), http.StatusBadRequest)
}
