package registration

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nitecon/director/internal/core"
)

type fakeRegistrar struct {
	certPEM  []byte
	caPEM    []byte
	endpoint string
	err      error

	gotAgentID string
	gotCSR     []byte
}

func (f *fakeRegistrar) RegisterAgent(agentID string, csrPEM []byte) ([]byte, error) {
	f.gotAgentID = agentID
	f.gotCSR = csrPEM
	if f.err != nil {
		return nil, f.err
	}
	return f.certPEM, nil
}

func (f *fakeRegistrar) AgentEndpoint() string { return f.endpoint }
func (f *fakeRegistrar) CACertPEM() []byte     { return f.caPEM }

func TestHandler_Register_Success(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistrar{
		certPEM:  []byte("cert"),
		caPEM:    []byte("ca"),
		endpoint: "127.0.0.1:16598",
	}
	h := NewHandler(reg)

	body, _ := json.Marshal(registerRequest{AgentID: "agent-1", CSRPEM: []byte("csr")})
	req := httptest.NewRequest(http.MethodPost, "/v1/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	mux := http.NewServeMux()
	if err := h.Mount(mux); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if reg.gotAgentID != "agent-1" {
		t.Fatalf("expected agentID to reach registrar, got %q", reg.gotAgentID)
	}

	var resp registerResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Endpoint != reg.endpoint || string(resp.Certificate) != "cert" || string(resp.CACertificate) != "ca" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestHandler_Register_NotReadyMapsTo503(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistrar{err: &core.ErrNotReady{Subsystem: "chisel server"}}
	h := NewHandler(reg)

	body, _ := json.Marshal(registerRequest{AgentID: "agent-1", CSRPEM: []byte("csr")})
	req := httptest.NewRequest(http.MethodPost, "/v1/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	mux := http.NewServeMux()
	_ = h.Mount(mux)
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rec.Code)
	}
}

func TestHandler_Register_MissingFieldsIs400(t *testing.T) {
	t.Parallel()

	h := NewHandler(&fakeRegistrar{})

	body, _ := json.Marshal(registerRequest{})
	req := httptest.NewRequest(http.MethodPost, "/v1/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	mux := http.NewServeMux()
	_ = h.Mount(mux)
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}
