// Package agent implements the agent-side runtime: it reverse-proxies
// Kubernetes API requests received through a chisel tunnel back to the
// local kube-apiserver.
package agent

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"

	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// Handler sets up the HTTP routes served by the agent. Its sole route
// is a reverse proxy to the local Kubernetes API server. Access
// control is the mTLS certificate presented to dial the tunnel itself
// (internal/providers/chisel) — there is exactly one (agent, director)
// pair per tunnel, so no further per-request gating is needed.
type Handler struct{}

// NewHandler returns a new agent Handler.
func NewHandler() *Handler {
	return &Handler{}
}

// Mount registers a catch-all reverse proxy to the Kubernetes API
// server on the given mux. The proxy uses the in-cluster service
// account credentials (or falls back to KUBECONFIG) and rewrites
// the Host header so that the upstream kube-apiserver recognises
// the request.
func (h *Handler) Mount(mux *http.ServeMux) error {
	config, err := h.newKubeConfig()
	if err != nil {
		return fmt.Errorf("failed to load in-cluster config: %w", err)
	}

	targetURL, err := url.Parse(config.Host)
	if err != nil {
		return fmt.Errorf("failed to parse k8s host URL: %w", err)
	}

	transport, err := rest.TransportFor(config)
	if err != nil {
		return fmt.Errorf("failed to create rest transport: %w", err)
	}

	proxy := httputil.NewSingleHostReverseProxy(targetURL)
	proxy.Director = func(req *http.Request) {
		req.URL.Scheme = targetURL.Scheme
		req.URL.Host = targetURL.Host
		req.Host = targetURL.Host
	}
	proxy.Transport = transport

	mux.Handle("/", proxy)
	return nil
}

// newKubeConfig loads the Kubernetes client configuration. It first
// attempts the in-cluster config (service account token); if that
// fails (e.g. running outside a pod) it falls back to the KUBECONFIG
// environment variable.
func (h *Handler) newKubeConfig() (*rest.Config, error) {
	cfg, err := rest.InClusterConfig()
	if err == nil {
		return cfg, nil
	}

	slog.Warn("failed to load in-cluster config, falling back to KUBECONFIG environment variable")

	kubeconfigEnv := os.Getenv("KUBECONFIG")
	if kubeconfigEnv == "" {
		return nil, errors.New("KUBECONFIG environment variable is not set")
	}

	return clientcmd.BuildConfigFromFlags("", kubeconfigEnv)
}
