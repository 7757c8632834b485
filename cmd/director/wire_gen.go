// Code generated by hand to mirror wire.go; see that file for the
// intended provider graph. Kept in sync manually since this module
// does not run the wire binary.

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/nitecon/director/internal/config"
	"github.com/nitecon/director/internal/core"
	"github.com/nitecon/director/internal/dataplane/tcp"
	"github.com/nitecon/director/internal/dataplane/udp"
	"github.com/nitecon/director/internal/janitor"
	"github.com/nitecon/director/internal/kindmap"
	"github.com/nitecon/director/internal/pki"
	"github.com/nitecon/director/internal/providers/cache"
	"github.com/nitecon/director/internal/providers/chisel"
	"github.com/nitecon/director/internal/providers/defaultendpoint"
	"github.com/nitecon/director/internal/providers/kubernetes"
	"github.com/nitecon/director/internal/queryserver"
	"github.com/nitecon/director/internal/registration"
	"github.com/nitecon/director/internal/session"
	"github.com/nitecon/director/internal/transport"
	transporthttp "github.com/nitecon/director/internal/transport/http"
)

// candidateCacheTTL bounds how stale a cached resource listing may be
// before the Query Server re-lists it; shorter than the token TTL
// since a stale candidate list risks binding to a pod that is already
// gone.
const candidateCacheTTL = 5 * time.Second

// wireDirector assembles every director-side component by hand. See
// wire.go for the documented provider graph this mirrors.
func wireDirector(conf *config.Config) (*Director, func(), error) {
	mapping, err := conf.ResourceQueryMapping()
	if err != nil {
		return nil, nil, err
	}
	lb, err := conf.LoadBalancing()
	if err != nil {
		return nil, nil, err
	}
	dataPorts, err := conf.DataPorts()
	if err != nil {
		return nil, nil, err
	}
	magic, err := conf.ControlPacketMagicBytes()
	if err != nil {
		return nil, nil, err
	}
	defaultReq, err := conf.DefaultEndpoint()
	if err != nil {
		return nil, nil, err
	}

	sessions := session.NewTable()
	tokens := cache.NewTokenCache(time.Duration(conf.TokenTTLSeconds()) * time.Second)

	k8s, chiselSvc, cleanupTunnel, err := provideKubernetes(conf)
	if err != nil {
		return nil, nil, err
	}

	resourceRepo := kubernetes.NewResourceRepo(k8s)
	candidates := cache.NewCandidateCache(resourceRepo, candidateCacheTTL)
	discovery := kubernetes.NewDiscoveryClient(k8s)

	if err := kindmap.Validate(context.Background(), discovery, kindmap.Mapping(mapping)); err != nil {
		cleanupTunnel()
		return nil, nil, err
	}

	var fallback core.DefaultResolver
	if defaultReq != nil {
		resolver, err := defaultendpoint.New(defaultReq, mapping, candidates, lb, sessions)
		if err != nil {
			cleanupTunnel()
			return nil, nil, err
		}
		fallback = resolver
	}

	listeners := []transport.Listener{
		queryserver.New(fmt.Sprintf(":%d", conf.QueryPort()), candidates, mapping, lb, sessions, tokens, sessions, dataPorts),
		janitor.NewSessionSweeper(sessions, time.Duration(conf.SessionTimeoutSeconds())*time.Second, 0),
		janitor.NewTokenSweeper(tokens, 0),
		janitor.NewTokenSweeper(candidates, 0),
	}

	for _, port := range dataPorts {
		switch port.Protocol {
		case core.ProtocolUDP:
			listeners = append(listeners, udp.New(port, magic, tokens, sessions, fallback))
		case core.ProtocolTCP:
			listeners = append(listeners, tcp.New(port, sessions, fallback))
		default:
			cleanupTunnel()
			return nil, nil, &core.ErrConfigInvalid{Reason: fmt.Sprintf("data_ports: unsupported protocol %d", port.Protocol)}
		}
	}

	if chiselSvc != nil {
		tunnelListener, err := chiselSvc.BuildTunnelListener(conf.TunnelServerAddress(), conf.TunnelServerHost())
		if err != nil {
			cleanupTunnel()
			return nil, nil, err
		}

		registrationHandler := registration.NewHandler(chiselSvc)
		registrationServer, err := transporthttp.NewServer(
			transporthttp.WithAddress(conf.RegistrationAddress()),
			transporthttp.WithMount(registrationHandler.Mount),
		)
		if err != nil {
			cleanupTunnel()
			return nil, nil, err
		}

		listeners = append(listeners, tunnelListener, chiselSvc.BuildHealthListener(), registrationServer)
	}

	director := &Director{listeners: listeners}
	return director, cleanupTunnel, nil
}

// provideKubernetes resolves the configured Kubernetes access mode
// into a *kubernetes.Kubernetes helper, returning the chisel Service
// too (nil in direct mode) so the caller can build the tunnel and
// registration listeners.
func provideKubernetes(conf *config.Config) (*kubernetes.Kubernetes, *chisel.Service, func(), error) {
	switch conf.TunnelMode() {
	case "direct":
		cfg, err := kubernetes.ProvideRestConfig(conf.Kubeconfig())
		if err != nil {
			return nil, nil, nil, fmt.Errorf("resolve kubeconfig: %w", err)
		}
		return kubernetes.NewDirect(cfg), nil, func() {}, nil

	case "tunneled":
		ca, err := providePKI(conf)
		if err != nil {
			return nil, nil, nil, err
		}
		svc := chisel.NewService(ca)
		return kubernetes.NewTunneled(svc), svc, func() {}, nil

	default:
		return nil, nil, nil, &core.ErrConfigInvalid{Reason: fmt.Sprintf("tunnel_mode: unknown value %q", conf.TunnelMode())}
	}
}

// providePKI loads (or, on first run, generates and persists) the CA
// used to sign tunneled agents' certificates.
func providePKI(conf *config.Config) (*pki.CA, error) {
	return pki.ProvideCA(conf.CADataDir())
}
