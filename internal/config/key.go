// Package config provides unified configuration loading from files,
// environment variables, and CLI flags using viper and pflag.
//
// Resolution order (highest wins):
//  1. CLI flags
//  2. Environment variables (prefix DIRECTOR_)
//  3. Config file (config.yaml in . or /etc/director/)
//  4. Compiled defaults
package config

// Viper keys for director-mode configuration. Scalars are bound to CLI
// flags via DirectorOptions/BindFlags; the nested structures
// (dataPorts, defaultEndpoint, loadBalancing, resourceQueryMapping)
// are only configurable via file or environment, since they have no
// natural flag representation.
const (
	keyQueryPort              = "director.query_port"
	keyTokenTTLSeconds        = "director.token_ttl_seconds"
	keySessionTimeoutSeconds  = "director.session_timeout_seconds"
	keyControlPacketMagicHex  = "director.control_packet_magic_bytes"
	keyDataPorts              = "director.data_ports"
	keyDataPort               = "director.data_port" // legacy single-port form
	keyDefaultEndpoint        = "director.default_endpoint"
	keyLoadBalancing          = "director.load_balancing"
	keyResourceQueryMapping   = "director.resource_query_mapping"
	keyTunnelMode             = "director.tunnel_mode" // "direct" | "tunneled"
	keyKubeconfig             = "director.kubeconfig"
)

// Viper keys for agent-mode configuration. The agent is the in-cluster
// counterpart that reverse-tunnels local Kubernetes API access back to
// a director running in tunneled mode.
const (
	keyAgentTunnelServerURL = "agent.tunnel.server_url"
	keyAgentLocalAPIPort    = "agent.local_api_port"
)

// Viper keys for the chisel tunnel server embedded in the director
// process when tunnel_mode is "tunneled". Agent authentication is
// mTLS (CA-signed certificates, see internal/pki and
// internal/providers/chisel), not a configured credential, so no
// key/user/pass belongs here.
const (
	keyTunnelServerAddress = "director.tunnel.server_address"
	keyTunnelServerHost    = "director.tunnel.server_host"
	keyRegistrationAddress = "director.tunnel.registration_address"
	keyCADataDir           = "director.tunnel.ca_data_dir"
)

// keyAgentServerURL is the director's registration endpoint (HTTP,
// used once to obtain a signed certificate). Distinct from
// keyAgentTunnelServerURL, the chisel tunnel URL the agent dials
// after registering.
const (
	keyAgentServerURL = "agent.server_url"
)
