package config

import (
	"strings"
)

// Option describes a single scalar configuration entry: its viper
// key, the corresponding CLI flag name, the compiled default, and a
// human-readable description shown in --help output.
type Option struct {
	Key         string
	Flag        string
	Default     any
	Description string
}

// DirectorOptions defines the scalar configuration entries available
// in director mode. The nested structures (dataPorts, defaultEndpoint,
// loadBalancing, resourceQueryMapping) have no flag representation and
// are read only from file/environment — see Config.DataPorts et al.
var DirectorOptions = []Option{
	{Key: keyQueryPort, Flag: toFlag(keyQueryPort), Default: 9000, Description: "Query server listen port"},
	{Key: keyTokenTTLSeconds, Flag: toFlag(keyTokenTTLSeconds), Default: 30, Description: "Token cache entry lifetime in seconds"},
	{Key: keySessionTimeoutSeconds, Flag: toFlag(keySessionTimeoutSeconds), Default: 300, Description: "Session idle timeout in seconds"},
	{Key: keyControlPacketMagicHex, Flag: toFlag(keyControlPacketMagicHex), Default: "ffffffff5245534554", Description: "UDP control-packet magic-byte prefix, hex-encoded"},
	{Key: keyDataPort, Flag: toFlag(keyDataPort), Default: 0, Description: "Legacy single UDP data port (collapses to one dataPorts entry named 'default')"},
	{Key: keyTunnelMode, Flag: toFlag(keyTunnelMode), Default: "direct", Description: "Cluster access mode: direct or tunneled"},
	{Key: keyKubeconfig, Flag: toFlag(keyKubeconfig), Default: "", Description: "Path to kubeconfig for direct mode (empty uses in-cluster config)"},
	{Key: keyTunnelServerAddress, Flag: toFlag(keyTunnelServerAddress), Default: "127.0.0.1:8300", Description: "Embedded chisel tunnel server listen address"},
	{Key: keyTunnelServerHost, Flag: toFlag(keyTunnelServerHost), Default: "127.0.0.1", Description: "Hostname embedded in the tunnel server's TLS certificate"},
	{Key: keyRegistrationAddress, Flag: toFlag(keyRegistrationAddress), Default: "127.0.0.1:8299", Description: "HTTP listen address for agent registration (CSR signing)"},
	{Key: keyCADataDir, Flag: toFlag(keyCADataDir), Default: "/var/lib/director/pki", Description: "Directory the tunnel CA's certificate and key are persisted to"},
}

// AgentOptions defines the configuration entries available in agent
// mode.
var AgentOptions = []Option{
	{Key: keyAgentServerURL, Flag: toFlag(keyAgentServerURL), Default: "http://127.0.0.1:8299", Description: "Director registration endpoint (HTTP, used once to obtain a signed certificate)"},
	{Key: keyAgentTunnelServerURL, Flag: toFlag(keyAgentTunnelServerURL), Default: "https://127.0.0.1:8300", Description: "Chisel tunnel server URL the agent connects to"},
	{Key: keyAgentLocalAPIPort, Flag: toFlag(keyAgentLocalAPIPort), Default: 0, Description: "Local port the agent exposes its in-cluster API access on (0 picks an ephemeral port)"},
}

// toFlag converts a viper key like "director.token_ttl_seconds" into a
// CLI flag like "token-ttl-seconds" by lower-casing, replacing dots and
// underscores with hyphens, and stripping the "director-" or "agent-"
// prefix.
func toFlag(key string) string {
	flag := strings.ToLower(key)
	flag = strings.ReplaceAll(flag, ".", "-")
	flag = strings.ReplaceAll(flag, "_", "-")
	flag = strings.TrimPrefix(flag, "director-")
	flag = strings.TrimPrefix(flag, "agent-")
	return flag
}
