package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/nitecon/director/internal/core"
)

// Config wraps a viper instance and provides typed accessors for every
// configuration key. Create one via New().
type Config struct {
	v *viper.Viper
}

// New initialises a Config by loading values from environment
// variables, the config file, and compiled defaults (in that priority
// order; CLI flags, bound later via BindFlags, take highest priority).
func New() (*Config, error) {
	v := viper.New()

	for _, o := range DirectorOptions {
		v.SetDefault(o.Key, o.Default)
	}
	for _, o := range AgentOptions {
		v.SetDefault(o.Key, o.Default)
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/director/")

	if err := v.ReadInConfig(); err != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !(errors.As(err, &notFoundErr) || errors.Is(err, os.ErrNotExist)) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Environment variables are prefixed with DIRECTOR_ and use
	// underscores in place of dots (e.g. DIRECTOR_DIRECTOR_QUERY_PORT).
	v.SetEnvPrefix("DIRECTOR")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return &Config{v: v}, nil
}

// BindFlags registers CLI flags for the given option slice and binds
// them to the underlying viper keys so that flag values override file
// and environment sources.
func (c *Config) BindFlags(fs *pflag.FlagSet, options []Option) error {
	for _, o := range options {
		switch v := o.Default.(type) {
		case string:
			fs.String(o.Flag, v, o.Description)
		case int:
			fs.Int(o.Flag, v, o.Description)
		case bool:
			fs.Bool(o.Flag, v, o.Description)
		default:
			return fmt.Errorf("unsupported flag type for key: %s", o.Key)
		}

		if err := c.v.BindPFlag(o.Key, fs.Lookup(o.Flag)); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", o.Flag, err)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Director-mode scalar accessors
// ---------------------------------------------------------------------------

func (c *Config) QueryPort() int              { return c.v.GetInt(keyQueryPort) }
func (c *Config) TokenTTLSeconds() int        { return c.v.GetInt(keyTokenTTLSeconds) }
func (c *Config) SessionTimeoutSeconds() int  { return c.v.GetInt(keySessionTimeoutSeconds) }
func (c *Config) TunnelMode() string          { return c.v.GetString(keyTunnelMode) }
func (c *Config) Kubeconfig() string          { return c.v.GetString(keyKubeconfig) }
func (c *Config) TunnelServerAddress() string { return c.v.GetString(keyTunnelServerAddress) }
func (c *Config) TunnelServerHost() string    { return c.v.GetString(keyTunnelServerHost) }
func (c *Config) RegistrationAddress() string { return c.v.GetString(keyRegistrationAddress) }
func (c *Config) CADataDir() string           { return c.v.GetString(keyCADataDir) }

// ControlPacketMagicBytes decodes the configured hex string into the
// raw byte prefix the UDP data plane matches control packets against.
func (c *Config) ControlPacketMagicBytes() ([]byte, error) {
	raw := c.v.GetString(keyControlPacketMagicHex)
	b, err := hex.DecodeString(raw)
	if err != nil {
		return nil, &core.ErrConfigInvalid{Reason: fmt.Sprintf("control_packet_magic_bytes: invalid hex: %s", err)}
	}
	return b, nil
}

// ---------------------------------------------------------------------------
// Director-mode nested accessors
// ---------------------------------------------------------------------------

type dataPortEntry struct {
	Port     int    `mapstructure:"port"`
	Protocol string `mapstructure:"protocol"`
	Name     string `mapstructure:"name"`
}

// DataPorts returns the configured data-plane listeners. The legacy
// keyDataPort, if set, collapses to one UDP entry named "default".
func (c *Config) DataPorts() ([]core.DataPortSpec, error) {
	var entries []dataPortEntry
	if err := c.v.UnmarshalKey(keyDataPorts, &entries); err != nil {
		return nil, &core.ErrConfigInvalid{Reason: fmt.Sprintf("data_ports: %s", err)}
	}

	specs := make([]core.DataPortSpec, 0, len(entries)+1)
	if legacy := c.v.GetInt(keyDataPort); legacy != 0 {
		specs = append(specs, core.DataPortSpec{Port: legacy, Protocol: core.ProtocolUDP, Name: "default"})
	}
	for _, e := range entries {
		proto, err := parseProtocol(e.Protocol)
		if err != nil {
			return nil, err
		}
		specs = append(specs, core.DataPortSpec{Port: e.Port, Protocol: proto, Name: e.Name})
	}
	if len(specs) == 0 {
		return nil, &core.ErrConfigInvalid{Reason: "no data_ports or legacy data_port configured"}
	}
	return specs, nil
}

func parseProtocol(s string) (core.Protocol, error) {
	switch strings.ToLower(s) {
	case "udp":
		return core.ProtocolUDP, nil
	case "tcp":
		return core.ProtocolTCP, nil
	default:
		return 0, &core.ErrConfigInvalid{Reason: fmt.Sprintf("data_ports: unknown protocol %q", s)}
	}
}

type statusQueryEntry struct {
	JSONPath       string   `mapstructure:"json_path"`
	ExpectedValue  string   `mapstructure:"expected_value"`
	ExpectedValues []string `mapstructure:"expected_values"`
}

func (e *statusQueryEntry) toCore() *core.StatusQuery {
	if e == nil || e.JSONPath == "" {
		return nil
	}
	values := e.ExpectedValues
	if e.ExpectedValue != "" {
		values = append(values, e.ExpectedValue)
	}
	return &core.StatusQuery{JSONPath: e.JSONPath, ExpectedValues: values}
}

type defaultEndpointEntry struct {
	ResourceType       string            `mapstructure:"resource_type"`
	Namespace          string            `mapstructure:"namespace"`
	LabelSelector      map[string]string `mapstructure:"label_selector"`
	AnnotationSelector map[string]string `mapstructure:"annotation_selector"`
	StatusQuery        *statusQueryEntry `mapstructure:"status_query"`
}

// DefaultEndpoint returns the fallback selection request the data
// planes fall back to when no Session covers a source and no token
// was ever presented. Returns nil if none is configured — the
// fallback is then "drop".
func (c *Config) DefaultEndpoint() (*core.SelectRequest, error) {
	if !c.v.IsSet(keyDefaultEndpoint) {
		return nil, nil
	}

	var e defaultEndpointEntry
	if err := c.v.UnmarshalKey(keyDefaultEndpoint, &e); err != nil {
		return nil, &core.ErrConfigInvalid{Reason: fmt.Sprintf("default_endpoint: %s", err)}
	}
	if e.ResourceType == "" {
		return nil, &core.ErrConfigInvalid{Reason: "default_endpoint: resourceType is required"}
	}

	return &core.SelectRequest{
		ResourceType:       e.ResourceType,
		Namespace:          e.Namespace,
		LabelSelector:      e.LabelSelector,
		AnnotationSelector: e.AnnotationSelector,
		StatusQuery:        e.StatusQuery.toCore(),
	}, nil
}

type loadBalancingEntry struct {
	Type         string `mapstructure:"type"`
	CurrentLabel string `mapstructure:"current_label"`
	MaxLabel     string `mapstructure:"max_label"`
	Overlap      int    `mapstructure:"overlap"`
}

// LoadBalancing returns the configured load-balancing policy.
func (c *Config) LoadBalancing() (core.LBConfig, error) {
	var e loadBalancingEntry
	if err := c.v.UnmarshalKey(keyLoadBalancing, &e); err != nil {
		return core.LBConfig{}, &core.ErrConfigInvalid{Reason: fmt.Sprintf("load_balancing: %s", err)}
	}

	lb := core.LBConfig{CurrentLabel: e.CurrentLabel, MaxLabel: e.MaxLabel, Overlap: e.Overlap}
	switch strings.ToLower(e.Type) {
	case "", "leastsessions", "least_sessions":
		lb.Type = core.LeastSessions
	case "labelarithmetic", "label_arithmetic":
		lb.Type = core.LabelArithmetic
		if lb.MaxLabel == "" {
			return core.LBConfig{}, &core.ErrConfigInvalid{Reason: "load_balancing: maxLabel is required for labelArithmetic"}
		}
	default:
		return core.LBConfig{}, &core.ErrConfigInvalid{Reason: fmt.Sprintf("load_balancing: unknown type %q", e.Type)}
	}
	return lb, nil
}

type portEntry struct {
	Name     string `mapstructure:"name"`
	PortName string `mapstructure:"portName"`
	PortPath string `mapstructure:"portPath"`
}

type kindEntry struct {
	Group            string      `mapstructure:"group"`
	Version          string      `mapstructure:"version"`
	Resource         string      `mapstructure:"resource"`
	AddressPath      string      `mapstructure:"addressPath"`
	AddressType      string      `mapstructure:"addressType"`
	PortName         string      `mapstructure:"portName"`
	PortPath         string      `mapstructure:"portPath"`
	Ports            []portEntry `mapstructure:"ports"`
	MinServerVersion string      `mapstructure:"minServerVersion"`
}

// ResourceQueryMapping returns the static kind -> KindSpec mapping
// (spec §6 "resourceQueryMapping"), loaded once at startup and
// immutable at runtime.
func (c *Config) ResourceQueryMapping() (map[string]core.KindSpec, error) {
	var raw map[string]kindEntry
	if err := c.v.UnmarshalKey(keyResourceQueryMapping, &raw); err != nil {
		return nil, &core.ErrConfigInvalid{Reason: fmt.Sprintf("resource_query_mapping: %s", err)}
	}

	mapping := make(map[string]core.KindSpec, len(raw))
	for kind, e := range raw {
		if e.Resource == "" || e.AddressPath == "" {
			return nil, &core.ErrConfigInvalid{Reason: fmt.Sprintf("resource_query_mapping[%s]: resource and addressPath are required", kind)}
		}

		spec := core.KindSpec{
			Group:            e.Group,
			Version:          e.Version,
			Resource:         e.Resource,
			AddressPath:      e.AddressPath,
			AddressType:      e.AddressType,
			MinServerVersion: e.MinServerVersion,
		}

		if e.PortName != "" || e.PortPath != "" {
			spec.Ports = append(spec.Ports, core.PortSpec{Name: "default", PortName: e.PortName, PortPath: e.PortPath})
		}
		for _, p := range e.Ports {
			spec.Ports = append(spec.Ports, core.PortSpec{Name: p.Name, PortName: p.PortName, PortPath: p.PortPath})
		}
		if len(spec.Ports) == 0 {
			return nil, &core.ErrConfigInvalid{Reason: fmt.Sprintf("resource_query_mapping[%s]: at least one port must be configured", kind)}
		}

		mapping[kind] = spec
	}

	if len(mapping) == 0 {
		return nil, &core.ErrConfigInvalid{Reason: "resource_query_mapping: must configure at least one kind"}
	}
	return mapping, nil
}

// ---------------------------------------------------------------------------
// Agent-mode accessors
// ---------------------------------------------------------------------------

func (c *Config) AgentServerURL() string       { return c.v.GetString(keyAgentServerURL) }
func (c *Config) AgentTunnelServerURL() string { return c.v.GetString(keyAgentTunnelServerURL) }
func (c *Config) AgentLocalAPIPort() int       { return c.v.GetInt(keyAgentLocalAPIPort) }
