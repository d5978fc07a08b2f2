package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sebas/mediaserver/internal/mediaserver/endpoint"
)

// Config holds the media server configuration
type Config struct {
	GRPCPort      int    `mapstructure:"grpc-port"`
	GRPCBindAddr  string `mapstructure:"bind"`
	MetricsAddr   string `mapstructure:"metrics-addr"`
	AdvertiseAddr string `mapstructure:"advertise"` // Address to advertise in SDP
	RTPBindAddr   string `mapstructure:"rtp-bind"`
	RTPPortMin    int    `mapstructure:"rtp-port-min"`
	RTPPortMax    int    `mapstructure:"rtp-port-max"`
	LogLevel      string `mapstructure:"loglevel"`

	HeartbeatQuantum time.Duration `mapstructure:"heartbeat-quantum"`
	HalfOpenTimeout  time.Duration `mapstructure:"half-open-timeout"`
	OpenTimeout      time.Duration `mapstructure:"open-timeout"`

	Endpoints []endpoint.Config `mapstructure:"endpoints"`
}

// bareEnv keeps the unprefixed environment names older deployments set.
var bareEnv = map[string]string{
	"grpc-port":    "GRPC_PORT",
	"bind":         "BIND",
	"advertise":    "ADVERTISE",
	"rtp-port-min": "RTP_PORT_MIN",
	"rtp-port-max": "RTP_PORT_MAX",
	"loglevel":     "LOGLEVEL",
}

// Load reads configuration from command line flags, environment variables
// and an optional YAML file, in that order of precedence.
func Load(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("mediaserver", pflag.ContinueOnError)

	configFile := fs.String("config", "", "YAML config file")
	fs.Int("grpc-port", 9090, "gRPC server port")
	fs.String("bind", "0.0.0.0", "gRPC bind address")
	fs.String("metrics-addr", ":9100", "Prometheus metrics listen address (empty disables)")
	fs.String("advertise", "", "Address to advertise in SDP (auto-detected if not set)")
	fs.String("rtp-bind", "0.0.0.0", "RTP socket bind address")
	fs.Int("rtp-port-min", 10000, "Minimum RTP port")
	fs.Int("rtp-port-max", 20000, "Maximum RTP port")
	fs.String("loglevel", "info", "Log level")
	fs.Duration("heartbeat-quantum", 100*time.Millisecond, "Heartbeat queue period")
	fs.Duration("half-open-timeout", 30*time.Second, "Close connections bound but never joined after this long (negative disables)")
	fs.Duration("open-timeout", 0, "Close open connections after this long (0 disables)")
	endpoints := fs.StringArray("endpoint", nil, "Endpoint as name:kind:local:rtp (repeatable)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("binding flags: %w", err)
	}
	v.SetEnvPrefix("MEDIASERVER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for key, env := range bareEnv {
		if err := v.BindEnv(key, "MEDIASERVER_"+env, env); err != nil {
			return nil, fmt.Errorf("binding env %s: %w", env, err)
		}
	}

	if *configFile != "" {
		v.SetConfigFile(*configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", *configFile, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if len(*endpoints) > 0 {
		cfg.Endpoints = cfg.Endpoints[:0]
		for _, s := range *endpoints {
			ep, err := parseEndpoint(s)
			if err != nil {
				return nil, err
			}
			cfg.Endpoints = append(cfg.Endpoints, ep)
		}
	}
	if len(cfg.Endpoints) == 0 {
		cfg.Endpoints = []endpoint.Config{
			{Name: "conference", Kind: string(endpoint.KindConference), LocalConnections: 8, RTPConnections: 8},
		}
	}

	if cfg.AdvertiseAddr == "" {
		cfg.AdvertiseAddr = getPrimaryInterfaceIP()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseEndpoint parses name:kind:local:rtp. Missing counts default to zero.
func parseEndpoint(s string) (endpoint.Config, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 4 || parts[0] == "" {
		return endpoint.Config{}, fmt.Errorf("invalid endpoint %q: want name:kind:local:rtp", s)
	}
	ep := endpoint.Config{Name: parts[0], Kind: parts[1]}
	counts := []*int{&ep.LocalConnections, &ep.RTPConnections}
	for i, raw := range parts[2:] {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return endpoint.Config{}, fmt.Errorf("invalid endpoint %q: bad connection count %q", s, raw)
		}
		*counts[i] = n
	}
	return ep, nil
}

// Validate checks ranges and endpoint definitions.
func (c *Config) Validate() error {
	var errs []error
	if c.GRPCPort <= 0 || c.GRPCPort > 65535 {
		errs = append(errs, fmt.Errorf("grpc-port %d out of range", c.GRPCPort))
	}
	if c.RTPPortMin <= 0 || c.RTPPortMax > 65535 || c.RTPPortMin >= c.RTPPortMax {
		errs = append(errs, fmt.Errorf("rtp port range %d-%d is invalid", c.RTPPortMin, c.RTPPortMax))
	}
	if c.HeartbeatQuantum <= 0 {
		errs = append(errs, fmt.Errorf("heartbeat-quantum must be positive"))
	}

	seen := make(map[string]bool, len(c.Endpoints))
	for _, ep := range c.Endpoints {
		if ep.Name == "" {
			errs = append(errs, errors.New("endpoint without a name"))
			continue
		}
		if seen[ep.Name] {
			errs = append(errs, fmt.Errorf("endpoint %s defined twice", ep.Name))
		}
		seen[ep.Name] = true
		if _, err := endpoint.ParseKind(ep.Kind); err != nil {
			errs = append(errs, fmt.Errorf("endpoint %s: %w", ep.Name, err))
		}
		if ep.LocalConnections < 0 || ep.RTPConnections < 0 {
			errs = append(errs, fmt.Errorf("endpoint %s: negative pool size", ep.Name))
		}
	}
	return errors.Join(errs...)
}

// getPrimaryInterfaceIP detects the primary network interface IP address
func getPrimaryInterfaceIP() string {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "127.0.0.1"
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.To4() != nil {
				return ipnet.IP.String()
			}
		}
	}

	return "127.0.0.1"
}
