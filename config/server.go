package config

import (
	"udpbench/server"
)

// Server holds the settings of the impairment server.
type Server struct {
	Server  Listener       `yaml:"server"`
	Profile server.Profile `yaml:"qos_profile_config"`

	LogLevel string `yaml:"log_level"`
}

// Listener is the server section of the file.
type Listener struct {
	Address     string `yaml:"address"`
	QoSProfile  string `yaml:"qos_profile"`
	Workers     int    `yaml:"workers"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// DefaultServer returns a pass-through server on all interfaces.
func DefaultServer() *Server {
	return &Server{
		Server: Listener{
			Address:    "0.0.0.0" + DefaultPort,
			QoSProfile: "default",
			Workers:    server.DefaultWorkers,
		},
		LogLevel: "info",
	}
}

// LoadServer reads path (skipped when empty), then EnvFile, then UDPBENCH_*
// variables, and validates the result.
func LoadServer(path string) (*Server, error) {
	cfg := DefaultServer()
	if err := readYAML(path, cfg); err != nil {
		return nil, err
	}
	if err := loadEnvFile(); err != nil {
		return nil, err
	}
	if err := applyEnv(cfg.overrides()); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (s *Server) overrides() []override {
	p := &s.Profile
	return []override{
		{"LISTEN_ADDR", str(&s.Server.Address)},
		{"QOS_PROFILE", str(&s.Server.QoSProfile)},
		{"WORKERS", integer(&s.Server.Workers)},
		{"METRICS_ADDR", str(&s.Server.MetricsAddr)},
		{"LOSS", integer(&p.Loss)},
		{"JITTER", integer(&p.Jitter)},
		{"DELAY", integer(&p.Delay)},
		{"DUPLICATE", integer(&p.Duplicate)},
		{"REORDER", integer(&p.Reorder)},
		{"REORDER_DELAY", integer(&p.ReorderDelay)},
		{"LOG_LEVEL", str(&s.LogLevel)},
	}
}

// Validate checks s and fills in the default port.
func (s *Server) Validate() error {
	if s.Server.Address == "" {
		return invalid("server.address is empty")
	}
	s.Server.Address = withDefaultPort(s.Server.Address)
	if s.Server.Workers <= 0 {
		return invalid("server.workers must be positive, got %d", s.Server.Workers)
	}

	p := s.Profile
	for _, pct := range []struct {
		name string
		v    int
	}{{"loss", p.Loss}, {"duplicate", p.Duplicate}, {"reorder", p.Reorder}} {
		if pct.v < 0 || pct.v > 100 {
			return invalid("%s %d outside [0, 100]", pct.name, pct.v)
		}
	}
	for _, ms := range []struct {
		name string
		v    int
	}{{"jitter", p.Jitter}, {"delay", p.Delay}, {"reorder_delay", p.ReorderDelay}} {
		if ms.v < 0 {
			return invalid("%s %d is negative", ms.name, ms.v)
		}
	}
	return nil
}

// Policy builds the impairment policy named by the qos_profile setting.
func (s *Server) Policy() server.Policy {
	return server.NewPolicy(s.Server.QoSProfile, s.Profile)
}
