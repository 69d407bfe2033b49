package config

import (
	"time"

	"udpbench/client"
	"udpbench/protocol"
)

// Client holds the settings of the benchmark client.
type Client struct {
	ServerAddr   string  `yaml:"server_addr"`
	ClientAddr   string  `yaml:"client_addr"`
	PayloadSize  int     `yaml:"payload_size"`
	PacketCount  int     `yaml:"packet_count"`
	Duration     Seconds `yaml:"speedtest_duration"`
	Mode         string  `yaml:"speedtest_mode"`
	Bitrate      int64   `yaml:"bitrate"`
	BitrateScale string  `yaml:"bitrate_scale"`
	PingInterval Seconds `yaml:"ping_interval"`

	Experiment Experiment `yaml:",inline"`

	ResultsDir string `yaml:"results_dir"`
	RawOutput  string `yaml:"raw_output"`
	SQLitePath string `yaml:"sqlite_path"`
	LogLevel   string `yaml:"log_level"`
}

// Experiment repeats the configured mode over servers and payload sizes.
type Experiment struct {
	Enabled      bool     `yaml:"experiment_mode"`
	Count        int      `yaml:"experiment_count"`
	Interval     Seconds  `yaml:"experiment_interval"`
	Servers      []string `yaml:"experiment_servers"`
	PayloadSizes []int    `yaml:"experiment_payload_sizes"`
}

// DefaultClient returns the settings used for anything the sources leave out.
func DefaultClient() *Client {
	return &Client{
		ClientAddr:   "0.0.0.0:0",
		PayloadSize:  1024,
		PacketCount:  1000,
		Duration:     Seconds(10 * time.Second),
		Mode:         client.ByDuration.String(),
		BitrateScale: client.Mbps.String(),
		PingInterval: Seconds(time.Second),
		ResultsDir:   "results",
		RawOutput:    "rtt_times.csv",
		LogLevel:     "info",
	}
}

// LoadClient reads path (skipped when empty), then EnvFile, then UDPBENCH_*
// variables, and validates the result.
func LoadClient(path string) (*Client, error) {
	cfg := DefaultClient()
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

func (c *Client) overrides() []override {
	return []override{
		{"SERVER_ADDR", str(&c.ServerAddr)},
		{"CLIENT_ADDR", str(&c.ClientAddr)},
		{"PAYLOAD_SIZE", integer(&c.PayloadSize)},
		{"PACKET_COUNT", integer(&c.PacketCount)},
		{"DURATION", seconds(&c.Duration)},
		{"MODE", str(&c.Mode)},
		{"BITRATE", integer64(&c.Bitrate)},
		{"BITRATE_SCALE", str(&c.BitrateScale)},
		{"PING_INTERVAL", seconds(&c.PingInterval)},
		{"EXPERIMENT_MODE", boolean(&c.Experiment.Enabled)},
		{"EXPERIMENT_COUNT", integer(&c.Experiment.Count)},
		{"EXPERIMENT_INTERVAL", seconds(&c.Experiment.Interval)},
		{"EXPERIMENT_SERVERS", list(&c.Experiment.Servers)},
		{"EXPERIMENT_PAYLOAD_SIZES", intList(&c.Experiment.PayloadSizes)},
		{"RESULTS_DIR", str(&c.ResultsDir)},
		{"RAW_OUTPUT", str(&c.RawOutput)},
		{"SQLITE_PATH", str(&c.SQLitePath)},
		{"LOG_LEVEL", str(&c.LogLevel)},
	}
}

// Validate checks c and fills in default ports. It is called by LoadClient and
// again by callers that change fields afterwards.
func (c *Client) Validate() error {
	c.ServerAddr = withDefaultPort(c.ServerAddr)
	for i, s := range c.Experiment.Servers {
		c.Experiment.Servers[i] = withDefaultPort(s)
	}

	if c.ClientAddr == "" {
		return invalid("client_addr is empty")
	}
	if err := checkPayload(c.PayloadSize); err != nil {
		return err
	}

	mode := client.ParseMode(c.Mode)
	switch mode {
	case client.ByPacketCount:
		if c.PacketCount <= 0 {
			return invalid("packet_count must be positive, got %d", c.PacketCount)
		}
	case client.ByDurationCustomBitrate:
		if c.Bitrate <= 0 {
			return invalid("bitrate must be positive, got %d", c.Bitrate)
		}
		fallthrough
	default:
		if !positive(c.Duration) {
			return invalid("speedtest_duration must be positive")
		}
	}
	if mode == client.Ping && c.PingInterval < 0 {
		return invalid("ping_interval is negative")
	}

	if !c.Experiment.Enabled {
		if c.ServerAddr == "" {
			return invalid("server_addr is empty")
		}
		return nil
	}

	e := c.Experiment
	if e.Count <= 0 {
		return invalid("experiment_count must be positive, got %d", e.Count)
	}
	if e.Interval < 0 {
		return invalid("experiment_interval is negative")
	}
	if len(e.Servers) == 0 {
		return invalid("experiment_servers is empty")
	}
	if len(e.PayloadSizes) == 0 {
		return invalid("experiment_payload_sizes is empty")
	}
	for _, p := range e.PayloadSizes {
		if err := checkPayload(p); err != nil {
			return err
		}
	}
	return nil
}

func checkPayload(n int) error {
	if n < 0 || n > protocol.MaxPayload {
		return invalid("payload_size %d outside [0, %d]", n, protocol.MaxPayload)
	}
	return nil
}
