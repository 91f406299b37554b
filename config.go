package edsim

import (
	"fmt"
	"net"
	"time"

	"github.com/lasergo/edsim/packets"
	"github.com/spf13/viper"
)

// Config holds everything needed to run a simulated DAC.
type Config struct {
	TCPAddr           string        `mapstructure:"tcp_addr"`
	BroadcastAddr     string        `mapstructure:"broadcast_addr"`
	BroadcastBind     string        `mapstructure:"broadcast_bind"`
	BroadcastInterval time.Duration `mapstructure:"broadcast_interval"`

	PointRate    int    `mapstructure:"point_rate"`    // points per second drained while running
	BufferPoints int    `mapstructure:"buffer_points"` // ring buffer capacity C
	FPS          int    `mapstructure:"fps"`           // presentation refresh rate
	PersistMS    int    `mapstructure:"persist_ms"`    // persistence-of-vision window
	PointFormat  string `mapstructure:"point_format"`  // compact or extended

	MacAddress    string `mapstructure:"mac_address"`
	HWRevision    uint16 `mapstructure:"hw_revision"`
	SWRevision    uint16 `mapstructure:"sw_revision"`
	VersionString string `mapstructure:"version_string"`

	StatusPort int    `mapstructure:"status_port"` // ZMQ PUB port, 0 disables
	RPCPort    int    `mapstructure:"rpc_port"`    // JSON-RPC port, 0 disables
	TraceFile  string `mapstructure:"trace_file"`  // .npy trace of drained points, "" disables
	DBAddr     string `mapstructure:"db_addr"`     // ClickHouse host:port, "" disables

	Verbose bool `mapstructure:"verbose"`
}

// SetDefaults registers the default value of every configuration key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("tcp_addr", fmt.Sprintf(":%d", Ports.Control))
	v.SetDefault("broadcast_addr", fmt.Sprintf("255.255.255.255:%d", Ports.Broadcast))
	v.SetDefault("broadcast_bind", fmt.Sprintf(":%d", Ports.BroadcastFrom))
	v.SetDefault("broadcast_interval", time.Second)
	v.SetDefault("point_rate", 30000)
	v.SetDefault("buffer_points", 1800)
	v.SetDefault("fps", 60)
	v.SetDefault("persist_ms", 100)
	v.SetDefault("point_format", "compact")
	v.SetDefault("mac_address", "55:55:55:55:55:55")
	v.SetDefault("hw_revision", 4321)
	v.SetDefault("sw_revision", 2)
	v.SetDefault("version_string", "simulator")
	v.SetDefault("status_port", Ports.Status)
	v.SetDefault("rpc_port", Ports.RPC)
	v.SetDefault("trace_file", "")
	v.SetDefault("db_addr", "")
	v.SetDefault("verbose", false)
}

// DefaultConfig returns the configuration of a stock simulator.
func DefaultConfig() Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := LoadConfig(v)
	if err != nil {
		panic(fmt.Sprintf("default configuration is invalid: %v", err))
	}
	return cfg
}

// LoadConfig decodes the settings held by v and validates them.
func LoadConfig(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("could not decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration for consistency. It does not modify cfg.
func (cfg Config) Validate() error {
	if cfg.PointRate <= 0 {
		return fmt.Errorf("point_rate must be positive, got %d", cfg.PointRate)
	}
	// buffer_fullness is a u16 on the wire
	if cfg.BufferPoints < 2 || cfg.BufferPoints > 65535 {
		return fmt.Errorf("buffer_points must be in [2, 65535], got %d", cfg.BufferPoints)
	}
	if cfg.FPS <= 0 {
		return fmt.Errorf("fps must be positive, got %d", cfg.FPS)
	}
	if cfg.PersistMS < 0 {
		return fmt.Errorf("persist_ms must not be negative, got %d", cfg.PersistMS)
	}
	if cfg.BroadcastInterval <= 0 {
		return fmt.Errorf("broadcast_interval must be positive, got %v", cfg.BroadcastInterval)
	}
	if _, err := packets.ParseFormat(cfg.PointFormat); err != nil {
		return err
	}
	if _, err := cfg.Mac(); err != nil {
		return err
	}
	if len(cfg.VersionString) > packets.VersionSize {
		return fmt.Errorf("version_string %q is longer than %d bytes", cfg.VersionString, packets.VersionSize)
	}
	return nil
}

// FrameCapacity is F, the number of points one presentation frame holds:
// two refresh periods' worth at the nominal point rate.
func (cfg Config) FrameCapacity() int {
	return (2*cfg.PointRate + cfg.FPS - 1) / cfg.FPS
}

// PersistenceFrames is P, the number of frames in the persistence window.
// At least two are kept, since a frame that fills is closed by opening the
// next slot.
func (cfg Config) PersistenceFrames() int {
	return max(2, cfg.PersistMS*cfg.FPS/1000)
}

// Format returns the configured point record layout.
func (cfg Config) Format() packets.PointFormat {
	f, _ := packets.ParseFormat(cfg.PointFormat)
	return f
}

// Mac parses the configured MAC address.
func (cfg Config) Mac() ([6]byte, error) {
	var mac [6]byte
	hw, err := net.ParseMAC(cfg.MacAddress)
	if err != nil {
		return mac, fmt.Errorf("invalid mac_address: %w", err)
	}
	if len(hw) != len(mac) {
		return mac, fmt.Errorf("mac_address %q must be 6 bytes long", cfg.MacAddress)
	}
	copy(mac[:], hw)
	return mac, nil
}
