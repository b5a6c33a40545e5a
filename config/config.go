// Package config loads the server configuration from YAML.
package config

import (
	"bytes"
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const DefaultPort = "1935"

// Buffer size of the socket reader and writer of every connection.
const BufioSize = 1024 * 64

const (
	DefaultApp                     = "app"
	DefaultWindowAckSize    uint32 = 2500000
	DefaultPeerBandwidth    uint32 = 2500000
	DefaultChunkSize        uint32 = 4096
	DefaultMaxMessageLength uint32 = 8 << 20
	FlashMediaServerVersion        = "FMS/3,5,7,7009"
	Capabilities                   = 31
	Mode                           = 1
)

// Config holds the complete server configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	RTMP   RTMPConfig   `yaml:"rtmp"`
	AMF    AMFConfig    `yaml:"amf"`
	Log    LogConfig    `yaml:"log"`
}

type ServerConfig struct {
	Addr string    `yaml:"addr"`
	TLS  TLSConfig `yaml:"tls"`
}

// TLSConfig enables an RTMPS listener when both Cert and Key are set.
type TLSConfig struct {
	Addr string `yaml:"addr"`
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

func (t TLSConfig) Enabled() bool {
	return t.Cert != "" || t.Key != ""
}

type RTMPConfig struct {
	// Apps lists the application names clients may connect to.
	Apps             []string `yaml:"apps"`
	ChunkSize        uint32   `yaml:"chunk_size"`
	WindowAckSize    uint32   `yaml:"window_ack_size"`
	PeerBandwidth    uint32   `yaml:"peer_bandwidth"`
	MaxMessageLength uint32   `yaml:"max_message_length"`
	// AllowEncrypted lets clients request an RTMPE handshake. Servers refuse them unless it is set.
	AllowEncrypted   bool     `yaml:"allow_encrypted"`
}

type AMFConfig struct {
	// AllowedClasses are the typed object class names accepted from peers. Anonymous objects are always
	// accepted.
	AllowedClasses []string `yaml:"allowed_classes"`
	MaxDepth       int      `yaml:"max_depth"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	c.setDefaults()
	return c
}

// Load reads the configuration from a YAML file. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults to unset fields.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "decode config")
	}
	cfg.setDefaults()
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":" + DefaultPort
	}
	if c.Server.TLS.Enabled() && c.Server.TLS.Addr == "" {
		c.Server.TLS.Addr = ":443"
	}
	if len(c.RTMP.Apps) == 0 {
		c.RTMP.Apps = []string{DefaultApp}
	}
	if c.RTMP.ChunkSize == 0 {
		c.RTMP.ChunkSize = DefaultChunkSize
	}
	if c.RTMP.WindowAckSize == 0 {
		c.RTMP.WindowAckSize = DefaultWindowAckSize
	}
	if c.RTMP.PeerBandwidth == 0 {
		c.RTMP.PeerBandwidth = DefaultPeerBandwidth
	}
	if c.RTMP.MaxMessageLength == 0 {
		c.RTMP.MaxMessageLength = DefaultMaxMessageLength
	}
	if c.AMF.MaxDepth == 0 {
		c.AMF.MaxDepth = 256
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}
