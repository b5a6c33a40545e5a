package config

import (
	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"
)

// Validate returns an error describing the first invalid value found.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return errors.WithMessage(err, "server config")
	}
	if err := c.RTMP.Validate(); err != nil {
		return errors.WithMessage(err, "rtmp config")
	}
	if c.AMF.MaxDepth < 0 {
		return errors.Errorf("amf config: max_depth must not be negative, got %d", c.AMF.MaxDepth)
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return errors.Wrapf(err, "log config: level %q", c.Log.Level)
	}
	return nil
}

func (s *ServerConfig) Validate() error {
	if s.TLS.Enabled() {
		if s.TLS.Cert == "" || s.TLS.Key == "" {
			return errors.New("tls needs both cert and key")
		}
		if s.TLS.Addr == s.Addr {
			return errors.Errorf("tls.addr and addr must be different, both are %q", s.Addr)
		}
	}
	return nil
}

func (r *RTMPConfig) Validate() error {
	if r.ChunkSize < 128 || r.ChunkSize > 0xFFFFFF {
		return errors.Errorf("chunk_size must be between 128 and 16777215, got %d", r.ChunkSize)
	}
	if r.MaxMessageLength > 0xFFFFFF {
		return errors.Errorf("max_message_length must not exceed 16777215, got %d", r.MaxMessageLength)
	}
	for _, app := range r.Apps {
		if app == "" {
			return errors.New("apps must not contain an empty name")
		}
	}
	return nil
}
