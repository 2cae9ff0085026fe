// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package process

import (
	"fmt"
	"net"
	"time"

	monkit "gopkg.in/spacemonkeygo/monkit.v2"
)

// StatsdConfig points the monkit output at a statsd listener. The wire
// encoding is plain "name:value|type" lines over UDP, written directly
// against net.Conn.
type StatsdConfig struct {
	Host string `default:"" usage:"statsd host, empty disables metrics export"`
	Port string `default:"8125" usage:"statsd port"`
}

// StatsdSink periodically drains a monkit.Registry to a statsd listener.
type StatsdSink struct {
	conn net.Conn
}

// NewStatsdSink dials the configured statsd endpoint. If cfg.Host is empty,
// the returned sink is a no-op.
func NewStatsdSink(cfg StatsdConfig) (*StatsdSink, error) {
	if cfg.Host == "" {
		return &StatsdSink{}, nil
	}
	conn, err := net.Dial("udp", net.JoinHostPort(cfg.Host, cfg.Port))
	if err != nil {
		return nil, err
	}
	return &StatsdSink{conn: conn}, nil
}

// Run drains reg's stats to statsd every interval until stop is closed.
func (s *StatsdSink) Run(reg *monkit.Registry, interval time.Duration, stop <-chan struct{}) {
	if s.conn == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.flush(reg)
		}
	}
}

func (s *StatsdSink) flush(reg *monkit.Registry) {
	reg.Stats(func(name string, val float64) {
		line := fmt.Sprintf("%s:%g|g\n", sanitize(name), val)
		_, _ = s.conn.Write([]byte(line))
	})
}

func sanitize(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '_', c == '-':
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

// Close releases the underlying UDP socket, if any.
func (s *StatsdSink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
