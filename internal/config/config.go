// Package config holds the client and relay configuration, loaded from a
// YAML file and overridden by command-line flags.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/1ureka/peercall/internal/call"
	"github.com/1ureka/peercall/internal/protocol"
)

// Candidate policies as written in the config file.
const (
	CandidatesDrop = "drop"
	CandidatesKeep = "keep"
)

// DefaultICEServers is used when the config names none.
var DefaultICEServers = []protocol.ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
	{URLs: []string{"stun:stun1.l.google.com:19302"}},
}

// Config is the client configuration.
type Config struct {
	ID      string `yaml:"id"`
	Display string `yaml:"display"`
	URL     string `yaml:"url"`  // relay WebSocket URL
	Room    string `yaml:"room"` // broadcast scope on the relay

	RingTimeout   time.Duration `yaml:"ring_timeout"`
	AnswerTimeout time.Duration `yaml:"answer_timeout"`

	AutoAnswer bool   `yaml:"auto_answer"`
	Debug      bool   `yaml:"debug"`
	Candidates string `yaml:"candidates"` // "drop" or "keep"

	ICEServers []protocol.ICEServer `yaml:"ice_servers"`

	Relay Relay `yaml:"relay"`
}

// Relay is the relay server configuration.
type Relay struct {
	Listen         string               `yaml:"listen"`
	ICEServers     []protocol.ICEServer `yaml:"ice_servers"`
	MaxMessageSize int64                `yaml:"max_message_size"`
	StatsInterval  time.Duration        `yaml:"stats_interval"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		RingTimeout:   30 * time.Second,
		AnswerTimeout: 30 * time.Second,
		Candidates:    CandidatesDrop,
		ICEServers:    clone(DefaultICEServers),
		Relay: Relay{
			Listen:        ":8080",
			ICEServers:    clone(DefaultICEServers),
			StatsInterval: 5 * time.Second,
		},
	}
}

// Load reads path over the defaults. Unknown keys are an error. An empty
// path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the client configuration.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return errors.New("missing id")
	}
	if c.URL == "" {
		return errors.New("missing relay url")
	}
	if _, err := NormalizeURL(c.URL); err != nil {
		return err
	}
	if c.Candidates != CandidatesDrop && c.Candidates != CandidatesKeep {
		return fmt.Errorf("invalid candidates policy %q: must be %q or %q", c.Candidates, CandidatesDrop, CandidatesKeep)
	}
	return validateServers(c.ICEServers)
}

// CandidatePolicy maps the configured policy name.
func (c Config) CandidatePolicy() call.CandidatePolicy {
	if c.Candidates == CandidatesKeep {
		return call.KeepDuplicates
	}
	return call.DropDuplicates
}

// Validate checks the relay configuration.
func (r Relay) Validate() error {
	if r.Listen == "" {
		return errors.New("missing relay listen address")
	}
	if r.MaxMessageSize < 0 {
		return errors.New("max_message_size must not be negative")
	}
	return validateServers(r.ICEServers)
}

func validateServers(servers []protocol.ICEServer) error {
	for i, s := range servers {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("ice server %d: %w", i, err)
		}
	}
	return nil
}

// NormalizeURL accepts a bare host or a URL and returns a WebSocket URL.
// The scheme defaults to wss and the path to /ws.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "wss://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid relay URL: %s", raw)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid relay URL scheme: %s", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// ParseICEServersJSON parses a JSON array of ICE servers in the same shape
// the relay pushes to clients.
func ParseICEServersJSON(raw string) ([]protocol.ICEServer, error) {
	var servers []protocol.ICEServer
	if err := json.Unmarshal([]byte(raw), &servers); err != nil {
		return nil, fmt.Errorf("invalid ICE servers JSON: %w", err)
	}
	if err := validateServers(servers); err != nil {
		return nil, err
	}
	return servers, nil
}

func clone(servers []protocol.ICEServer) []protocol.ICEServer {
	out := make([]protocol.ICEServer, len(servers))
	for i, s := range servers {
		s.URLs = append([]string(nil), s.URLs...)
		out[i] = s
	}
	return out
}
