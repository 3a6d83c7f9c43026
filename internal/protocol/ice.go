package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ICEServer is a STUN or TURN endpoint descriptor.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// UnmarshalJSON accepts "urls" either as a single string or as a list, the
// same way browsers accept RTCIceServer.
func (s *ICEServer) UnmarshalJSON(b []byte) error {
	var raw struct {
		URLs       json.RawMessage `json:"urls"`
		Username   string          `json:"username,omitempty"`
		Credential string          `json:"credential,omitempty"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	var urls []string
	if len(raw.URLs) > 0 {
		var single string
		if err := json.Unmarshal(raw.URLs, &single); err == nil {
			urls = []string{single}
		} else if err := json.Unmarshal(raw.URLs, &urls); err != nil {
			return fmt.Errorf("urls: %w", err)
		}
	}

	s.URLs = urls
	s.Username = raw.Username
	s.Credential = raw.Credential
	return nil
}

// Validate checks the URL schemes and that TURN entries carry credentials.
func (s ICEServer) Validate() error {
	if len(s.URLs) == 0 {
		return errors.New("missing urls")
	}

	requiresTurnCreds := false
	for _, raw := range s.URLs {
		url := strings.TrimSpace(raw)
		if url == "" {
			return errors.New("urls must not contain empty entries")
		}
		if !isAllowedICEScheme(url) {
			return fmt.Errorf("unsupported url scheme: %q", url)
		}
		if strings.HasPrefix(url, "turn:") || strings.HasPrefix(url, "turns:") {
			requiresTurnCreds = true
		}
	}

	if requiresTurnCreds {
		if strings.TrimSpace(s.Username) == "" {
			return errors.New("turn urls require username")
		}
		if strings.TrimSpace(s.Credential) == "" {
			return errors.New("turn urls require credential")
		}
	}
	return nil
}

func isAllowedICEScheme(url string) bool {
	switch {
	case strings.HasPrefix(url, "stun:"),
		strings.HasPrefix(url, "stuns:"),
		strings.HasPrefix(url, "turn:"),
		strings.HasPrefix(url, "turns:"):
		return true
	default:
		return false
	}
}
