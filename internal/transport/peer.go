// Package transport backs call sessions with pion/webrtc peer connections.
package transport

import (
	"fmt"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/peercall/internal/protocol"
)

// newAPI builds the pion API every peer connection is created from: the
// default codec set (which includes the H264 profiles the codec filter
// selects from) and pion's logs routed through lf.
func newAPI(lf logging.LoggerFactory) (*webrtc.API, error) {
	me := &webrtc.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	se := webrtc.SettingEngine{}
	if lf != nil {
		se.LoggerFactory = lf
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithSettingEngine(se),
	), nil
}

func toICEServers(servers []protocol.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		out = append(out, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return out
}

func toSessionDescription(d protocol.Description) webrtc.SessionDescription {
	return webrtc.SessionDescription{
		Type: webrtc.NewSDPType(string(d.Type)),
		SDP:  d.Body,
	}
}

func fromSessionDescription(d webrtc.SessionDescription) protocol.Description {
	return protocol.Description{
		Type: protocol.SDPType(d.Type.String()),
		Body: d.SDP,
	}
}

func toCandidateInit(c protocol.ICECandidate) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

func fromCandidateInit(c webrtc.ICECandidateInit) protocol.ICECandidate {
	return protocol.ICECandidate{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}
