// Package util provides shared utility functions.
package util

import (
	"hash/fnv"
	"strconv"

	"github.com/1ureka/peercall/internal/protocol"
)

// CandidateFingerprint computes an 8-byte hash over the fields that identify
// a remote candidate (candidate line, media id, m-line index, ufrag). The
// hash is used solely to recognise repeated deliveries.
func CandidateFingerprint(c protocol.ICECandidate) uint64 {
	h := fnv.New64a()
	h.Write([]byte(c.Candidate))
	h.Write([]byte{0})
	if c.SDPMid != nil {
		h.Write([]byte(*c.SDPMid))
	}
	h.Write([]byte{0})
	if c.SDPMLineIndex != nil {
		h.Write([]byte(strconv.Itoa(int(*c.SDPMLineIndex))))
	}
	h.Write([]byte{0})
	if c.UsernameFragment != nil {
		h.Write([]byte(*c.UsernameFragment))
	}
	return h.Sum64()
}
