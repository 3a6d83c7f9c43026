// Package negotiate builds session descriptions and restricts their video
// section to a single negotiated codec configuration.
package negotiate

import (
	"slices"
	"strings"

	"github.com/pion/sdp/v3"
)

// CodecPolicy selects the video codec configuration both ends must agree on.
type CodecPolicy struct {
	// Codec is the rtpmap encoding name, compared case-insensitively.
	Codec string

	// ProfileLevelIDs are the accepted profile-level-id values.
	ProfileLevelIDs []string
}

// DefaultPolicy keeps one constrained-baseline H264 entry.
var DefaultPolicy = CodecPolicy{
	Codec:           "H264",
	ProfileLevelIDs: []string{"42e01f", "42001f"},
}

// FilterVideoCodec rewrites the first video section of body so that it lists
// exactly one payload type: the first one, in m-line order, whose codec
// matches policy with packetization-mode=1 and an accepted profile-level-id.
// When none qualifies, packetization-mode=0 entries are tried. When still
// none qualifies, or body is not a parseable description, body is returned
// unchanged.
//
// The transform is pure and idempotent.
func FilterVideoCodec(body string, policy CodecPolicy) string {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(body)); err != nil {
		return body
	}

	section := -1
	for i, md := range desc.MediaDescriptions {
		if md.MediaName.Media == "video" {
			section = i
			break
		}
	}
	if section < 0 {
		return body
	}

	winner, ok := selectPayloadType(desc.MediaDescriptions[section], policy)
	if !ok {
		return body
	}
	return rewriteSection(body, section, winner)
}

// selectPayloadType runs the primary (mode 1) and fallback (mode 0) passes.
func selectPayloadType(md *sdp.MediaDescription, policy CodecPolicy) (string, bool) {
	rtpmap := make(map[string]string)
	fmtp := make(map[string]map[string]string)

	for _, attr := range md.Attributes {
		switch attr.Key {
		case "rtpmap":
			pt, rest, found := strings.Cut(attr.Value, " ")
			if !found {
				continue
			}
			name, _, _ := strings.Cut(rest, "/")
			rtpmap[pt] = name
		case "fmtp":
			pt, rest, found := strings.Cut(attr.Value, " ")
			if !found {
				continue
			}
			fmtp[pt] = parseFmtp(rest)
		}
	}

	var candidates []string
	for _, pt := range md.MediaName.Formats {
		if strings.EqualFold(rtpmap[pt], policy.Codec) {
			candidates = append(candidates, pt)
		}
	}

	for _, mode := range []string{"1", "0"} {
		for _, pt := range candidates {
			params := fmtp[pt]
			if packetizationMode(params) != mode {
				continue
			}
			if acceptsProfile(policy, params["profile-level-id"]) {
				return pt, true
			}
		}
	}
	return "", false
}

// parseFmtp splits "k1=v1;k2=v2" into a map with lower-cased keys.
func parseFmtp(value string) map[string]string {
	params := make(map[string]string)
	for _, part := range strings.Split(value, ";") {
		k, v, _ := strings.Cut(strings.TrimSpace(part), "=")
		if k == "" {
			continue
		}
		params[strings.ToLower(k)] = strings.TrimSpace(v)
	}
	return params
}

// packetizationMode returns the declared mode; RFC 6184 defaults it to 0.
func packetizationMode(params map[string]string) string {
	if mode, ok := params["packetization-mode"]; ok {
		return mode
	}
	return "0"
}

func acceptsProfile(policy CodecPolicy, profile string) bool {
	if profile == "" {
		return false
	}
	return slices.ContainsFunc(policy.ProfileLevelIDs, func(id string) bool {
		return strings.EqualFold(id, profile)
	})
}

// rewriteSection edits the text of body instead of re-marshalling it, so
// lines outside the video section survive byte for byte, including their
// line terminators.
func rewriteSection(body string, section int, winner string) string {
	lines := strings.Split(body, "\n")
	out := make([]string, 0, len(lines))
	media := -1

	for _, raw := range lines {
		line, hasCR := strings.CutSuffix(raw, "\r")

		if strings.HasPrefix(line, "m=") {
			media++
			if media == section {
				if fields := strings.Fields(line); len(fields) >= 3 {
					raw = strings.Join(append(fields[:3:3], winner), " ")
					if hasCR {
						raw += "\r"
					}
				}
			}
			out = append(out, raw)
			continue
		}

		if media == section {
			if pt, ok := codecLinePayloadType(line); ok && pt != winner {
				continue
			}
		}
		out = append(out, raw)
	}

	return strings.Join(out, "\n")
}

// codecLinePayloadType extracts the payload type of an rtpmap or fmtp line.
func codecLinePayloadType(line string) (string, bool) {
	var rest string
	switch {
	case strings.HasPrefix(line, "a=rtpmap:"):
		rest = strings.TrimPrefix(line, "a=rtpmap:")
	case strings.HasPrefix(line, "a=fmtp:"):
		rest = strings.TrimPrefix(line, "a=fmtp:")
	default:
		return "", false
	}
	pt, _, _ := strings.Cut(rest, " ")
	return pt, pt != ""
}
