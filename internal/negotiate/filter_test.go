package negotiate

import (
	"strings"
	"testing"
)

// sdpLines joins description lines with CRLF, the terminator browsers use.
func sdpLines(lines ...string) string {
	return strings.Join(lines, "\r\n") + "\r\n"
}

var sessionHeader = []string{
	"v=0",
	"o=- 4215775240449105457 2 IN IP4 127.0.0.1",
	"s=-",
	"t=0 0",
	"a=group:BUNDLE 0 1",
}

var audioSection = []string{
	"m=audio 9 UDP/TLS/RTP/SAVPF 111",
	"c=IN IP4 0.0.0.0",
	"a=mid:0",
	"a=sendrecv",
	"a=rtpmap:111 opus/48000/2",
	"a=fmtp:111 minptime=10;useinbandfec=1",
}

func withSections(video ...string) string {
	lines := append([]string{}, sessionHeader...)
	lines = append(lines, audioSection...)
	lines = append(lines, video...)
	return sdpLines(lines...)
}

// mixedH264 offers VP8 with RTX, then a packetization-mode=0 H264 entry
// listed before the packetization-mode=1 one.
var mixedH264 = withSections(
	"m=video 9 UDP/TLS/RTP/SAVPF 96 97 102 127",
	"c=IN IP4 0.0.0.0",
	"a=mid:1",
	"a=sendrecv",
	"a=rtpmap:96 VP8/90000",
	"a=rtcp-fb:96 nack",
	"a=rtpmap:97 rtx/90000",
	"a=fmtp:97 apt=96",
	"a=rtpmap:102 H264/90000",
	"a=rtcp-fb:102 nack",
	"a=fmtp:102 level-asymmetry-allowed=1;packetization-mode=0;profile-level-id=42001f",
	"a=rtpmap:127 H264/90000",
	"a=fmtp:127 level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
)

// TestFilterPrefersPacketizationMode1 checks that of two H264 entries the
// packetization-mode=1 variant wins regardless of its position.
func TestFilterPrefersPacketizationMode1(t *testing.T) {
	want := withSections(
		"m=video 9 UDP/TLS/RTP/SAVPF 127",
		"c=IN IP4 0.0.0.0",
		"a=mid:1",
		"a=sendrecv",
		"a=rtcp-fb:96 nack",
		"a=rtcp-fb:102 nack",
		"a=rtpmap:127 H264/90000",
		"a=fmtp:127 level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
	)

	got := FilterVideoCodec(mixedH264, DefaultPolicy)
	if got != want {
		t.Fatalf("filtered body mismatch:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

// TestFilterFallsBackToMode0 checks the fallback pass.
func TestFilterFallsBackToMode0(t *testing.T) {
	body := withSections(
		"m=video 9 UDP/TLS/RTP/SAVPF 96 102",
		"c=IN IP4 0.0.0.0",
		"a=mid:1",
		"a=rtpmap:96 VP8/90000",
		"a=rtpmap:102 H264/90000",
		"a=fmtp:102 packetization-mode=0;profile-level-id=42001F",
	)
	want := withSections(
		"m=video 9 UDP/TLS/RTP/SAVPF 102",
		"c=IN IP4 0.0.0.0",
		"a=mid:1",
		"a=rtpmap:102 H264/90000",
		"a=fmtp:102 packetization-mode=0;profile-level-id=42001F",
	)

	if got := FilterVideoCodec(body, DefaultPolicy); got != want {
		t.Fatalf("filtered body mismatch:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

// TestFilterNoop checks every case in which the body must come back untouched.
func TestFilterNoop(t *testing.T) {
	testCases := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"not a description", "hello world"},
		{"audio only", sdpLines(append(append([]string{}, sessionHeader...), audioSection...)...)},
		{"no target codec", withSections(
			"m=video 9 UDP/TLS/RTP/SAVPF 96 98",
			"c=IN IP4 0.0.0.0",
			"a=rtpmap:96 VP8/90000",
			"a=rtpmap:98 VP9/90000",
		)},
		{"unaccepted profile", withSections(
			"m=video 9 UDP/TLS/RTP/SAVPF 112",
			"c=IN IP4 0.0.0.0",
			"a=rtpmap:112 H264/90000",
			"a=fmtp:112 packetization-mode=1;profile-level-id=640032",
		)},
		{"missing profile", withSections(
			"m=video 9 UDP/TLS/RTP/SAVPF 112",
			"c=IN IP4 0.0.0.0",
			"a=rtpmap:112 H264/90000",
			"a=fmtp:112 packetization-mode=1",
		)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := FilterVideoCodec(tc.body, DefaultPolicy); got != tc.body {
				t.Errorf("body modified:\ngot:\n%q\nwant:\n%q", got, tc.body)
			}
		})
	}
}

// TestFilterIdempotent checks that filtering its own output changes nothing.
func TestFilterIdempotent(t *testing.T) {
	bodies := []string{
		mixedH264,
		strings.ReplaceAll(mixedH264, "\r\n", "\n"),
		withSections("m=video 9 UDP/TLS/RTP/SAVPF 96", "c=IN IP4 0.0.0.0", "a=rtpmap:96 VP8/90000"),
	}

	for i, body := range bodies {
		once := FilterVideoCodec(body, DefaultPolicy)
		twice := FilterVideoCodec(once, DefaultPolicy)
		if once != twice {
			t.Errorf("body %d: second pass changed output:\nonce:\n%q\ntwice:\n%q", i, once, twice)
		}
	}
}

// TestFilterKeepsLineTerminators checks that LF-only bodies stay LF-only.
func TestFilterKeepsLineTerminators(t *testing.T) {
	body := strings.ReplaceAll(mixedH264, "\r\n", "\n")
	got := FilterVideoCodec(body, DefaultPolicy)

	if strings.Contains(got, "\r") {
		t.Fatalf("CR introduced into LF body: %q", got)
	}
	if !strings.Contains(got, "m=video 9 UDP/TLS/RTP/SAVPF 127\n") {
		t.Errorf("video line not rewritten: %q", got)
	}
	if !strings.Contains(got, "a=rtpmap:111 opus/48000/2\n") {
		t.Errorf("audio section altered: %q", got)
	}
}

// TestFilterOnlyTouchesVideo checks that audio codec lines sharing a payload
// number space are left alone.
func TestFilterOnlyTouchesVideo(t *testing.T) {
	got := FilterVideoCodec(mixedH264, DefaultPolicy)
	for _, line := range audioSection {
		if !strings.Contains(got, line+"\r\n") {
			t.Errorf("audio line %q missing from output", line)
		}
	}
}

// TestFilterCustomPolicy checks that the policy, not a constant, drives the
// selection.
func TestFilterCustomPolicy(t *testing.T) {
	policy := CodecPolicy{Codec: "h264", ProfileLevelIDs: []string{"42001f"}}
	got := FilterVideoCodec(mixedH264, policy)

	if !strings.Contains(got, "m=video 9 UDP/TLS/RTP/SAVPF 102\r\n") {
		t.Errorf("expected payload 102 to win under custom policy:\n%s", got)
	}
	if strings.Contains(got, "a=rtpmap:127") {
		t.Errorf("payload 127 should have been dropped:\n%s", got)
	}
}
