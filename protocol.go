package bolt

import (
	"encoding/binary"
	"fmt"
)

// magicPreamble is the fixed 4-byte prologue every Bolt connection opens
// with, before version negotiation.
var magicPreamble = []byte{0x60, 0x60, 0xB0, 0x17}

// protocolVersion identifies one negotiated Bolt protocol variant. The
// connection state machine is version-agnostic; the few behaviors that
// differ across 4.x are expressed as capability checks here rather than
// as per-version connection types.
type protocolVersion struct {
	major byte
	minor byte
}

// proposedVersions are offered to the server during the handshake, in
// preference order. The handshake frame always carries four slots;
// unused slots are zero.
var proposedVersions = []protocolVersion{
	{4, 4},
	{4, 3},
	{4, 2},
	{4, 0},
}

func (v protocolVersion) String() string {
	return fmt.Sprintf("%d.%d", v.major, v.minor)
}

// zero reports the server's "no agreement" answer.
func (v protocolVersion) zero() bool {
	return v.major == 0 && v.minor == 0
}

// supportsRouteMessage reports whether the routing table is fetched with
// the ROUTE message. Older versions call the routing procedure instead.
func (v protocolVersion) supportsRouteMessage() bool {
	return v.major > 4 || (v.major == 4 && v.minor >= 3)
}

// handshakeRequest returns the 20-byte handshake frame: magic preamble
// followed by four big-endian version proposals.
func handshakeRequest() []byte {
	out := make([]byte, 0, 20)
	out = append(out, magicPreamble...)
	for i := 0; i < 4; i++ {
		var slot [4]byte
		if i < len(proposedVersions) {
			slot[2] = proposedVersions[i].minor
			slot[3] = proposedVersions[i].major
		}
		out = append(out, slot[:]...)
	}
	return out
}

// parseVersionResponse decodes the server's 4-byte chosen version.
func parseVersionResponse(b [4]byte) protocolVersion {
	// Major lives in the low byte, minor in the next one up.
	raw := binary.BigEndian.Uint32(b[:])
	return protocolVersion{major: byte(raw), minor: byte(raw >> 8)}
}

// supportedVersion reports whether the server's pick was actually one of
// ours; a rogue answer is a protocol violation.
func supportedVersion(v protocolVersion) bool {
	for _, p := range proposedVersions {
		if p == v {
			return true
		}
	}
	return false
}
