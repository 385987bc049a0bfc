package registry

import (
	"encoding/binary"
	"time"

	"github.com/google/uuid"
)

// crockford is the ULID base32 alphabet; its characters are in ascending
// ASCII order, so encoded ids compare the same way as their raw bytes.
const crockford = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// NewMessageID mints a ULID-style IRCv3 msgid tag value attached to
// every routed PRIVMSG/NOTICE, letting CHATHISTORY and echo-message
// consumers deduplicate: a 48-bit Unix-millisecond timestamp followed by
// 80 random bits taken from a UUIDv4, written as 26 Crockford base32
// characters. Ids sort lexically by creation millisecond; ids minted in
// the same millisecond are in random order relative to each other.
func NewMessageID() string {
	var b [16]byte
	binary.BigEndian.PutUint64(b[:8], uint64(time.Now().UnixMilli())<<16)
	r := uuid.New()
	copy(b[6:12], r[:6])
	copy(b[12:], r[10:])
	hi, lo := binary.BigEndian.Uint64(b[:8]), binary.BigEndian.Uint64(b[8:])
	out := make([]byte, 26)
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = crockford[lo&31]
		lo, hi = lo>>5|hi<<59, hi>>5
	}
	return string(out)
}
