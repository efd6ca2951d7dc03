package ids

import (
	"crypto/rand"
	"encoding/binary"
	"time"

	"github.com/jxskiss/base62"
)

// New returns a short, URL-safe identifier such as "pos_3hF9kQ2mZx1".
// The first 6 bytes are the millisecond timestamp so ids sort roughly by creation time.
func New(prefix string) string {
	var buf [12]byte
	ms := uint64(time.Now().UnixMilli())
	binary.BigEndian.PutUint16(buf[0:2], uint16(ms>>32))
	binary.BigEndian.PutUint32(buf[2:6], uint32(ms))
	if _, err := rand.Read(buf[6:]); err != nil {
		binary.BigEndian.PutUint32(buf[6:10], uint32(time.Now().UnixNano()))
	}
	return prefix + "_" + base62.EncodeToString(buf[:])
}
