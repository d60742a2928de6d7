// Package hash computes the stable content digest used as task/item
// identity.
package hash

import (
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Of joins parts with "|" into a canonical byte string and returns a
// 128-bit hex digest: two xxhash passes over the same canonical string,
// one plain and one salted by its own length, concatenated.
func Of(parts ...string) string {
	canonical := strings.Join(parts, "|")

	h1 := xxhash.Sum64String(canonical)

	salted := make([]byte, 0, len(canonical)+8)
	salted = append(salted, byte(len(canonical)), byte(len(canonical)>>8))
	salted = append(salted, canonical...)
	h2 := xxhash.Sum64(salted)

	var b [16]byte
	putUint64(b[0:8], h1)
	putUint64(b[8:16], h2)
	return hexEncode(b[:])
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

const hexDigits = "0123456789abcdef"

func hexEncode(b []byte) string {
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexDigits[c>>4]
		out[i*2+1] = hexDigits[c&0x0f]
	}
	return string(out)
}
