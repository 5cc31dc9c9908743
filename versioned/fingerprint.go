package versioned

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Fingerprinter writes a stable identity of its value into a digest.
// Equal values must write equal bytes.
type Fingerprinter interface {
	Fingerprint(d *xxhash.Digest)
}

// FingerprintOf returns the 64-bit xxhash fingerprint of f as a version.
func FingerprintOf(f Fingerprinter) int64 {
	d := xxhash.New()
	f.Fingerprint(d)
	return int64(d.Sum64())
}

// Fingerprint hashes parts with a separator so that ("ab","c") and
// ("a","bc") differ.
func Fingerprint(parts ...string) int64 {
	d := xxhash.New()
	WriteParts(d, parts...)
	return int64(d.Sum64())
}

// WriteParts writes length-prefixed parts into d.
func WriteParts(d *xxhash.Digest, parts ...string) {
	for _, p := range parts {
		_, _ = d.WriteString(strconv.Itoa(len(p)))
		_, _ = d.WriteString(":")
		_, _ = d.WriteString(p)
	}
}
