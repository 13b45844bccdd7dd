package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// entryEscaper makes the canonical serialization unambiguous: the delimiter
// bytes and the escape byte itself are backslash-escaped, so "a" -> "b|c:d"
// and {"a" -> "b", "c" -> "d"} serialize differently.
var entryEscaper = strings.NewReplacer(`\`, `\\`, "|", `\|`, ":", `\:`)

// Digest reduces a normalized row to its content identity. Entries are
// serialized as "k1:v1|k2:v2|..." with keys sorted lexicographically and
// delimiter bytes escaped, so field order never affects the result and equal
// digests imply equal normalized content. The digest is an identity key, not
// a security primitive: sha256 is used for its stable, practically-unique
// output.
func Digest(normalized map[string]string) string {
	keys := make([]string, 0, len(normalized))
	for k := range normalized {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('|')
		}
		entryEscaper.WriteString(&b, k)
		b.WriteByte(':')
		entryEscaper.WriteString(&b, normalized[k])
	}

	return CalculateString(b.String())
}

func CalculateString(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}
