package helpers

import (
	"encoding/hex"
	"hash/fnv"
)

// ContentHash returns a cheap FNV-1a fingerprint of page content. It is used
// to detect unchanged pages across re-crawls, not for integrity or security.
func ContentHash(content string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))
}
