package store

import (
	"crypto/sha256"
	"fmt"
)

// ContentHash computes the cache key for a source file. salt covers every
// input besides the content that changes the parse result (the file's
// language and the emit-relevant compiler options), so changing either
// invalidates the entry.
func ContentHash(content []byte, salt string) string {
	h := sha256.New()
	fmt.Fprintf(h, "salt:%s\n", salt)
	h.Write(content)
	return fmt.Sprintf("%x", h.Sum(nil))
}
