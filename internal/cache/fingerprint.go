package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"github.com/google/uuid"

	"github.com/gurigacaferi/skeneri-i-faturave-sub001/internal/pages"
)

// Fingerprint is the idempotency key: SHA-256 over the owner, the prompt
// version and every page's bytes in order. Identical documents from the
// same owner under the same prompt always hash to the same key; a prompt
// bump invalidates every prior entry.
func Fingerprint(ownerID uuid.UUID, promptVersion string, pgs []pages.Page) string {
	h := sha256.New()
	h.Write(ownerID[:])
	h.Write([]byte(promptVersion))
	for _, p := range pgs {
		// length-prefix each page so boundaries cannot collide
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(p.PNG)))
		h.Write(n[:])
		h.Write(p.PNG)
	}
	return hex.EncodeToString(h.Sum(nil))
}
