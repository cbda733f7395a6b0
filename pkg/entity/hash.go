package entity

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// ContentHash computes the stable content digest used for deduplication.
//
// The content is canonically serialized with encoding/json (map keys are
// emitted in sorted order, so structurally equal maps hash identically) and
// digested with BLAKE2b-256. The hex digest is computed once at node
// creation and never changes afterwards.
//
// Example:
//
//	h1, _ := entity.ContentHash("cat")
//	h2, _ := entity.ContentHash("cat")
//	// h1 == h2
func ContentHash(content any) (string, error) {
	data, err := json.Marshal(content)
	if err != nil {
		return "", fmt.Errorf("hash content: %w", err)
	}

	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
