package fileupload

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// HashContent computes the lowercase hex SHA-256 of the stream. The digest
// depends only on the bytes, never on the file name, so the same content
// uploaded under a different name still collides in the ledger.
func HashContent(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", 0, fmt.Errorf("hashing content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// HashBytes is HashContent over an in-memory payload.
func HashBytes(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
