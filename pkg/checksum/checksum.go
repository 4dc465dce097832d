// Package checksum provides SHA-256 checksum utilities for blob integrity
// verification. Run logs are archived at detection time and consulted again
// later (analysis retries, the incident logs endpoint), so every archive
// backend records a digest at upload and can verify it on the way back out.
// Keeping this logic in a dedicated package applies consistent hashing
// behaviour across the archive backends without duplicating crypto/sha256
// wiring throughout the codebase.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// CalculateSHA256 calculates the SHA256 checksum of data from a reader
func CalculateSHA256(reader io.Reader) (string, error) {
	hasher := sha256.New()

	if _, err := io.Copy(hasher, reader); err != nil {
		return "", fmt.Errorf("failed to calculate checksum: %w", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// VerifySHA256 verifies that the checksum of data matches the expected checksum
func VerifySHA256(reader io.Reader, expectedChecksum string) (bool, error) {
	actualChecksum, err := CalculateSHA256(reader)
	if err != nil {
		return false, err
	}

	return actualChecksum == expectedChecksum, nil
}
