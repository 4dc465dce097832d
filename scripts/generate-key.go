// Package main is a development utility for generating a TOKEN_ENCRYPTION_KEY
// value. The keyring requires exactly 32 bytes of key material; this prints 24
// random bytes base64url-encoded, which yields a 32-character string safe to
// paste into an environment variable or secret manager.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
)

func main() {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		log.Fatal(err)
	}

	key := base64.RawURLEncoding.EncodeToString(raw)

	fmt.Println("Generated token encryption key (32 bytes):")
	fmt.Println()
	fmt.Printf("  TOKEN_ENCRYPTION_KEY=%s\n", key)
	fmt.Println()
	fmt.Println("Rotation: TOKEN_ENCRYPTION_KEY=<new>,<old> — the first key seals new rows,")
	fmt.Println("the rest are kept for decrypting rows written before the rotation.")
}
