package main

import (
	"fmt"
	"os"

	"github.com/comptoirhq/identity/internal/auth"
	"github.com/comptoirhq/identity/internal/crypto"
)

// Prints freshly generated secrets in .env format: the HMAC signing key for
// JWTs and the encryption key for MFA secrets at rest.
func main() {
	jwtSecret, err := auth.GenerateSecureToken(48)
	if err != nil {
		fmt.Fprintf(os.Stderr, "generating jwt secret: %v\n", err)
		os.Exit(1)
	}

	mfaKey, err := crypto.GenerateKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "generating mfa key: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("--- COPY BELOW TO .env.local ---")
	fmt.Printf("JWT_SECRET=%s\n", jwtSecret)
	fmt.Printf("MFA_SECRET_KEY=%s\n", mfaKey)
	fmt.Println("--------------------------------")
}
