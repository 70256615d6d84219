// Package keys generates and checks the age key pair that seals cloud backups.
package keys

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"syncvault/internal/crypto"

	"filippo.io/age"
)

func Generate(_ context.Context, w io.Writer) (*age.X25519Identity, error) {
	fmt.Fprintln(w, "Generating age public and private key pair...")

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}

	fmt.Fprintln(w, "\n=== Age Key Pair Generated ===")
	fmt.Fprintf(w, "Public key:  %s\n", identity.Recipient().String())
	fmt.Fprintf(w, "Private key: %s\n", identity.String())
	fmt.Fprintln(w, "\nPut the public key in encryption.age_public_key and keep the private key out of the config.")
	return identity, nil
}

// Test seals a probe with publicKey and opens it with the identity stored at
// identityPath.
func Test(_ context.Context, w io.Writer, publicKey, identityPath string) error {
	fmt.Fprintln(w, "Testing age key pair compatibility...")

	if publicKey == "" {
		return fmt.Errorf("encryption.age_public_key is not set")
	}
	recipient, err := crypto.ParseRecipient(publicKey)
	if err != nil {
		return fmt.Errorf("failed to parse public key from config: %w", err)
	}
	fmt.Fprintf(w, "Public key from config: %s\n", publicKey)

	identity, err := crypto.LoadIdentity(identityPath)
	if err != nil {
		return fmt.Errorf("failed to load private key: %w", err)
	}
	fmt.Fprintf(w, "Private key loaded from: %s\n", identityPath)

	probe := []byte("SyncVault key pair test " + time.Now().Format(time.RFC3339))

	sealed, err := crypto.Encrypt(probe, recipient)
	if err != nil {
		return fmt.Errorf("encryption failed: %w", err)
	}
	fmt.Fprintln(w, "Encryption successful")

	opened, err := crypto.Decrypt(sealed, identity)
	if err != nil {
		return fmt.Errorf("decryption failed: %w\nThis means the private key does not match the public key in config", err)
	}
	fmt.Fprintln(w, "Decryption successful")

	if !bytes.Equal(opened, probe) {
		return fmt.Errorf("content mismatch: decrypted content does not match original")
	}
	fmt.Fprintln(w, "Content verification successful")
	return nil
}
