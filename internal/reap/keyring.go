package reap

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// officialKeyID is the default signing identity. Its public key ships
// with the binary so official taps verify without any keyring setup.
const officialKeyID = "official"
const officialPublicKeyHex = "4c8e1d0b6f3a92d7e51c84ab09f2d6137ce0a8b45d921f6e83b07c5a1d94e2f0"

// KeyringEntry is one trusted public key in the keyring file.
type KeyringEntry struct {
	ID  string `json:"id"`
	Pub string `json:"pub"` // hex encoded Ed25519 public key
}

func keyPath(id, ext string) string {
	return filepath.Join(KeyDir, id+ext)
}

// GenerateKeyPair creates a new Ed25519 key pair under the key
// directory. The private key is hex encoded, mode 0600.
func GenerateKeyPair(id string) error {
	if strings.ContainsAny(id, "/\\ ") {
		return fmt.Errorf("invalid key id %q", id)
	}
	if id == officialKeyID {
		return fmt.Errorf("key id %q is reserved", id)
	}
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return fmt.Errorf("failed to generate key pair: %w", err)
	}
	if err := os.MkdirAll(KeyDir, 0755); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(keyPath(id, ".key"), []byte(hex.EncodeToString(priv)), 0600); err != nil {
		return fmt.Errorf("failed to save private key: %w", err)
	}
	if err := os.WriteFile(keyPath(id, ".pub"), []byte(hex.EncodeToString(pub)), 0644); err != nil {
		return fmt.Errorf("failed to save public key: %w", err)
	}
	return nil
}

// LoadPrivateKey loads an Ed25519 private key by ID. Accepts hex
// encoded (128 chars) or raw (64 bytes) key files.
func LoadPrivateKey(id string) (ed25519.PrivateKey, error) {
	path := keyPath(id, ".key")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("private key not found at %s", path)
	}

	trimmed := strings.TrimSpace(string(data))
	if len(trimmed) == 128 {
		decoded, err := hex.DecodeString(trimmed)
		if err == nil && len(decoded) == ed25519.PrivateKeySize {
			return ed25519.PrivateKey(decoded), nil
		}
	}
	if len(data) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(data), nil
	}
	return nil, fmt.Errorf("invalid private key format at %s (expected 64 bytes raw or 128 hex chars, got %d)", path, len(trimmed))
}

// LoadPublicKey retrieves an Ed25519 public key by ID. The official key
// is embedded; everything else comes from the key directory or the
// keyring file.
func LoadPublicKey(id string) (ed25519.PublicKey, error) {
	if id == officialKeyID || id == "" {
		pubBytes, _ := hex.DecodeString(officialPublicKeyHex)
		return ed25519.PublicKey(pubBytes), nil
	}

	path := keyPath(id, ".pub")
	data, err := os.ReadFile(path)
	if err == nil {
		trimmed := strings.TrimSpace(string(data))
		if len(trimmed) == 64 {
			decoded, derr := hex.DecodeString(trimmed)
			if derr == nil && len(decoded) == ed25519.PublicKeySize {
				return ed25519.PublicKey(decoded), nil
			}
		}
		if len(data) == ed25519.PublicKeySize {
			return ed25519.PublicKey(data), nil
		}
		return nil, fmt.Errorf("invalid public key format at %s", path)
	}

	keyring, kerr := LoadKeyring()
	if kerr == nil {
		for _, entry := range keyring {
			if entry.ID == id {
				decoded, derr := hex.DecodeString(entry.Pub)
				if derr != nil || len(decoded) != ed25519.PublicKeySize {
					return nil, fmt.Errorf("invalid public key in keyring for %s", id)
				}
				return ed25519.PublicKey(decoded), nil
			}
		}
	}
	return nil, fmt.Errorf("public key '%s' not found in keyring (%s)", id, path)
}

// SignData signs arbitrary data, returning a hex encoded signature.
func SignData(data []byte, priv ed25519.PrivateKey) []byte {
	return []byte(hex.EncodeToString(ed25519.Sign(priv, data)))
}

// VerifySignature verifies a hex encoded signature against a key ID.
func VerifySignature(data, sigHex []byte, keyID string) error {
	pub, err := LoadPublicKey(keyID)
	if err != nil {
		return err
	}
	sig, err := hex.DecodeString(strings.TrimSpace(string(sigHex)))
	if err != nil {
		return fmt.Errorf("invalid signature format: %w", err)
	}
	if !ed25519.Verify(pub, data, sig) {
		return errors.New("signature verification failed")
	}
	return nil
}

// SignFile writes a detached .sig next to path using the active key.
func SignFile(path, keyID string) error {
	priv, err := LoadPrivateKey(keyID)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	sig := SignData(data, priv)
	if err := os.WriteFile(path+".sig", sig, 0644); err != nil {
		return fmt.Errorf("failed to write signature: %w", err)
	}
	return nil
}

// VerifyFile checks a detached .sig against the given key ID.
func VerifyFile(path, keyID string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	sig, err := os.ReadFile(path + ".sig")
	if err != nil {
		return fmt.Errorf("signature missing for %s: %w", path, err)
	}
	return VerifySignature(data, sig, keyID)
}

func keyringFile() string {
	return filepath.Join(KeyDir, "keyring.json")
}

// LoadKeyring reads the trusted key list from the key directory.
func LoadKeyring() ([]KeyringEntry, error) {
	data, err := os.ReadFile(keyringFile())
	if err != nil {
		if os.IsNotExist(err) {
			return []KeyringEntry{{ID: officialKeyID, Pub: officialPublicKeyHex}}, nil
		}
		return nil, fmt.Errorf("failed to read keyring: %w", err)
	}
	var keyring []KeyringEntry
	if err := json.Unmarshal(data, &keyring); err != nil {
		return nil, fmt.Errorf("failed to parse keyring: %w", err)
	}
	return keyring, nil
}

// RebuildKeyring scans the key directory for .pub files and rewrites
// keyring.json. The official key is always first-class.
func RebuildKeyring() ([]KeyringEntry, error) {
	merged := []KeyringEntry{{ID: officialKeyID, Pub: officialPublicKeyHex}}
	seen := map[string]bool{officialKeyID: true}

	files, err := filepath.Glob(filepath.Join(KeyDir, "*.pub"))
	if err != nil {
		return nil, fmt.Errorf("failed to scan for local keys: %w", err)
	}
	for _, file := range files {
		id := strings.TrimSuffix(filepath.Base(file), ".pub")
		if seen[id] {
			continue
		}
		data, err := os.ReadFile(file)
		if err != nil {
			colWarn.Printf("Warning: failed to read public key %s: %v\n", file, err)
			continue
		}
		pubHex := strings.TrimSpace(string(data))
		if len(pubHex) != 64 {
			colWarn.Printf("Warning: skipping invalid public key %s (expected 64 hex chars)\n", file)
			continue
		}
		if _, err := hex.DecodeString(pubHex); err != nil {
			colWarn.Printf("Warning: skipping invalid public key %s (invalid hex)\n", file)
			continue
		}
		merged = append(merged, KeyringEntry{ID: id, Pub: pubHex})
		seen[id] = true
	}

	sort.Slice(merged, func(i, j int) bool { return merged[i].ID < merged[j].ID })

	data, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(KeyDir, 0755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(keyringFile(), data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write keyring: %w", err)
	}
	return merged, nil
}

// ImportPublicKey installs a publisher key into the key directory and
// refreshes the keyring.
func ImportPublicKey(id, pubHex string) error {
	pubHex = strings.TrimSpace(pubHex)
	if len(pubHex) != 64 {
		return fmt.Errorf("invalid public key for %s (expected 64 hex chars, got %d)", id, len(pubHex))
	}
	if _, err := hex.DecodeString(pubHex); err != nil {
		return fmt.Errorf("invalid public key for %s: %w", id, err)
	}
	if err := os.MkdirAll(KeyDir, 0755); err != nil {
		return err
	}
	if err := os.WriteFile(keyPath(id, ".pub"), []byte(pubHex), 0644); err != nil {
		return fmt.Errorf("failed to install key %s: %w", id, err)
	}
	_, err := RebuildKeyring()
	return err
}
