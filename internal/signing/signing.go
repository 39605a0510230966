// Package signing owns the per-project signing key lifecycle and the
// HMAC-SHA256 audit chain primitives: canonicalization, compute_hmac,
// genesis, and best-effort chain verification.
package signing

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/khoregos/khoregos/internal/jsonutil"
	"github.com/khoregos/khoregos/internal/model"
)

// KeyFileName is the signing key's filename within a project's .khoregos
// directory.
const KeyFileName = "signing.key"

// GenerateKey writes a new random 32-byte key, hex-encoded, mode 0600, to
// <dir>/signing.key. Returns false without writing anything if the file
// already exists — a signing key is never overwritten.
func GenerateKey(dir string) (bool, error) {
	path := filepath.Join(dir, KeyFileName)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("signing: stat %s: %w", path, err)
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return false, fmt.Errorf("signing: generate key: %w", err)
	}
	encoded := hex.EncodeToString(key)
	if err := os.WriteFile(path, []byte(encoded), 0o600); err != nil {
		return false, fmt.Errorf("signing: write key: %w", err)
	}
	return true, nil
}

// LoadKey reads and hex-decodes <dir>/signing.key. Returns nil, nil if the
// file is absent.
func LoadKey(dir string) ([]byte, error) {
	path := filepath.Join(dir, KeyFileName)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("signing: read key: %w", err)
	}
	key, err := hex.DecodeString(string(raw))
	if err != nil {
		return nil, fmt.Errorf("signing: decode key: %w", err)
	}
	return key, nil
}

// Genesis is the synthetic previous-link value used for the first event of
// a session's HMAC chain.
func Genesis(sessionID string) string {
	return "k6s:genesis:" + sessionID
}

// Canonical serializes an AuditEvent as the byte-stable JSON object used as
// HMAC input: the hmac field excluded, keys sorted bytewise ascending, no
// whitespace.
func Canonical(e model.AuditEvent) ([]byte, error) {
	row := e.ToRow()
	delete(row, "hmac")
	return jsonutil.Canonicalize(row)
}

// ComputeHMAC returns the lowercase hex HMAC-SHA256 of
// previousHMAC || canonical(event), keyed by key.
func ComputeHMAC(key []byte, previousHMAC string, e model.AuditEvent) (string, error) {
	canon, err := Canonical(e)
	if err != nil {
		return "", fmt.Errorf("signing: canonicalize event: %w", err)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(previousHMAC))
	mac.Write(canon)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// ErrorKind tags a single link failure found during verification.
type ErrorKind string

const (
	ErrorGap      ErrorKind = "gap"
	ErrorMissing  ErrorKind = "missing"
	ErrorMismatch ErrorKind = "mismatch"
)

// ChainError is one broken link found by VerifyChain.
type ChainError struct {
	Kind     ErrorKind
	Sequence int64
}

// VerifyResult is the structured outcome of VerifyChain.
type VerifyResult struct {
	Valid         bool
	EventsChecked int
	Errors        []ChainError
}

// VerifyChain walks events (already ordered by ascending sequence) and
// checks strict ordering plus, when signed, the HMAC chain. Verification is
// best-effort: a missing hmac or mismatch does not halt the walk — the next
// link continues from the *actual* stored hmac (not the expected one), so a
// single corruption doesn't cascade into spurious downstream mismatches
// beyond what's genuinely broken.
func VerifyChain(key []byte, sessionID string, events []model.AuditEvent) VerifyResult {
	result := VerifyResult{Valid: true, EventsChecked: len(events)}

	previousHMAC := Genesis(sessionID)
	var previousSequence int64

	for i, e := range events {
		if i > 0 && e.Sequence != previousSequence+1 {
			result.Valid = false
			result.Errors = append(result.Errors, ChainError{Kind: ErrorGap, Sequence: e.Sequence})
		}
		previousSequence = e.Sequence

		if e.HMAC == "" {
			result.Valid = false
			result.Errors = append(result.Errors, ChainError{Kind: ErrorMissing, Sequence: e.Sequence})
			// No stored hmac to carry forward; the chain has nothing
			// meaningful to continue from but we still try the genesis-or-
			// previous value so downstream links have *something* to check
			// against, per "best-effort" rather than aborting outright.
			continue
		}

		expected, err := ComputeHMAC(key, previousHMAC, e)
		if err != nil || expected != e.HMAC {
			result.Valid = false
			result.Errors = append(result.Errors, ChainError{Kind: ErrorMismatch, Sequence: e.Sequence})
		}
		previousHMAC = e.HMAC
	}

	return result
}
