package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for fingerprints.
// Version suffix enables future algorithm migration.
const (
	DomainReadRequest = "actorsync/read-request/v1"
	DomainSettings    = "actorsync/settings/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint hashes the canonical form of a JSON document under a domain.
// Two requests that differ only in key order or whitespace share a
// fingerprint.
func Fingerprint(domain string, doc []byte) (string, error) {
	canonical, err := MarshalCanonical(doc)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	return hashWithDomain(domain, canonical), nil
}

// SettingsFingerprint identifies the immutable settings a session was
// opened with.
func SettingsFingerprint(actorType, actorID, namespace string) string {
	return hashWithDomain(DomainSettings, []byte(actorType+"\x00"+actorID+"\x00"+namespace))
}
