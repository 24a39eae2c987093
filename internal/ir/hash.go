package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainFilter = "collx/filter/v1"
	DomainSorter = "collx/sorter/v1"
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

// FilterHash identifies a filter expression together with the key of the
// aggregator it is evaluated with. Equal expressions hash equally regardless
// of map key order or Unicode normalization form.
func FilterHash(expr any, aggregatorKey string) (string, error) {
	canonical, err := MarshalCanonical(map[string]any{
		"aggregator": aggregatorKey,
		"expression": expr,
	})
	if err != nil {
		return "", fmt.Errorf("FilterHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainFilter, canonical), nil
}

// SorterHash identifies an ordered list of sort keys.
func SorterHash(keys []SortKey) (string, error) {
	canonical, err := MarshalCanonical(keys)
	if err != nil {
		return "", fmt.Errorf("SorterHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainSorter, canonical), nil
}

// MustFilterHash is like FilterHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustFilterHash(expr any, aggregatorKey string) string {
	h, err := FilterHash(expr, aggregatorKey)
	if err != nil {
		panic(err)
	}
	return h
}
