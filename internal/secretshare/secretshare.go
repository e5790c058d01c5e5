// Package secretshare implements the client-side n-of-n XOR secret sharing
// used for sensitive record fields. A caller marks a field {"%allot": v};
// Conceal turns it into one {"%share": s} per node so that no single node
// ever holds the plaintext, and Reveal reconstructs v from the full share set.
package secretshare

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/mkarech/skyvault/internal/model"
)

// Wire markers. Clients send %allot, nodes store %share.
const (
	AllotKey = "%allot"
	ShareKey = "%share"
)

// Split produces n shares of value. Every share is required to reconstruct;
// any strict subset is indistinguishable from random.
func Split(value string, n int) ([]string, error) {
	if n <= 0 {
		return nil, fmt.Errorf("share count must be positive, got %d", n)
	}
	plain := []byte(value)
	last := append([]byte(nil), plain...)
	shares := make([]string, n)
	for i := 0; i < n-1; i++ {
		share := make([]byte, len(plain))
		if _, err := rand.Read(share); err != nil {
			return nil, err
		}
		for j := range last {
			last[j] ^= share[j]
		}
		shares[i] = base64.StdEncoding.EncodeToString(share)
	}
	shares[n-1] = base64.StdEncoding.EncodeToString(last)
	return shares, nil
}

// Reconstruct recombines the full share set back into the original value.
func Reconstruct(shares []string) (string, error) {
	if len(shares) == 0 {
		return "", fmt.Errorf("no shares")
	}
	var acc []byte
	for i, s := range shares {
		raw, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return "", fmt.Errorf("share[%d]: %w", i, err)
		}
		if acc == nil {
			acc = raw
			continue
		}
		if len(raw) != len(acc) {
			return "", fmt.Errorf("share[%d]: length mismatch", i)
		}
		for j := range acc {
			acc[j] ^= raw[j]
		}
	}
	return string(acc), nil
}

// Conceal renders n node-local variants of rec: fields wrapped as
// {"%allot": v} become {"%share": s_i} in variant i, everything else is
// copied through unchanged.
func Conceal(rec model.Record, n int) ([]model.Record, error) {
	variants := make([]model.Record, n)
	for i := range variants {
		variants[i] = make(model.Record, len(rec))
	}
	for key, val := range rec {
		plain, ok := allotValue(val)
		if !ok {
			for i := range variants {
				variants[i][key] = val
			}
			continue
		}
		shares, err := Split(plain, n)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		for i := range variants {
			variants[i][key] = map[string]any{ShareKey: shares[i]}
		}
	}
	return variants, nil
}

// Reveal merges the node-local variants of one record back into plaintext.
// Variants must agree on every non-shared field; shared fields need a share
// from every variant.
func Reveal(variants []model.Record) (model.Record, error) {
	if len(variants) == 0 {
		return nil, fmt.Errorf("no record variants")
	}
	out := make(model.Record, len(variants[0]))
	for key, val := range variants[0] {
		if _, ok := shareValue(val); !ok {
			out[key] = val
			continue
		}
		shares := make([]string, len(variants))
		for i, variant := range variants {
			share, ok := shareValue(variant[key])
			if !ok {
				return nil, fmt.Errorf("field %q: variant %d holds no share", key, i)
			}
			shares[i] = share
		}
		plain, err := Reconstruct(shares)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		out[key] = plain
	}
	return out, nil
}

// IsShared reports whether a stored field value is a share wrapper.
func IsShared(val any) bool {
	_, ok := shareValue(val)
	return ok
}

func allotValue(val any) (string, bool) {
	m, ok := val.(map[string]any)
	if !ok || len(m) != 1 {
		return "", false
	}
	s, ok := m[AllotKey].(string)
	return s, ok
}

func shareValue(val any) (string, bool) {
	m, ok := val.(map[string]any)
	if !ok || len(m) != 1 {
		return "", false
	}
	s, ok := m[ShareKey].(string)
	return s, ok
}
