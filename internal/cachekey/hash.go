package cachekey

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Domain prefixes keep hashes of different key kinds apart.
const (
	DomainSelector = "graphcache/selector/v1"
	DomainFragment = "graphcache/fragment-resource/v1"
	DomainLive     = "graphcache/live-resolver/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Hash returns the hex digest of the canonical encoding of v under domain.
func Hash(domain string, v any) (string, error) {
	canonical, err := Marshal(v)
	if err != nil {
		return "", fmt.Errorf("cachekey: %s: %w", domain, err)
	}
	return hashWithDomain(domain, canonical), nil
}

// StorageKey returns the record field key for a field read with args, e.g.
// `friends(first:10,orderBy:"name")`. Null arguments are dropped so that an
// omitted argument and an explicit null share a key.
func StorageKey(name string, args map[string]any) string {
	if len(args) == 0 {
		return name
	}
	names := make([]string, 0, len(args))
	for k, v := range args {
		if v == nil {
			continue
		}
		names = append(names, k)
	}
	if len(names) == 0 {
		return name
	}
	sort.Strings(names)
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('(')
	for i, k := range names {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte(':')
		b.Write(MustMarshal(args[k]))
	}
	b.WriteByte(')')
	return b.String()
}
