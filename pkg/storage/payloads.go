package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/snappy"
)

// PayloadSpool persists the raw payload a vendor module fetched for a
// request, compressed with snappy. The spool is an audit aid: it lets an
// operator replay or inspect what a vendor actually returned, without
// keeping large JSON blobs in the record store.
type PayloadSpool struct {
	dir string
}

// NewPayloadSpool creates a spool rooted at dir, creating it if needed.
func NewPayloadSpool(dir string) (*PayloadSpool, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create payload spool dir: %w", err)
	}
	return &PayloadSpool{dir: dir}, nil
}

func (p *PayloadSpool) path(vendor, requestID string) string {
	// Vendor identifiers are short lowercase keys, but sanitize anyway.
	vendor = strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_' {
			return r
		}
		return '_'
	}, vendor)
	return filepath.Join(p.dir, fmt.Sprintf("%s-%s.json.sz", vendor, requestID))
}

// Save writes a compressed payload for (vendor, request). A later save for
// the same pair overwrites the previous payload.
func (p *PayloadSpool) Save(vendor, requestID string, payload []byte) error {
	compressed := snappy.Encode(nil, payload)
	if err := os.WriteFile(p.path(vendor, requestID), compressed, 0o640); err != nil {
		return fmt.Errorf("failed to write payload: %w", err)
	}
	return nil
}

// Load reads back the decompressed payload for (vendor, request).
func (p *PayloadSpool) Load(vendor, requestID string) ([]byte, error) {
	compressed, err := os.ReadFile(p.path(vendor, requestID))
	if err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}
	payload, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress payload: %w", err)
	}
	return payload, nil
}
