// Package manifest models the upstream contract for one load: a JSON
// document declaring the load id and, per source file, the row count and
// content checksum the pipeline reconciles against.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/loadstone-io/loadstone/internal/entity"
)

// Sentinel errors for manifest handling.
var (
	// ErrMissingLoadID is returned when the manifest declares no load id.
	ErrMissingLoadID = errors.New("manifest is missing load_id")

	// ErrNoFiles is returned when the manifest declares no files.
	ErrNoFiles = errors.New("manifest declares no files")

	// ErrUnknownFile is returned when a declared file maps to no entity type.
	ErrUnknownFile = errors.New("manifest file maps to no entity type")

	// ErrChecksumMismatch is returned when file content does not match the
	// declared checksum.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrBadChecksum is returned for a malformed declared checksum.
	ErrBadChecksum = errors.New("malformed sha256 checksum")
)

type (
	// File is one declared source file.
	File struct {
		Name     string `json:"name"`
		Rows     int    `json:"rows"`
		Checksum string `json:"sha256"`
	}

	// Manifest is the upstream declaration for one load.
	Manifest struct {
		LoadID string `json:"load_id"`
		Files  []File `json:"files"`
	}
)

// Decode reads and validates a manifest document.
func Decode(r io.Reader) (*Manifest, error) {
	var m Manifest

	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// Validate checks the structural contract: a load id, at least one file, and
// per file a recognizable entity name, a non-negative row count, and a
// well-formed checksum.
func (m *Manifest) Validate() error {
	if strings.TrimSpace(m.LoadID) == "" {
		return ErrMissingLoadID
	}

	if len(m.Files) == 0 {
		return ErrNoFiles
	}

	for _, f := range m.Files {
		if _, err := EntityType(f.Name); err != nil {
			return err
		}

		if f.Rows < 0 {
			return fmt.Errorf("file %s declares negative row count %d", f.Name, f.Rows)
		}

		if err := checkChecksumFormat(f.Checksum); err != nil {
			return fmt.Errorf("file %s: %w", f.Name, err)
		}
	}

	return nil
}

// EntityType maps a declared file name to its entity type. Files are named
// after the production table, e.g. customers.csv or line_items.csv; any
// leading path is ignored.
func EntityType(filename string) (entity.Type, error) {
	base := path.Base(filename)
	table := strings.TrimSuffix(base, ".csv")

	if table == base {
		return "", fmt.Errorf("%w: %s", ErrUnknownFile, filename)
	}

	for _, d := range entity.All() {
		if d.Table == table {
			return d.Type, nil
		}
	}

	return "", fmt.Errorf("%w: %s", ErrUnknownFile, filename)
}

// ExpectedCounts returns the declared row count per entity type. Entity
// types without a declared file are simply absent.
func (m *Manifest) ExpectedCounts() map[entity.Type]int {
	counts := make(map[entity.Type]int, len(m.Files))

	for _, f := range m.Files {
		typ, err := EntityType(f.Name)
		if err != nil {
			continue // Validate rejects these up front
		}

		counts[typ] += f.Rows
	}

	return counts
}

// VerifyChecksum streams content and compares its SHA256 against the
// declared hex digest.
func VerifyChecksum(r io.Reader, declared string) error {
	if err := checkChecksumFormat(declared); err != nil {
		return err
	}

	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return fmt.Errorf("hash content: %w", err)
	}

	actual := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(actual, declared) {
		return fmt.Errorf("%w: declared %s, actual %s", ErrChecksumMismatch, declared, actual)
	}

	return nil
}

func checkChecksumFormat(checksum string) error {
	if len(checksum) != sha256.Size*2 {
		return fmt.Errorf("%w: %q", ErrBadChecksum, checksum)
	}

	if _, err := hex.DecodeString(checksum); err != nil {
		return fmt.Errorf("%w: %q", ErrBadChecksum, checksum)
	}

	return nil
}
