// Package migrations embeds the production schema as versioned SQL pairs and
// validates them before they are handed to golang-migrate. Embedding keeps
// deployment zero-config: the migrator binary carries its own schema.
package migrations

import (
	"crypto/sha256"
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
)

//go:embed *.sql
var files embed.FS

// Migration filename regex: 001_migration_name.up.sql or 001_migration_name.down.sql
var filenameRegex = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

// Info contains parsed information about one migration file.
type Info struct {
	Sequence  int
	Name      string
	Direction string // "up" or "down"
	Filename  string
}

// FS returns the embedded migration filesystem, suitable for the
// golang-migrate iofs source driver.
func FS() fs.FS {
	return files
}

// List returns every embedded migration file that conforms to the strict
// naming standard, lexicographically sorted. Sorting works because sequence
// numbers are zero-padded.
func List() ([]string, error) {
	entries, err := files.ReadDir(".")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded migrations: %w", err)
	}

	var names []string

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		if filenameRegex.MatchString(entry.Name()) {
			names = append(names, entry.Name())
		}
	}

	sort.Strings(names)

	return names, nil
}

// Validate checks the embedded set end to end: filename format, up/down
// pairing, and a gapless sequence starting at 001.
func Validate() error {
	names, err := List()
	if err != nil {
		return err
	}

	if len(names) == 0 {
		return fmt.Errorf("no migration files embedded")
	}

	infos := make([]Info, 0, len(names))

	for _, name := range names {
		info, err := Parse(name)
		if err != nil {
			return err
		}

		infos = append(infos, info)
	}

	if err := validatePairing(infos); err != nil {
		return err
	}

	return validateSequence(infos)
}

// Parse extracts the components of a migration filename.
func Parse(filename string) (Info, error) {
	matches := filenameRegex.FindStringSubmatch(filename)
	if len(matches) != 4 {
		return Info{}, fmt.Errorf(
			"invalid migration filename format: %s (expected: 001_name.up.sql or 001_name.down.sql)", filename)
	}

	sequence, err := strconv.Atoi(matches[1])
	if err != nil {
		return Info{}, fmt.Errorf("invalid sequence number in filename %s: %w", filename, err)
	}

	return Info{
		Sequence:  sequence,
		Name:      matches[2],
		Direction: matches[3],
		Filename:  filename,
	}, nil
}

// Checksums returns the SHA256 of each embedded migration file, keyed by
// filename, for operational integrity reporting.
func Checksums() (map[string]string, error) {
	names, err := List()
	if err != nil {
		return nil, err
	}

	sums := make(map[string]string, len(names))

	for _, name := range names {
		content, err := files.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration file %s: %w", name, err)
		}

		sums[name] = fmt.Sprintf("%x", sha256.Sum256(content))
	}

	return sums, nil
}

// validatePairing ensures every up migration has a matching down migration.
func validatePairing(infos []Info) error {
	pairs := make(map[string]map[string]bool)

	for _, info := range infos {
		key := fmt.Sprintf("%03d_%s", info.Sequence, info.Name)
		if pairs[key] == nil {
			pairs[key] = make(map[string]bool)
		}

		pairs[key][info.Direction] = true
	}

	for key, directions := range pairs {
		if !directions["up"] {
			return fmt.Errorf("orphaned down migration: missing up migration for %s", key)
		}

		if !directions["down"] {
			return fmt.Errorf("orphaned up migration: missing down migration for %s", key)
		}
	}

	return nil
}

// validateSequence ensures the sequence starts at 001 and has no gaps.
func validateSequence(infos []Info) error {
	seen := make(map[int]bool)

	for _, info := range infos {
		seen[info.Sequence] = true
	}

	sequences := make([]int, 0, len(seen))
	for seq := range seen {
		sequences = append(sequences, seq)
	}

	sort.Ints(sequences)

	if len(sequences) == 0 {
		return nil
	}

	if sequences[0] != 1 {
		return fmt.Errorf("migration sequence should start with 001, but found %03d", sequences[0])
	}

	for i := 1; i < len(sequences); i++ {
		if sequences[i] != sequences[i-1]+1 {
			return fmt.Errorf("gap in migration sequence: expected %03d, found %03d",
				sequences[i-1]+1, sequences[i])
		}
	}

	return nil
}
