package pipeline

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/loadstone-io/loadstone/internal/entity"
	"github.com/loadstone-io/loadstone/internal/manifest"
)

// ErrSourceFileMissing is returned when a manifest-declared file is absent
// from the source directory.
var ErrSourceFileMissing = errors.New("declared source file missing")

// sourceFile is one declared CSV read off disk: its raw rows plus any header
// problems found before row validation.
type sourceFile struct {
	entityType entity.Type
	rows       []entity.Record
	headerErrs []entity.ValidationError
}

// readSourceFile verifies a declared file's checksum and reads its rows. Raw
// cell values stay strings; typing happens during row validation.
func readSourceFile(dir string, f manifest.File, validator *entity.Validator) (*sourceFile, error) {
	typ, err := manifest.EntityType(f.Name)
	if err != nil {
		return nil, err
	}

	d, err := entity.Lookup(typ)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(dir, filepath.Base(f.Name))

	if err := verifyFileChecksum(path, f.Checksum); err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source file: %w", err)
	}

	defer func() {
		_ = file.Close()
	}()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1 // ragged rows surface as validation errors, not read errors

	headers, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			// An empty file stages zero rows, which is valid.
			return &sourceFile{entityType: typ}, nil
		}

		return nil, fmt.Errorf("read csv header: %w", err)
	}

	src := &sourceFile{
		entityType: typ,
		headerErrs: validator.ValidateHeaders(d, headers),
	}

	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}

		row := make(entity.Record, len(headers))

		for i, h := range headers {
			if i < len(record) {
				row[h] = record[i]
			}
		}

		src.rows = append(src.rows, row)
	}

	return src, nil
}

func verifyFileChecksum(path string, declared string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrSourceFileMissing, path)
		}

		return fmt.Errorf("open source file: %w", err)
	}

	defer func() {
		_ = f.Close()
	}()

	if err := manifest.VerifyChecksum(f, declared); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	return nil
}
