package migrations

import "testing"

func TestValidate(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	if err := Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestList_SortedAndPaired(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	names, err := List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	// Seven production tables, one up/down pair each.
	if len(names) != 14 {
		t.Errorf("List() returned %d files, want 14", len(names))
	}

	for i := 1; i < len(names); i++ {
		if names[i] < names[i-1] {
			t.Errorf("List() not sorted: %s before %s", names[i-1], names[i])
		}
	}
}

func TestParse(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	info, err := Parse("003_create_invoices.up.sql")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if info.Sequence != 3 || info.Name != "create_invoices" || info.Direction != "up" {
		t.Errorf("Parse() = %+v, want sequence 3, create_invoices, up", info)
	}

	if _, err := Parse("invoices.sql"); err == nil {
		t.Error("Parse() accepted a non-conforming filename")
	}
}

func TestChecksums(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	sums, err := Checksums()
	if err != nil {
		t.Fatalf("Checksums() error = %v", err)
	}

	if len(sums) != 14 {
		t.Errorf("Checksums() returned %d entries, want 14", len(sums))
	}

	for name, sum := range sums {
		if len(sum) != 64 {
			t.Errorf("checksum for %s has length %d, want 64", name, len(sum))
		}
	}
}
