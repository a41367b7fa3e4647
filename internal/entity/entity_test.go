package entity

import (
	"testing"
)

func TestOrder_DependenciesFirst(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	order, err := Order()
	if err != nil {
		t.Fatalf("Order() unexpected error: %v", err)
	}

	if len(order) != len(Types()) {
		t.Fatalf("Order() returned %d types, want %d", len(order), len(Types()))
	}

	position := make(map[Type]int, len(order))
	for i, typ := range order {
		position[typ] = i
	}

	for _, d := range All() {
		for _, dep := range d.DependsOn {
			if position[dep] >= position[d.Type] {
				t.Errorf("Order() places %s before its dependency %s", d.Type, dep)
			}
		}
	}
}

func TestOrder_CanonicalSequence(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	order, err := Order()
	if err != nil {
		t.Fatalf("Order() unexpected error: %v", err)
	}

	want := []Type{
		TypeCustomers, TypeVehicles, TypeInvoices,
		TypeLineItems, TypePayments, TypeInventoryParts, TypeSuppliers,
	}

	for i, typ := range want {
		if order[i] != typ {
			t.Errorf("Order()[%d] = %s, want %s", i, order[i], typ)
		}
	}
}

func TestLookup(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Run("known type", func(t *testing.T) {
		d, err := Lookup(TypeInvoices)
		if err != nil {
			t.Fatalf("Lookup() unexpected error: %v", err)
		}

		if d.Table != "invoices" {
			t.Errorf("Lookup() table = %s, want invoices", d.Table)
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := Lookup(Type("work_orders"))
		if err == nil {
			t.Fatal("Lookup() expected error for unknown type")
		}
	})
}

func TestDescriptors_NaturalKeysInSchema(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	for _, d := range All() {
		for _, key := range d.NaturalKey {
			if _, ok := d.Schema.Field(key); !ok {
				t.Errorf("%s: natural key field %s not in schema", d.Type, key)
			}
		}

		for _, crit := range d.CriticalFields {
			if _, ok := d.Schema.Field(crit); !ok {
				t.Errorf("%s: critical field %s not in schema", d.Type, crit)
			}
		}
	}
}

func TestDescriptors_IndependentEntities(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	for _, d := range All() {
		independent := d.Type == TypeInventoryParts || d.Type == TypeSuppliers
		if d.Independent != independent {
			t.Errorf("%s: Independent = %v, want %v", d.Type, d.Independent, independent)
		}

		if d.Independent && len(d.DependsOn) > 0 {
			t.Errorf("%s: independent entity declares dependencies", d.Type)
		}
	}
}
