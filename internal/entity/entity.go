// Package entity defines the seven record variants handled by the load
// pipeline, their column schemas, natural keys, and the dependency graph
// that fixes processing order.
//
// The package is the domain layer: it owns validation and ordering rules but
// no storage. Concrete staging and production persistence live in
// internal/staging and internal/loader.
package entity

import (
	"errors"
	"fmt"
)

// Sentinel errors for entity resolution and graph validation.
var (
	// ErrUnknownType is returned when an entity type is not in the registry.
	ErrUnknownType = errors.New("unknown entity type")

	// ErrCyclicDependency is returned when the declared dependency graph
	// contains a cycle and no processing order exists.
	ErrCyclicDependency = errors.New("cyclic entity dependency")
)

type (
	// Type identifies one of the seven record variants of a load.
	Type string

	// Record is one raw or normalized row: a field-name to scalar-value map.
	// Scalar values are string, int64, float64 (decimals), bool, time.Time,
	// or nil for absent fields. Source data is incomplete by nature, so every
	// field is optional at this level.
	Record map[string]any

	// Descriptor carries everything the pipeline needs to know about one
	// entity type: its production table, column schema, the natural-key pair
	// used for insert-vs-update decisions, the critical fields used for
	// exception severity, and its declared dependencies.
	Descriptor struct {
		Type  Type
		Table string

		// Schema lists every external column in file order. Staging tables
		// mirror it one-to-one.
		Schema Schema

		// NaturalKey is the ordered field pair that identifies the entity
		// within one external shop's namespace. Never the storage-assigned
		// surrogate key.
		NaturalKey [2]string

		// CriticalFields escalate validation errors into the critical digest.
		CriticalFields []string

		// DependsOn lists entity types that must be committed first. The
		// staging store does not enforce these relationships; processing
		// order does.
		DependsOn []Type

		// Independent marks entity types outside the dependent chain: a
		// transaction-level failure on one of them does not abort the rest
		// of the load.
		Independent bool

		// RowChecks are cross-field constraints evaluated after per-field
		// validation, on the normalized record.
		RowChecks []RowCheck
	}
)

// The seven entity types, in canonical (dependency-safe) declaration order.
const (
	TypeCustomers      Type = "customers"
	TypeVehicles       Type = "vehicles"
	TypeInvoices       Type = "invoices"
	TypeLineItems      Type = "line_items"
	TypePayments       Type = "payments"
	TypeInventoryParts Type = "inventory_parts"
	TypeSuppliers      Type = "suppliers"
)

// registry holds the descriptors in canonical declaration order. Schemas are
// defined in schema.go.
var registry = []*Descriptor{
	{
		Type:           TypeCustomers,
		Table:          "customers",
		Schema:         customerSchema,
		NaturalKey:     [2]string{"external_customer_id", "external_shop_id"},
		CriticalFields: []string{"external_customer_id", "external_shop_id", "first_name", "last_name"},
	},
	{
		Type:           TypeVehicles,
		Table:          "vehicles",
		Schema:         vehicleSchema,
		NaturalKey:     [2]string{"external_vehicle_id", "external_shop_id"},
		CriticalFields: []string{"external_vehicle_id", "external_shop_id", "external_customer_id", "year", "make", "model"},
		DependsOn:      []Type{TypeCustomers},
		RowChecks:      vehicleRowChecks,
	},
	{
		Type:           TypeInvoices,
		Table:          "invoices",
		Schema:         invoiceSchema,
		NaturalKey:     [2]string{"external_document_id", "external_shop_id"},
		CriticalFields: []string{"external_document_id", "external_shop_id", "external_customer_id", "external_vehicle_id"},
		DependsOn:      []Type{TypeCustomers, TypeVehicles},
		RowChecks:      invoiceRowChecks,
	},
	{
		Type:           TypeLineItems,
		Table:          "line_items",
		Schema:         lineItemSchema,
		NaturalKey:     [2]string{"external_dataline_id", "external_shop_id"},
		CriticalFields: []string{"external_dataline_id", "external_shop_id", "external_document_id"},
		DependsOn:      []Type{TypeInvoices},
		RowChecks:      lineItemRowChecks,
	},
	{
		Type:           TypePayments,
		Table:          "payments",
		Schema:         paymentSchema,
		NaturalKey:     [2]string{"external_payment_id", "external_shop_id"},
		CriticalFields: []string{"external_payment_id", "external_shop_id", "external_document_id"},
		DependsOn:      []Type{TypeInvoices},
	},
	{
		Type:           TypeInventoryParts,
		Table:          "inventory_parts",
		Schema:         inventoryPartSchema,
		NaturalKey:     [2]string{"external_part_id", "external_shop_id"},
		CriticalFields: []string{"external_part_id", "external_shop_id", "part_number"},
		Independent:    true,
		RowChecks:      inventoryPartRowChecks,
	},
	{
		Type:           TypeSuppliers,
		Table:          "suppliers",
		Schema:         supplierSchema,
		NaturalKey:     [2]string{"external_supplier_id", "external_shop_id"},
		CriticalFields: []string{"external_supplier_id", "external_shop_id", "supplier_name"},
		Independent:    true,
	},
}

// Lookup returns the descriptor for the given type.
func Lookup(t Type) (*Descriptor, error) {
	for _, d := range registry {
		if d.Type == t {
			return d, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownType, t)
}

// All returns every descriptor in canonical declaration order.
func All() []*Descriptor {
	out := make([]*Descriptor, len(registry))
	copy(out, registry)

	return out
}

// Types returns every entity type in canonical declaration order.
func Types() []Type {
	out := make([]Type, len(registry))
	for i, d := range registry {
		out[i] = d.Type
	}

	return out
}

// Order returns the dependency-ordered processing list derived from the
// declared graph: a stable topological sort that keeps the canonical
// declaration order among entities whose dependencies are satisfied.
//
// Returns ErrCyclicDependency if the declared graph admits no such order,
// and ErrUnknownType if an entity declares a dependency outside the
// registry. The graph is small and fixed; validating it here documents the
// coupling for future entity additions.
func Order() ([]Type, error) {
	done := make(map[Type]bool, len(registry))
	order := make([]Type, 0, len(registry))

	for len(order) < len(registry) {
		progressed := false

		for _, d := range registry {
			if done[d.Type] {
				continue
			}

			ready := true

			for _, dep := range d.DependsOn {
				if _, err := Lookup(dep); err != nil {
					return nil, err
				}

				if !done[dep] {
					ready = false

					break
				}
			}

			if ready {
				done[d.Type] = true
				order = append(order, d.Type)
				progressed = true
			}
		}

		if !progressed {
			return nil, ErrCyclicDependency
		}
	}

	return order, nil
}
