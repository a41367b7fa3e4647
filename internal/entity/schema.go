package entity

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

type (
	// Kind is the scalar kind of one external column.
	Kind int

	// Field describes one external column: its name, scalar kind, and the
	// declarative constraints the generic validator interprets. Every field
	// is optional; constraints apply only to present values.
	Field struct {
		Name   string
		Kind   Kind
		MaxLen int // strings only; 0 means unbounded

		// Enum restricts the value to a fixed set (case-insensitive).
		Enum []string

		// Check is an optional format check for string fields.
		Check func(value string) error

		// NonNegative rejects negative numeric values.
		NonNegative bool
	}

	// Schema is the ordered external column list of one entity type.
	Schema []Field

	// RowCheck is a cross-field constraint evaluated on a normalized record.
	// Field names the column blamed in the resulting validation error.
	RowCheck struct {
		Field string
		Check func(rec Record) error
	}
)

// Scalar kinds supported by the external column layout.
const (
	KindString Kind = iota
	KindInt
	KindDecimal
	KindBool
	KindTimestamp
)

// Columns returns the field names in declaration order.
func (s Schema) Columns() []string {
	cols := make([]string, len(s))
	for i, f := range s {
		cols[i] = f.Name
	}

	return cols
}

// Field returns the named field descriptor.
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s {
		if f.Name == name {
			return f, true
		}
	}

	return Field{}, false
}

// Format checks shared by several schemas.
var (
	nonDigitPattern   = regexp.MustCompile(`\D`)
	zipPattern        = regexp.MustCompile(`^\d{5}(-\d{4})?$`)
	partNumberPattern = regexp.MustCompile(`^[A-Za-z0-9\-._/ ]+$`)

	errPhoneLength       = errors.New("phone number must be between 7 and 15 digits")
	errZipTooLong        = errors.New("zip code too long")
	errPartNumberEmpty   = errors.New("part number cannot be empty")
	errPartNumberCharset = errors.New("part number contains invalid characters")
)

// checkPhone accepts any formatting but requires 7 to 15 digits overall.
func checkPhone(value string) error {
	digits := nonDigitPattern.ReplaceAllString(value, "")
	if len(digits) < 7 || len(digits) > 15 {
		return errPhoneLength
	}

	return nil
}

// checkZip accepts US 12345 / 12345-6789 formats and leaves other
// international formats alone as long as they fit the column.
func checkZip(value string) error {
	if zipPattern.MatchString(value) {
		return nil
	}

	if len(value) > 20 {
		return errZipTooLong
	}

	return nil
}

func checkPartNumber(value string) error {
	if strings.TrimSpace(value) == "" {
		return errPartNumberEmpty
	}

	if !partNumberPattern.MatchString(value) {
		return errPartNumberCharset
	}

	return nil
}

var customerSchema = Schema{
	{Name: "source_app_name", Kind: KindString, MaxLen: 100},
	{Name: "external_shop_id", Kind: KindString, MaxLen: 50},
	{Name: "external_customer_id", Kind: KindString, MaxLen: 50},
	{Name: "first_name", Kind: KindString, MaxLen: 100},
	{Name: "last_name", Kind: KindString, MaxLen: 100},
	{Name: "street_address1", Kind: KindString, MaxLen: 200},
	{Name: "street_address2", Kind: KindString, MaxLen: 200},
	{Name: "country", Kind: KindString, MaxLen: 100},
	{Name: "state", Kind: KindString, MaxLen: 100},
	{Name: "city", Kind: KindString, MaxLen: 100},
	{Name: "zip_code", Kind: KindString, MaxLen: 20, Check: checkZip},
	{Name: "contact_cell", Kind: KindString, MaxLen: 20, Check: checkPhone},
	{Name: "contact_work", Kind: KindString, MaxLen: 20, Check: checkPhone},
	{Name: "contact_home", Kind: KindString, MaxLen: 20, Check: checkPhone},
	{Name: "contact_email", Kind: KindString, MaxLen: 200},
	{Name: "preferred_contact", Kind: KindString, MaxLen: 20, Enum: []string{"cell", "work", "home", "email"}},
	{Name: "authorizer_first_name", Kind: KindString, MaxLen: 100},
	{Name: "authorizer_last_name", Kind: KindString, MaxLen: 100},
	{Name: "authorizer_phone", Kind: KindString, MaxLen: 20, Check: checkPhone},
	{Name: "default_labor_rate", Kind: KindDecimal, NonNegative: true},
	{Name: "do_not_charge_tax", Kind: KindBool},
}

var vehicleSchema = Schema{
	{Name: "source_app_name", Kind: KindString, MaxLen: 100},
	{Name: "external_shop_id", Kind: KindString, MaxLen: 50},
	{Name: "external_vehicle_id", Kind: KindString, MaxLen: 50},
	{Name: "external_customer_id", Kind: KindString, MaxLen: 50},
	{Name: "year", Kind: KindInt},
	{Name: "make", Kind: KindString, MaxLen: 100},
	{Name: "model", Kind: KindString, MaxLen: 100},
	{Name: "engine", Kind: KindString, MaxLen: 100},
	{Name: "vin", Kind: KindString, MaxLen: 17},
	{Name: "license_plate", Kind: KindString, MaxLen: 20},
	{Name: "license_state", Kind: KindString, MaxLen: 100},
	{Name: "license_country", Kind: KindString, MaxLen: 100},
	{Name: "odometer_code", Kind: KindString, MaxLen: 20},
	{Name: "odometer_label", Kind: KindString, MaxLen: 50},
	{Name: "fuel_type", Kind: KindString, MaxLen: 50},
	{Name: "aces_vehicle_id", Kind: KindString, MaxLen: 50},
	{Name: "aces_engine_id", Kind: KindString, MaxLen: 50},
	{Name: "aces_veh_to_eng_cfg_id", Kind: KindString, MaxLen: 50},
	{Name: "aces_base_vehicle_id", Kind: KindString, MaxLen: 50},
	{Name: "aces_transmission", Kind: KindString, MaxLen: 100},
	{Name: "aces_body_config", Kind: KindString, MaxLen: 100},
	{Name: "aces_description", Kind: KindString, MaxLen: 255},
	{Name: "aces_trim_desc", Kind: KindString, MaxLen: 100},
	{Name: "non_aces_body_type_name", Kind: KindString, MaxLen: 100},
	{Name: "non_aces_fuel_type_name", Kind: KindString, MaxLen: 100},
	{Name: "non_aces_trim_desc", Kind: KindString, MaxLen: 100},
	{Name: "non_aces_transmission_code", Kind: KindString, MaxLen: 50},
}

var invoiceSchema = Schema{
	{Name: "source_app_name", Kind: KindString, MaxLen: 100},
	{Name: "external_shop_id", Kind: KindString, MaxLen: 50},
	{Name: "external_document_id", Kind: KindString, MaxLen: 50},
	{Name: "created_on", Kind: KindTimestamp},
	{Name: "updated_on", Kind: KindTimestamp},
	{Name: "state", Kind: KindString, MaxLen: 20, Enum: []string{"draft", "pending", "in_progress", "completed", "cancelled", "paid"}},
	{Name: "service_tag", Kind: KindString, MaxLen: 50},
	{Name: "mileage_in", Kind: KindInt, NonNegative: true},
	{Name: "mileage_out", Kind: KindInt, NonNegative: true},
	{Name: "odometer_code", Kind: KindString, MaxLen: 20},
	{Name: "odometer_label", Kind: KindString, MaxLen: 50},
	{Name: "shop_note", Kind: KindString},
	{Name: "external_customer_id", Kind: KindString, MaxLen: 50},
	{Name: "external_vehicle_id", Kind: KindString, MaxLen: 50},
	{Name: "external_service_writer_name", Kind: KindString, MaxLen: 100},
	{Name: "external_service_writer_id", Kind: KindString, MaxLen: 50},
	{Name: "external_technician_name", Kind: KindString, MaxLen: 100},
	{Name: "external_technician_id", Kind: KindString, MaxLen: 50},
	{Name: "planned_hours", Kind: KindDecimal, NonNegative: true},
	{Name: "parts_total", Kind: KindDecimal},
	{Name: "parts_total_discount", Kind: KindDecimal},
	{Name: "labor_total", Kind: KindDecimal},
	{Name: "labor_total_discount", Kind: KindDecimal},
	{Name: "flat_fee_total", Kind: KindDecimal},
	{Name: "flat_fee_total_discount", Kind: KindDecimal},
	{Name: "total_discount", Kind: KindDecimal},
	{Name: "shop_supplies_amount", Kind: KindDecimal},
	{Name: "shop_supplies_manually_edited", Kind: KindBool},
	{Name: "shop_supplies_applied_to_document", Kind: KindBool},
	{Name: "haz_mat_amount", Kind: KindDecimal},
	{Name: "haz_mat_manually_edited", Kind: KindBool},
	{Name: "haz_mat_applied_to_document", Kind: KindBool},
	{Name: "sub_total", Kind: KindDecimal},
	{Name: "parts_tax", Kind: KindDecimal},
	{Name: "labor_tax", Kind: KindDecimal},
	{Name: "flat_fee_tax", Kind: KindDecimal},
	{Name: "haz_mat_tax", Kind: KindDecimal},
	{Name: "shop_sup_tax", Kind: KindDecimal},
	{Name: "tax", Kind: KindDecimal},
	{Name: "total", Kind: KindDecimal},
	{Name: "non_taxable_total", Kind: KindDecimal},
}

var lineItemSchema = Schema{
	{Name: "source_app_name", Kind: KindString, MaxLen: 100},
	{Name: "external_shop_id", Kind: KindString, MaxLen: 50},
	{Name: "external_dataline_id", Kind: KindString, MaxLen: 50},
	{Name: "external_document_id", Kind: KindString, MaxLen: 50},
	{Name: "external_parent_dataline_id", Kind: KindString, MaxLen: 50},
	{Name: "line_number", Kind: KindInt, NonNegative: true},
	{Name: "dataline_type", Kind: KindString, MaxLen: 20, Enum: []string{"part", "labor", "flat_fee", "shop_supplies", "hazmat", "discount", "tax", "other"}},
	{Name: "dataline_name", Kind: KindString, MaxLen: 200},
	{Name: "description", Kind: KindString},
	{Name: "part_number", Kind: KindString, MaxLen: 100},
	{Name: "cost", Kind: KindDecimal},
	{Name: "labor_rate", Kind: KindDecimal, NonNegative: true},
	{Name: "price_rate", Kind: KindDecimal},
	{Name: "manual_price_rate", Kind: KindDecimal},
	{Name: "quantity_or_hours", Kind: KindDecimal},
	{Name: "marked_up_hours", Kind: KindDecimal},
	{Name: "subtotal", Kind: KindDecimal},
	{Name: "taxable", Kind: KindBool},
	{Name: "total", Kind: KindDecimal},
	{Name: "non_taxable_total", Kind: KindDecimal},
	{Name: "invalid_discount", Kind: KindBool},
	{Name: "markup_amount", Kind: KindDecimal},
	{Name: "markup_calc_method_ref_cd", Kind: KindString, MaxLen: 20, Enum: []string{"percentage", "fixed_amount", "multiplier"}},
	{Name: "markup_type_ref_cd", Kind: KindString, MaxLen: 20, Enum: []string{"cost_plus", "retail_minus", "margin"}},
}

var paymentSchema = Schema{
	{Name: "source_app_name", Kind: KindString, MaxLen: 100},
	{Name: "external_shop_id", Kind: KindString, MaxLen: 50},
	{Name: "external_payment_id", Kind: KindString, MaxLen: 50},
	{Name: "external_document_id", Kind: KindString, MaxLen: 50},
	{Name: "payment_date", Kind: KindTimestamp},
	{Name: "payment_amount", Kind: KindDecimal},
	{Name: "payment_method", Kind: KindString, MaxLen: 20, Enum: []string{"cash", "check", "credit_card", "debit_card", "ach", "wire_transfer", "paypal", "square", "stripe", "other"}},
	{Name: "payment_method_type", Kind: KindString, MaxLen: 20, Enum: []string{"card", "bank", "cash", "check", "digital", "other"}},
	{Name: "payment_reference_no", Kind: KindString, MaxLen: 100},
	{Name: "payment_notes", Kind: KindString},
	{Name: "payment_status", Kind: KindString, MaxLen: 30, Enum: []string{"pending", "processing", "completed", "failed", "cancelled", "refunded", "partially_refunded"}},
}

var inventoryPartSchema = Schema{
	{Name: "source_app_name", Kind: KindString, MaxLen: 100},
	{Name: "external_shop_id", Kind: KindString, MaxLen: 50},
	{Name: "external_part_id", Kind: KindString, MaxLen: 50},
	{Name: "part_number", Kind: KindString, MaxLen: 100, Check: checkPartNumber},
	{Name: "part_description", Kind: KindString, MaxLen: 500},
	{Name: "part_category", Kind: KindString, MaxLen: 100},
	{Name: "unit_cost", Kind: KindDecimal, NonNegative: true},
	{Name: "unit_price", Kind: KindDecimal, NonNegative: true},
	{Name: "quantity_on_hand", Kind: KindInt, NonNegative: true},
	{Name: "reorder_level", Kind: KindInt, NonNegative: true},
	{Name: "supplier_id", Kind: KindString, MaxLen: 50},
	{Name: "supplier_part_number", Kind: KindString, MaxLen: 100, Check: checkPartNumber},
	{Name: "is_active", Kind: KindBool},
}

var supplierSchema = Schema{
	{Name: "source_app_name", Kind: KindString, MaxLen: 100},
	{Name: "external_shop_id", Kind: KindString, MaxLen: 50},
	{Name: "external_supplier_id", Kind: KindString, MaxLen: 50},
	{Name: "supplier_name", Kind: KindString, MaxLen: 200},
	{Name: "contact_person", Kind: KindString, MaxLen: 100},
	{Name: "street_address1", Kind: KindString, MaxLen: 200},
	{Name: "street_address2", Kind: KindString, MaxLen: 200},
	{Name: "city", Kind: KindString, MaxLen: 100},
	{Name: "state", Kind: KindString, MaxLen: 100},
	{Name: "zip_code", Kind: KindString, MaxLen: 20, Check: checkZip},
	{Name: "country", Kind: KindString, MaxLen: 100},
	{Name: "phone_number", Kind: KindString, MaxLen: 20, Check: checkPhone},
	{Name: "email_address", Kind: KindString, MaxLen: 200},
	{Name: "website", Kind: KindString, MaxLen: 200},
	{Name: "is_active", Kind: KindBool},
	{Name: "payment_terms", Kind: KindString, MaxLen: 100},
}

// Cross-field constraints, evaluated on normalized records.
var (
	vehicleRowChecks = []RowCheck{
		{Field: "year", Check: func(rec Record) error {
			year, ok := rec["year"].(int64)
			if !ok {
				return nil
			}

			if year < 1900 || year > int64(time.Now().Year()+1) {
				return fmt.Errorf("model year %d out of range", year)
			}

			return nil
		}},
	}

	invoiceRowChecks = []RowCheck{
		{Field: "mileage_out", Check: func(rec Record) error {
			in, okIn := rec["mileage_in"].(int64)
			out, okOut := rec["mileage_out"].(int64)

			if okIn && okOut && out < in {
				return fmt.Errorf("mileage out %d is less than mileage in %d", out, in)
			}

			return nil
		}},
		{Field: "created_on", Check: checkInvoiceTimestamp("created_on")},
		{Field: "updated_on", Check: checkInvoiceTimestamp("updated_on")},
	}

	lineItemRowChecks = []RowCheck{
		{Field: "total", Check: func(rec Record) error {
			sub, okSub := rec["subtotal"].(float64)
			total, okTotal := rec["total"].(float64)

			if okSub && okTotal && total < sub {
				return errors.New("total cannot be less than subtotal")
			}

			return nil
		}},
		{Field: "quantity_or_hours", Check: func(rec Record) error {
			typ, _ := rec["dataline_type"].(string)
			qty, ok := rec["quantity_or_hours"].(float64)

			if typ == "labor" && ok && qty <= 0 {
				return errors.New("hours must be greater than 0 for labor line items")
			}

			return nil
		}},
		{Field: "part_number", Check: func(rec Record) error {
			typ, _ := rec["dataline_type"].(string)
			pn, ok := rec["part_number"].(string)

			if typ == "part" && ok && strings.TrimSpace(pn) == "" {
				return errPartNumberEmpty
			}

			return nil
		}},
	}

	inventoryPartRowChecks = []RowCheck{
		{Field: "unit_price", Check: func(rec Record) error {
			cost, okCost := rec["unit_cost"].(float64)
			price, okPrice := rec["unit_price"].(float64)

			if okCost && okPrice && price < cost {
				return errors.New("unit price is below unit cost")
			}

			return nil
		}},
		{Field: "quantity_on_hand", Check: func(rec Record) error {
			qty, ok := rec["quantity_on_hand"].(int64)
			if ok && qty > 1_000_000 {
				return errors.New("quantity on hand seems unreasonably high")
			}

			return nil
		}},
	}
)

// checkInvoiceTimestamp rejects timestamps in the future or before 1900.
func checkInvoiceTimestamp(field string) func(rec Record) error {
	return func(rec Record) error {
		ts, ok := rec[field].(time.Time)
		if !ok {
			return nil
		}

		if ts.After(time.Now().Add(24 * time.Hour)) {
			return fmt.Errorf("%s cannot be in the future", field)
		}

		if ts.Year() < 1900 {
			return fmt.Errorf("%s cannot be before 1900", field)
		}

		return nil
	}
}
