package server

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// invoiceSchema is deliberately permissive about value types (amounts
// arrive as numbers or formatted strings); it only pins down the
// payload shape so garbage bodies fail before any coercion runs.
const invoiceSchema = `{
  "type": "object",
  "properties": {
    "merchant_name": {"type": ["string", "null"]},
    "date": {"type": ["string", "null"]},
    "total_amount": {"type": ["number", "string", "null"]},
    "raw_text": {"type": ["string", "null"]},
    "items": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "properties": {
          "name": {"type": ["string", "null"]},
          "price": {"type": ["number", "string", "null"]},
          "category_id": {"type": ["number", "string", "null"]},
          "category": {"type": ["string", "null"]}
        }
      }
    }
  }
}`

// structuredInvoiceSchema covers the pre-categorized payload. Required
// fields are enforced by the handler so it can return field-specific
// messages; the schema guards shape only.
const structuredInvoiceSchema = `{
  "type": "object",
  "properties": {
    "invoiceNumber": {"type": ["string", "null"]},
    "supplierName": {"type": ["string", "null"]},
    "date": {"type": ["string", "null"]},
    "totalAmount": {"type": ["number", "string", "null"]},
    "vatRate": {"type": ["number", "string", "null"]},
    "vatAmount": {"type": ["number", "string", "null"]},
    "rawText": {"type": ["string", "null"]},
    "productCategory": {"type": ["object", "null"]},
    "lineItems": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "properties": {
          "productName": {"type": ["string", "null"]},
          "quantity": {"type": ["number", "string", "null"]},
          "unitPrice": {"type": ["number", "string", "null"]},
          "total": {"type": ["number", "string", "null"]}
        }
      }
    }
  }
}`

var (
	compiledInvoiceSchema    = jsonschema.MustCompileString("invoice.json", invoiceSchema)
	compiledStructuredSchema = jsonschema.MustCompileString("ocr-invoice.json", structuredInvoiceSchema)
)

func validateAgainst(schema *jsonschema.Schema, body []byte) error {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("payload does not match schema: %w", err)
	}
	return nil
}

// schemaError flattens a validation failure into a single line fit for
// a JSON error response.
func schemaError(err error) string {
	return strings.ReplaceAll(err.Error(), "\n", "; ")
}
