package control

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// addOrderSchema guards the only mutating control action. Anything the schema
// rejects never reaches the store.
const addOrderSchema = `{
  "type": "object",
  "required": ["symbol", "orderId", "side", "quantity", "price", "signalType", "stopLoss", "takeProfit", "sourceTimeframe"],
  "properties": {
    "symbol": {"type": "string", "minLength": 1},
    "orderId": {"type": "integer", "minimum": 1},
    "side": {"enum": ["BUY", "SELL"]},
    "positionSide": {"enum": ["LONG", "SHORT"]},
    "quantity": {"type": "number", "exclusiveMinimum": 0},
    "price": {"type": "number", "exclusiveMinimum": 0},
    "signalType": {"enum": ["LONG", "SHORT"]},
    "stopLoss": {"type": "number", "exclusiveMinimum": 0},
    "takeProfit": {"type": "number", "exclusiveMinimum": 0},
    "sourceTimeframe": {"type": "string", "pattern": "^[0-9]+[mhd]$"},
    "leverage": {"type": "number", "minimum": 1}
  }
}`

var compiledAddOrderSchema = mustCompileSchema("add_order.json", addOrderSchema)

func mustCompileSchema(name, raw string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(raw)); err != nil {
		panic(fmt.Sprintf("control schema %s: %v", name, err))
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("control schema %s: %v", name, err))
	}
	return schema
}

func validateAddOrder(payload map[string]any) error {
	if err := compiledAddOrderSchema.Validate(toJSONValue(payload)); err != nil {
		return fmt.Errorf("add_order payload invalid: %w", err)
	}
	return nil
}

// toJSONValue normalizes a decoded payload into the plain-interface form the
// schema validator expects.
func toJSONValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = toJSONValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = toJSONValue(item)
		}
		return out
	default:
		return val
	}
}
