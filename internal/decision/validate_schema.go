package decision

import (
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const decisionSchemaJSON = `{
  "type": "object",
  "required": ["action", "confidence"],
  "properties": {
    "symbol": {"type": "string"},
    "action": {"type": "string", "enum": ["buy", "sell", "hold", "wait", "close"]},
    "confidence": {"type": "number", "minimum": 0, "maximum": 100},
    "reasoning": {"type": "string"},
    "risk_level": {"type": "string", "enum": ["low", "medium", "high"]}
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func decisionSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("decision.json", strings.NewReader(decisionSchemaJSON)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = compiler.Compile("decision.json")
	})
	return schema, schemaErr
}

// validateDecision 对 coerceNode 的结果做 schema 校验。
func validateDecision(doc map[string]any) error {
	s, err := decisionSchema()
	if err != nil {
		return err
	}
	return s.Validate(doc)
}
