package services

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/taskbazaar/backend/internal/models"
)

//go:embed schemas/payout.json
var payoutSchema string

const payoutSchemaID = "https://taskbazaar.dev/schemas/payout.json"

// PayoutValidator checks withdrawal payout details against the embedded schema.
type PayoutValidator struct {
	schema *jsonschema.Schema
}

func NewPayoutValidator() (*PayoutValidator, error) {
	schema, err := jsonschema.CompileString(payoutSchemaID, payoutSchema)
	if err != nil {
		return nil, fmt.Errorf("compile payout schema: %w", err)
	}
	return &PayoutValidator{schema: schema}, nil
}

// Validate returns an error wrapping models.ErrInvalidPayout when details do not match.
func (v *PayoutValidator) Validate(details json.RawMessage) error {
	if len(details) == 0 {
		return fmt.Errorf("%w: payout details are required", models.ErrInvalidPayout)
	}
	var doc interface{}
	if err := json.Unmarshal(details, &doc); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", models.ErrInvalidPayout, err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidPayout, err)
	}
	return nil
}
