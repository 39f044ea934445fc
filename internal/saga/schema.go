package saga

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/deidlabs/linkd/internal/identity"
)

// badgeSchemaText is the contract every published badge document must meet.
// The image must already be content-addressed; tasks never point badges at
// mutable URLs.
const badgeSchemaText = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["name", "description", "image"],
	"properties": {
		"name": {"type": "string", "minLength": 1, "maxLength": 128},
		"description": {"type": "string", "maxLength": 2048},
		"image": {"type": "string", "pattern": "^ipfs://.+"},
		"attributes": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["trait_type", "value"],
				"properties": {
					"trait_type": {"type": "string", "minLength": 1},
					"value": {"type": "string"}
				},
				"additionalProperties": false
			}
		}
	},
	"additionalProperties": false
}`

var (
	badgeSchemaOnce sync.Once
	badgeSchema     *jsonschema.Schema
	badgeSchemaErr  error
)

func compiledBadgeSchema() (*jsonschema.Schema, error) {
	badgeSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(badgeSchemaText))
		if err != nil {
			badgeSchemaErr = fmt.Errorf("parse badge schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("badge.json", doc); err != nil {
			badgeSchemaErr = fmt.Errorf("add badge schema: %w", err)
			return
		}
		badgeSchema, badgeSchemaErr = compiler.Compile("badge.json")
	})
	return badgeSchema, badgeSchemaErr
}

// validateBadge checks a badge document against the schema before anything
// is published or persisted.
func validateBadge(badge identity.BadgeMetadata) error {
	schema, err := compiledBadgeSchema()
	if err != nil {
		return newError(KindInternal, "badge schema unavailable", err)
	}
	raw, err := json.Marshal(badge)
	if err != nil {
		return newError(KindInternal, "marshal badge metadata", err)
	}
	value, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return newError(KindInternal, "reparse badge metadata", err)
	}
	if err := schema.Validate(value); err != nil {
		return newError(KindValidation, fmt.Sprintf("badge metadata rejected: %v", err), err)
	}
	return nil
}
