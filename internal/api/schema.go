package api

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const submitSchemaJSON = `{
  "type": "object",
  "required": ["image", "mimeType"],
  "properties": {
    "image":    {"type": "string", "minLength": 1},
    "mimeType": {"type": "string", "pattern": "^[A-Za-z0-9.+-]+/[A-Za-z0-9.+-]+$"}
  }
}`

type submitRequest struct {
	Image    string `json:"image"`
	MIMEType string `json:"mimeType"`
}

func compileSubmitSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(submitSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal submit schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("submit.json", doc); err != nil {
		return nil, fmt.Errorf("add submit schema: %w", err)
	}
	return c.Compile("submit.json")
}

// validateSubmit checks body against the submit schema. The returned message
// is safe to show to the caller.
func validateSubmit(schema *jsonschema.Schema, body []byte) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return errors.New("body is not valid JSON")
	}
	if err := schema.Validate(doc); err != nil {
		return errors.New(flattenValidation(err))
	}
	return nil
}

// flattenValidation turns the library's multi-line report into one line,
// dropping the schema location header.
func flattenValidation(err error) string {
	lines := strings.Split(err.Error(), "\n")
	var out []string
	for _, l := range lines {
		l = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(l), "-"))
		if l == "" || strings.HasPrefix(l, "jsonschema") {
			continue
		}
		out = append(out, l)
	}
	if len(out) == 0 {
		return "image and mimeType are required"
	}
	return strings.Join(out, "; ")
}
