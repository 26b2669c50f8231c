package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	invopop "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"google.golang.org/genai"

	"github.com/haasonsaas/docsight/pkg/models"
)

// Schema pairs the response schema sent to Gemini with a local
// validator for what comes back.
type Schema struct {
	name      string
	response  *genai.Schema
	validator *jsonschema.Schema
}

// Response schemas for the pipeline phases, reflected once at init from
// the model structs so the wire schema cannot drift from the parsed
// type. The trailing arguments override the top-level required list:
// everything else is optional-with-default, matching how decoded values
// are normalized.
var (
	IntentSchema         = mustSchema("analysis_intent", &models.AnalysisIntent{})
	FlashCollectorSchema = mustSchema("flash_collector_response", &models.FlashCollectorResponse{})
	AnswerSchema         = mustSchema("answer_response", &models.AnswerResponse{}, "answer_markdown")
	FactsSchema          = mustSchema("document_facts", &models.DocumentFacts{})
)

func mustSchema(name string, v any, required ...string) *Schema {
	s, err := newSchema(name, v, required...)
	if err != nil {
		panic(err)
	}
	return s
}

func newSchema(name string, v any, required ...string) (*Schema, error) {
	r := &invopop.Reflector{
		Anonymous:                 true,
		DoNotReference:            true,
		AllowAdditionalProperties: true,
	}
	raw, err := json.Marshal(r.Reflect(v))
	if err != nil {
		return nil, fmt.Errorf("llm: marshal %s schema: %w", name, err)
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("llm: decode %s schema: %w", name, err)
	}
	if len(required) > 0 {
		list := make([]any, len(required))
		for i, field := range required {
			list[i] = field
		}
		m["required"] = list
	} else {
		delete(m, "required")
	}

	normalized, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("llm: marshal %s schema: %w", name, err)
	}
	validator, err := jsonschema.CompileString(name+".json", string(normalized))
	if err != nil {
		return nil, fmt.Errorf("llm: compile %s schema: %w", name, err)
	}

	return &Schema{name: name, response: toGenaiSchema(m), validator: validator}, nil
}

// Name identifies the schema in logs and dialog transcripts.
func (s *Schema) Name() string { return s.name }

// Decode extracts the JSON object from raw model output, validates it,
// and unmarshals into v. All failures wrap ErrSchemaViolation.
func (s *Schema) Decode(text string, v any) error {
	payload, err := ExtractJSON(text)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSchemaViolation, s.name, err)
	}
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSchemaViolation, s.name, err)
	}
	if err := s.validator.Validate(doc); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSchemaViolation, s.name, err)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSchemaViolation, s.name, err)
	}
	return nil
}

// ExtractJSON returns the JSON document embedded in model output.
// Strict parse first, then a slice from the first '{' to the last '}'
// to strip code fences and surrounding prose.
func ExtractJSON(text string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, errors.New("empty response")
	}
	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed), nil
	}
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end > start {
		candidate := trimmed[start : end+1]
		if json.Valid([]byte(candidate)) {
			return json.RawMessage(candidate), nil
		}
	}
	return nil, errors.New("no JSON object found")
}

// toGenaiSchema converts a reflected JSON schema into the subset the
// Gemini API understands. Unknown keywords are dropped.
func toGenaiSchema(m map[string]any) *genai.Schema {
	s := &genai.Schema{}
	if t, ok := m["type"].(string); ok {
		s.Type = genai.Type(strings.ToUpper(t))
	}
	if d, ok := m["description"].(string); ok {
		s.Description = d
	}
	if props, ok := m["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for key, val := range props {
			if pm, ok := val.(map[string]any); ok {
				s.Properties[key] = toGenaiSchema(pm)
			}
		}
	}
	if req, ok := m["required"].([]any); ok {
		for _, entry := range req {
			if field, ok := entry.(string); ok {
				s.Required = append(s.Required, field)
			}
		}
	}
	if items, ok := m["items"].(map[string]any); ok {
		s.Items = toGenaiSchema(items)
	}
	if values, ok := m["enum"].([]any); ok {
		for _, entry := range values {
			if field, ok := entry.(string); ok {
				s.Enum = append(s.Enum, field)
			}
		}
	}
	return s
}
