package providers

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ocrOutputSchema is the structured output contract for both passes. It is
// sent to the endpoint as the response format and enforced locally on every
// response.
const ocrOutputSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["text", "confidence", "uncertainties", "normalization_notes"],
  "properties": {
    "text": {"type": "string"},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "uncertainties": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["snippet", "reason"],
        "properties": {
          "snippet": {"type": "string"},
          "reason": {"type": "string"}
        }
      }
    },
    "normalization_notes": {
      "type": "array",
      "items": {"type": "string"}
    }
  }
}`

var ocrSchema = jsonschema.MustCompileString("ocr_page.json", ocrOutputSchema)

// parseOCRResult strips optional code fences, validates the payload against
// the schema, and decodes it.
func parseOCRResult(raw string) (*OCRResult, error) {
	normalized := strings.TrimSpace(raw)
	if strings.HasPrefix(normalized, "```") {
		normalized = strings.TrimPrefix(normalized, "```json")
		normalized = strings.TrimPrefix(normalized, "```")
		normalized = strings.TrimSuffix(strings.TrimSpace(normalized), "```")
		normalized = strings.TrimSpace(normalized)
	}

	var payload any
	if err := json.Unmarshal([]byte(normalized), &payload); err != nil {
		return nil, fmt.Errorf("response is not valid JSON: %w", err)
	}
	if err := ocrSchema.Validate(payload); err != nil {
		return nil, fmt.Errorf("response does not match OCR schema: %w", err)
	}

	var result OCRResult
	if err := json.Unmarshal([]byte(normalized), &result); err != nil {
		return nil, fmt.Errorf("failed to decode OCR result: %w", err)
	}
	result.Clamp()
	return &result, nil
}
