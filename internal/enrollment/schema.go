package enrollment

import (
	"encoding/json"
	"fmt"

	"github.com/abhisek/pathwise/internal/docschema"
)

var customizationEntryDef = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"properties": map[string]any{
		"plannedAt":       map[string]any{"type": "string", "format": "date-time"},
		"skipped":         map[string]any{"type": "boolean"},
		"notes":           map[string]any{"type": "string"},
		"customLessonRef": map[string]any{"type": "string", "minLength": 1},
		"addedManually":   map[string]any{"type": "boolean"},
	},
}

var customizationsDef = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"properties": map[string]any{
		"entries": map[string]any{
			"type":                 "object",
			"propertyNames":        map[string]any{"pattern": "^-?[0-9]+$"},
			"additionalProperties": customizationEntryDef,
		},
		"preferences": map[string]any{"type": "object"},
	},
}

// CustomizationsSchema validates a customization patch and the stored
// customizations text.
var CustomizationsSchema = &docschema.Schema{
	Name:       "enrollment-customizations",
	Definition: customizationsDef,
}

// recordSchema validates the stored overlay document. It has no room for
// curriculum entries or metadata.
var recordSchema = &docschema.Schema{
	Name: "enrollment-record",
	Definition: map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"studentId":          map[string]any{"type": "string", "minLength": 1},
			"courseId":           map[string]any{"type": "string", "minLength": 1},
			"sourceCurriculumId": map[string]any{"type": "string"},
			"sourceVersion":      map[string]any{"type": "string"},
			"customizations":     map[string]any{"type": "string"},
		},
		"required": []any{"studentId", "courseId", "customizations"},
	},
}

// record is the stored overlay. Customizations are kept as serialized text
// and parsed only through decodeCustomizations.
type record struct {
	StudentID          string `json:"studentId"`
	CourseID           string `json:"courseId"`
	SourceCurriculumID string `json:"sourceCurriculumId,omitempty"`
	SourceVersion      string `json:"sourceVersion,omitempty"`
	Customizations     string `json:"customizations"`
}

// ParsePatch decodes and validates a customization patch.
func ParsePatch(raw []byte) (Customizations, error) {
	return decodeCustomizations(raw)
}

func decodeCustomizations(raw []byte) (Customizations, error) {
	if err := docschema.Validate(CustomizationsSchema, raw); err != nil {
		return Customizations{}, err
	}
	var c Customizations
	if err := json.Unmarshal(raw, &c); err != nil {
		return Customizations{}, fmt.Errorf("decode customizations: %w", err)
	}
	return c, nil
}

// checkCustomizations enforces rules the schema cannot express.
func checkCustomizations(c Customizations) error {
	for order, e := range c.Entries {
		if e.IsManual() && e.CustomLessonRef == nil {
			return fmt.Errorf("entry %d is added manually but has no customLessonRef", order)
		}
	}
	return nil
}

func encodeRecord(r record) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal overlay: %w", err)
	}
	if err := docschema.Validate(recordSchema, data); err != nil {
		return nil, err
	}
	return data, nil
}

func encodeCustomizations(c Customizations) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal customizations: %w", err)
	}
	if err := docschema.Validate(CustomizationsSchema, data); err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeRecord(raw []byte) (record, Customizations, error) {
	if err := docschema.Validate(recordSchema, raw); err != nil {
		return record{}, Customizations{}, err
	}
	var r record
	if err := json.Unmarshal(raw, &r); err != nil {
		return record{}, Customizations{}, fmt.Errorf("decode overlay: %w", err)
	}
	c, err := decodeCustomizations([]byte(r.Customizations))
	if err != nil {
		return record{}, Customizations{}, err
	}
	return r, c, nil
}
