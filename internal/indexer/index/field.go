package index

import (
	"encoding/json"
	"fmt"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/errors"
)

type FieldType int

const (
	FieldText FieldType = iota
	FieldNumeric
	FieldTag
	FieldGeo
)

func (t FieldType) String() string {
	switch t {
	case FieldText:
		return "TEXT"
	case FieldNumeric:
		return "NUMERIC"
	case FieldTag:
		return "TAG"
	case FieldGeo:
		return "GEO"
	default:
		return "UNKNOWN"
	}
}

// ParseFieldType accepts the type names case-insensitively.
func ParseFieldType(s string) (FieldType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TEXT":
		return FieldText, nil
	case "NUMERIC":
		return FieldNumeric, nil
	case "TAG":
		return FieldTag, nil
	case "GEO":
		return FieldGeo, nil
	}
	return 0, apperrors.Newf(apperrors.ErrInvalidInput, 400, "unknown field type %q", s)
}

func (t FieldType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *FieldType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("field type: %w", err)
	}
	ft, err := ParseFieldType(s)
	if err != nil {
		return err
	}
	*t = ft
	return nil
}

// Field is one schema entry of an index.
type Field struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Sortable bool      `json:"sortable,omitempty"`
}

// Spatial reports whether the field keeps a geo secondary structure.
func (f Field) Spatial() bool {
	return f.Type == FieldGeo
}
