package table

import (
	"encoding/json"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/recordgen/internal/model"
)

// ColumnTypeInferrer decides the column type for a field that does not exist
// in the target table yet. Pluggable so the keyword heuristics can be swapped
// without touching the insertion pipeline.
type ColumnTypeInferrer interface {
	Infer(fieldName string, samples []any) model.ColumnType
}

// KeywordInferrer is the standard inferrer: field-name keywords take
// precedence, then the first non-nil sample value decides between number,
// boolean, and text.
type KeywordInferrer struct{}

var _ ColumnTypeInferrer = KeywordInferrer{}

func (KeywordInferrer) Infer(fieldName string, samples []any) model.ColumnType {
	name := strings.ToLower(fieldName)
	switch {
	case strings.Contains(name, "email"):
		return model.ColumnTypeEmail
	case strings.Contains(name, "phone") || strings.Contains(name, "tel"):
		return model.ColumnTypePhone
	case strings.Contains(name, "url") || strings.Contains(name, "website"):
		return model.ColumnTypeURL
	case strings.Contains(name, "date") || strings.Contains(name, "founded"):
		return model.ColumnTypeDate
	}

	for _, s := range samples {
		if s == nil {
			continue
		}
		switch s.(type) {
		case float64, float32, int, int32, int64, json.Number:
			return model.ColumnTypeNumber
		case bool:
			return model.ColumnTypeBoolean
		}
		break
	}
	return model.ColumnTypeText
}

// stripMarks removes combining marks after NFD decomposition, so accented
// characters fold to their base letters.
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// SanitizeColumnName normalizes an arbitrary field name into a safe
// snake_case column identifier.
func SanitizeColumnName(name string) string {
	folded, _, err := transform.String(stripMarks, name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(folded) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "field"
	}
	// Column names must not start with a digit.
	if out[0] >= '0' && out[0] <= '9' {
		out = "c_" + out
	}
	return out
}
