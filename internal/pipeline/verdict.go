package pipeline

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/majlabs/docflow/internal/model"
)

// errUnparseable marks model output that could not be decoded as a verdict.
var errUnparseable = eris.New("pipeline: unparseable model output")

// parseVerdict decodes a model's JSON answer into a verdict. Models wrap
// answers in markdown fences or prepend prose often enough that we cut the
// first balanced JSON object out of the raw text before decoding.
func parseVerdict(modelName, raw string) (*model.Verdict, error) {
	payload := extractJSON(raw)
	if payload == "" {
		return nil, eris.Wrapf(errUnparseable, "model %s", modelName)
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return nil, eris.Wrapf(errUnparseable, "model %s: %v", modelName, err)
	}

	rawKind, _ := decoded["doc_typ"].(string)
	kind := model.ParseKind(strings.TrimSpace(rawKind))
	if kind == model.KindUnknown {
		return nil, eris.Wrapf(errUnparseable, "model %s: missing or unknown doc_typ %q", modelName, rawKind)
	}

	confidence := 0.8
	if c, ok := decoded["confidence"].(float64); ok && c > 0 && c <= 1 {
		confidence = c
	}

	fs := model.NewFieldSet()
	for _, name := range model.FieldNames {
		v, ok := decoded[name]
		if !ok || v == nil {
			continue
		}
		if s, isStr := v.(string); isStr {
			s = strings.TrimSpace(s)
			if s == "" || s == "null" {
				continue
			}
			fs[name] = s
			continue
		}
		fs[name] = v
	}
	fs["doc_typ"] = string(kind)
	if fs["kategorie"] == nil {
		fs["kategorie"] = kind.Category()
	}

	return &model.Verdict{
		Model:      modelName,
		Kind:       kind,
		Fields:     fs,
		Confidence: confidence,
	}, nil
}

// isUnparseable reports whether err came from verdict decoding rather than
// transport.
func isUnparseable(err error) bool {
	return eris.Is(err, errUnparseable)
}

// extractJSON returns the first balanced top-level JSON object in s, or ""
// when none exists. String literals are respected so braces inside values
// do not unbalance the scan.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
