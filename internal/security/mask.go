package security

import (
	"regexp"

	"github.com/flemzord/rolegate/internal/value"
)

// credentialKeyPattern matches header and body keys that carry credentials.
var credentialKeyPattern = regexp.MustCompile(`(?i)(token|cookie|authorization|session)`)

// maskEllipsis separates the kept prefix and suffix of a masked value.
const maskEllipsis = "…"

// MaskString shortens a credential for logging: values longer than eight
// characters keep their first and last four, shorter ones become "***".
func MaskString(s string) string {
	if r := []rune(s); len(r) > 8 {
		return string(r[:4]) + maskEllipsis + string(r[len(r)-4:])
	}
	return "***"
}

// MaskValue returns a copy of v where every map entry whose key looks like a
// credential is masked. Masking applies at any depth; non-string
// credentials are replaced by "***" entirely.
func MaskValue(v value.Value) value.Value {
	switch v.Kind() {
	case value.KindMap:
		fields, _ := v.Fields()
		out := make(map[string]value.Value, len(fields))
		for k, child := range fields {
			if credentialKeyPattern.MatchString(k) {
				out[k] = maskLeaf(child)
				continue
			}
			out[k] = MaskValue(child)
		}
		return value.Map(out)
	case value.KindList:
		items, _ := v.Items()
		out := make([]value.Value, len(items))
		for i, item := range items {
			out[i] = MaskValue(item)
		}
		return value.List(out...)
	default:
		return v
	}
}

func maskLeaf(v value.Value) value.Value {
	if s, ok := v.Str(); ok {
		return value.String(MaskString(s))
	}
	return value.String("***")
}

// MaskMap is MaskValue for plain decoded maps.
func MaskMap(m map[string]any) map[string]any {
	masked, _ := MaskValue(value.FromAny(m)).Any().(map[string]any)
	return masked
}
