package adapter

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/flemzord/rolegate/internal/provider"
	"github.com/flemzord/rolegate/internal/store"
	"github.com/flemzord/rolegate/internal/value"
)

// Template context keys.
const (
	VarSessionID = "session_id"
	VarName      = "name"
	VarContent   = "content"
	VarModel     = "model"
	VarMessages  = "messages"
)

// placeholderPattern matches a user field reference ([[[key]]]) or a
// context reference ({{key}}) inside a larger string.
var placeholderPattern = regexp.MustCompile(`\[\[\[(.+?)\]\]\]|\{\{([^{}]+?)\}\}`)

// Renderer substitutes placeholders in request templates for one provider
// call. Vars is the per-call context; RoleID is the caller's role, used for
// role-scoped user fields.
type Renderer struct {
	Provider *provider.Descriptor
	Fields   store.UserFieldStore
	Vars     map[string]value.Value
	RoleID   *int64
}

// Render returns a copy of tmpl with every placeholder resolved. Unresolved
// user fields are reported as *MissingUserFieldError.
func (r *Renderer) Render(ctx context.Context, tmpl value.Value) (value.Value, error) {
	switch tmpl.Kind() {
	case value.KindString:
		s, _ := tmpl.Str()
		return r.renderString(ctx, s)
	case value.KindList:
		items, _ := tmpl.Items()
		out := make([]value.Value, len(items))
		for i, item := range items {
			v, err := r.Render(ctx, item)
			if err != nil {
				return value.Null(), err
			}
			out[i] = v
		}
		return value.List(out...), nil
	case value.KindMap:
		fields, _ := tmpl.Fields()
		out := make(map[string]value.Value, len(fields))
		for k, item := range fields {
			v, err := r.Render(ctx, item)
			if err != nil {
				return value.Null(), err
			}
			out[k] = v
		}
		return value.Map(out), nil
	default:
		return tmpl, nil
	}
}

func (r *Renderer) renderString(ctx context.Context, s string) (value.Value, error) {
	if key, ok := wholeRef(s, "[[[", "]]]"); ok {
		v, err := r.userField(ctx, key)
		if err != nil {
			return value.Null(), err
		}
		return value.String(v), nil
	}
	if key, ok := wholeRef(s, "{{", "}}"); ok {
		if v, present := r.Vars[key]; present {
			return v.Clone(), nil
		}
	}

	var (
		b    strings.Builder
		last int
	)
	for _, m := range placeholderPattern.FindAllStringSubmatchIndex(s, -1) {
		b.WriteString(s[last:m[0]])
		last = m[1]

		if m[2] >= 0 {
			v, err := r.userField(ctx, strings.TrimSpace(s[m[2]:m[3]]))
			if err != nil {
				return value.Null(), err
			}
			b.WriteString(v)
			continue
		}

		key := strings.TrimSpace(s[m[4]:m[5]])
		if v, present := r.Vars[key]; present && v.Scalar() {
			b.WriteString(v.Text())
			continue
		}
		b.WriteString(s[m[0]:m[1]])
	}
	b.WriteString(s[last:])
	return value.String(b.String()), nil
}

// wholeRef reports whether s consists of exactly one opening...closing reference
// and returns its trimmed key.
func wholeRef(s, opening, closing string) (string, bool) {
	if len(s) < len(opening)+len(closing) || !strings.HasPrefix(s, opening) || !strings.HasSuffix(s, closing) {
		return "", false
	}
	inner := s[len(opening) : len(s)-len(closing)]
	if strings.Contains(inner, opening) || strings.Contains(inner, closing) {
		return "", false
	}
	key := strings.TrimSpace(inner)
	return key, key != ""
}

// userField resolves a declared user field. Role-scoped fields are never
// read without a role id.
func (r *Renderer) userField(ctx context.Context, key string) (string, error) {
	field, ok := r.Provider.UserFields[key]
	if !ok {
		return "", fmt.Errorf("%w: %q for provider %s", ErrUnknownField, key, r.Provider.ID)
	}

	var scoped *int64
	if field.Scope == provider.ScopeRole {
		if r.RoleID == nil {
			return "", &MissingUserFieldError{ProviderID: r.Provider.ID, Field: field}
		}
		scoped = r.RoleID
	}

	if r.Fields == nil {
		return "", &MissingUserFieldError{ProviderID: r.Provider.ID, Field: field, RoleID: scoped}
	}
	v, found, err := r.Fields.GetUserField(ctx, r.Provider.ID, key, scoped)
	if err != nil {
		return "", fmt.Errorf("adapter: read user field %s: %w", key, err)
	}
	if !found {
		return "", &MissingUserFieldError{ProviderID: r.Provider.ID, Field: field, RoleID: scoped}
	}
	return v, nil
}
