package chat

import (
	"cmp"
	"regexp"
	"slices"
	"strings"

	"github.com/flemzord/rolegate/internal/provider"
	"github.com/flemzord/rolegate/internal/store"
)

// Content section markers.
const (
	sectionGeneral         = "#GENERAL_INSTRUCTIONS"
	sectionContextInstruct = "#CONTEXT_INSTRUCTIONS"
	sectionContext         = "#CONTEXT"
	sectionUserRequest     = "#USER_REQUEST"
)

// allRoles is the mention name addressing every role in the group.
const allRoles = "all"

// BuildContent composes the text sent to the provider. Without a suffix,
// reply prefix or quoted reply the user text is returned as is.
func BuildContent(userText, promptSuffix, replyPrefix, replyText string) string {
	if promptSuffix == "" && replyPrefix == "" && replyText == "" {
		return userText
	}

	var parts []string
	if promptSuffix != "" {
		parts = append(parts, sectionGeneral, promptSuffix)
	}
	if replyPrefix != "" || replyText != "" {
		parts = append(parts, sectionContextInstruct)
		if replyPrefix != "" {
			parts = append(parts, replyPrefix)
		}
		if replyText != "" {
			parts = append(parts, sectionContext, replyText)
		}
	}
	parts = append(parts, sectionUserRequest)
	if userText != "" {
		parts = append(parts, userText)
	}
	return strings.TrimSpace(strings.Join(parts, "\n\n"))
}

// Catalog is the model listing ResolveModel selects from.
type Catalog interface {
	Models() []provider.Model
	FindModel(ref string) (provider.Model, bool)
	Has(id string) bool
}

// ResolveModel returns selected when it names a known model or provider.
// Anything else falls back to the first registered model.
func ResolveModel(c Catalog, selected string) (string, error) {
	if selected != "" {
		if _, ok := c.FindModel(selected); ok {
			return selected, nil
		}
		if c.Has(selected) {
			return selected, nil
		}
	}
	models := c.Models()
	if len(models) == 0 {
		return "", ErrNoModels
	}
	return models[0].FullID(), nil
}

// NormalizeToken strips the decorations users paste around a session
// token: a "cookie:" prefix, a "sessionid=" prefix and trailing cookie
// attributes.
func NormalizeToken(token string) string {
	v := strings.TrimSpace(token)
	if hasPrefixFold(v, "cookie:") {
		v = strings.TrimSpace(v[len("cookie:"):])
	}
	if hasPrefixFold(v, "sessionid=") {
		v = strings.TrimSpace(v[len("sessionid="):])
	}
	if before, _, found := strings.Cut(v, ";"); found {
		v = strings.TrimSpace(before)
	}
	return v
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// Route is the outcome of addressing a message to roles.
type Route struct {
	Roles   []store.Role
	Content string
	All     bool
}

// RouteMessage finds the roles text addresses. With requireMention the bot
// must be mentioned. "@all" selects every role; otherwise the longest
// mentioned role name wins. It reports false when nothing is addressed.
func RouteMessage(text, botUsername string, roles []store.Role, requireMention bool) (Route, bool) {
	if requireMention && !mentions(text, botUsername) {
		return Route{}, false
	}
	cleaned := strings.TrimSpace(stripMention(text, botUsername, -1))

	if mentions(cleaned, allRoles) {
		return Route{
			Roles:   slices.Clone(roles),
			Content: strings.TrimSpace(stripMention(cleaned, allRoles, -1)),
			All:     true,
		}, true
	}

	var matched []store.Role
	for _, r := range roles {
		if mentions(cleaned, r.Name) {
			matched = append(matched, r)
		}
	}
	if len(matched) == 0 {
		return Route{}, false
	}
	slices.SortStableFunc(matched, func(a, b store.Role) int {
		return cmp.Compare(len(b.Name), len(a.Name))
	})
	role := matched[0]
	return Route{
		Roles:   []store.Role{role},
		Content: strings.TrimSpace(stripMention(cleaned, role.Name, 1)),
	}, true
}

// addressed reports whether a message should open a buffering window.
func addressed(text, botUsername string, roles []store.Role, requireMention bool) bool {
	if requireMention {
		return mentions(text, botUsername)
	}
	if mentions(text, allRoles) {
		return true
	}
	for _, r := range roles {
		if mentions(text, r.Name) {
			return true
		}
	}
	return false
}

func mentions(text, name string) bool {
	if name == "" {
		return false
	}
	return strings.Contains(strings.ToLower(text), "@"+strings.ToLower(name))
}

// stripMention removes up to n case-insensitive "@name" occurrences; n < 0
// removes all.
func stripMention(text, name string, n int) string {
	if name == "" {
		return text
	}
	re := regexp.MustCompile("(?i)@" + regexp.QuoteMeta(name))
	if n < 0 {
		return re.ReplaceAllString(text, "")
	}
	for range n {
		loc := re.FindStringIndex(text)
		if loc == nil {
			break
		}
		text = text[:loc[0]] + text[loc[1]:]
	}
	return text
}
