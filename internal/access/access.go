// Package access evaluates the static API key allow and deny lists.
package access

import (
	"fmt"
	"strings"
)

// List is an immutable allow/deny configuration.
// With a non-empty allow set only listed keys pass; otherwise every key not
// in the deny set passes.
type List struct {
	allow map[string]struct{}
	deny  map[string]struct{}
}

// New builds a List. Blank entries are ignored; a key present in both sets
// is a configuration error.
func New(allow, deny []string) (*List, error) {
	l := &List{
		allow: toSet(allow),
		deny:  toSet(deny),
	}
	for k := range l.allow {
		if _, ok := l.deny[k]; ok {
			return nil, fmt.Errorf("access: key %q is both allowed and denied", k)
		}
	}
	return l, nil
}

// Permit reports whether key may use authenticated routes.
func (l *List) Permit(key string) bool {
	if l == nil {
		return true
	}
	if len(l.allow) > 0 {
		_, ok := l.allow[key]
		return ok
	}
	_, denied := l.deny[key]
	return !denied
}

// Sizes returns the number of allowed and denied keys.
func (l *List) Sizes() (allow, deny int) {
	if l == nil {
		return 0, 0
	}
	return len(l.allow), len(l.deny)
}

func toSet(entries []string) map[string]struct{} {
	set := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e != "" {
			set[e] = struct{}{}
		}
	}
	return set
}
