package humastar

import (
	"fmt"
	"strings"
)

// Action is a state-dependent hypermedia action link. Response bodies
// implement [Actor] to emit conditional RFC 8288 Link headers:
//
//	</api/v1/sessions/abc/edits/save>; rel="save-edits"; method="POST"; title="Save"
type Action struct {
	Rel    string
	Href   string
	Method string
	Title  string
}

// Actor is implemented by response bodies that provide state-dependent actions.
type Actor interface {
	Actions() []Action
}

// LinkHeader formats the action as a Link header value.
func (a Action) LinkHeader() string {
	var b strings.Builder
	fmt.Fprintf(&b, `<%s>; rel="%s"`, a.Href, a.Rel)
	if a.Method != "" {
		fmt.Fprintf(&b, `; method="%s"`, a.Method)
	}
	if a.Title != "" {
		fmt.Fprintf(&b, `; title="%s"`, a.Title)
	}
	return b.String()
}

// ActionDef is a reusable action template. Pattern is a fmt format whose
// verbs are filled, in order, by the ids passed to [ActionsFor].
type ActionDef struct {
	Rel     string
	Pattern string // e.g. "/api/v1/sessions/%s/features/%s/%s"
	Method  string
	Title   string
}

// Href fills the pattern.
func (d ActionDef) Href(ids ...string) string {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return fmt.Sprintf(d.Pattern, args...)
}

// ActionsFor generates concrete actions from defs for the given ids.
func ActionsFor(defs []ActionDef, ids ...string) []Action {
	actions := make([]Action, len(defs))
	for i, d := range defs {
		actions[i] = Action{Rel: d.Rel, Href: d.Href(ids...), Method: d.Method, Title: d.Title}
	}
	return actions
}
