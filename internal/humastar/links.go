package humastar

import (
	"fmt"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
)

// EntryPoint is the path that links to every collection.
const EntryPoint = "/health"

// Links holds Link headers derived from the OpenAPI document, keyed by
// operation path.
type Links struct {
	mu    sync.RWMutex
	paths map[string][]string
	skip  []string
}

// NewLinks returns an empty link set. Operations tagged with one of skipTags
// get no derived links. Its Transformer can be installed before [Links.Build].
func NewLinks(skipTags ...string) *Links {
	return &Links{paths: map[string][]string{}, skip: skipTags}
}

// AutoLinks builds the link set for an API whose routes are all registered.
func AutoLinks(api huma.API, skipTags ...string) *Links {
	l := NewLinks(skipTags...)
	l.Build(api)
	return l
}

// Build walks the registered operations and derives hypermedia links
// between them. Call after every route is registered.
func (l *Links) Build(api huma.API) {
	oapi := api.OpenAPI()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paths = map[string][]string{}

	type pathInfo struct {
		path string
		tags []string
	}
	var collections, items []pathInfo

	for p, pi := range oapi.Paths {
		tags := primaryTags(pi)
		if slices.ContainsFunc(tags, func(t string) bool { return slices.Contains(l.skip, t) }) {
			continue
		}
		if strings.Contains(p, "{") {
			items = append(items, pathInfo{p, tags})
		} else {
			collections = append(collections, pathInfo{p, tags})
		}
	}
	// Map iteration order is random; keep header order stable.
	byPath := func(a, b pathInfo) int { return strings.Compare(a.path, b.path) }
	slices.SortFunc(collections, byPath)
	slices.SortFunc(items, byPath)

	// Items link up to their parent when it exists.
	for _, item := range items {
		parent := path.Dir(item.path)
		if _, ok := oapi.Paths[parent]; ok {
			l.add(item.path, parent, "collection")
			l.add(item.path, parent, "up")
		}
	}

	for _, coll := range collections {
		for _, item := range items {
			if path.Dir(item.path) == coll.path {
				l.add(coll.path, item.path, "item")
			}
		}
		if coll.path != EntryPoint {
			l.add(coll.path, EntryPoint, "up")
			l.add(EntryPoint, coll.path, lastSegment(coll.path))
		}
		if oapi.Paths[coll.path].Post != nil {
			l.add(coll.path, coll.path, "create-form")
		}
	}
	for _, item := range items {
		pi := oapi.Paths[item.path]
		if pi.Put != nil || pi.Patch != nil {
			l.add(item.path, item.path, "edit")
		}
	}

	l.add(EntryPoint, "/openapi.json", "describedby")
	l.add(EntryPoint, "/openapi.json", "service-desc")
	l.add(EntryPoint, "/docs", "service-doc")

	for _, all := range [][]pathInfo{collections, items} {
		for _, pi := range all {
			if ref := responseSchemaRef(oapi.Paths[pi.path]); ref != "" {
				l.add(pi.path, "/openapi.json#/components/schemas/"+ref, "describedby")
			}
		}
	}

	// Document the same relations in the OpenAPI responses.
	for p, headers := range l.paths {
		pi, ok := oapi.Paths[p]
		if !ok {
			continue
		}
		for _, op := range operationsOf(pi) {
			if op != nil {
				injectResponseLinks(op, headers)
			}
		}
	}
}

// For returns the derived Link header values for an operation path.
func (l *Links) For(p string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.paths[p])
}

// Transformer returns a huma.Transformer adding the derived links, a self
// link on item paths, [Pager] links and [Actor] links.
func (l *Links) Transformer() huma.Transformer {
	return func(ctx huma.Context, status string, v any) (any, error) {
		op := ctx.Operation()
		if op == nil {
			return v, nil
		}
		for _, link := range l.For(op.Path) {
			ctx.AppendHeader("Link", link)
		}

		u := ctx.URL()
		if strings.Contains(op.Path, "{") {
			ctx.AppendHeader("Link", fmt.Sprintf(`<%s>; rel="self"`, u.Path))
		}
		if p, ok := v.(Pager); ok {
			for _, link := range p.PaginationLinks(&u) {
				ctx.AppendHeader("Link", link)
			}
		}
		if a, ok := v.(Actor); ok {
			for _, action := range a.Actions() {
				ctx.AppendHeader("Link", action.LinkHeader())
			}
		}
		return v, nil
	}
}

func (l *Links) add(from, to, rel string) {
	val := fmt.Sprintf(`<%s>; rel="%s"`, to, rel)
	if slices.Contains(l.paths[from], val) {
		return
	}
	l.paths[from] = append(l.paths[from], val)
}

func primaryTags(pi *huma.PathItem) []string {
	for _, op := range operationsOf(pi) {
		if op != nil && len(op.Tags) > 0 {
			return op.Tags
		}
	}
	return nil
}

func operationsOf(pi *huma.PathItem) []*huma.Operation {
	return []*huma.Operation{pi.Get, pi.Post, pi.Put, pi.Patch, pi.Delete}
}

func lastSegment(p string) string {
	return path.Base(strings.TrimRight(p, "/"))
}

func injectResponseLinks(op *huma.Operation, headers []string) {
	var resp *huma.Response
	for code, r := range op.Responses {
		if strings.HasPrefix(code, "2") {
			resp = r
			break
		}
	}
	if resp == nil {
		return
	}
	if resp.Links == nil {
		resp.Links = map[string]*huma.Link{}
	}
	for _, h := range headers {
		rel, href := parseLinkHeader(h)
		if rel == "" {
			continue
		}
		resp.Links[rel] = &huma.Link{OperationRef: href, Description: "Related: " + rel}
	}
}

func responseSchemaRef(pi *huma.PathItem) string {
	if pi.Get == nil {
		return ""
	}
	for code, resp := range pi.Get.Responses {
		if !strings.HasPrefix(code, "2") {
			continue
		}
		for _, mt := range resp.Content {
			if mt.Schema != nil && mt.Schema.Ref != "" {
				return path.Base(mt.Schema.Ref)
			}
		}
	}
	return ""
}

// parseLinkHeader splits `<url>; rel="name"`.
func parseLinkHeader(h string) (rel, href string) {
	target, params, ok := strings.Cut(h, ";")
	if !ok {
		return "", ""
	}
	href = strings.Trim(strings.TrimSpace(target), "<>")
	params = strings.TrimSpace(params)
	if after, ok := strings.CutPrefix(params, `rel="`); ok {
		rel = strings.TrimSuffix(after, `"`)
	}
	return rel, href
}
