// Package policy maps API routes to the permission a caller must hold.
//
// A policy document is YAML:
//
//	routes:
//	  - route: GET /actors
//	    permission: get:actors
//	  - route: GET /
//	    public: true
//
// Paths use the router's pattern syntax, so "/actors/{id}" matches every
// actor id.
package policy

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// RouteKey uniquely identifies an operation by HTTP method and route pattern.
type RouteKey struct {
	Method string
	Path   string
}

func (k RouteKey) String() string { return k.Method + " " + k.Path }

// Rule is the access requirement of one route. Exactly one of Public and
// Permission is set.
type Rule struct {
	Public     bool
	Permission string
}

// Policy is an immutable route table.
type Policy struct {
	rules map[RouteKey]Rule
}

var methods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true, "DELETE": true, "HEAD": true,
}

// Default returns the built-in table for the casting API.
func Default() *Policy {
	p := &Policy{rules: map[RouteKey]Rule{}}
	public := func(m, path string) { p.rules[RouteKey{m, path}] = Rule{Public: true} }
	require := func(m, path, perm string) { p.rules[RouteKey{m, path}] = Rule{Permission: perm} }

	public("GET", "/")
	public("GET", "/schemas/{name}")
	public("GET", "/.well-known/oauth-protected-resource")

	require("GET", "/actors", "get:actors")
	require("GET", "/actors/{id}", "get:actors")
	require("POST", "/actors", "post:actors")
	require("PATCH", "/actors/{id}", "patch:actors")
	require("DELETE", "/actors/{id}", "delete:actors")

	require("GET", "/movies", "get:movies")
	require("GET", "/movies/{id}", "get:movies")
	require("POST", "/movies", "post:movies")
	require("PATCH", "/movies/{id}", "patch:movies")
	require("DELETE", "/movies/{id}", "delete:movies")

	require("GET", "/movies/{id}/actors", "get:movies")
	require("PUT", "/movies/{id}/actors/{actorID}", "patch:movies")
	require("DELETE", "/movies/{id}/actors/{actorID}", "patch:movies")
	return p
}

type document struct {
	Routes []entry `yaml:"routes"`
}

type entry struct {
	Route      string `yaml:"route"`
	Permission string `yaml:"permission"`
	Public     bool   `yaml:"public"`
}

// Parse decodes a policy document. Each entry must name a method and path and
// either a permission or public: true, never both.
func Parse(data []byte) (*Policy, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal policy: %w", err)
	}

	p := &Policy{rules: make(map[RouteKey]Rule, len(doc.Routes))}
	for i, e := range doc.Routes {
		key, err := parseRoute(e.Route)
		if err != nil {
			return nil, fmt.Errorf("routes[%d]: %w", i, err)
		}
		perm := strings.TrimSpace(e.Permission)
		switch {
		case e.Public && perm != "":
			return nil, fmt.Errorf("routes[%d] %s: public routes cannot require a permission", i, key)
		case !e.Public && perm == "":
			return nil, fmt.Errorf("routes[%d] %s: permission required (or public: true)", i, key)
		}
		if _, dup := p.rules[key]; dup {
			return nil, fmt.Errorf("routes[%d]: duplicate route %s", i, key)
		}
		p.rules[key] = Rule{Public: e.Public, Permission: perm}
	}
	return p, nil
}

func parseRoute(s string) (RouteKey, error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return RouteKey{}, fmt.Errorf("route %q must be \"METHOD /path\"", s)
	}
	m := strings.ToUpper(fields[0])
	if !methods[m] {
		return RouteKey{}, fmt.Errorf("route %q: unsupported method %s", s, fields[0])
	}
	if !strings.HasPrefix(fields[1], "/") {
		return RouteKey{}, fmt.Errorf("route %q: path must start with /", s)
	}
	return RouteKey{Method: m, Path: fields[1]}, nil
}

// Load reads and parses the policy file at path.
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	return Parse(data)
}

// Override returns a copy of p in which every route present in o takes o's
// rule. Routes absent from o keep p's rule.
func (p *Policy) Override(o *Policy) *Policy {
	out := &Policy{rules: make(map[RouteKey]Rule, len(p.rules))}
	for k, r := range p.rules {
		out.rules[k] = r
	}
	if o != nil {
		for k, r := range o.rules {
			out.rules[k] = r
		}
	}
	return out
}

// Lookup returns the rule for method and route pattern.
func (p *Policy) Lookup(method, pattern string) (Rule, bool) {
	r, ok := p.rules[RouteKey{Method: strings.ToUpper(method), Path: pattern}]
	return r, ok
}

// Routes returns every route in the table, sorted by path then method.
func (p *Policy) Routes() []RouteKey {
	out := make([]RouteKey, 0, len(p.rules))
	for k := range p.rules {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Method < out[j].Method
	})
	return out
}

// Permissions returns the distinct permissions referenced by the table,
// sorted.
func (p *Policy) Permissions() []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range p.rules {
		if r.Permission != "" && !seen[r.Permission] {
			seen[r.Permission] = true
			out = append(out, r.Permission)
		}
	}
	sort.Strings(out)
	return out
}
