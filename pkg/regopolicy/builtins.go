// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package regopolicy

import (
	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/storage"
	"github.com/open-policy-agent/opa/storage/inmem"
)

// allowedBuiltins are pure functions of their arguments.
var allowedBuiltins = map[string]struct{}{
	"and":                   {},
	"assign":                {},
	"concat":                {},
	"contains":              {},
	"count":                 {},
	"endswith":              {},
	"eq":                    {},
	"equal":                 {},
	"gt":                    {},
	"gte":                   {},
	"internal.member_2":     {},
	"internal.member_3":     {},
	"lower":                 {},
	"lt":                    {},
	"lte":                   {},
	"neq":                   {},
	"object.get":            {},
	"or":                    {},
	"replace":               {},
	"split":                 {},
	"sprintf":               {},
	"startswith":            {},
	"time.parse_rfc3339_ns": {},
	"trim":                  {},
	"trim_space":            {},
	"upper":                 {},
}

func filterBuiltins(builtins []*ast.Builtin) []*ast.Builtin {
	allowed := make([]*ast.Builtin, 0, len(allowedBuiltins))
	for _, b := range builtins {
		if _, ok := allowedBuiltins[b.Name]; ok {
			allowed = append(allowed, b)
		}
	}
	return allowed
}

func newStore(data map[string]any) storage.Store {
	return inmem.NewFromObject(data)
}
