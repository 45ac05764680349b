// Package toon implements TOON (Token-Oriented Object Notation) encoding.
package toon

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/phobologic/procdebug/internal/model"
)

var (
	needsQuoting = regexp.MustCompile(`[,:"\\{}\[\]]`)
	looksNumeric = regexp.MustCompile(`^-?(?:0|[1-9]\d*)(?:\.\d+)?$`)
	keywords     = map[string]struct{}{
		"true":  {},
		"false": {},
		"null":  {},
	}
)

// EncodePlan converts an instrumentation plan into TOON format.
func EncodePlan(p *model.Plan) string {
	var parts []string

	parts = append(parts, fmt.Sprintf("workspace: %s", encodeValue(p.Workspace)))
	parts = append(parts, fmt.Sprintf("support: %s", encodeValue(p.Support)))

	var pkgRows [][]string
	for i := range p.Packages {
		e := &p.Packages[i]
		pkgRows = append(pkgRows, []string{e.Name, e.Version, e.Source, e.Manifest})
	}
	parts = append(parts, formatTabular("packages", []string{"name", "version", "source", "manifest"}, pkgRows))

	var providerRows [][]string
	for i := range p.Packages {
		e := &p.Packages[i]
		for _, pr := range e.Providers {
			providerRows = append(providerRows, []string{
				e.Name,
				pr.Name,
				string(pr.Kind),
				fmt.Sprintf("%d", pr.Line),
				pr.Signature,
			})
		}
	}
	parts = append(parts, formatTabular("providers", []string{"package", "name", "kind", "line", "signature"}, providerRows))

	return strings.Join(parts, "\n")
}

func formatTabular(name string, columns []string, rows [][]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s[%d]{%s}:", name, len(rows), strings.Join(columns, ","))
	for _, row := range rows {
		encoded := make([]string, len(row))
		for i, cell := range row {
			encoded[i] = encodeValue(cell)
		}
		fmt.Fprintf(&b, "\n  %s", strings.Join(encoded, ","))
	}
	return b.String()
}

func encodeValue(value string) string {
	if value == "" {
		return `""`
	}

	if value != strings.TrimSpace(value) {
		return quote(value)
	}

	if strings.ContainsAny(value, "\n\r\t") {
		return quote(value)
	}

	if _, ok := keywords[strings.ToLower(value)]; ok {
		return quote(value)
	}

	if looksNumeric.MatchString(value) {
		return value
	}

	if needsQuoting.MatchString(value) {
		return quote(value)
	}

	if strings.HasPrefix(value, "-") {
		return quote(value)
	}

	return value
}

func quote(value string) string {
	escaped := strings.ReplaceAll(value, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	escaped = strings.ReplaceAll(escaped, "\n", `\n`)
	escaped = strings.ReplaceAll(escaped, "\r", `\r`)
	escaped = strings.ReplaceAll(escaped, "\t", `\t`)
	return `"` + escaped + `"`
}
