/*
 * Copyright 2022 RapidLoop, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package gatejson

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ParseTemplate lexes a SQL fragment bearing `{{ name }}` holes into a
// [DbTemplate] (spec.md §4.A). Whitespace inside the braces is stripped.
// Hole names matching `[A-Za-z0-9_:]+` are recognized; a `:`-prefixed name
// binds from a URI path variable, anything else binds from the JSON request
// body. An unmatched `{{` (no closing `}}`) is treated as literal text.
func ParseTemplate(text string) DbTemplate {
	var frags []Fragment
	var lit strings.Builder

	flush := func() {
		if lit.Len() > 0 {
			frags = append(frags, Fragment{Literal: true, Text: lit.String()})
			lit.Reset()
		}
	}

	i := 0
	for i < len(text) {
		if strings.HasPrefix(text[i:], "{{") {
			end := strings.Index(text[i+2:], "}}")
			if end < 0 {
				// unmatched "{{": literal
				lit.WriteString(text[i:])
				break
			}
			inner := strings.TrimSpace(text[i+2 : i+2+end])
			if rxHoleName.MatchString(inner) {
				flush()
				kind := HoleBody
				name := inner
				if strings.HasPrefix(inner, ":") {
					kind = HolePath
					name = inner[1:]
				}
				frags = append(frags, Fragment{Name: name, Kind: kind})
			} else {
				// not a valid hole name: keep the whole "{{...}}" literal
				lit.WriteString(text[i : i+2+end+2])
			}
			i += 2 + end + 2
			continue
		}
		lit.WriteByte(text[i])
		i++
	}
	flush()

	return DbTemplate{Fragments: frags, Source: text}
}

var rxHoleName = regexp.MustCompile(`^[A-Za-z0-9_:]+$`)

// errEmptyTemplate is returned by Render when the template has no
// fragments at all (spec.md §4.A).
var errEmptyTemplate = fmt.Errorf("empty template")

// MissingHole reports which hole, in source order, had no binding in the
// parameter bag (spec.md §4.A, §8 property 4).
type MissingHole struct {
	Name string
}

func (m *MissingHole) Error() string {
	return fmt.Sprintf("missing binding for %q", m.Name)
}

// Render substitutes every hole in t from bag, producing safe, quoted SQL
// text. bag maps hole names (without the leading `:` for path holes) to
// Go values of type string, float64, int64, bool, nil or []any. Rendering
// succeeds iff every hole has a binding; otherwise the first unbound hole
// in source order is reported via *MissingHole (spec.md §4.A, §8 property
// 4). The only transformation applied to values is quoting (spec.md §8
// property 3): strings are single-quoted with every `'` doubled; numbers
// and booleans are emitted verbatim; nil emits the literal NULL.
func Render(t DbTemplate, bag map[string]any) (string, error) {
	if len(t.Fragments) == 0 {
		return "", errEmptyTemplate
	}
	var sb strings.Builder
	for _, f := range t.Fragments {
		if f.Literal {
			sb.WriteString(f.Text)
			continue
		}
		v, ok := bag[f.Name]
		if !ok {
			return "", &MissingHole{Name: f.Name}
		}
		sb.WriteString(quoteSQLValue(v))
	}
	return sb.String(), nil
}

// quoteSQLValue implements the single quoting rule of spec.md §4.A: this
// is the only line of defence against injection, so it quotes
// unconditionally, never trusting the caller to have pre-escaped anything.
func quoteSQLValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'"
	case bool:
		if x {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = quoteSQLValue(e)
		}
		return "(" + strings.Join(parts, ", ") + ")"
	default:
		return "'" + strings.ReplaceAll(fmt.Sprintf("%v", x), "'", "''") + "'"
	}
}

//------------------------------------------------------------------------------
// column/table inference (spec.md §4.A, §9 open question 2)

var (
	rxProbeSelect   = regexp.MustCompile(`(?is)^\s*select\s+(.*?)\s+from\s+(.+)$`)
	rxProbeInsert   = regexp.MustCompile(`(?is)^\s*insert\s+into\s+([A-Za-z_][A-Za-z0-9_.]*)`)
	rxProbeUpdate   = regexp.MustCompile(`(?is)^\s*update\s+([A-Za-z_][A-Za-z0-9_.]*)`)
	rxProbeDelete   = regexp.MustCompile(`(?is)^\s*delete\s+from\s+([A-Za-z_][A-Za-z0-9_.]*)`)
	rxFromBoundary  = regexp.MustCompile(`(?is)\b(where|group\s+by|order\s+by|limit|offset)\b`)
	rxSingleTable   = regexp.MustCompile(`(?i)^([A-Za-z_][A-Za-z0-9_.]*)(\s+(?:as\s+)?[A-Za-z_][A-Za-z0-9_]*)?$`)
	rxMultiTableKws = regexp.MustCompile(`(?i)\bjoin\b`)
)

// Probe performs a best-effort reflection over a [DbTemplate]'s literal
// fragments to recognize plain `SELECT <cols> FROM <table>`, `INSERT INTO
// <table>`, `UPDATE <table>` and `DELETE FROM <table>` statements. It
// returns the inferred table and, for SELECT, the inferred column list.
// wildcard reports a plain single-table `SELECT * FROM <table>` (spec.md
// §4.A): columns is nil and the caller should shape result rows from the
// query's own live column names instead of a fixed list. columns is also
// nil, with wildcard false and table "", when no single table/column-list
// could be recognized at all — e.g. joins, CTEs or subqueries; callers
// must then require explicit hints, per spec.md §4.B.
func Probe(t DbTemplate) (table string, columns []string, wildcard bool) {
	// literal-only rendering: holes are replaced by a neutral placeholder
	// so the statement shape stays intact without needing a real binding.
	var sb strings.Builder
	for _, f := range t.Fragments {
		if f.Literal {
			sb.WriteString(f.Text)
		} else {
			sb.WriteString("$$")
		}
	}
	sql := strings.TrimSpace(sb.String())

	if m := rxProbeSelect.FindStringSubmatch(sql); m != nil {
		colsText := strings.TrimSpace(m[1])
		tbl, ok := singleTableName(m[2])
		if !ok {
			return "", nil, false
		}
		table = tbl
		if colsText == "*" {
			return table, nil, true
		}
		columns = splitColumnsOutsideParens(colsText)
		return table, columns, false
	}
	if m := rxProbeInsert.FindStringSubmatch(sql); m != nil {
		return strings.TrimSpace(m[1]), nil, false
	}
	if m := rxProbeUpdate.FindStringSubmatch(sql); m != nil {
		return strings.TrimSpace(m[1]), nil, false
	}
	if m := rxProbeDelete.FindStringSubmatch(sql); m != nil {
		return strings.TrimSpace(m[1]), nil, false
	}
	return "", nil, false
}

// singleTableName trims a FROM clause down to the portion preceding the
// next WHERE/GROUP BY/ORDER BY/LIMIT/OFFSET keyword and reports whether
// what remains names exactly one table (optionally aliased). A join, a
// comma-separated table list, or anything else it can't parse confidently
// reports false, forcing callers to require explicit hints instead of
// guessing at a multi-table shape.
func singleTableName(from string) (string, bool) {
	if loc := rxFromBoundary.FindStringIndex(from); loc != nil {
		from = from[:loc[0]]
	}
	from = strings.TrimSpace(from)
	if from == "" || strings.Contains(from, ",") || rxMultiTableKws.MatchString(from) {
		return "", false
	}
	m := rxSingleTable.FindStringSubmatch(from)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// splitColumnsOutsideParens splits a comma-separated column list, ignoring
// commas that occur inside parentheses (e.g. function calls).
func splitColumnsOutsideParens(s string) []string {
	var out []string
	depth := 0
	start := 0
	for i, c := range s {
		switch c {
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				out = append(out, cleanColumn(s[start:i]))
				start = i + 1
			}
		}
	}
	out = append(out, cleanColumn(s[start:]))
	return out
}

func cleanColumn(s string) string {
	s = strings.TrimSpace(s)
	// "expr AS alias" or "expr alias" -> alias
	fields := strings.Fields(s)
	if n := len(fields); n >= 2 {
		last := fields[n-1]
		if strings.EqualFold(fields[n-2], "as") || n == 2 {
			return last
		}
	}
	// "table.col" -> "col"
	if idx := strings.LastIndexByte(s, '.'); idx >= 0 {
		return s[idx+1:]
	}
	return s
}
