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

// Package gatejson's route parser turns the routes DSL (spec.md §4.B, §6)
// into an ordered []Route. The DSL is line-oriented; a malformed line
// aborts loading with line context, there is no error recovery.
package gatejson

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ParseError names the 1-based source line on which parsing failed.
type ParseError struct {
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Message)
}

// Parse reads the routes DSL text and returns the ordered routing table.
// An empty or all-comment file yields a nil/empty slice, not an error.
func Parse(text string) ([]Route, error) {
	logical, err := preprocess(text)
	if err != nil {
		return nil, err
	}

	var routes []Route
	for _, ll := range logical {
		if strings.TrimSpace(ll.text) == "" {
			continue
		}
		r, err := parseLine(ll.text)
		if err != nil {
			return nil, &ParseError{Line: ll.line, Message: err.Error()}
		}
		r.Line = ll.line
		routes = append(routes, r)
	}
	return routes, nil
}

//------------------------------------------------------------------------------
// preprocessing: comment stripping + continuation-line merging (spec.md
// §4.B, §6, §9 open question 1)

type logicalLine struct {
	text string // comment-stripped, continuation-merged
	line int    // 1-based line number of the first physical line
}

// preprocess splits text into physical lines (honoring LF, CRLF or CR
// separators), strips "#" comment tails with a quote-aware scanner (so a
// "#" inside a JSON string literal is not mistaken for a comment), then
// merges continuation lines so that a brace-delimited JSON body spanning
// several physical lines becomes one logical line.
func preprocess(text string) ([]logicalLine, error) {
	physical := splitPhysicalLines(text)

	var out []logicalLine
	var buf strings.Builder
	depth := 0
	startLine := 0

	for i, raw := range physical {
		stripped := stripComment(raw)
		if buf.Len() == 0 {
			if strings.TrimSpace(stripped) == "" {
				out = append(out, logicalLine{text: "", line: i + 1})
				continue
			}
			startLine = i + 1
		} else {
			buf.WriteByte('\n')
		}
		buf.WriteString(stripped)

		delta, err := braceDelta(stripped)
		if err != nil {
			return nil, &ParseError{Line: i + 1, Message: err.Error()}
		}
		depth += delta
		if depth < 0 {
			return nil, &ParseError{Line: i + 1, Message: "unbalanced '}'"}
		}
		if depth == 0 {
			out = append(out, logicalLine{text: buf.String(), line: startLine})
			buf.Reset()
		}
	}
	if buf.Len() > 0 {
		return nil, &ParseError{Line: startLine, Message: "unterminated '{' block at end of file"}
	}
	return out, nil
}

func splitPhysicalLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.Split(text, "\n")
}

// stripComment removes a "#..." tail from a single physical line, tracking
// JSON double-quoted string state so that "#" inside a quoted string is
// kept literal (SPEC_FULL.md open question 1).
func stripComment(line string) string {
	inString := false
	escaped := false
	for i := 0; i < len(line); i++ {
		c := line[i]
		if inString {
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '#':
			return line[:i]
		}
	}
	return line
}

// braceDelta returns the net change in brace nesting depth caused by line,
// ignoring braces that occur inside a JSON double-quoted string.
func braceDelta(line string) (int, error) {
	inString := false
	escaped := false
	delta := 0
	for i := 0; i < len(line); i++ {
		c := line[i]
		if inString {
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			delta++
		case '}':
			delta--
		}
	}
	if inString {
		return 0, fmt.Errorf("unterminated string literal")
	}
	return delta, nil
}

//------------------------------------------------------------------------------
// grammar (spec.md §4.B)

var rxMethod = regexp.MustCompile(`^(GET|POST|PUT|PATCH|DELETE|OPTIONS)$`)

var sqlSymbolResult = map[string]DbResultKind{
	"--": ResultNone,
	"~>": ResultItem,
	"->": ResultItemOk,
	">>": ResultCollection,
	"<>": ResultLastInsert,
	"><": ResultCount,
}

func parseLine(line string) (Route, error) {
	method, rest, ok := cutToken(line)
	if !ok {
		return Route{}, fmt.Errorf("expected a method")
	}
	method = strings.ToUpper(method)
	if !rxMethod.MatchString(method) {
		return Route{}, fmt.Errorf("invalid method %q", method)
	}

	uriText, rest, ok := cutToken(rest)
	if !ok {
		return Route{}, fmt.Errorf("expected a URI")
	}
	pattern, err := parsePattern(uriText)
	if err != nil {
		return Route{}, err
	}

	rest = strings.TrimSpace(rest)
	if rest == "" {
		return Route{}, fmt.Errorf("expected an action")
	}
	action, err := parseAction(rest)
	if err != nil {
		return Route{}, err
	}

	return Route{Method: Method(method), Pattern: pattern, Action: action}, nil
}

// cutToken splits off the first whitespace-delimited token, along with the
// (trimmed-at-the-left) remainder. Returns ok=false if s has no token.
func cutToken(s string) (token, rest string, ok bool) {
	s = strings.TrimLeft(s, " \t")
	if s == "" {
		return "", "", false
	}
	i := strings.IndexAny(s, " \t")
	if i < 0 {
		return s, "", true
	}
	return s[:i], s[i+1:], true
}

var rxSegment = regexp.MustCompile(`^[A-Za-z0-9_\-!~]+$`)

// parsePattern turns a route URI into a [Pattern] (spec.md §3): a leading
// "/" is optional and ignored, and each segment is either a literal atom
// or, when prefixed with ":", a named variable.
func parsePattern(uri string) (Pattern, error) {
	trimmed := strings.TrimPrefix(uri, "/")
	var segs []Segment
	if trimmed != "" {
		for _, part := range strings.Split(trimmed, "/") {
			if part == "" {
				continue
			}
			if strings.HasPrefix(part, ":") {
				name := part[1:]
				if !rxSegment.MatchString(name) {
					return Pattern{}, fmt.Errorf("invalid path variable name %q", part)
				}
				segs = append(segs, Segment{Literal: name, Variable: true})
			} else {
				if !rxSegment.MatchString(part) {
					return Pattern{}, fmt.Errorf("invalid URI segment %q", part)
				}
				segs = append(segs, Segment{Literal: part})
			}
		}
	}
	return Pattern{Segments: segs, Raw: uri}, nil
}

func parseAction(text string) (Action, error) {
	switch {
	case strings.HasPrefix(text, "||"):
		name := strings.TrimSpace(text[2:])
		if name == "" {
			return Action{}, fmt.Errorf("pipeline action: expected a pipeline name")
		}
		return Action{Kind: ActionPipeline, PipelineName: name}, nil

	case strings.HasPrefix(text, "|>"):
		body := strings.TrimSpace(text[2:])
		p, err := parseInlinePipelineJSON(body)
		if err != nil {
			return Action{}, fmt.Errorf("inline pipeline: %v", err)
		}
		return Action{Kind: ActionInlinePipeline, InlinePipeline: p}, nil

	case strings.HasPrefix(text, "{..}"):
		body := strings.TrimSpace(text[4:])
		var resp map[string]any
		if err := json.Unmarshal([]byte(body), &resp); err != nil {
			return Action{}, fmt.Errorf("static action: invalid json: %v", err)
		}
		return Action{Kind: ActionStatic, StaticResponse: resp}, nil

	case strings.HasPrefix(text, "<js>"):
		path := strings.TrimSpace(text[4:])
		if path == "" {
			return Action{}, fmt.Errorf("nodejs action: expected a script path")
		}
		return Action{Kind: ActionNodeJS, ScriptPath: path}, nil
	}

	if len(text) < 2 {
		return Action{}, fmt.Errorf("unrecognized action %q", text)
	}
	symbol := text[:2]
	kind, ok := sqlSymbolResult[symbol]
	if !ok {
		return Action{}, fmt.Errorf("unrecognized action %q", text)
	}
	rest := strings.TrimSpace(text[2:])

	var hints []string
	if strings.HasPrefix(rest, "(") {
		end := strings.IndexByte(rest, ')')
		if end < 0 {
			return Action{}, fmt.Errorf("sql action: unterminated hints")
		}
		for _, h := range strings.Split(rest[1:end], ",") {
			h = strings.TrimSpace(h)
			if h != "" {
				hints = append(hints, h)
			}
		}
		rest = strings.TrimSpace(rest[end+1:])
	}

	tmpl := ParseTemplate(rest)
	result, err := resolveDbResult(kind, hints, tmpl)
	if err != nil {
		return Action{}, err
	}

	return Action{Kind: ActionSQL, SQL: DbQuery{Result: result, Template: tmpl}}, nil
}

// resolveDbResult builds the DbResult for a sql action, applying explicit
// hints or falling back to template probing (spec.md §4.B).
func resolveDbResult(kind DbResultKind, hints []string, tmpl DbTemplate) (DbResult, error) {
	switch kind {
	case ResultItem, ResultItemOk, ResultCollection:
		if len(hints) > 0 {
			return DbResult{Kind: kind, Columns: hints}, nil
		}
		table, cols, wildcard := Probe(tmpl)
		if wildcard {
			// plain single-table `select *`: shape rows from the live
			// query's own column names at execution time (spec.md §4.A).
			return DbResult{Kind: kind, Table: table}, nil
		}
		if cols == nil {
			return DbResult{}, fmt.Errorf("cannot infer columns for query, provide explicit (cols) hints")
		}
		return DbResult{Kind: kind, Columns: cols}, nil

	case ResultLastInsert:
		if len(hints) > 0 {
			table := hints[0]
			seq := "id"
			if len(hints) > 1 {
				seq = hints[1]
			}
			return DbResult{Kind: kind, Table: table, Sequence: seq}, nil
		}
		table, _, _ := Probe(tmpl)
		if table == "" {
			return DbResult{}, fmt.Errorf("cannot infer table for insert, provide explicit (table,sequence) hints")
		}
		return DbResult{Kind: kind, Table: table, Sequence: "id"}, nil

	default: // ResultNone, ResultCount: no hints needed
		return DbResult{Kind: kind}, nil
	}
}

//------------------------------------------------------------------------------
// inline/pipeline JSON wire schema (spec.md §3, §4.E)

type pipelineJSON struct {
	Processors  map[string]processorJSON `json:"processors"`
	Connections []connectionJSON         `json:"connections"`
}

type processorJSON struct {
	Type       string         `json:"type"`
	Datasource string         `json:"datasource,omitempty"`
	Result     string         `json:"result,omitempty"`
	Columns    []string       `json:"columns,omitempty"`
	Table      string         `json:"table,omitempty"`
	Sequence   string         `json:"sequence,omitempty"`
	SQL        string         `json:"sql,omitempty"`
	Response   map[string]any `json:"response,omitempty"`
	Pipeline   string         `json:"pipeline,omitempty"`
	Script     string         `json:"script,omitempty"`
}

type connectionJSON struct {
	From string `json:"from"`
	To   string `json:"to"`
}

var dbResultNames = map[string]DbResultKind{
	"none":       ResultNone,
	"item":       ResultItem,
	"itemOk":     ResultItemOk,
	"collection": ResultCollection,
	"lastInsert": ResultLastInsert,
	"count":      ResultCount,
}

func parseInlinePipelineJSON(body string) (*Pipeline, error) {
	var pj pipelineJSON
	if err := json.Unmarshal([]byte(body), &pj); err != nil {
		return nil, fmt.Errorf("invalid json: %v", err)
	}
	return buildPipeline("", pj)
}

// ParseMesh builds a [PipelineMesh] from [GatewayConfig.Pipelines], each
// entry using the same processors/connections wire schema as an inline
// pipeline literal (spec.md glossary: "Mesh").
func ParseMesh(raw map[string]json.RawMessage) (PipelineMesh, error) {
	mesh := make(PipelineMesh, len(raw))
	for name, data := range raw {
		var pj pipelineJSON
		if err := json.Unmarshal(data, &pj); err != nil {
			return nil, fmt.Errorf("pipeline %q: invalid json: %v", name, err)
		}
		p, err := buildPipeline(name, pj)
		if err != nil {
			return nil, fmt.Errorf("pipeline %q: %v", name, err)
		}
		mesh[name] = p
	}
	for name, p := range mesh {
		if err := validateMeshReferences(name, p, mesh); err != nil {
			return nil, err
		}
	}
	return mesh, nil
}

// validateMeshReferences checks that every `pipeline`-typed processor in p
// names an existing mesh entry. It looks only at p's own processors;
// ParseMesh calls it once per mesh entry, so together the calls catch
// dangling cross-pipeline references at load time. Reference cycles
// between mesh entries are not detected here.
func validateMeshReferences(name string, p *Pipeline, mesh PipelineMesh) error {
	for _, proc := range p.Processors {
		if proc.Kind != ProcPipeline {
			continue
		}
		if _, ok := mesh[proc.PipelineName]; !ok {
			return fmt.Errorf("pipeline %q: processor %q references unknown pipeline %q", name, proc.Name, proc.PipelineName)
		}
	}
	return nil
}

func buildPipeline(name string, pj pipelineJSON) (*Pipeline, error) {
	p := &Pipeline{Name: name, Processors: make(map[string]*Processor, len(pj.Processors))}
	for pname, pp := range pj.Processors {
		proc, err := buildProcessor(pname, pp)
		if err != nil {
			return nil, err
		}
		p.Processors[pname] = proc
	}
	for _, c := range pj.Connections {
		srcProc, srcField, err := splitFieldRef(c.From)
		if err != nil {
			return nil, fmt.Errorf("connection %q: %v", c.From, err)
		}
		dstProc, dstField, err := splitFieldRef(c.To)
		if err != nil {
			return nil, fmt.Errorf("connection %q: %v", c.To, err)
		}
		p.Connections = append(p.Connections, Connection{
			SrcProcessor: srcProc, SrcField: srcField,
			DstProcessor: dstProc, DstField: dstField,
		})
	}
	if err := validatePipelineGraph(p); err != nil {
		return nil, err
	}
	return p, nil
}

func buildProcessor(name string, pp processorJSON) (*Processor, error) {
	switch pp.Type {
	case "sql":
		kind, ok := dbResultNames[pp.Result]
		if !ok {
			return nil, fmt.Errorf("processor %q: invalid result %q", name, pp.Result)
		}
		tmpl := ParseTemplate(pp.SQL)
		result, err := resolveDbResult(kind, hintsFor(kind, pp), tmpl)
		if err != nil {
			return nil, fmt.Errorf("processor %q: %v", name, err)
		}
		return &Processor{
			Name: name, Kind: ProcSQL,
			SQL: DbQuery{Result: result, Template: tmpl},
		}, nil

	case "static":
		return &Processor{Name: name, Kind: ProcStatic, StaticResponse: pp.Response}, nil

	case "pipeline":
		if pp.Pipeline == "" {
			return nil, fmt.Errorf("processor %q: expected a pipeline name", name)
		}
		return &Processor{Name: name, Kind: ProcPipeline, PipelineName: pp.Pipeline}, nil

	case "nodejs":
		if pp.Script == "" {
			return nil, fmt.Errorf("processor %q: expected a script path", name)
		}
		return &Processor{Name: name, Kind: ProcNodeJS, ScriptPath: pp.Script}, nil

	default:
		return nil, fmt.Errorf("processor %q: invalid type %q", name, pp.Type)
	}
}

func hintsFor(kind DbResultKind, pp processorJSON) []string {
	switch kind {
	case ResultItem, ResultItemOk, ResultCollection:
		return pp.Columns
	case ResultLastInsert:
		if pp.Table == "" {
			return nil
		}
		if pp.Sequence == "" {
			return []string{pp.Table}
		}
		return []string{pp.Table, pp.Sequence}
	default:
		return nil
	}
}

func splitFieldRef(s string) (proc, field string, err error) {
	i := strings.LastIndexByte(s, '.')
	if i < 0 {
		return "", "", fmt.Errorf("expected '<processor>.<field>'")
	}
	return s[:i], s[i+1:], nil
}

// validatePipelineGraph checks that every connection endpoint names an
// existing processor (or the special _in/_out names) and that the
// connection graph is acyclic (spec.md §3, §8 property 5).
func validatePipelineGraph(p *Pipeline) error {
	exists := func(name string) bool {
		if name == InputName || name == AggregatorName {
			return true
		}
		_, ok := p.Processors[name]
		return ok
	}
	for _, c := range p.Connections {
		if !exists(c.SrcProcessor) {
			return fmt.Errorf("connection references unknown processor %q", c.SrcProcessor)
		}
		if !exists(c.DstProcessor) && c.DstProcessor != AggregatorName {
			return fmt.Errorf("connection references unknown processor %q", c.DstProcessor)
		}
	}
	if _, err := topoSort(p); err != nil {
		return err
	}
	return nil
}
