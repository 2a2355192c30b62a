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
	"context"
	"fmt"
	"sort"
)

// PipelineMesh is the named table of externally defined pipelines (spec.md
// §3 glossary: "Mesh"), built once at startup and read-only thereafter.
type PipelineMesh map[string]*Pipeline

// topoSort computes a deterministic topological order over p's processors
// plus the two distinguished nodes _in and _out, using Kahn's algorithm
// (spec.md §9 design note). Ties are broken by processor name so that
// ordering is reproducible across runs (spec.md §8 property 6).
func topoSort(p *Pipeline) ([]string, error) {
	indeg := map[string]int{InputName: 0, AggregatorName: 0}
	adj := map[string][]string{}
	for name := range p.Processors {
		indeg[name] = 0
	}
	for _, c := range p.Connections {
		adj[c.SrcProcessor] = append(adj[c.SrcProcessor], c.DstProcessor)
		indeg[c.DstProcessor]++
	}

	var ready []string
	for name, d := range indeg {
		if d == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	var order []string
	for len(ready) > 0 {
		sort.Strings(ready)
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)
		next := append([]string(nil), adj[n]...)
		sort.Strings(next)
		for _, m := range next {
			indeg[m]--
			if indeg[m] == 0 {
				ready = append(ready, m)
			}
		}
	}

	total := len(p.Processors) + 2
	if len(order) != total {
		return nil, fmt.Errorf("pipeline %q: connection graph has a cycle", p.Name)
	}
	return order, nil
}

// pipelineCtx carries the state threaded through one pipeline execution:
// the shared transaction (spec.md §4.E, §5), the node outputs computed so
// far, and the context needed to dispatch nested actions.
type pipelineCtx struct {
	ctx   context.Context
	rc    *RequestContext
	tx    Querier
	mesh  PipelineMesh
	ds    string // datasource name the shared transaction runs against
	depth int
}

const maxPipelineDepth = 32

// RunPipeline executes p against root (the request's parameter bag),
// sharing a single DB transaction across every node (spec.md §4.E, §5).
// The caller owns the transaction's lifetime but RunPipeline reports
// whether it should be rolled back via the returned error.
func RunPipeline(ctx context.Context, rc *RequestContext, tx Querier, mesh PipelineMesh, p *Pipeline, root map[string]any) (map[string]any, error) {
	pc := &pipelineCtx{ctx: ctx, rc: rc, tx: tx, mesh: mesh}
	return pc.run(p, root)
}

func (pc *pipelineCtx) run(p *Pipeline, root map[string]any) (map[string]any, error) {
	pc.depth++
	if pc.depth > maxPipelineDepth {
		return nil, NewErrorf(ErrPipeline, "pipeline nesting exceeds %d levels", maxPipelineDepth)
	}
	defer func() { pc.depth-- }()

	order, err := topoSort(p)
	if err != nil {
		return nil, NewError(ErrServerConfiguration, err)
	}

	inbound := map[string]map[string]any{} // per-processor assembled input
	var result map[string]any

	for _, c := range p.Connections {
		if c.SrcProcessor != InputName {
			continue
		}
		dst := inbound[c.DstProcessor]
		if dst == nil {
			dst = map[string]any{}
			inbound[c.DstProcessor] = dst
		}
		dst[c.DstField] = root[c.SrcField]
	}

	for _, name := range order {
		if name == InputName {
			continue
		}
		input := inbound[name]
		if input == nil {
			input = map[string]any{}
		}

		if name == AggregatorName {
			result = input
			continue
		}

		proc := p.Processors[name]
		out, err := pc.invoke(proc, input)
		if err != nil {
			if ge, ok := err.(*GatewayError); ok {
				return nil, ge.forNode(name)
			}
			return nil, NewError(ErrPipeline, err).forNode(name)
		}

		for _, c := range p.Connections {
			if c.SrcProcessor != name {
				continue
			}
			dst := inbound[c.DstProcessor]
			if dst == nil {
				dst = map[string]any{}
				inbound[c.DstProcessor] = dst
			}
			dst[c.DstField] = out[c.SrcField]
		}
	}

	return result, nil
}

// invoke dispatches a single processor to the §4.D primitive matching its
// kind, reusing the pipeline's shared transaction for sql and nested
// pipeline nodes.
func (pc *pipelineCtx) invoke(proc *Processor, input map[string]any) (map[string]any, error) {
	switch proc.Kind {
	case ProcSQL:
		body, err := ExecuteSQL(pc.ctx, pc.tx, proc.SQL, input)
		if err != nil {
			return nil, err
		}
		m, _ := body.(map[string]any)
		if m == nil {
			m = map[string]any{"value": body}
		}
		return m, nil

	case ProcStatic:
		return cloneStatic(proc.StaticResponse), nil

	case ProcPipeline:
		child, ok := pc.mesh[proc.PipelineName]
		if !ok {
			return nil, NewErrorf(ErrServerConfiguration, "unknown pipeline %q", proc.PipelineName)
		}
		return pc.run(child, input)

	case ProcNodeJS:
		resp, err := RunNodeJS(pc.ctx, pc.rc, proc.ScriptPath, input)
		if err != nil {
			return nil, err
		}
		m, _ := resp.Body.(map[string]any)
		if m == nil {
			m = map[string]any{"value": resp.Body}
		}
		return m, nil

	default:
		return nil, NewErrorf(ErrServerConfiguration, "unknown processor kind for %q", proc.Name)
	}
}

func cloneStatic(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
