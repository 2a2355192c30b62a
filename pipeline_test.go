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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopoSortOrdersInputBeforeConsumers(t *testing.T) {
	p := &Pipeline{
		Processors: map[string]*Processor{
			"a": {Name: "a", Kind: ProcStatic, StaticResponse: map[string]any{}},
			"b": {Name: "b", Kind: ProcStatic, StaticResponse: map[string]any{}},
		},
		Connections: []Connection{
			{SrcProcessor: InputName, SrcField: "x", DstProcessor: "a", DstField: "x"},
			{SrcProcessor: "a", SrcField: "y", DstProcessor: "b", DstField: "y"},
			{SrcProcessor: "b", SrcField: "z", DstProcessor: AggregatorName, DstField: "z"},
		},
	}
	order, err := topoSort(p)
	require.NoError(t, err)
	pos := map[string]int{}
	for i, n := range order {
		pos[n] = i
	}
	assert.Less(t, pos[InputName], pos["a"])
	assert.Less(t, pos["a"], pos["b"])
	assert.Less(t, pos["b"], pos[AggregatorName])
}

func TestTopoSortDetectsCycle(t *testing.T) {
	p := &Pipeline{
		Processors: map[string]*Processor{
			"a": {Name: "a", Kind: ProcStatic},
			"b": {Name: "b", Kind: ProcStatic},
		},
		Connections: []Connection{
			{SrcProcessor: "a", SrcField: "x", DstProcessor: "b", DstField: "x"},
			{SrcProcessor: "b", SrcField: "y", DstProcessor: "a", DstField: "y"},
		},
	}
	_, err := topoSort(p)
	require.Error(t, err)
}

// TestRunPipelineE5FieldRouting exercises spec.md §8 scenario E5: a → b via a named
// field, aggregator sees the merged object.
func TestRunPipelineE5FieldRouting(t *testing.T) {
	p := &Pipeline{
		Processors: map[string]*Processor{
			"a": {
				Name: "a", Kind: ProcSQL,
				SQL: DbQuery{
					Result:   DbResult{Kind: ResultItem, Columns: []string{"id"}},
					Template: ParseTemplate("select {{seed}} as id"),
				},
			},
			"b": {
				Name: "b", Kind: ProcSQL,
				SQL: DbQuery{
					Result:   DbResult{Kind: ResultItemOk, Columns: []string{"ref"}},
					Template: ParseTemplate("select {{ref}} as ref"),
				},
			},
		},
		Connections: []Connection{
			{SrcProcessor: InputName, SrcField: "seed", DstProcessor: "a", DstField: "seed"},
			{SrcProcessor: "a", SrcField: "id", DstProcessor: "b", DstField: "ref"},
			{SrcProcessor: "b", SrcField: "ref", DstProcessor: AggregatorName, DstField: "ref"},
			{SrcProcessor: "b", SrcField: "status", DstProcessor: AggregatorName, DstField: "status"},
		},
	}

	q := &fakeQuerier{
		queryRows: &fakeRows{cols: []string{"id"}, data: [][]any{{int64(7)}}},
	}
	result, err := RunPipeline(context.Background(), nil, q, PipelineMesh{}, p, map[string]any{"seed": float64(7)})
	require.NoError(t, err)
	assert.Equal(t, int64(7), result["ref"])
	assert.Equal(t, "ok", result["status"])
}

func TestRunPipelineNodeFailureTaggedWithName(t *testing.T) {
	p := &Pipeline{
		Processors: map[string]*Processor{
			"a": {
				Name: "a", Kind: ProcSQL,
				SQL: DbQuery{
					Result:   DbResult{Kind: ResultItem, Columns: []string{"id"}},
					Template: ParseTemplate("select id from photo where id = {{:missing}}"),
				},
			},
		},
		Connections: []Connection{
			{SrcProcessor: "a", SrcField: "id", DstProcessor: AggregatorName, DstField: "id"},
		},
	}
	q := &fakeQuerier{}
	_, err := RunPipeline(context.Background(), nil, q, PipelineMesh{}, p, map[string]any{})
	var ge *GatewayError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, "a", ge.Node)
}

func TestRunPipelineUnknownNestedPipeline(t *testing.T) {
	p := &Pipeline{
		Processors: map[string]*Processor{
			"a": {Name: "a", Kind: ProcPipeline, PipelineName: "ghost"},
		},
		Connections: []Connection{
			{SrcProcessor: "a", SrcField: "x", DstProcessor: AggregatorName, DstField: "x"},
		},
	}
	_, err := RunPipeline(context.Background(), nil, &fakeQuerier{}, PipelineMesh{}, p, map[string]any{})
	require.Error(t, err)
}
