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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEmptyFile(t *testing.T) {
	routes, err := Parse("")
	require.NoError(t, err)
	assert.Empty(t, routes)
}

func TestParseCommentOnlyFile(t *testing.T) {
	routes, err := Parse("# just a comment\n\n  # another\n")
	require.NoError(t, err)
	assert.Empty(t, routes)
}

func TestParseE1Route(t *testing.T) {
	routes, err := Parse(`GET photo/:id ~> select * from photo where id = {{:id}}`)
	require.NoError(t, err)
	require.Len(t, routes, 1)
	r := routes[0]
	assert.Equal(t, MethodGet, r.Method)
	require.Len(t, r.Pattern.Segments, 2)
	assert.Equal(t, Segment{Literal: "photo"}, r.Pattern.Segments[0])
	assert.Equal(t, Segment{Literal: "id", Variable: true}, r.Pattern.Segments[1])
	assert.Equal(t, ActionSQL, r.Action.Kind)
	assert.Equal(t, ResultItem, r.Action.SQL.Result.Kind)
}

func TestParseE2Route(t *testing.T) {
	routes, err := Parse(`POST photo  <>  insert into photo(url) values ('{{url}}')`)
	require.NoError(t, err)
	require.Len(t, routes, 1)
	a := routes[0].Action
	assert.Equal(t, ActionSQL, a.Kind)
	assert.Equal(t, ResultLastInsert, a.SQL.Result.Kind)
	assert.Equal(t, "photo", a.SQL.Result.Table)
	assert.Equal(t, "id", a.SQL.Result.Sequence)
}

func TestParseE3IdempotentDelete(t *testing.T) {
	routes, err := Parse(`DELETE photo  --`)
	require.NoError(t, err)
	require.Len(t, routes, 1)
	assert.Equal(t, ResultNone, routes[0].Action.SQL.Result.Kind)
}

func TestParseE4StaticAction(t *testing.T) {
	routes, err := Parse(`OPTIONS /photo {..} {"<Allow>":"GET,POST","GET":{}}`)
	require.NoError(t, err)
	require.Len(t, routes, 1)
	a := routes[0].Action
	require.Equal(t, ActionStatic, a.Kind)
	assert.Equal(t, "GET,POST", a.StaticResponse["<Allow>"])
}

func TestParseCommentStrippedBeforeSymbol(t *testing.T) {
	routes, err := Parse("GET photo/:id ~> select * from photo where id = {{:id}} # fetch one\n")
	require.NoError(t, err)
	require.Len(t, routes, 1)
}

func TestParseHashInsideStaticJSONStringIsPreserved(t *testing.T) {
	routes, err := Parse(`GET color {..} {"hex":"#fff"}`)
	require.NoError(t, err)
	require.Len(t, routes, 1)
	assert.Equal(t, "#fff", routes[0].Action.StaticResponse["hex"])
}

func TestParseMultilineStaticBody(t *testing.T) {
	text := "GET photo {..} {\n  \"a\": 1,\n  \"b\": 2\n}\n"
	routes, err := Parse(text)
	require.NoError(t, err)
	require.Len(t, routes, 1)
	assert.Equal(t, float64(1), routes[0].Action.StaticResponse["a"])
}

func TestParsePipelineAction(t *testing.T) {
	routes, err := Parse(`POST order || createOrder`)
	require.NoError(t, err)
	require.Len(t, routes, 1)
	assert.Equal(t, ActionPipeline, routes[0].Action.Kind)
	assert.Equal(t, "createOrder", routes[0].Action.PipelineName)
}

func TestParseNodeJsAction(t *testing.T) {
	routes, err := Parse(`POST hook <js> scripts/hook.js`)
	require.NoError(t, err)
	require.Len(t, routes, 1)
	assert.Equal(t, ActionNodeJS, routes[0].Action.Kind)
	assert.Equal(t, "scripts/hook.js", routes[0].Action.ScriptPath)
}

func TestParseInvalidMethodFails(t *testing.T) {
	_, err := Parse(`FETCH photo --`)
	require.Error(t, err)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 1, perr.Line)
}

func TestParseUnrecognizedActionFails(t *testing.T) {
	_, err := Parse(`GET photo ???`)
	require.Error(t, err)
}

func TestParseAmbiguousColumnsRequiresHints(t *testing.T) {
	_, err := Parse(`GET report ~> select * from a join b on a.id = b.a_id`)
	require.Error(t, err)
}

func TestParseExplicitHintsOverrideInference(t *testing.T) {
	routes, err := Parse(`GET report ~> (id,total) select * from a join b on a.id = b.a_id`)
	require.NoError(t, err)
	require.Len(t, routes, 1)
	assert.Equal(t, []string{"id", "total"}, routes[0].Action.SQL.Result.Columns)
}

func TestParseDeclarationOrderPreserved(t *testing.T) {
	routes, err := Parse("GET photo/:id ~> (id) select 1\nGET photo/new ~> (id) select 2\n")
	require.NoError(t, err)
	require.Len(t, routes, 2)
	assert.Equal(t, 1, routes[0].Line)
	assert.Equal(t, 2, routes[1].Line)
}

func TestParseInlinePipelineJSONSchema(t *testing.T) {
	body := `{
		"processors": {
			"a": {"type":"sql","result":"item","columns":["id"],"sql":"select {{x}} as id"},
			"b": {"type":"static","response":{"ok":true}}
		},
		"connections": [
			{"from":"a.id","to":"b.ref"},
			{"from":"b.ok","to":"_out.ok"}
		]
	}`
	routes, err := Parse("POST thing |> " + body)
	require.NoError(t, err)
	require.Len(t, routes, 1)
	p := routes[0].Action.InlinePipeline
	require.NotNil(t, p)
	require.Len(t, p.Processors, 2)
	require.Len(t, p.Connections, 2)
}

func TestParsePipelineCycleRejected(t *testing.T) {
	body := `{
		"processors": {
			"a": {"type":"static","response":{}},
			"b": {"type":"static","response":{}}
		},
		"connections": [
			{"from":"a.x","to":"b.y"},
			{"from":"b.y","to":"a.x"}
		]
	}`
	_, err := Parse("POST thing |> " + body)
	require.Error(t, err)
}

func TestParsePipelineDanglingReferenceRejected(t *testing.T) {
	body := `{
		"processors": {"a": {"type":"static","response":{}}},
		"connections": [{"from":"a.x","to":"ghost.y"}]
	}`
	_, err := Parse("POST thing |> " + body)
	require.Error(t, err)
}
