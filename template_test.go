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

func TestParseTemplateHoles(t *testing.T) {
	tmpl := ParseTemplate("select * from photo where id = {{:id}} and owner = {{ owner }}")
	require.Len(t, tmpl.Fragments, 4)
	assert.True(t, tmpl.Fragments[0].Literal)
	assert.Equal(t, "id", tmpl.Fragments[1].Name)
	assert.Equal(t, HolePath, tmpl.Fragments[1].Kind)
	assert.Equal(t, "owner", tmpl.Fragments[3].Name)
	assert.Equal(t, HoleBody, tmpl.Fragments[3].Kind)
}

func TestParseTemplateUnmatchedBraceIsLiteral(t *testing.T) {
	tmpl := ParseTemplate("a {{ b")
	require.Len(t, tmpl.Fragments, 1)
	assert.True(t, tmpl.Fragments[0].Literal)
	assert.Equal(t, "a {{ b", tmpl.Fragments[0].Text)
}

func TestRenderQuotesStringsAndDoublesQuotes(t *testing.T) {
	tmpl := ParseTemplate("insert into photo(url) values ({{url}})")
	sql, err := Render(tmpl, map[string]any{"url": "O'Reilly"})
	require.NoError(t, err)
	assert.Equal(t, "insert into photo(url) values ('O''Reilly')", sql)
}

func TestRenderNumbersAndBooleansVerbatim(t *testing.T) {
	tmpl := ParseTemplate("select {{n}}, {{b}}")
	sql, err := Render(tmpl, map[string]any{"n": float64(42), "b": true})
	require.NoError(t, err)
	assert.Equal(t, "select 42, true", sql)
}

func TestRenderNullForNil(t *testing.T) {
	tmpl := ParseTemplate("update photo set owner = {{owner}}")
	sql, err := Render(tmpl, map[string]any{"owner": nil})
	require.NoError(t, err)
	assert.Equal(t, "update photo set owner = NULL", sql)
}

func TestRenderMissingHoleReportsFirstUnbound(t *testing.T) {
	tmpl := ParseTemplate("select {{a}}, {{b}}")
	_, err := Render(tmpl, map[string]any{"b": float64(1)})
	var missing *MissingHole
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "a", missing.Name)
}

func TestRenderEmptyTemplate(t *testing.T) {
	tmpl := ParseTemplate("")
	_, err := Render(tmpl, map[string]any{})
	assert.ErrorIs(t, err, errEmptyTemplate)
}

func TestProbeSelect(t *testing.T) {
	tmpl := ParseTemplate("select id, url from photo where owner = {{owner}}")
	table, cols, wildcard := Probe(tmpl)
	assert.Equal(t, "photo", table)
	assert.Equal(t, []string{"id", "url"}, cols)
	assert.False(t, wildcard)
}

func TestProbeSelectStar(t *testing.T) {
	tmpl := ParseTemplate("select * from photo where id = {{:id}}")
	table, cols, wildcard := Probe(tmpl)
	assert.Equal(t, "photo", table)
	assert.Nil(t, cols)
	assert.True(t, wildcard)
}

func TestProbeSelectStarJoinIsAmbiguous(t *testing.T) {
	tmpl := ParseTemplate("select * from a join b on a.id = b.a_id")
	table, cols, wildcard := Probe(tmpl)
	assert.Empty(t, table)
	assert.Nil(t, cols)
	assert.False(t, wildcard)
}

func TestProbeInsert(t *testing.T) {
	tmpl := ParseTemplate("insert into photo(url) values ('{{url}}')")
	table, _, _ := Probe(tmpl)
	assert.Equal(t, "photo", table)
}

func TestProbeUnrecognizedReturnsNothing(t *testing.T) {
	tmpl := ParseTemplate("with x as (select 1) select * from x")
	table, cols, wildcard := Probe(tmpl)
	assert.Empty(t, table)
	assert.Nil(t, cols)
	assert.False(t, wildcard)
}

func TestProbeColumnAliasAndQualifiedNames(t *testing.T) {
	tmpl := ParseTemplate("select p.id, count(*) as total from photo p")
	table, cols, wildcard := Probe(tmpl)
	assert.Equal(t, "photo", table)
	assert.Equal(t, []string{"id", "total"}, cols)
	assert.False(t, wildcard)
}
