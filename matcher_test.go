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

func mustRoutes(t *testing.T, text string) []Route {
	t.Helper()
	routes, err := Parse(text)
	require.NoError(t, err)
	return routes
}

func TestMatchBindsPathVariable(t *testing.T) {
	routes := mustRoutes(t, "GET photo/:id ~> (id) select 1")
	r, vars, ok := Match(routes, "GET", "/photo/42")
	require.True(t, ok)
	assert.Equal(t, "42", vars["id"])
	assert.Equal(t, routes[0].Pattern.Raw, r.Pattern.Raw)
}

func TestMatchFirstWins(t *testing.T) {
	routes := mustRoutes(t, "GET photo/new ~> (id) select 1\nGET photo/:id ~> (id) select 2\n")
	_, _, ok := Match(routes, "GET", "/photo/new")
	require.True(t, ok)
	r, _, ok := Match(routes, "GET", "/photo/new")
	require.True(t, ok)
	assert.Equal(t, 1, r.Line)
}

func TestMatchNoMethodMatch(t *testing.T) {
	routes := mustRoutes(t, "GET photo/:id ~> (id) select 1")
	_, _, ok := Match(routes, "POST", "/photo/42")
	assert.False(t, ok)
}

func TestMatchSegmentCountMismatch(t *testing.T) {
	routes := mustRoutes(t, "GET photo/:id ~> (id) select 1")
	_, _, ok := Match(routes, "GET", "/photo/42/extra")
	assert.False(t, ok)
}

func TestMatchURLDecodesVariable(t *testing.T) {
	routes := mustRoutes(t, "GET search/:q ~> (id) select 1")
	_, vars, ok := Match(routes, "GET", "/search/a%20b")
	require.True(t, ok)
	assert.Equal(t, "a b", vars["q"])
}

func TestMatchLeadingSlashOptional(t *testing.T) {
	routes := mustRoutes(t, "GET photo ~> (id) select 1")
	_, _, ok := Match(routes, "GET", "photo")
	assert.True(t, ok)
}
