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
)

func TestResponseCacheDisabledByDefault(t *testing.T) {
	c := NewResponseCache(0)
	c.Set("select 1", map[string]any{}, "x")
	_, ok := c.Get("select 1", map[string]any{})
	assert.False(t, ok)
}

func TestResponseCacheHitAndMiss(t *testing.T) {
	c := NewResponseCache(60)
	c.Set("select * from photo where id = {{:id}}", map[string]any{"id": "1"}, map[string]any{"id": 1})
	v, ok := c.Get("select * from photo where id = {{:id}}", map[string]any{"id": "1"})
	assert.True(t, ok)
	assert.Equal(t, map[string]any{"id": 1}, v)

	_, ok = c.Get("select * from photo where id = {{:id}}", map[string]any{"id": "2"})
	assert.False(t, ok)
}

func TestResponseCacheDistinctTemplatesDoNotCollide(t *testing.T) {
	c := NewResponseCache(60)
	c.Set("a", map[string]any{"x": "1"}, "A")
	c.Set("b", map[string]any{"x": "1"}, "B")
	va, _ := c.Get("a", map[string]any{"x": "1"})
	vb, _ := c.Get("b", map[string]any{"x": "1"})
	assert.Equal(t, "A", va)
	assert.Equal(t, "B", vb)
}
