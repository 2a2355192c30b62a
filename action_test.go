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

func TestStaticResponseExtractsAllowHeader(t *testing.T) {
	resp := staticResponse(map[string]any{"<Allow>": "GET,POST", "GET": map[string]any{}})
	assert.Equal(t, "GET,POST", resp.Headers["Allow"])
	assert.NotContains(t, resp.Body.(map[string]any), "<Allow>")
	assert.Contains(t, resp.Body.(map[string]any), "GET")
}

func TestStaticResponseNilBody(t *testing.T) {
	resp := staticResponse(nil)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, map[string]any{}, resp.Body)
}

func TestExecuteActionDispatchesStatic(t *testing.T) {
	rc := &RequestContext{Mesh: PipelineMesh{}}
	action := Action{Kind: ActionStatic, StaticResponse: map[string]any{"ok": true}}
	resp, err := ExecuteAction(context.Background(), rc, action, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, true, resp.Body.(map[string]any)["ok"])
}

func TestExecuteActionUnknownPipelineIsServerConfiguration(t *testing.T) {
	rc := &RequestContext{Mesh: PipelineMesh{}}
	action := Action{Kind: ActionPipeline, PipelineName: "ghost"}
	_, err := ExecuteAction(context.Background(), rc, action, map[string]any{})
	var ge *GatewayError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, ErrServerConfiguration, ge.Kind)
}
