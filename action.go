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

	"github.com/jackc/pgx/v4"
)

// ExecuteAction runs a resolved [Action] against bag (path variables
// overlaid by the JSON request body, spec.md §4.F step 4) and produces a
// [RouteResponse] (spec.md §4.D).
func ExecuteAction(ctx context.Context, rc *RequestContext, action Action, bag map[string]any) (RouteResponse, error) {
	switch action.Kind {
	case ActionSQL:
		return executeSQLAction(ctx, rc, action, bag)

	case ActionPipeline:
		p, ok := rc.Mesh[action.PipelineName]
		if !ok {
			return RouteResponse{}, NewErrorf(ErrServerConfiguration, "unknown pipeline %q", action.PipelineName)
		}
		return executePipelineAction(ctx, rc, action, p, bag)

	case ActionInlinePipeline:
		return executePipelineAction(ctx, rc, action, action.InlinePipeline, bag)

	case ActionNodeJS:
		return RunNodeJS(ctx, rc, action.ScriptPath, bag)

	case ActionStatic:
		return staticResponse(action.StaticResponse), nil

	default:
		return RouteResponse{}, NewErrorf(ErrServerConfiguration, "unknown action kind")
	}
}

func executeSQLAction(ctx context.Context, rc *RequestContext, action Action, bag map[string]any) (RouteResponse, error) {
	cacheable := rc.Cache.Enabled() && isReadOnlyResult(action.SQL.Result.Kind)
	if cacheable {
		if body, ok := rc.Cache.Get(action.SQL.Template.Source, bag); ok {
			return RouteResponse{Status: 200, Body: body}, nil
		}
	}

	pool, err := rc.DS.Default()
	if err != nil {
		return RouteResponse{}, NewError(ErrServerConfiguration, err)
	}
	body, err := ExecuteSQL(ctx, pool, action.SQL, bag)
	if err != nil {
		return RouteResponse{}, err
	}
	if cacheable {
		rc.Cache.Set(action.SQL.Template.Source, bag, body)
	}

	status := 200
	if action.SQL.Result.Kind == ResultLastInsert {
		status = 201
	}
	return RouteResponse{Status: status, Body: body}, nil
}

func isReadOnlyResult(k DbResultKind) bool {
	return k == ResultItem || k == ResultItemOk || k == ResultCollection
}

func executePipelineAction(ctx context.Context, rc *RequestContext, action Action, p *Pipeline, bag map[string]any) (RouteResponse, error) {
	pool, err := rc.DS.Default()
	if err != nil {
		return RouteResponse{}, NewError(ErrServerConfiguration, err)
	}

	tx, err := pool.BeginTx(ctx, toPgxTxOptions(action.TxOptions))
	if err != nil {
		return RouteResponse{}, NewError(ErrDb, err)
	}

	body, runErr := RunPipeline(ctx, rc, tx, rc.Mesh, p, bag)
	if runErr != nil {
		_ = tx.Rollback(ctx)
		return RouteResponse{}, runErr
	}
	if err := tx.Commit(ctx); err != nil {
		return RouteResponse{}, NewError(ErrDb, err)
	}
	return RouteResponse{Status: 200, Body: body}, nil
}

func toPgxTxOptions(t *TxOptions) pgx.TxOptions {
	opts := pgx.TxOptions{}
	if t == nil {
		return opts
	}
	switch t.Access {
	case "read only":
		opts.AccessMode = pgx.ReadOnly
	case "read write":
		opts.AccessMode = pgx.ReadWrite
	}
	switch t.ISOLevel {
	case "serializable":
		opts.IsoLevel = pgx.Serializable
	case "repeatable read":
		opts.IsoLevel = pgx.RepeatableRead
	case "read committed":
		opts.IsoLevel = pgx.ReadCommitted
	}
	if t.Deferrable {
		opts.DeferrableMode = pgx.Deferrable
	}
	return opts
}

// allowKey is the special static-response key that becomes an Allow
// response header (spec.md §4.D).
const allowKey = "<Allow>"

func staticResponse(resp map[string]any) RouteResponse {
	if resp == nil {
		return RouteResponse{Status: 200, Body: map[string]any{}}
	}
	out := make(map[string]any, len(resp))
	var headers map[string]string
	for k, v := range resp {
		if k == allowKey {
			if s, ok := v.(string); ok {
				headers = map[string]string{"Allow": s}
			}
			continue
		}
		out[k] = v
	}
	return RouteResponse{Status: 200, Headers: headers, Body: out}
}
