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
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// RequestContext is the per-request immutable bag of collaborators (spec.md
// §3 "Context"): the routing table, pipeline mesh, datasource pools,
// logger and HMAC keystore are all built once at startup and never mutated
// (spec.md §5).
type RequestContext struct {
	Routes     []Route
	Mesh       PipelineMesh
	DS         *Datasources
	Logger     *zerolog.Logger
	HMAC       *HMACConfig
	Keys       Keystore
	NodeBinary string

	MaxBodyBytes   int64
	DefaultTimeout float64

	Cache *ResponseCache
	Hooks *Hooks
}

// Hooks exposes the three plug points spec.md §6 names as out-of-core
// collaborators: a request pre-filter that may short-circuit with a
// response, a post-success hook fed the matched route and its response,
// and a response header accumulator applied to every outgoing response.
type Hooks struct {
	PreFilter   func(r *http.Request) (RouteResponse, bool)
	PostSuccess func(route *Route, resp RouteResponse)
	Headers     func(w http.ResponseWriter)
}

// ServerName is emitted as the Server response header (spec.md §6).
const ServerName = "gatejson/1"

// Dispatch implements spec.md §4.F end to end and writes the resulting
// HTTP response. It never panics on a malformed request — every failure
// path produces a [RouteResponse] via [errorResponse].
func Dispatch(w http.ResponseWriter, r *http.Request, rc *RequestContext) {
	resp, route := dispatch(r, rc)
	writeResponse(w, resp, rc)
	if route != nil && resp.Status < 400 && rc.Hooks != nil && rc.Hooks.PostSuccess != nil {
		rc.Hooks.PostSuccess(route, resp)
	}
}

func dispatch(r *http.Request, rc *RequestContext) (RouteResponse, *Route) {
	if rc.Hooks != nil && rc.Hooks.PreFilter != nil {
		if resp, short := rc.Hooks.PreFilter(r); short {
			return resp, nil
		}
	}

	maxBody := rc.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	if err != nil {
		return errorResponse(NewError(ErrBadRequest, err)), nil
	}
	if int64(len(body)) > maxBody {
		return errorResponse(NewErrorf(ErrBadRequest, "request body exceeds %d bytes", maxBody)), nil
	}

	var bodyObj map[string]any
	if len(body) == 0 {
		bodyObj = map[string]any{}
	} else if err := json.Unmarshal(body, &bodyObj); err != nil {
		return errorResponse(NewError(ErrBadRequest, err)), nil
	}

	sig, publicKey := hmacHeaders(r)
	if err := VerifyHMAC(rc.HMAC, rc.Keys, r.RemoteAddr, r.Method, r.URL.Path, body, sig, publicKey); err != nil {
		return errorResponse(err), nil
	}

	route, pathVars, ok := Match(rc.Routes, r.Method, r.URL.Path)
	if !ok {
		return errorResponse(NewErrorf(ErrNotFound, "no route for %s %s", r.Method, r.URL.Path)), nil
	}

	// spec.md §4.F step 4: path variables seed the bag, body fields
	// overlay them — the body wins on a name collision.
	bag := make(map[string]any, len(pathVars)+len(bodyObj))
	for k, v := range pathVars {
		bag[k] = v
	}
	for k, v := range bodyObj {
		bag[k] = v
	}

	ctx := r.Context()
	if t := actionTimeout(route.Action, rc.DefaultTimeout); t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(t*float64(time.Second)))
		defer cancel()
	}

	resp, err := ExecuteAction(ctx, rc, route.Action, bag)
	if err != nil {
		if ctx.Err() != nil {
			return errorResponse(NewError(ErrTimeout, ctx.Err())), route
		}
		return errorResponse(err), route
	}
	return resp, route
}

func actionTimeout(a Action, def float64) float64 {
	if a.Timeout != nil {
		return *a.Timeout
	}
	if def > 0 {
		return def
	}
	return 30
}

func writeResponse(w http.ResponseWriter, resp RouteResponse, rc *RequestContext) {
	if rc.Hooks != nil && rc.Hooks.Headers != nil {
		rc.Hooks.Headers(w)
	}
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Server", ServerName)

	status := resp.Status
	if status == 0 {
		status = 200
	}
	w.WriteHeader(status)

	body := resp.Body
	if body == nil {
		body = map[string]any{}
	}
	enc := json.NewEncoder(w)
	_ = enc.Encode(body)
}
