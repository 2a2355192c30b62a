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
	"net/url"
	"strings"
)

// Match finds the first route in table (declaration order) whose method and
// URI pattern match, and returns the path variables bound from the request
// path (spec.md §3, §4.C, §8 property 1: first-match-wins, not trie-based).
func Match(table []Route, method, path string) (*Route, map[string]string, bool) {
	reqSegs := splitPath(path)
	for i := range table {
		r := &table[i]
		if string(r.Method) != method {
			continue
		}
		if vars, ok := matchPattern(r.Pattern, reqSegs); ok {
			return r, vars, true
		}
	}
	return nil, nil, false
}

// splitPath breaks a request path into segments, ignoring a leading and
// trailing "/" and any empty segment caused by "//".
func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	parts := strings.Split(path, "/")
	out := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// matchPattern checks segs against pattern's segments positionally: a
// literal segment must match verbatim, a variable segment matches any
// single non-empty segment and is captured (URL-decoded) by name.
func matchPattern(p Pattern, segs []string) (map[string]string, bool) {
	if len(p.Segments) != len(segs) {
		return nil, false
	}
	var vars map[string]string
	for i, s := range p.Segments {
		if s.Variable {
			decoded, err := url.PathUnescape(segs[i])
			if err != nil {
				decoded = segs[i]
			}
			if vars == nil {
				vars = make(map[string]string, len(p.Segments))
			}
			vars[s.Literal] = decoded
			continue
		}
		if s.Literal != segs[i] {
			return nil, false
		}
	}
	return vars, true
}
