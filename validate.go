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
	"fmt"

	"golang.org/x/mod/semver"
)

func addError(r *[]ValidationResult, format string, args ...any) {
	*r = append(*r, ValidationResult{Warn: false, Message: fmt.Sprintf(format, args...)})
}

func addWarn(r *[]ValidationResult, format string, args ...any) {
	*r = append(*r, ValidationResult{Warn: true, Message: fmt.Sprintf(format, args...)})
}

func (c *GatewayConfig) validate() (r []ValidationResult) {
	if c.Version == "" {
		addError(&r, "version is required")
	} else if !semver.IsValid("v" + c.Version) {
		addError(&r, "version %q is not a valid semver", c.Version)
	} else if semver.Major("v"+c.Version) != semver.Major("v"+SchemaVersion) {
		addError(&r, "version %q is incompatible with schema %q", c.Version, SchemaVersion)
	}

	if c.RoutesFile == "" {
		addError(&r, "routesFile is required")
	}

	if len(c.Datasources) == 0 {
		addError(&r, "at least one datasource is required")
	} else {
		seen := map[string]bool{}
		numDefault := 0
		for i := range c.Datasources {
			ds := &c.Datasources[i]
			if ds.Name == "" {
				addError(&r, "datasources[%d]: name is required", i)
			} else if seen[ds.Name] {
				addError(&r, "datasources[%d]: duplicate name %q", i, ds.Name)
			}
			seen[ds.Name] = true
			if ds.Default {
				numDefault++
			}
			ds.validate(&r, i)
		}
		if numDefault > 1 {
			addError(&r, "only one datasource may be marked default")
		}
		if numDefault == 0 && len(c.Datasources) > 1 {
			addWarn(&r, "no datasource marked default with more than one configured; Sql actions will fail to resolve a pool")
		}
		if c.EventsDatasource != "" && !seen[c.EventsDatasource] {
			addError(&r, "eventsDatasource %q is not a configured datasource", c.EventsDatasource)
		}
	}

	if c.CORS != nil {
		c.CORS.validate(&r)
	}
	if c.HMAC != nil {
		c.HMAC.validate(&r)
	}
	for i := range c.Jobs {
		c.Jobs[i].validate(&r, i, seenNames(c.Datasources))
	}

	if c.MaxBodyBytes < 0 {
		addError(&r, "maxBodyBytes must not be negative")
	}
	if c.DefaultTimeoutSeconds < 0 {
		addError(&r, "defaultTimeout must not be negative")
	}
	if c.CacheTTLSeconds < 0 {
		addError(&r, "cacheTTL must not be negative")
	}

	return r
}

func seenNames(ds []Datasource) map[string]bool {
	m := make(map[string]bool, len(ds))
	for _, d := range ds {
		m[d.Name] = true
	}
	return m
}

func (d *Datasource) validate(r *[]ValidationResult, i int) {
	if d.Host == "" {
		addWarn(r, "datasources[%d] %q: host is empty, defaulting to local socket", i, d.Name)
	}
	switch d.SSLMode {
	case "", "disable", "allow", "prefer", "require", "verify-ca", "verify-full":
	default:
		addError(r, "datasources[%d] %q: invalid sslmode %q", i, d.Name, d.SSLMode)
	}
	if d.Pool != nil {
		if d.Pool.MinConns != nil && d.Pool.MaxConns != nil && *d.Pool.MinConns > *d.Pool.MaxConns {
			addError(r, "datasources[%d] %q: pool.minConns exceeds pool.maxConns", i, d.Name)
		}
	}
}

func (c *CORS) validate(r *[]ValidationResult) {
	if len(c.AllowedOrigins) == 0 {
		addWarn(r, "cors: allowedOrigins is empty, defaulting to [*]")
	}
	if c.MaxAge != nil && *c.MaxAge < 0 {
		addError(r, "cors: maxAge must not be negative")
	}
}

func (h *HMACConfig) validate(r *[]ValidationResult) {
	if h.Enabled && len(h.Keys) == 0 {
		addWarn(r, "hmac: enabled with no keys configured, every request will be rejected")
	}
	for k, secret := range h.Keys {
		if secret == "" {
			addError(r, "hmac: key %q has an empty secret", k)
		}
	}
}

func (j *Job) validate(r *[]ValidationResult, i int, datasources map[string]bool) {
	if j.Name == "" {
		addError(r, "jobs[%d]: name is required", i)
	}
	if j.Schedule == "" {
		addError(r, "jobs[%d] %q: schedule is required", i, j.Name)
	}
	switch j.Type {
	case "exec":
		if j.Datasource == "" {
			addError(r, "jobs[%d] %q: datasource is required for exec jobs", i, j.Name)
		} else if !datasources[j.Datasource] {
			addError(r, "jobs[%d] %q: unknown datasource %q", i, j.Name, j.Datasource)
		}
		if j.Script == "" {
			addError(r, "jobs[%d] %q: script is required for exec jobs", i, j.Name)
		}
	case "pipeline":
		if j.Pipeline == "" {
			addError(r, "jobs[%d] %q: pipeline is required for pipeline jobs", i, j.Name)
		}
	default:
		addError(r, "jobs[%d] %q: invalid type %q", i, j.Name, j.Type)
	}
}
