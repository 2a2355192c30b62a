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

func TestValidateRequiresVersionAndRoutesFile(t *testing.T) {
	c := &GatewayConfig{}
	err := c.IsValid()
	require.Error(t, err)
}

func TestValidateMinimalConfigIsValid(t *testing.T) {
	c := &GatewayConfig{
		Version:    SchemaVersion,
		RoutesFile: "routes.txt",
		Datasources: []Datasource{
			{Name: "main", Host: "localhost", Database: "app"},
		},
	}
	assert.NoError(t, c.IsValid())
}

func TestValidateDuplicateDatasourceNameIsError(t *testing.T) {
	c := &GatewayConfig{
		Version:    SchemaVersion,
		RoutesFile: "routes.txt",
		Datasources: []Datasource{
			{Name: "main", Host: "localhost"},
			{Name: "main", Host: "otherhost"},
		},
	}
	require.Error(t, c.IsValid())
}

func TestValidateMultipleDefaultsIsError(t *testing.T) {
	c := &GatewayConfig{
		Version:    SchemaVersion,
		RoutesFile: "routes.txt",
		Datasources: []Datasource{
			{Name: "a", Default: true},
			{Name: "b", Default: true},
		},
	}
	require.Error(t, c.IsValid())
}

func TestValidateUnknownEventsDatasourceIsError(t *testing.T) {
	c := &GatewayConfig{
		Version:          SchemaVersion,
		RoutesFile:       "routes.txt",
		Datasources:      []Datasource{{Name: "main"}},
		EventsDatasource: "ghost",
	}
	require.Error(t, c.IsValid())
}

func TestValidateHMACEnabledNoKeysIsWarning(t *testing.T) {
	c := &GatewayConfig{
		Version:     SchemaVersion,
		RoutesFile:  "routes.txt",
		Datasources: []Datasource{{Name: "main", Host: "localhost"}},
		HMAC:        &HMACConfig{Enabled: true},
	}
	require.NoError(t, c.IsValid())
	found := false
	for _, r := range c.Validate() {
		if r.Warn {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidateJobRequiresDatasourceForExec(t *testing.T) {
	c := &GatewayConfig{
		Version:     SchemaVersion,
		RoutesFile:  "routes.txt",
		Datasources: []Datasource{{Name: "main"}},
		Jobs:        []Job{{Name: "nightly", Schedule: "@daily", Type: "exec", Script: "vacuum"}},
	}
	require.Error(t, c.IsValid())
}
