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
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(secret, method, path string, body []byte) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(method))
	mac.Write([]byte(path))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyHMACDisabledAlwaysPasses(t *testing.T) {
	err := VerifyHMAC(&HMACConfig{Enabled: false}, nil, "1.2.3.4:1111", "GET", "/x", nil, "", "")
	require.NoError(t, err)
}

func TestVerifyHMACValidSignature(t *testing.T) {
	cfg := &HMACConfig{Enabled: true}
	keys := Keystore{"pub1": "secret"}
	body := []byte(`{"a":1}`)
	sig := sign("secret", "POST", "/order", body)
	err := VerifyHMAC(cfg, keys, "203.0.113.5:5555", "POST", "/order", body, sig, "pub1")
	require.NoError(t, err)
}

func TestVerifyHMACBadSignature(t *testing.T) {
	cfg := &HMACConfig{Enabled: true}
	keys := Keystore{"pub1": "secret"}
	err := VerifyHMAC(cfg, keys, "203.0.113.5:5555", "POST", "/order", []byte(`{}`), "deadbeef", "pub1")
	var ge *GatewayError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, ErrUnauthorized, ge.Kind)
}

func TestVerifyHMACUnknownPublicKey(t *testing.T) {
	cfg := &HMACConfig{Enabled: true}
	keys := Keystore{"pub1": "secret"}
	err := VerifyHMAC(cfg, keys, "203.0.113.5:5555", "POST", "/order", []byte(`{}`), "aa", "pub2")
	require.Error(t, err)
}

func TestVerifyHMACLoopbackExempt(t *testing.T) {
	cfg := &HMACConfig{Enabled: true, TrustLoopback: true}
	err := VerifyHMAC(cfg, Keystore{}, "127.0.0.1:9999", "GET", "/x", nil, "", "")
	require.NoError(t, err)
}

func TestVerifyHMACLoopbackNotTrustedByDefault(t *testing.T) {
	cfg := &HMACConfig{Enabled: true, TrustLoopback: false}
	err := VerifyHMAC(cfg, Keystore{}, "127.0.0.1:9999", "GET", "/x", nil, "", "")
	require.Error(t, err)
}
