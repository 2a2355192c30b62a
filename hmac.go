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
	"net"
	"net/http"
)

// Keystore maps an X-Public-Key header value to its shared secret
// (spec.md §6 "HMAC"). It is shared mutable state read by every request
// (spec.md §5) but never mutated after startup in the core; an admin API
// to rotate keys, if any, must synchronize externally.
type Keystore map[string]string

// VerifyHMAC checks the X-Request-Signature header against
// hex(HMAC-SHA1(secret, method‖path‖body)), per spec.md §4.F step 2 and §6.
// Requests from a trusted loopback address are exempted when
// cfg.TrustLoopback is set.
func VerifyHMAC(cfg *HMACConfig, keys Keystore, remoteAddr, method, path string, body []byte, sig, publicKey string) error {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	if cfg.TrustLoopback && isLoopback(remoteAddr) {
		return nil
	}
	if sig == "" || publicKey == "" {
		return NewErrorf(ErrUnauthorized, "missing signature")
	}
	secret, ok := keys[publicKey]
	if !ok {
		return NewErrorf(ErrUnauthorized, "unknown public key")
	}

	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(method))
	mac.Write([]byte(path))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	given, err := hex.DecodeString(sig)
	if err != nil || !hmac.Equal(given, mustDecodeHex(expected)) {
		return NewErrorf(ErrUnauthorized, "signature mismatch")
	}
	return nil
}

func mustDecodeHex(s string) []byte {
	b, _ := hex.DecodeString(s)
	return b
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// headerSignature and headerPublicKey name the two headers carrying HMAC
// auth.
const (
	headerSignature = "X-Request-Signature"
	headerPublicKey = "X-Public-Key"
)

func hmacHeaders(r *http.Request) (sig, publicKey string) {
	return r.Header.Get(headerSignature), r.Header.Get(headerPublicKey)
}
