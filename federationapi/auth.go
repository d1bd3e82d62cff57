// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package federationapi

import (
	"io"
	"io/ioutil"
	"net/http"
	"sync/atomic"

	"github.com/bitmark-inc/matrixd/fault"
	"github.com/bitmark-inc/matrixd/federationapi/ratelimit"
	"github.com/bitmark-inc/matrixd/keyring"
	"github.com/bitmark-inc/matrixd/mode"
	"github.com/bitmark-inc/matrixd/transport"
)

const requestBodyLimit = 50 * 1024 * 1024

// requests served since startup
var requestCount uint64

// a handler that runs after X-Matrix authentication
type authenticatedHandler func(w http.ResponseWriter, r *http.Request, origin string, body []byte)

// authenticated - wrap a handler with rate limiting, the federation
// mode gate and X-Matrix verification
func (s *httpHandler) authenticated(next authenticatedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		atomic.AddUint64(&requestCount, 1)

		if err := ratelimit.Limit(s.limiter); nil != err {
			sendFault(w, err)
			return
		}

		if !mode.IsFederationAllowed() {
			sendFault(w, fault.FederationDisabled)
			return
		}

		body, err := ioutil.ReadAll(io.LimitReader(r.Body, requestBodyLimit))
		if nil != err {
			sendError(w, http.StatusBadRequest, codeBadJSON, "unreadable request body")
			return
		}

		origin, err := verifyXMatrix(r, body)
		if nil != err {
			s.log.Warnf("authentication failed: %s %s: %s", r.Method, r.URL.Path, err)
			sendFault(w, err)
			return
		}

		next(w, r, origin, body)
	}
}

// verifyXMatrix - check the request signature against the sending
// server's published keys
//
// every X-Matrix header must name the same origin; the signing
// object is rebuilt from the wire data exactly as the sender built it
func verifyXMatrix(r *http.Request, body []byte) (string, error) {
	headers := r.Header["Authorization"]
	if 0 == len(headers) {
		return "", fault.UnauthorisedRequest
	}

	origin := ""
	signatures := map[string]interface{}{}
	for _, header := range headers {
		parsed, err := transport.ParseXMatrix(header)
		if nil != err {
			return "", err
		}
		if "" == origin {
			origin = parsed.Origin
		} else if origin != parsed.Origin {
			return "", fault.UnauthorisedRequest
		}
		signatures[parsed.KeyID] = parsed.Signature
	}

	var content []byte
	if 0 != len(body) {
		content = body
	}
	object, err := transport.SigningObject(r.Method, r.RequestURI, origin, keyring.ServerName(), content)
	if nil != err {
		return "", err
	}
	object["signatures"] = map[string]interface{}{
		origin: signatures,
	}

	if err := keyring.VerifyOrigin(r.Context(), object, origin); nil != err {
		return "", err
	}
	return origin, nil
}
