// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package federationapi

import (
	"encoding/json"
	"net/http"

	"github.com/bitmark-inc/matrixd/fault"
)

// matrix wire error codes
const (
	codeUnknown       = "M_UNKNOWN"
	codeNotFound      = "M_NOT_FOUND"
	codeForbidden     = "M_FORBIDDEN"
	codeUnauthorized  = "M_UNAUTHORIZED"
	codeLimitExceeded = "M_LIMIT_EXCEEDED"
	codeUnsupported   = "M_INCOMPATIBLE_ROOM_VERSION"
	codeBadJSON       = "M_BAD_JSON"
)

func sendJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func sendError(w http.ResponseWriter, status int, code string, message string) {
	sendJSON(w, status, map[string]string{
		"errcode": code,
		"error":   message,
	})
}

// map a fault to its federation wire form
func sendFault(w http.ResponseWriter, err error) {
	switch {
	case fault.RoomUnknown == err:
		sendError(w, http.StatusNotFound, codeNotFound, err.Error())
	case fault.EventNotFound == err || fault.RoomAliasNotFound == err || fault.StateNotFound == err:
		sendError(w, http.StatusNotFound, codeNotFound, err.Error())
	case fault.ServerDeniedByAcl == err || fault.ServerNotInRoom == err:
		sendError(w, http.StatusForbidden, codeForbidden, err.Error())
	case fault.RestrictedRoomUnsupported == err:
		sendError(w, http.StatusForbidden, codeForbidden, err.Error())
	case fault.EvilEventInDatabase == err:
		sendError(w, http.StatusForbidden, codeForbidden, err.Error())
	case fault.IncompatibleRoomVersion == err:
		sendError(w, http.StatusBadRequest, codeUnsupported, err.Error())
	case fault.UnauthorisedRequest == err:
		sendError(w, http.StatusUnauthorized, codeUnauthorized, err.Error())
	case fault.RateLimiting == err:
		sendError(w, http.StatusTooManyRequests, codeLimitExceeded, err.Error())
	case fault.FederationDisabled == err:
		sendError(w, http.StatusForbidden, codeForbidden, err.Error())
	case fault.IsErrInvalid(err):
		sendError(w, http.StatusBadRequest, codeBadJSON, err.Error())
	default:
		sendError(w, http.StatusInternalServerError, codeUnknown, err.Error())
	}
}
