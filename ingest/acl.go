// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ingest

import (
	"encoding/json"
	"net"

	"github.com/bitmark-inc/matrixd/event"
	"github.com/bitmark-inc/matrixd/fault"
	"github.com/bitmark-inc/matrixd/roomstore"
)

// content of an m.room.server_acl state event
type aclContent struct {
	Allow           []string `json:"allow"`
	Deny            []string `json:"deny"`
	AllowIPLiterals *bool    `json:"allow_ip_literals"`
}

// AclCheck - test a server against a room's ACL event
//
// a room without an ACL event, or with one that does not decode,
// admits every server
func AclCheck(serverName string, roomID string) error {
	object, ok := roomstore.CurrentStateEvent(roomID, event.TypeServerAcl, "")
	if !ok {
		return nil
	}

	rawContent, ok := object["content"]
	if !ok {
		return nil
	}
	packed, err := json.Marshal(rawContent)
	if nil != err {
		return nil
	}
	content := aclContent{}
	if err := json.Unmarshal(packed, &content); nil != err {
		if nil != globalData.log {
			globalData.log.Warnf("room: %q has unparsable ACL event", roomID)
		}
		return nil
	}

	allowIPLiterals := true
	if nil != content.AllowIPLiterals {
		allowIPLiterals = *content.AllowIPLiterals
	}

	if !allowIPLiterals {
		host := serverName
		if h, _, err := net.SplitHostPort(serverName); nil == err {
			host = h
		}
		if nil != net.ParseIP(host) {
			return fault.ServerDeniedByAcl
		}
	}

	for _, pattern := range content.Deny {
		if globMatch(pattern, serverName) {
			return fault.ServerDeniedByAcl
		}
	}
	for _, pattern := range content.Allow {
		if globMatch(pattern, serverName) {
			return nil
		}
	}
	return fault.ServerDeniedByAcl
}

// glob match with '*' for any run and '?' for one character
//
// server names never contain separators so no character is special
// beyond the two wildcards
func globMatch(pattern string, name string) bool {
	// iterative with single backtrack point
	px := 0
	nx := 0
	nextPx := 0
	nextNx := 0
	for px < len(pattern) || nx < len(name) {
		if px < len(pattern) {
			switch pattern[px] {
			case '*':
				nextPx = px
				nextNx = nx + 1
				px += 1
				continue
			case '?':
				if nx < len(name) {
					px += 1
					nx += 1
					continue
				}
			default:
				if nx < len(name) && name[nx] == pattern[px] {
					px += 1
					nx += 1
					continue
				}
			}
		}
		if 0 < nextNx && nextNx <= len(name) {
			px = nextPx
			nx = nextNx
			continue
		}
		return false
	}
	return true
}
