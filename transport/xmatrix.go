// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package transport

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bitmark-inc/matrixd/event"
	"github.com/bitmark-inc/matrixd/fault"
)

// XMatrix - one parsed X-Matrix Authorization header
type XMatrix struct {
	Origin    string
	KeyID     string
	Signature string
}

// FormatXMatrix - render an Authorization header value
func FormatXMatrix(origin string, keyID string, signature string) string {
	return fmt.Sprintf("X-Matrix origin=%s,key=%q,sig=%q", origin, keyID, signature)
}

// ParseXMatrix - parse an Authorization header value
//
// unknown parameters are ignored; all three known ones are required
func ParseXMatrix(header string) (XMatrix, error) {
	const scheme = "X-Matrix "

	result := XMatrix{}
	if !strings.HasPrefix(header, scheme) {
		return result, fault.UnauthorisedRequest
	}

	for _, parameter := range strings.Split(header[len(scheme):], ",") {
		pair := strings.SplitN(strings.TrimSpace(parameter), "=", 2)
		if 2 != len(pair) {
			return result, fault.UnauthorisedRequest
		}
		value := strings.Trim(pair[1], `"`)
		switch pair[0] {
		case "origin":
			result.Origin = value
		case "key":
			result.KeyID = value
		case "sig":
			result.Signature = value
		}
	}

	if "" == result.Origin || "" == result.KeyID || "" == result.Signature {
		return result, fault.UnauthorisedRequest
	}
	return result, nil
}

// SigningObject - the JSON object covered by request signatures
//
// content is nil for bodyless requests and must be the exact JSON
// sent or received otherwise
func SigningObject(method string, uri string, origin string, destination string, content json.RawMessage) (event.Object, error) {
	object := event.Object{
		"method":      method,
		"uri":         uri,
		"origin":      origin,
		"destination": destination,
	}
	if nil != content {
		decoded, err := event.DecodeObject(content)
		if nil != err {
			return nil, err
		}
		object["content"] = map[string]interface{}(decoded)
	}
	return object, nil
}
