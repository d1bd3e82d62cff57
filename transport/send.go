// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"io/ioutil"
	"net/http"

	"github.com/bitmark-inc/logger"

	"github.com/bitmark-inc/matrixd/event"
	"github.com/bitmark-inc/matrixd/fault"
	"github.com/bitmark-inc/matrixd/mode"
)

const responseLimit = 50 * 1024 * 1024 // transactions can be large

// error document returned by remote servers
type remoteErrorResponse struct {
	Code    string `json:"errcode"`
	Message string `json:"error"`
}

// SendRequest - dispatch a signed federation request
//
// uri is the path with query string and is covered by the signature.
// content is marshalled as the JSON body when non-nil; reply is
// decoded from a successful response when non-nil
func SendRequest(ctx context.Context, destination string, method string, uri string, content interface{}, reply interface{}) error {
	globalData.RLock()
	initialised := globalData.initialised
	origin := globalData.serverName
	keyID := globalData.keyID
	privateKey := globalData.privateKey
	globalData.RUnlock()

	if !initialised {
		return fault.NotInitialised
	}
	if destination == origin {
		return fault.DestinationNotValid
	}
	if !mode.IsFederationAllowed() {
		return fault.FederationDisabled
	}

	log := globalData.log

	var body []byte
	if nil != content {
		var err error
		body, err = json.Marshal(content)
		if nil != err {
			return err
		}
	}

	signingObject, err := SigningObject(method, uri, origin, destination, body)
	if nil != err {
		return err
	}
	if err := event.SignJSON(origin, keyID, privateKey, signingObject); nil != err {
		return err
	}

	resolved, wasCached := lookupDestination(destination)

	var reader io.Reader
	if nil != body {
		reader = bytes.NewReader(body)
	}
	request, err := http.NewRequest(method, resolved.actual.BaseURL()+uri, reader)
	if nil != err {
		return err
	}
	request = request.WithContext(ctx)
	request.Host = resolved.tlsName.HostHeader()
	if nil != body {
		request.Header.Set("Content-Type", "application/json")
	}

	signatures, _ := signingObject["signatures"].(map[string]interface{})
	if ownSignatures, ok := signatures[origin].(map[string]interface{}); ok {
		for id, signature := range ownSignatures {
			if s, ok := signature.(string); ok {
				request.Header.Add("Authorization", FormatXMatrix(origin, id, s))
			}
		}
	}

	log.Debugf("%s %s → %s", method, uri, destination)

	response, err := globalData.client.Do(request)
	if nil != err {
		log.Warnf("request to: %q failed: %s", destination, err)
		return err
	}
	defer response.Body.Close()

	responseBody, err := ioutil.ReadAll(io.LimitReader(response.Body, responseLimit))
	if nil != err {
		return fault.BadServerResponse
	}

	if response.StatusCode < 200 || response.StatusCode > 299 {
		remote := remoteErrorResponse{}
		if err := json.Unmarshal(responseBody, &remote); nil != err || "" == remote.Code {
			remote.Code = "M_UNKNOWN"
			remote.Message = response.Status
		}
		logRemoteError(log, destination, remote)
		return &fault.RemoteError{
			Origin:  destination,
			Code:    remote.Code,
			Message: remote.Message,
		}
	}

	// the first success validates a fresh resolution
	if !wasCached {
		commitDestination(destination, resolved)
	}

	if nil != reply {
		if err := json.Unmarshal(responseBody, reply); nil != err {
			log.Warnf("malformed response from: %q: %s", destination, err)
			return fault.BadServerResponse
		}
	}
	return nil
}

// routine rejections stay out of the warning log
func logRemoteError(log *logger.L, destination string, remote remoteErrorResponse) {
	if "Room is unknown to this server." == remote.Message {
		log.Debugf("error from: %q: %s: %s", destination, remote.Code, remote.Message)
		return
	}
	log.Warnf("error from: %q: %s: %s", destination, remote.Code, remote.Message)
}
