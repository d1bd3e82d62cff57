// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package federationapi

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"golang.org/x/crypto/ed25519"
	"golang.org/x/time/rate"

	"github.com/bitmark-inc/logger"

	"github.com/bitmark-inc/matrixd/event"
	"github.com/bitmark-inc/matrixd/fault"
	"github.com/bitmark-inc/matrixd/fixtures"
	"github.com/bitmark-inc/matrixd/ingest"
	"github.com/bitmark-inc/matrixd/keyring"
	"github.com/bitmark-inc/matrixd/mode"
	"github.com/bitmark-inc/matrixd/roomstore"
	"github.com/bitmark-inc/matrixd/transport"
)

const (
	remoteServer = "b.example"
	remoteKeyID  = "ed25519:remote"
)

var (
	remotePrivateKey ed25519.PrivateKey
	testRouter       *chi.Mux
)

func TestMain(m *testing.M) {
	fixtures.SetupTestLogger()
	if err := fixtures.SetupTestStorage(); nil != err {
		fixtures.TeardownTestLogger()
		os.Exit(1)
	}
	if err := keyring.Initialise(fixtures.ServerName, fixtures.KeyID, fixtures.PrivateKey, nil); nil != err {
		os.Exit(1)
	}
	if err := ingest.Initialise(nil); nil != err {
		os.Exit(1)
	}
	if err := mode.Initialise(true); nil != err {
		os.Exit(1)
	}
	mode.Set(mode.Normal)

	var remotePublicKey ed25519.PublicKey
	var err error
	remotePublicKey, remotePrivateKey, err = ed25519.GenerateKey(nil)
	if nil != err {
		os.Exit(1)
	}
	_, err = roomstore.MergeServerKeys(remoteServer, map[string]string{
		remoteKeyID: base64.RawStdEncoding.EncodeToString(remotePublicKey),
	})
	if nil != err {
		os.Exit(1)
	}

	handler := &httpHandler{
		log:     logger.New("test-federationapi"),
		limiter: rate.NewLimiter(1000, 1000),
		version: "0.0-test",
		start:   time.Now(),
	}
	testRouter = newRouter(handler)

	result := m.Run()

	mode.Finalise()
	_ = ingest.Finalise()
	_ = keyring.Finalise()
	fixtures.TeardownTestStorage()
	fixtures.TeardownTestLogger()
	os.Exit(result)
}

func signedRequest(t *testing.T, method string, target string, body []byte) *http.Request {
	var content json.RawMessage
	if 0 != len(body) {
		content = body
	}
	object, err := transport.SigningObject(method, target, remoteServer, fixtures.ServerName, content)
	if nil != err {
		t.Fatalf("signing object failed: %s", err)
	}
	if err := event.SignJSON(remoteServer, remoteKeyID, remotePrivateKey, object); nil != err {
		t.Fatalf("sign failed: %s", err)
	}
	signature := object["signatures"].(map[string]interface{})[remoteServer].(map[string]interface{})[remoteKeyID].(string)

	request := httptest.NewRequest(method, target, bytes.NewReader(body))
	request.Header.Set("Authorization", transport.FormatXMatrix(remoteServer, remoteKeyID, signature))
	return request
}

func do(request *http.Request) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	testRouter.ServeHTTP(recorder, request)
	return recorder
}

func TestVersionUnauthenticated(t *testing.T) {
	response := do(httptest.NewRequest("GET", "/_matrix/federation/v1/version", nil))
	assert.Equal(t, http.StatusOK, response.Code, "wrong status")
	assert.Contains(t, response.Body.String(), serverName, "server name missing")
}

func TestVersionReportsRequestStats(t *testing.T) {
	type versionBody struct {
		Stats struct {
			Requests uint64 `json:"requests"`
		} `json:"stats"`
	}

	before := versionBody{}
	response := do(httptest.NewRequest("GET", "/_matrix/federation/v1/version", nil))
	assert.Nil(t, json.Unmarshal(response.Body.Bytes(), &before), "undecodable response")

	// any authenticated endpoint advances the counter
	do(signedRequest(t, "GET", "/_matrix/federation/v1/query/directory?room_alias=%23x%3Aa.example", nil))

	after := versionBody{}
	response = do(httptest.NewRequest("GET", "/_matrix/federation/v1/version", nil))
	assert.Nil(t, json.Unmarshal(response.Body.Bytes(), &after), "undecodable response")
	assert.True(t, after.Stats.Requests > before.Stats.Requests, "request counter not advancing")
}

func TestFaultStatusMapping(t *testing.T) {
	recorder := httptest.NewRecorder()
	sendFault(recorder, fault.EvilEventInDatabase)
	assert.Equal(t, http.StatusForbidden, recorder.Code, "wrong status")
	assert.Contains(t, recorder.Body.String(), codeForbidden, "wrong error code")

	recorder = httptest.NewRecorder()
	sendFault(recorder, fault.FederationDisabled)
	assert.Equal(t, http.StatusForbidden, recorder.Code, "wrong status")
	assert.Contains(t, recorder.Body.String(), codeForbidden, "wrong error code")
}

func TestLocalKeysUnauthenticated(t *testing.T) {
	response := do(httptest.NewRequest("GET", "/_matrix/key/v2/server", nil))
	assert.Equal(t, http.StatusOK, response.Code, "wrong status")
	assert.Contains(t, response.Body.String(), "verify_keys", "key document missing")
	assert.Contains(t, response.Body.String(), fixtures.ServerName, "server name missing")
}

func TestSendRequiresAuthentication(t *testing.T) {
	request := httptest.NewRequest("PUT", "/_matrix/federation/v1/send/txn1", bytes.NewReader([]byte(`{"pdus":[]}`)))
	response := do(request)
	assert.Equal(t, http.StatusUnauthorized, response.Code, "unsigned request accepted")
}

func TestSendUnknownRoom(t *testing.T) {
	pdu, err := json.Marshal(map[string]interface{}{
		"room_id": "!missing:a.example",
		"type":    "m.room.message",
		"sender":  "@u:b.example",
		"content": map[string]interface{}{},
	})
	assert.Nil(t, err, "marshal failed")
	eventID, _, err := event.DeriveEventID(pdu)
	assert.Nil(t, err, "derive failed")

	body, err := json.Marshal(map[string]interface{}{
		"origin": remoteServer,
		"pdus":   []json.RawMessage{pdu},
	})
	assert.Nil(t, err, "marshal failed")

	response := do(signedRequest(t, "PUT", "/_matrix/federation/v1/send/txn2", body))
	assert.Equal(t, http.StatusOK, response.Code, "wrong status: %s", response.Body.String())

	result := struct {
		PDUs map[string]map[string]string `json:"pdus"`
	}{}
	assert.Nil(t, json.Unmarshal(response.Body.Bytes(), &result), "undecodable response")
	assert.Equal(t, "Room is unknown to this server.", result.PDUs[eventID]["error"], "wrong per-event result")
}

func TestSendOriginMismatch(t *testing.T) {
	body := []byte(`{"origin":"imposter.example","pdus":[]}`)
	response := do(signedRequest(t, "PUT", "/_matrix/federation/v1/send/txn3", body))
	assert.Equal(t, http.StatusForbidden, response.Code, "mismatched origin accepted")
}

func storeEvent(t *testing.T, roomID string, fields map[string]interface{}) string {
	object := map[string]interface{}{
		"room_id": roomID,
		"type":    "m.room.message",
		"sender":  "@u:a.example",
		"content": map[string]interface{}{},
	}
	for key, value := range fields {
		object[key] = value
	}
	raw, err := json.Marshal(object)
	if nil != err {
		t.Fatalf("marshal failed: %s", err)
	}
	eventID, _, err := event.DeriveEventID(raw)
	if nil != err {
		t.Fatalf("derive failed: %s", err)
	}
	if err := roomstore.PutEvent(eventID, roomID, raw); nil != err {
		t.Fatalf("put failed: %s", err)
	}
	return eventID
}

func TestEventEndpoint(t *testing.T) {
	const room = "!events:a.example"
	roomstore.SetRoomVersion(room, "6")
	roomstore.AddRoomServer(room, remoteServer)

	eventID := storeEvent(t, room, nil)

	response := do(signedRequest(t, "GET", "/_matrix/federation/v1/event/"+eventID, nil))
	assert.Equal(t, http.StatusOK, response.Code, "wrong status: %s", response.Body.String())
	assert.Contains(t, response.Body.String(), room, "event missing from response")
}

func TestEventEndpointOutsiderDenied(t *testing.T) {
	const room = "!private:a.example"
	roomstore.SetRoomVersion(room, "6")
	// remoteServer deliberately not added to the room

	eventID := storeEvent(t, room, nil)

	response := do(signedRequest(t, "GET", "/_matrix/federation/v1/event/"+eventID, nil))
	assert.Equal(t, http.StatusForbidden, response.Code, "outsider allowed")
}

func TestGetMissingEvents(t *testing.T) {
	const room = "!walk:a.example"
	roomstore.SetRoomVersion(room, "6")
	roomstore.AddRoomServer(room, remoteServer)

	a := storeEvent(t, room, map[string]interface{}{"prev_events": []string{}})
	b := storeEvent(t, room, map[string]interface{}{"prev_events": []string{a}})
	c := storeEvent(t, room, map[string]interface{}{"prev_events": []string{b}})

	body, err := json.Marshal(map[string]interface{}{
		"earliest_events": []string{a},
		"latest_events":   []string{c},
		"limit":           10,
	})
	assert.Nil(t, err, "marshal failed")

	response := do(signedRequest(t, "POST", "/_matrix/federation/v1/get_missing_events/"+room, body))
	assert.Equal(t, http.StatusOK, response.Code, "wrong status: %s", response.Body.String())

	result := struct {
		Events []json.RawMessage `json:"events"`
	}{}
	assert.Nil(t, json.Unmarshal(response.Body.Bytes(), &result), "undecodable response")
	assert.Equal(t, 2, len(result.Events), "wrong event count")
	for _, raw := range result.Events {
		eventID, _, err := event.DeriveEventID(raw)
		assert.Nil(t, err, "derive failed")
		assert.NotEqual(t, a, eventID, "earliest event included")
	}
}

func TestQueryDirectory(t *testing.T) {
	const room = "!directory:a.example"
	roomstore.SetRoomVersion(room, "6")
	roomstore.AddRoomServer(room, fixtures.ServerName)
	roomstore.SetRoomAlias("#lobby:a.example", room)

	response := do(signedRequest(t, "GET", "/_matrix/federation/v1/query/directory?room_alias=%23lobby%3Aa.example", nil))
	assert.Equal(t, http.StatusOK, response.Code, "wrong status: %s", response.Body.String())
	assert.Contains(t, response.Body.String(), room, "room id missing")

	response = do(signedRequest(t, "GET", "/_matrix/federation/v1/query/directory?room_alias=%23nowhere%3Aa.example", nil))
	assert.Equal(t, http.StatusNotFound, response.Code, "missing alias found")
}

func TestMakeJoinEndpoint(t *testing.T) {
	const room = "!joinme:a.example"
	roomstore.SetRoomVersion(room, "6")

	target := "/_matrix/federation/v1/make_join/" + room + "/@joiner:b.example?ver=6"
	response := do(signedRequest(t, "GET", target, nil))
	assert.Equal(t, http.StatusOK, response.Code, "wrong status: %s", response.Body.String())
	assert.Contains(t, response.Body.String(), `"room_version":"6"`, "room version missing")

	// a server cannot request a join for another server's user
	target = "/_matrix/federation/v1/make_join/" + room + "/@joiner:c.example?ver=6"
	response = do(signedRequest(t, "GET", target, nil))
	assert.Equal(t, http.StatusForbidden, response.Code, "foreign user join accepted")
}

func TestStateIdsEndpoint(t *testing.T) {
	const room = "!stately:a.example"
	roomstore.SetRoomVersion(room, "6")
	roomstore.AddRoomServer(room, remoteServer)

	createID := storeEvent(t, room, map[string]interface{}{"type": event.TypeCreate, "state_key": ""})
	assert.Nil(t, roomstore.SetCurrentState(room, "snap-1", []string{createID}), "state failed")

	response := do(signedRequest(t, "GET", "/_matrix/federation/v1/state_ids/"+room, nil))
	assert.Equal(t, http.StatusOK, response.Code, "wrong status: %s", response.Body.String())
	assert.Contains(t, response.Body.String(), createID, "state id missing")
}
