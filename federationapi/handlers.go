// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package federationapi

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/bitmark-inc/logger"

	"github.com/bitmark-inc/matrixd/authchain"
	"github.com/bitmark-inc/matrixd/event"
	"github.com/bitmark-inc/matrixd/fault"
	"github.com/bitmark-inc/matrixd/ingest"
	"github.com/bitmark-inc/matrixd/join"
	"github.com/bitmark-inc/matrixd/keyring"
	"github.com/bitmark-inc/matrixd/roomstore"
)

const (
	serverName = "matrixd"

	defaultMissingEventsLimit = 10
	maximumMissingEventsLimit = 20
)

// the argument passed to the handlers
type httpHandler struct {
	log     *logger.L
	limiter *rate.Limiter
	version string
	start   time.Time
}

// GET /_matrix/federation/v1/version
//
// the stats block is an extension for operators: authenticated
// requests served and time running
func (s *httpHandler) serverVersion(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, map[string]interface{}{
		"server": map[string]string{
			"name":    serverName,
			"version": s.version,
		},
		"stats": map[string]interface{}{
			"requests": atomic.LoadUint64(&requestCount),
			"uptime":   uint64(time.Since(s.start).Seconds()),
		},
	})
}

// GET /_matrix/key/v2/server[/{keyId}]
//
// the keyId path component is accepted and ignored: the full
// document is the answer either way
func (s *httpHandler) localKeys(w http.ResponseWriter, r *http.Request) {
	document, err := keyring.LocalKeyDocument()
	if nil != err {
		sendFault(w, err)
		return
	}
	sendJSON(w, http.StatusOK, document)
}

func (s *httpHandler) notFound(w http.ResponseWriter, r *http.Request) {
	sendError(w, http.StatusNotFound, codeNotFound, "unknown endpoint")
}

type transactionBody struct {
	Origin string            `json:"origin"`
	PDUs   []json.RawMessage `json:"pdus"`
	EDUs   []json.RawMessage `json:"edus"`
}

// PUT /_matrix/federation/v1/send/{txnId}
func (s *httpHandler) send(w http.ResponseWriter, r *http.Request, origin string, body []byte) {
	transaction := transactionBody{}
	if err := json.Unmarshal(body, &transaction); nil != err {
		sendError(w, http.StatusBadRequest, codeBadJSON, "transaction is not valid JSON")
		return
	}

	// the signed envelope decides who is talking, not the body
	if "" != transaction.Origin && transaction.Origin != origin {
		sendError(w, http.StatusForbidden, codeForbidden, "origin does not match request signer")
		return
	}

	results, err := ingest.ProcessTransaction(r.Context(), origin, transaction.PDUs, transaction.EDUs)
	if nil != err {
		sendFault(w, err)
		return
	}

	pdus := make(map[string]map[string]string, len(results))
	for eventID, message := range results {
		entry := map[string]string{}
		if "" != message {
			entry["error"] = message
		}
		pdus[eventID] = entry
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{"pdus": pdus})
}

// a server may only read from rooms it participates in
func roomReadCheck(origin string, roomID string) error {
	if !roomstore.RoomExists(roomID) {
		return fault.RoomUnknown
	}
	if !roomstore.ServerInRoom(origin, roomID) {
		return fault.ServerNotInRoom
	}
	return ingest.AclCheck(origin, roomID)
}

// GET /_matrix/federation/v1/event/{eventId}
func (s *httpHandler) event(w http.ResponseWriter, r *http.Request, origin string, body []byte) {
	eventID := chi.URLParam(r, "eventId")

	pdu, ok := roomstore.GetEvent(eventID)
	if !ok {
		sendFault(w, fault.EventNotFound)
		return
	}
	if err := roomReadCheck(origin, pdu.RoomID); nil != err {
		sendFault(w, err)
		return
	}

	raw, _ := roomstore.GetEventJSON(eventID)
	sendJSON(w, http.StatusOK, map[string]interface{}{
		"origin":           keyring.ServerName(),
		"origin_server_ts": time.Now().UnixNano() / int64(time.Millisecond),
		"pdus":             []json.RawMessage{json.RawMessage(raw)},
	})
}

type missingEventsBody struct {
	EarliestEvents []string `json:"earliest_events"`
	LatestEvents   []string `json:"latest_events"`
	Limit          int      `json:"limit"`
}

// POST /_matrix/federation/v1/get_missing_events/{roomId}
//
// breadth-first walk backwards through prev_events from the latest
// events, stopping at the earliest set and the limit
func (s *httpHandler) getMissingEvents(w http.ResponseWriter, r *http.Request, origin string, body []byte) {
	roomID := chi.URLParam(r, "roomId")
	if err := roomReadCheck(origin, roomID); nil != err {
		sendFault(w, err)
		return
	}

	request := missingEventsBody{}
	if err := json.Unmarshal(body, &request); nil != err {
		sendError(w, http.StatusBadRequest, codeBadJSON, "request is not valid JSON")
		return
	}

	limit := request.Limit
	if limit <= 0 {
		limit = defaultMissingEventsLimit
	}
	if limit > maximumMissingEventsLimit {
		limit = maximumMissingEventsLimit
	}

	stop := make(map[string]struct{}, len(request.EarliestEvents))
	for _, id := range request.EarliestEvents {
		stop[id] = struct{}{}
	}

	events := []json.RawMessage{}
	visited := map[string]struct{}{}
	queue := append([]string{}, request.LatestEvents...)

queueLoop:
	for 0 != len(queue) && len(events) < limit {
		eventID := queue[0]
		queue = queue[1:]

		if _, ok := visited[eventID]; ok {
			continue queueLoop
		}
		visited[eventID] = struct{}{}

		if _, ok := stop[eventID]; ok {
			continue queueLoop
		}

		pdu, ok := roomstore.GetEvent(eventID)
		if !ok {
			continue queueLoop
		}
		if pdu.RoomID != roomID {
			s.log.Errorf("event: %q belongs to room: %q not: %q", eventID, pdu.RoomID, roomID)
			continue queueLoop
		}

		raw, _ := roomstore.GetEventJSON(eventID)
		events = append(events, json.RawMessage(raw))
		queue = append(queue, pdu.PrevEvents...)
	}

	sendJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

// GET /_matrix/federation/v1/event_auth/{roomId}/{eventId}
func (s *httpHandler) eventAuth(w http.ResponseWriter, r *http.Request, origin string, body []byte) {
	roomID := chi.URLParam(r, "roomId")
	eventID := chi.URLParam(r, "eventId")

	if err := roomReadCheck(origin, roomID); nil != err {
		sendFault(w, err)
		return
	}

	pdu, ok := roomstore.GetEvent(eventID)
	if !ok || pdu.RoomID != roomID {
		sendFault(w, fault.EventNotFound)
		return
	}

	chain, err := authchain.AuthChainFor(roomID, []string{eventID})
	if nil != err {
		sendFault(w, err)
		return
	}

	sendJSON(w, http.StatusOK, map[string]interface{}{
		"auth_chain": collectEvents(chain),
	})
}

// current state snapshot of a room with its auth chain, as ids
func currentStateWithChain(roomID string) ([]string, []string, error) {
	stateHash, ok := roomstore.CurrentStateHash(roomID)
	if !ok {
		return nil, nil, fault.StateNotFound
	}
	snapshot, ok := roomstore.StateSnapshot(stateHash)
	if !ok {
		return nil, nil, fault.StateNotFound
	}

	chain, err := authchain.AuthChainFor(roomID, snapshot)
	if nil != err {
		return nil, nil, err
	}
	return snapshot, chain, nil
}

// GET /_matrix/federation/v1/state/{roomId}
func (s *httpHandler) state(w http.ResponseWriter, r *http.Request, origin string, body []byte) {
	roomID := chi.URLParam(r, "roomId")
	if err := roomReadCheck(origin, roomID); nil != err {
		sendFault(w, err)
		return
	}

	snapshot, chain, err := currentStateWithChain(roomID)
	if nil != err {
		sendFault(w, err)
		return
	}

	sendJSON(w, http.StatusOK, map[string]interface{}{
		"pdus":       collectEvents(snapshot),
		"auth_chain": collectEvents(chain),
	})
}

// GET /_matrix/federation/v1/state_ids/{roomId}
func (s *httpHandler) stateIds(w http.ResponseWriter, r *http.Request, origin string, body []byte) {
	roomID := chi.URLParam(r, "roomId")
	if err := roomReadCheck(origin, roomID); nil != err {
		sendFault(w, err)
		return
	}

	snapshot, chain, err := currentStateWithChain(roomID)
	if nil != err {
		sendFault(w, err)
		return
	}

	sendJSON(w, http.StatusOK, map[string]interface{}{
		"pdu_ids":        snapshot,
		"auth_chain_ids": chain,
	})
}

// GET /_matrix/federation/v1/make_join/{roomId}/{userId}
func (s *httpHandler) makeJoin(w http.ResponseWriter, r *http.Request, origin string, body []byte) {
	roomID := chi.URLParam(r, "roomId")
	userID := chi.URLParam(r, "userId")

	if event.UserServer(userID) != origin {
		sendError(w, http.StatusForbidden, codeForbidden, "user does not belong to requesting server")
		return
	}

	acceptedVersions := r.URL.Query()["ver"]
	if 0 == len(acceptedVersions) {
		acceptedVersions = []string{"1"}
	}

	version, template, err := join.MakeJoinTemplate(roomID, userID, acceptedVersions)
	if nil != err {
		sendFault(w, err)
		return
	}

	sendJSON(w, http.StatusOK, map[string]interface{}{
		"room_version": version,
		"event":        template,
	})
}

// PUT /_matrix/federation/v1/send_join/{roomId}/{eventId}
//
// the v1 response is wrapped in a status array for compatibility
func (s *httpHandler) sendJoinV1(w http.ResponseWriter, r *http.Request, origin string, body []byte) {
	response, err := s.acceptJoin(r, origin, body)
	if nil != err {
		sendFault(w, err)
		return
	}
	sendJSON(w, http.StatusOK, []interface{}{http.StatusOK, response})
}

// PUT /_matrix/federation/v2/send_join/{roomId}/{eventId}
func (s *httpHandler) sendJoinV2(w http.ResponseWriter, r *http.Request, origin string, body []byte) {
	response, err := s.acceptJoin(r, origin, body)
	if nil != err {
		sendFault(w, err)
		return
	}
	sendJSON(w, http.StatusOK, response)
}

func (s *httpHandler) acceptJoin(r *http.Request, origin string, body []byte) (*join.JoinResponse, error) {
	roomID := chi.URLParam(r, "roomId")
	return join.AcceptJoin(r.Context(), origin, roomID, body)
}

type inviteBody struct {
	Event           json.RawMessage   `json:"event"`
	RoomVersion     string            `json:"room_version"`
	InviteRoomState []json.RawMessage `json:"invite_room_state"`
}

// PUT /_matrix/federation/v2/invite/{roomId}/{eventId}
func (s *httpHandler) invite(w http.ResponseWriter, r *http.Request, origin string, body []byte) {
	roomID := chi.URLParam(r, "roomId")

	request := inviteBody{}
	if err := json.Unmarshal(body, &request); nil != err {
		sendError(w, http.StatusBadRequest, codeBadJSON, "invite is not valid JSON")
		return
	}

	inviteState := make([]event.Object, 0, len(request.InviteRoomState))
	for _, raw := range request.InviteRoomState {
		if object, err := event.DecodeObject(raw); nil == err {
			inviteState = append(inviteState, object)
		}
	}

	signed, err := join.AcceptInvite(roomID, request.RoomVersion, request.Event, inviteState)
	if nil != err {
		sendFault(w, err)
		return
	}

	sendJSON(w, http.StatusOK, map[string]interface{}{"event": signed})
}

// GET /_matrix/federation/v1/user/devices/{userId}
func (s *httpHandler) userDevices(w http.ResponseWriter, r *http.Request, origin string, body []byte) {
	userID := chi.URLParam(r, "userId")

	devices := []map[string]interface{}{}
	for _, deviceID := range roomstore.AllDeviceIds(userID) {
		entry := map[string]interface{}{"device_id": deviceID}
		if metadata, ok := roomstore.DeviceMetadata(userID, deviceID); ok {
			entry["keys"] = json.RawMessage(metadata)
		}
		devices = append(devices, entry)
	}

	sendJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":   userID,
		"stream_id": roomstore.DeviceListVersion(userID),
		"devices":   devices,
	})
}

type keysQueryBody struct {
	DeviceKeys map[string][]string `json:"device_keys"`
}

// POST /_matrix/federation/v1/user/keys/query
func (s *httpHandler) keysQuery(w http.ResponseWriter, r *http.Request, origin string, body []byte) {
	request := keysQueryBody{}
	if err := json.Unmarshal(body, &request); nil != err {
		sendError(w, http.StatusBadRequest, codeBadJSON, "query is not valid JSON")
		return
	}

	deviceKeys := map[string]map[string]json.RawMessage{}
	for userID, deviceIds := range request.DeviceKeys {
		// an empty list asks for every device
		if 0 == len(deviceIds) {
			deviceIds = roomstore.AllDeviceIds(userID)
		}
		keys := map[string]json.RawMessage{}
		for _, deviceID := range deviceIds {
			if metadata, ok := roomstore.DeviceMetadata(userID, deviceID); ok {
				keys[deviceID] = json.RawMessage(metadata)
			}
		}
		deviceKeys[userID] = keys
	}

	sendJSON(w, http.StatusOK, map[string]interface{}{"device_keys": deviceKeys})
}

// POST /_matrix/federation/v1/user/keys/claim
//
// one-time keys are not stored by this server
func (s *httpHandler) keysClaim(w http.ResponseWriter, r *http.Request, origin string, body []byte) {
	sendJSON(w, http.StatusOK, map[string]interface{}{
		"one_time_keys": map[string]interface{}{},
	})
}

// GET /_matrix/federation/v1/query/directory?room_alias=…
func (s *httpHandler) queryDirectory(w http.ResponseWriter, r *http.Request, origin string, body []byte) {
	alias := r.URL.Query().Get("room_alias")
	if "" == alias {
		sendError(w, http.StatusBadRequest, codeBadJSON, "missing room_alias parameter")
		return
	}

	roomID, ok := roomstore.RoomIdFromAlias(alias)
	if !ok {
		sendFault(w, fault.RoomAliasNotFound)
		return
	}

	sendJSON(w, http.StatusOK, map[string]interface{}{
		"room_id": roomID,
		"servers": roomstore.RoomServerList(roomID),
	})
}

func collectEvents(eventIds []string) []json.RawMessage {
	events := make([]json.RawMessage, 0, len(eventIds))
	for _, id := range eventIds {
		if raw, ok := roomstore.GetEventJSON(id); ok {
			events = append(events, json.RawMessage(raw))
		}
	}
	return events
}
