// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ingest

import (
	"context"
	"encoding/json"

	"github.com/bitmark-inc/matrixd/event"
	"github.com/bitmark-inc/matrixd/fault"
	"github.com/bitmark-inc/matrixd/keyring"
	"github.com/bitmark-inc/matrixd/roomstore"
)

// verifying admitter used when the caller supplies none
type defaultAdmitter struct{}

// AdmitEvent - verify hash and signature then persist
//
// already stored events are accepted without re-verification so a
// retried transaction is idempotent
func (defaultAdmitter) AdmitEvent(ctx context.Context, origin string, eventID string, object event.Object, roomID string) error {
	if roomstore.HasEvent(eventID) {
		return nil
	}

	sender, ok := object.StringField("sender")
	if !ok {
		return fault.MissingSenderField
	}
	if !event.IsValidUserID(sender) {
		return fault.InvalidSender
	}

	if err := event.VerifyContentHash(object); nil != err {
		return err
	}

	senderServer := event.UserServer(sender)
	if err := keyring.VerifyOrigin(ctx, object, senderServer); nil != err {
		return err
	}

	stored := object.Copy()
	delete(stored, "unsigned")
	packed, err := json.Marshal(map[string]interface{}(stored))
	if nil != err {
		return err
	}
	canonical, err := event.CanonicalJSON(packed)
	if nil != err {
		return err
	}

	if err := roomstore.PutEvent(eventID, roomID, canonical); nil != err {
		return err
	}

	// membership changes keep the server list current
	pdu, err := event.ParsePDU(canonical)
	if nil == err && event.TypeMember == pdu.Type && nil != pdu.StateKey {
		membership := struct {
			Membership string `json:"membership"`
		}{}
		if err := json.Unmarshal(pdu.Content, &membership); nil == err && "" != membership.Membership {
			if err := roomstore.UpdateMembership(roomID, *pdu.StateKey, membership.Membership, pdu.Sender, nil); nil != err {
				return err
			}
			roomstore.SetCurrentStateEvent(roomID, event.TypeMember, *pdu.StateKey, eventID)
		}
	}

	return nil
}
