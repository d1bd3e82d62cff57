// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ingest

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bitmark-inc/matrixd/event"
	"github.com/bitmark-inc/matrixd/messagebus"
	"github.com/bitmark-inc/matrixd/roomstore"
)

// typing indications vanish on their own
const typingLifetime = 3000 * time.Millisecond

type edu struct {
	EduType string          `json:"edu_type"`
	Content json.RawMessage `json:"content"`
}

type receiptData struct {
	EventIds []string        `json:"event_ids"`
	Data     json.RawMessage `json:"data"`
}

type receiptUpdate struct {
	Read map[string]receiptData `json:"m.read"`
}

type typingContent struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
	Typing bool   `json:"typing"`
}

type deviceListUpdateContent struct {
	UserID string `json:"user_id"`
}

type directToDeviceContent struct {
	Sender    string                                `json:"sender"`
	Type      string                                `json:"type"`
	MessageID string                                `json:"message_id"`
	Messages  map[string]map[string]json.RawMessage `json:"messages"`
}

type signingKeyUpdateContent struct {
	UserID string `json:"user_id"`
}

// EDUs are advisory: anything malformed or unauthorised is dropped
// with a log entry and never fails the transaction
func handleEDU(ctx context.Context, origin string, raw json.RawMessage) {
	log := globalData.log

	e := edu{}
	if err := json.Unmarshal(raw, &e); nil != err {
		log.Warnf("undecodable EDU from: %q: %s", origin, err)
		return
	}

	switch e.EduType {

	case "m.presence":
		// accepted and ignored

	case "m.receipt":
		content := map[string]receiptUpdate{}
		if err := json.Unmarshal(e.Content, &content); nil != err {
			log.Warnf("bad receipt EDU from: %q: %s", origin, err)
			return
		}
		handleReceipts(origin, content)

	case "m.typing":
		content := typingContent{}
		if err := json.Unmarshal(e.Content, &content); nil != err {
			log.Warnf("bad typing EDU from: %q: %s", origin, err)
			return
		}
		handleTyping(origin, content)

	case "m.device_list_update":
		content := deviceListUpdateContent{}
		if err := json.Unmarshal(e.Content, &content); nil != err || "" == content.UserID {
			log.Warnf("bad device list EDU from: %q", origin)
			return
		}
		if event.UserServer(content.UserID) != origin {
			log.Warnf("device list EDU from: %q for foreign user: %q", origin, content.UserID)
			return
		}
		roomstore.BumpDeviceListVersion(content.UserID)
		messagebus.Bus.Broadcast.Send("device_list_update", []byte(content.UserID))

	case "m.direct_to_device":
		content := directToDeviceContent{}
		if err := json.Unmarshal(e.Content, &content); nil != err {
			log.Warnf("bad to-device EDU from: %q: %s", origin, err)
			return
		}
		handleDirectToDevice(origin, content)

	case "m.signing_key_update":
		content := signingKeyUpdateContent{}
		if err := json.Unmarshal(e.Content, &content); nil != err || "" == content.UserID {
			log.Warnf("bad signing key EDU from: %q", origin)
			return
		}
		if event.UserServer(content.UserID) != origin {
			log.Warnf("signing key EDU from: %q for foreign user: %q", origin, content.UserID)
			return
		}
		roomstore.BumpDeviceListVersion(content.UserID)
		messagebus.Bus.Broadcast.Send("signing_key_update", []byte(content.UserID))

	default:
		log.Debugf("unhandled EDU type: %q from: %q", e.EduType, origin)
	}
}

// the freshest referenced event wins, measured by arrival position
func handleReceipts(origin string, content map[string]receiptUpdate) {
	for roomID, update := range content {
		for userID, data := range update.Read {
			if event.UserServer(userID) != origin {
				continue
			}
			if !roomstore.IsJoined(userID, roomID) {
				continue
			}

			best := ""
			bestPosition := uint64(0)
			for _, eventID := range data.EventIds {
				position, ok := roomstore.EventPosition(eventID)
				if !ok {
					continue
				}
				if "" == best || position > bestPosition {
					best = eventID
					bestPosition = position
				}
			}
			if "" == best {
				continue
			}

			if err := roomstore.SetReadReceipt(roomID, userID, best, data.Data); nil != err {
				globalData.log.Warnf("receipt store failed: %s", err)
			}
		}
	}
}

func handleTyping(origin string, content typingContent) {
	if event.UserServer(content.UserID) != origin {
		globalData.log.Warnf("typing EDU from: %q for foreign user: %q", origin, content.UserID)
		return
	}
	if !roomstore.IsJoined(content.UserID, content.RoomID) {
		return
	}

	key := content.RoomID + "\x00" + content.UserID
	if content.Typing {
		globalData.typing.Set(key, struct{}{}, typingLifetime)
	} else {
		globalData.typing.Delete(key)
	}
}

// TypingUsers - users currently typing in a room
func TypingUsers(roomID string) []string {
	if nil == globalData.typing {
		return nil
	}
	prefix := roomID + "\x00"
	users := []string{}
	for key := range globalData.typing.Items() {
		if strings.HasPrefix(key, prefix) {
			users = append(users, key[len(prefix):])
		}
	}
	return users
}

func handleDirectToDevice(origin string, content directToDeviceContent) {
	log := globalData.log

	if event.UserServer(content.Sender) != origin {
		log.Warnf("to-device EDU from: %q for foreign sender: %q", origin, content.Sender)
		return
	}

	// retried transactions must not duplicate messages; the ledger is
	// per sender, two users on one server may reuse a message id
	if roomstore.SeenToDeviceTxn(content.Sender, content.MessageID) {
		return
	}

	for userID, devices := range content.Messages {
		for deviceID, payload := range devices {
			if "*" == deviceID {
				for _, id := range roomstore.AllDeviceIds(userID) {
					if err := roomstore.AddToDeviceMessage(content.Sender, userID, id, content.Type, payload); nil != err {
						log.Warnf("to-device store failed: %s", err)
					}
				}
				continue
			}
			if err := roomstore.AddToDeviceMessage(content.Sender, userID, deviceID, content.Type, payload); nil != err {
				log.Warnf("to-device store failed: %s", err)
			}
		}
	}

	roomstore.MarkToDeviceTxn(content.Sender, content.MessageID)
}
