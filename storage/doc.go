// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package storage - maintain the on-disk data store
//
// maintain separate pools of a number of elements in key->value form
//
// This maintains a LevelDB database split into a series of tables.
// Each table is defined by a prefix byte that is obtained from the
// prefix tag in the struct defining the available tables.
//
// Notes:
// 1. each separate pool has a single byte prefix (to spread the keys in LevelDB)
// 2. ++          = concatenation of byte data
// 3. event id    = "$" ++ unpadded url-safe base64 of SHA-256 reference hash
// 4. short id    = big endian uint64 (8 bytes)
// 5. *others*    = byte values of various length
//
// Events:
//
//   E ++ event id              - canonical JSON of the event
//   S ++ event id              - assigned short id
//   s ++ short id              - reverse short id mapping
//   P ++ event id              - arrival position (count)
//
// Rooms:
//
//   v ++ room id               - room version string
//   R ++ room id               - current state hash
//   H ++ state hash            - JSON list of state event ids
//   C ++ room id ++ 0x00 ++ type ++ 0x00 ++ state key
//                              - event id of current state entry
//   J ++ room id ++ 0x00 ++ server name
//                              - servers participating in the room
//   M ++ room id ++ 0x00 ++ user id
//                              - membership JSON (state + context)
//   A ++ alias                 - room id
//
// Federation trust:
//
//   K ++ server name           - JSON map of key id -> base64 public key
//   T ++ sender ++ 0x00 ++ message id
//                              - processed to-device transaction marker
//
// Ephemeral side effects:
//
//   r ++ room id ++ 0x00 ++ user id
//                              - latest read receipt JSON
//   d ++ user id ++ 0x00 ++ device id
//                              - device metadata JSON
//   D ++ user id ++ 0x00 ++ device id ++ 0x00 ++ count
//                              - queued to-device message JSON
//   V ++ user id               - device list version counter
//
// Global:
//
//   N                          - next short id allocation counter
package storage
