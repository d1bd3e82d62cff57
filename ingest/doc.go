// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package ingest - inbound federation transaction processing
//
// every PDU in a transaction is handled in isolation: a malformed or
// rejected event is reported in the per-event result map without
// affecting its siblings.  Admission of a room's events is
// serialised on that room's federation lock.  EDUs are dispatched
// after the PDUs and never produce per-event results.
package ingest
