// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package delegation - server name to network destination resolution
//
// a server name is resolved in order: IP literal, explicit port,
// well-known delegation, DNS SRV record, bare host on the default
// port.  SRV results never change the TLS name: they are recorded in
// an override table consulted by the transport dialer so the
// certificate is still checked against the delegated host name.
package delegation
