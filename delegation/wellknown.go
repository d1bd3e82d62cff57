// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package delegation

import (
	"encoding/json"
	"io"
	"io/ioutil"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/miekg/dns"
)

const resolvConf = "/etc/resolv.conf"

// response document served at /.well-known/matrix/server
type wellKnownResponse struct {
	Server string `json:"m.server"`
}

// requestWellKnown - look for a delegation document on the bare name
//
// any failure means no delegation; the caller falls through to SRV
func requestWellKnown(serverName string) (string, bool) {
	client := globalData.client
	if nil == client {
		client = &http.Client{Timeout: wellKnownTimeout}
	}

	response, err := client.Get("https://" + serverName + "/.well-known/matrix/server")
	if nil != err {
		return "", false
	}
	defer response.Body.Close()

	if http.StatusOK != response.StatusCode {
		return "", false
	}

	body, err := ioutil.ReadAll(io.LimitReader(response.Body, wellKnownLimit))
	if nil != err {
		return "", false
	}

	var document wellKnownResponse
	if err := json.Unmarshal(body, &document); nil != err {
		return "", false
	}

	delegated := strings.TrimSpace(document.Server)
	if "" == delegated {
		return "", false
	}
	return delegated, true
}

// srvLookup - query the federation SRV record for a host
func srvLookup(hostname string) (string, uint16, bool) {
	conf, err := dns.ClientConfigFromFile(resolvConf)
	if nil != err || 0 == len(conf.Servers) {
		return fallbackSrvLookup(hostname)
	}

	servers := conf.Servers
	// limit the nameservers to lookup
	// https://www.freebsd.org/cgi/man.cgi?resolv.conf
	if len(servers) > 3 {
		servers = servers[:3]
	}

loop:
	for _, server := range servers {

		s := net.JoinHostPort(server, conf.Port)
		c := dns.Client{
			Timeout: 5 * time.Second,
		}
		msg := dns.Msg{}
		msg.SetQuestion(dns.Fqdn("_matrix._tcp."+hostname), dns.TypeSRV)

		r, _, err := c.Exchange(&msg, s)
		if nil != err {
			continue loop
		}

		for _, rr := range r.Answer {
			if srv, ok := rr.(*dns.SRV); ok {
				target := strings.TrimSuffix(srv.Target, ".")
				if "" == target {
					continue
				}
				return target, srv.Port, true
			}
		}
	}

	return "", 0, false
}

// system resolver fallback when resolv.conf is unreadable
func fallbackSrvLookup(hostname string) (string, uint16, bool) {
	_, records, err := net.LookupSRV("matrix", "tcp", hostname)
	if nil != err || 0 == len(records) {
		return "", 0, false
	}
	target := strings.TrimSuffix(records[0].Target, ".")
	if "" == target {
		return "", 0, false
	}
	return target, records[0].Port, true
}
