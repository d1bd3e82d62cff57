// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package federationapi

import (
	"crypto/tls"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/bitmark-inc/logger"

	"github.com/bitmark-inc/matrixd/fault"
	"github.com/bitmark-inc/matrixd/federationapi/certificate"
)

const tlsName = "federation"

// Configuration - configuration file data for the federation listener
type Configuration struct {
	MaximumConnections uint64   `gluamapper:"maximum_connections" json:"maximum_connections"`
	Listen             []string `gluamapper:"listen" json:"listen"`
	Certificate        string   `gluamapper:"certificate" json:"certificate"`
	PrivateKey         string   `gluamapper:"private_key" json:"private_key"`
	RateLimit          float64  `gluamapper:"rate_limit" json:"rate_limit"`
	RateBurst          int      `gluamapper:"rate_burst" json:"rate_burst"`
}

// globals
type apiData struct {
	sync.RWMutex // to allow locking

	log *logger.L // logger

	// set once during initialise
	initialised bool
}

// global data
var globalData apiData

// Initialise - start the federation HTTPS listeners
func Initialise(configuration *Configuration, version string) error {

	globalData.Lock()
	defer globalData.Unlock()

	// no need to Start if already started
	if globalData.initialised {
		return fault.AlreadyInitialised
	}

	log := logger.New("federationapi")
	globalData.log = log
	log.Info("starting…")

	if 0 == len(configuration.Listen) {
		log.Error("missing listen addresses")
		return fault.FederationDisabled
	}
	if configuration.MaximumConnections < 1 {
		log.Errorf("invalid maximum connection limit: %d", configuration.MaximumConnections)
		return fault.InvalidCount
	}

	tlsConfiguration, fingerprint, err := certificate.Get(log, tlsName, configuration.Certificate, configuration.PrivateKey)
	if nil != err {
		return err
	}
	log.Infof("%s: SHA3-256 fingerprint: %x", tlsName, fingerprint)

	limit := rate.Limit(configuration.RateLimit)
	if limit <= 0 {
		limit = 100
	}
	burst := configuration.RateBurst
	if burst <= 0 {
		burst = 100
	}

	handler := &httpHandler{
		log:     log,
		limiter: rate.NewLimiter(limit, burst),
		version: version,
		start:   time.Now(),
	}

	router := newRouter(handler)

	for _, listen := range configuration.Listen {
		log.Infof("starting server: %s on: %q", tlsName, listen)
		if '*' == listen[0] {
			// change "*:PORT" to "[::]:PORT"
			// on the assumption that this will listen on tcp4 and tcp6
			listen = "[::]" + ":" + strings.Split(listen, ":")[1]
		}
		go listenAndServeTLSKeyPair(listen, router, tlsConfiguration, log)
	}

	// all data initialised
	globalData.initialised = true

	return nil
}

// Finalise - stop all background tasks
func Finalise() error {

	if !globalData.initialised {
		return fault.NotInitialised
	}

	globalData.log.Info("shutting down…")
	globalData.log.Flush()

	// finally...
	globalData.initialised = false

	globalData.log.Info("finished")
	globalData.log.Flush()

	return nil
}

// all federation routes
func newRouter(handler *httpHandler) *chi.Mux {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	router.Get("/_matrix/federation/v1/version", handler.serverVersion)
	router.Get("/_matrix/key/v2/server", handler.localKeys)
	router.Get("/_matrix/key/v2/server/{keyId}", handler.localKeys)

	router.Put("/_matrix/federation/v1/send/{txnId}", handler.authenticated(handler.send))
	router.Get("/_matrix/federation/v1/event/{eventId}", handler.authenticated(handler.event))
	router.Post("/_matrix/federation/v1/get_missing_events/{roomId}", handler.authenticated(handler.getMissingEvents))
	router.Get("/_matrix/federation/v1/event_auth/{roomId}/{eventId}", handler.authenticated(handler.eventAuth))
	router.Get("/_matrix/federation/v1/state/{roomId}", handler.authenticated(handler.state))
	router.Get("/_matrix/federation/v1/state_ids/{roomId}", handler.authenticated(handler.stateIds))
	router.Get("/_matrix/federation/v1/make_join/{roomId}/{userId}", handler.authenticated(handler.makeJoin))
	router.Put("/_matrix/federation/v1/send_join/{roomId}/{eventId}", handler.authenticated(handler.sendJoinV1))
	router.Put("/_matrix/federation/v2/send_join/{roomId}/{eventId}", handler.authenticated(handler.sendJoinV2))
	router.Put("/_matrix/federation/v2/invite/{roomId}/{eventId}", handler.authenticated(handler.invite))
	router.Get("/_matrix/federation/v1/user/devices/{userId}", handler.authenticated(handler.userDevices))
	router.Post("/_matrix/federation/v1/user/keys/query", handler.authenticated(handler.keysQuery))
	router.Post("/_matrix/federation/v1/user/keys/claim", handler.authenticated(handler.keysClaim))
	router.Get("/_matrix/federation/v1/query/directory", handler.authenticated(handler.queryDirectory))

	router.NotFound(handler.notFound)

	return router
}

type tcpKeepAliveListener struct {
	*net.TCPListener
}

func (ln tcpKeepAliveListener) Accept() (c net.Conn, err error) {
	tc, err := ln.AcceptTCP()
	if err != nil {
		return
	}
	_ = tc.SetKeepAlive(true)
	_ = tc.SetKeepAlivePeriod(3 * time.Minute)
	return tc, nil
}

// start a HTTPS server using an in-memory TLS keypair
func listenAndServeTLSKeyPair(addr string, handler http.Handler, cfg *tls.Config, log *logger.L) {
	s := &http.Server{
		Addr:           addr,
		Handler:        handler,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	cfg.NextProtos = []string{"http/1.1"}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Errorf("listen: %q failed: %s", addr, err)
		return
	}

	tlsListener := tls.NewListener(tcpKeepAliveListener{ln.(*net.TCPListener)}, cfg)

	err = s.Serve(tlsListener)
	log.Errorf("server: %q stopped: %s", addr, err)
}
