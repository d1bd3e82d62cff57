// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/bitmark-inc/exitwithstatus"
	"github.com/bitmark-inc/getoptions"
	"github.com/bitmark-inc/logger"

	"github.com/bitmark-inc/matrixd/authchain"
	"github.com/bitmark-inc/matrixd/configuration"
	"github.com/bitmark-inc/matrixd/courier"
	"github.com/bitmark-inc/matrixd/delegation"
	"github.com/bitmark-inc/matrixd/federationapi"
	"github.com/bitmark-inc/matrixd/ingest"
	"github.com/bitmark-inc/matrixd/keyring"
	"github.com/bitmark-inc/matrixd/mode"
	"github.com/bitmark-inc/matrixd/storage"
	"github.com/bitmark-inc/matrixd/transport"
	versiondata "github.com/bitmark-inc/matrixd/version"
)

// set by the linker: go build -ldflags "-X main.version=M.N" ./...
var version = "zero" // do not change this value

func init() {
	// fall back to the compiled-in version when not set by the linker
	if "zero" == version {
		version = versiondata.Version
	}
}

// main program
func main() {
	// ensure exit handler is first
	defer exitwithstatus.Handler()

	flags := []getoptions.Option{
		{Long: "help", HasArg: getoptions.NO_ARGUMENT, Short: 'h'},
		{Long: "verbose", HasArg: getoptions.NO_ARGUMENT, Short: 'v'},
		{Long: "quiet", HasArg: getoptions.NO_ARGUMENT, Short: 'q'},
		{Long: "version", HasArg: getoptions.NO_ARGUMENT, Short: 'V'},
		{Long: "config-file", HasArg: getoptions.REQUIRED_ARGUMENT, Short: 'c'},
	}

	program, options, arguments, err := getoptions.GetOS(flags)
	if nil != err {
		exitwithstatus.Message("%s: getoptions error: %s", program, err)
	}

	if len(options["version"]) > 0 {
		processSetupCommand(program, []string{"version"})
		return
	}

	if len(options["help"]) > 0 {
		processSetupCommand(program, []string{"help"})
		return
	}

	// these commands do not require the configuration and
	// process data needed for initial setup
	if len(arguments) > 0 && processSetupCommand(program, arguments) {
		return
	}

	if 1 != len(options["config-file"]) {
		exitwithstatus.Message("%s: only one config-file option is required, %d were detected", program, len(options["config-file"]))
	}

	// read options and parse the configuration file
	configurationFile := options["config-file"][0]
	theConfiguration, err := getConfiguration(configurationFile)
	if nil != err {
		exitwithstatus.Message("%s: failed to read configuration from: %q  error: %s", program, configurationFile, err)
	}

	// these commands require the configuration and
	// perform enquiries on the configuration
	if len(arguments) > 0 && processConfigCommand(arguments, theConfiguration) {
		return
	}

	// start logging
	if err = logger.Initialise(theConfiguration.Logging); nil != err {
		exitwithstatus.Message("%s: logger setup failed with error: %s", program, err)
	}
	defer logger.Finalise()

	// create a logger channel for the main program
	log := logger.New("main")
	defer log.Info("finished")
	log.Info("starting…")
	log.Infof("version: %s", version)
	log.Debugf("theConfiguration: %v", theConfiguration)

	// ------------------
	// start of real main
	// ------------------

	// optional PID file
	// use if not running under a supervisor program like daemon(8)
	if "" != theConfiguration.PidFile {
		lockFile, err := os.OpenFile(theConfiguration.PidFile, os.O_WRONLY|os.O_EXCL|os.O_CREATE, os.ModeExclusive|0600)
		if err != nil {
			if os.IsExist(err) {
				exitwithstatus.Message("%s: another instance is already running", program)
			}
			exitwithstatus.Message("%s: PID file: %q creation failed, error: %s", program, theConfiguration.PidFile, err)
		}
		fmt.Fprintf(lockFile, "%d\n", os.Getpid())
		lockFile.Close()
		defer os.Remove(theConfiguration.PidFile)
	}

	// the server's signing key
	keyID, privateKey, err := configuration.ReadIdentityFile(theConfiguration.IdentityFile)
	if nil != err {
		log.Criticalf("identity read error: %s", err)
		exitwithstatus.Message("cannot read identity: %q  error: %s", theConfiguration.IdentityFile, err)
	}

	// set the initial system mode - before any background tasks are started
	err = mode.Initialise(theConfiguration.AllowFederation)
	if nil != err {
		log.Criticalf("mode initialise error: %s", err)
		exitwithstatus.Message("mode initialise error: %s", err)
	}
	defer mode.Finalise()

	// start a profiling http server
	// this uses the default builtin HTTP handler
	// and is not associated with the federation HTTPS server
	if "" != theConfiguration.ProfileHTTP {
		go func() {
			log.Warnf("profile listener on: %s", theConfiguration.ProfileHTTP)
			err = http.ListenAndServe(theConfiguration.ProfileHTTP, nil)
			exitwithstatus.Message("profile error: %s", err)
		}()
	}

	// general info
	log.Infof("server name: %q", theConfiguration.ServerName)
	log.Infof("federation allowed: %v", theConfiguration.AllowFederation)
	log.Infof("database: %q", theConfiguration.Database)
	log.Debugf("%s = %#v", "Federation", theConfiguration.Federation)

	// start the data storage
	log.Info("initialise storage")
	err = storage.Initialise(theConfiguration.Database.Name)
	if nil != err {
		log.Criticalf("storage initialise error: %s", err)
		exitwithstatus.Message("storage initialise error: %s", err)
	}
	defer storage.Finalise()

	// server name resolution cache and SRV overrides
	log.Info("initialise delegation")
	err = delegation.Initialise()
	if nil != err {
		log.Criticalf("delegation initialise error: %s", err)
		exitwithstatus.Message("delegation initialise error: %s", err)
	}
	defer delegation.Finalise()

	// outbound signed requests
	log.Info("initialise transport")
	err = transport.Initialise(theConfiguration.ServerName, keyID, privateKey)
	if nil != err {
		log.Criticalf("transport initialise error: %s", err)
		exitwithstatus.Message("transport initialise error: %s", err)
	}
	defer transport.Finalise()

	// remote signing key management
	log.Info("initialise keyring")
	err = keyring.Initialise(theConfiguration.ServerName, keyID, privateKey, theConfiguration.TrustedNotaries)
	if nil != err {
		log.Criticalf("keyring initialise error: %s", err)
		exitwithstatus.Message("keyring initialise error: %s", err)
	}
	defer keyring.Finalise()

	// auth chain resolution cache
	log.Info("initialise authchain")
	err = authchain.Initialise()
	if nil != err {
		log.Criticalf("authchain initialise error: %s", err)
		exitwithstatus.Message("authchain initialise error: %s", err)
	}
	defer authchain.Finalise()

	// inbound transaction processing
	log.Info("initialise ingest")
	err = ingest.Initialise(nil)
	if nil != err {
		log.Criticalf("ingest initialise error: %s", err)
		exitwithstatus.Message("ingest initialise error: %s", err)
	}
	defer ingest.Finalise()

	// outbound event delivery
	log.Info("initialise courier")
	err = courier.Initialise()
	if nil != err {
		log.Criticalf("courier initialise error: %s", err)
		exitwithstatus.Message("courier initialise error: %s", err)
	}
	defer courier.Finalise()

	// start up the federation listeners
	log.Info("initialise federationapi")
	err = federationapi.Initialise(&theConfiguration.Federation, version)
	if nil != err {
		log.Criticalf("federationapi initialise error: %s", err)
		exitwithstatus.Message("federationapi initialise error: %s", err)
	}
	defer federationapi.Finalise()

	// all services are up
	mode.Set(mode.Normal)

	// wait for CTRL-C before shutting down to allow manual testing
	if 0 == len(options["quiet"]) {
		fmt.Printf("\n\nWaiting for CTRL-C (SIGINT) or 'kill <pid>' (SIGTERM)…")
	}

	// turn Signals into channel messages
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	sig := <-ch
	log.Infof("received signal: %v", sig)
	if 0 == len(options["quiet"]) {
		fmt.Printf("\nreceived signal: %v\n", sig)
		fmt.Printf("\nshutting down…\n")
	}

	log.Info("shutting down…")
	mode.Set(mode.Stopped)
}
