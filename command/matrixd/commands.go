// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ed25519"
	"golang.org/x/crypto/sha3"

	"github.com/bitmark-inc/exitwithstatus"

	"github.com/bitmark-inc/matrixd/configuration"
)

const (
	identityFilename = "identity.key"

	federationCertificateFilename = "federation.crt"
	federationPrivateKeyFilename  = "federation.key"
)

// setup command handler
//
// commands that run to create key and certificate files these
// commands cannot access any internal database or states or the
// configuration file
func processSetupCommand(program string, arguments []string) bool {

	command := "help"
	if len(arguments) > 0 {
		command = arguments[0]
		arguments = arguments[1:]
	}

	switch command {
	case "gen-identity", "identity":
		identityFile := getFilenameWithDirectory(arguments, identityFilename)

		if err := configuration.MakeIdentityFile(identityFile); nil != err {
			fmt.Printf("generate identity: %q error: %s\n", identityFile, err)
			exitwithstatus.Exit(1)
		}
		fmt.Printf("generated identity: %q\n", identityFile)

	case "gen-federation-cert", "cert":
		certificateFilename := getFilenameWithDirectory(arguments, federationCertificateFilename)
		privateKeyFilename := getFilenameWithDirectory(arguments, federationPrivateKeyFilename)

		addresses := []string{}
		if len(arguments) >= 2 {
			for _, a := range arguments[1:] {
				if "" != a {
					addresses = append(addresses, a)
				}
			}
		}

		err := makeSelfSignedCertificate("federation", certificateFilename, privateKeyFilename, 0 != len(addresses), addresses)
		if nil != err {
			fmt.Printf("generate federation key: %q and certificate: %q error: %s\n", privateKeyFilename, certificateFilename, err)
			exitwithstatus.Exit(1)
		}
		fmt.Printf("generated federation key: %q and certificate: %q\n", privateKeyFilename, certificateFilename)

	case "identity-info", "info":
		return false // defer processing until configuration is read

	case "start", "run":
		return false // continue processing

	case "config-test", "cfg":
		return false

	case "version", "v":
		fmt.Printf("%s\n", version)

	default:
		switch command {
		case "help", "h", "?":
		case "", " ":
			fmt.Printf("error: missing command\n")
		default:
			fmt.Printf("error: no such command: %q\n", command)
		}
		fmt.Printf("usage: %s [--help] [--verbose] [--quiet] --config-file=FILE [[command|help] arguments...]\n\n", program)

		fmt.Printf("supported commands:\n\n")
		fmt.Printf("  help                       (h)      - display this message\n\n")
		fmt.Printf("  version                    (v)      - display version string\n\n")

		fmt.Printf("  gen-identity [DIR]         (identity) - create signing key in: %q\n", "DIR/"+identityFilename)
		fmt.Printf("\n")

		fmt.Printf("  gen-federation-cert [DIR]  (cert)   - create private key in:  %q\n", "DIR/"+federationPrivateKeyFilename)
		fmt.Printf("                                        and the certificate in: %q\n", "DIR/"+federationCertificateFilename)
		fmt.Printf("\n")

		fmt.Printf("  gen-federation-cert [DIR] [IPs...]  - as above with extra hosts in the certificate\n")
		fmt.Printf("\n")

		fmt.Printf("  identity-info              (info)   - display the public signing key and certificate fingerprint\n")
		fmt.Printf("\n")

		fmt.Printf("  start                      (run)    - just run the program, same as no arguments\n")
		fmt.Printf("                                        for convenience when passing script arguments\n")
		fmt.Printf("\n")

		fmt.Printf("  config-test                (cfg)    - just check the configuration file\n")
		fmt.Printf("\n")

		exitwithstatus.Exit(1)
	}

	// indicate processing complete and perform normal exit from main
	return true
}

// configuration file enquiry commands
// have configuration file read and decoded, but nothing else
func processConfigCommand(arguments []string, options *Configuration) bool {

	command := "help"
	if len(arguments) > 0 {
		command = arguments[0]
	}

	switch command {
	case "identity-info", "info":
		identityInfo(options)

	case "config-test", "cfg":
		b, err := json.Marshal(options)
		if err != nil {
			exitwithstatus.Message("error: %s", err)
		}
		var out bytes.Buffer
		json.Indent(&out, b, "", "  ")
		out.WriteTo(os.Stdout)
		os.Stdout.WriteString("\n")

	default: // unknown commands fall through to the normal startup
		return false
	}

	// indicate processing complete and perform normal exit from main
	return true
}

// print the public identity other servers will verify against
func identityInfo(options *Configuration) {

	keyID, privateKey, err := configuration.ReadIdentityFile(options.IdentityFile)
	if nil != err {
		exitwithstatus.Message("error: cannot read identity: %q  error: %s", options.IdentityFile, err)
	}
	publicKey := privateKey.Public().(ed25519.PublicKey)

	fmt.Printf("server name: %s\n", options.ServerName)
	fmt.Printf("key id:      %s\n", keyID)
	fmt.Printf("public key:  %s\n", base64.RawStdEncoding.EncodeToString(publicKey))

	if "" != options.Federation.Certificate {
		keypair, err := tls.X509KeyPair([]byte(options.Federation.Certificate), []byte(options.Federation.PrivateKey))
		if nil != err {
			exitwithstatus.Message("error: cannot decode certificate  error: %s", err)
		}
		fmt.Printf("certificate fingerprint: %x\n", sha3.Sum256(keypair.Certificate[0]))
	}
}

// get the working directory; if not set in the arguments
// it's set to the current directory
func getFilenameWithDirectory(arguments []string, name string) string {
	dir := "."
	if len(arguments) >= 1 {
		dir = arguments[0]
	}

	return filepath.Join(dir, name)
}
