// SPDX-FileCopyrightText: Copyright (c) The msaprobe Authors
//
// SPDX-License-Identifier: MIT

// Command msaprobe diagnoses the configuration of a Message Submission
// Agent: it validates an SMTP endpoint against a fixed compliance
// battery, or dumps the endpoint's advertised extensions or negotiated
// encryption parameters.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/librarymarket/msaprobe"
	"github.com/librarymarket/msaprobe/smtp"
	"github.com/librarymarket/msaprobe/validate"
)

const usage = `usage: msaprobe <command> [flags] <args>

commands:
  validate          [--strict] [--tls] [--sender=<addr>] [--debug] <host> <port> <username> <password>
  probe:encryption  [--tls] [--format=console|csv|json] [--debug] <host> <port>
  probe:extensions  [--encryption-type=auto|none|plain|starttls|tls] [--format=console|csv|json] [--debug] <host> <port>

Flags must precede positional arguments.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "validate":
		err = cmdValidate(os.Args[2:])
	case "probe:encryption":
		err = cmdProbeEncryption(os.Args[2:])
	case "probe:extensions":
		err = cmdProbeExtensions(os.Args[2:])
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		if !errors.Is(err, validate.ErrValidationFailed) {
			fmt.Fprintf(os.Stderr, "msaprobe: %v\n", err)
		}
		os.Exit(1)
	}
}

// hostPort parses the host and port positional arguments.
func hostPort(args []string) (string, int, error) {
	if len(args) < 2 {
		return "", 0, errors.New("host and port arguments are required")
	}
	port, err := strconv.Atoi(args[1])
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q: %w", args[1], err)
	}
	return args[0], port, nil
}

func cmdValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	strict := fs.Bool("strict", false, "enable the strict-only checks")
	useTLS := fs.Bool("tls", false, "use implicit TLS instead of STARTTLS")
	sender := fs.String("sender", "", "sender address for the submission probes")
	debug := fs.Bool("debug", false, "log the SMTP dialogue to stderr")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	host, port, err := hostPort(rest)
	if err != nil {
		return err
	}
	if len(rest) < 4 {
		return errors.New("username and password arguments are required")
	}
	username, password := rest[2], rest[3]

	connType := smtp.ConnectionSTARTTLS
	if *useTLS {
		connType = smtp.ConnectionTLS
	}
	endpoint, err := msaprobe.NewEndpoint(host, port, connType, msaprobe.StrictTLSPolicy())
	if err != nil {
		return err
	}

	var sessOpts []smtp.Option
	if *debug {
		sessOpts = append(sessOpts, smtp.WithDebugLog())
	}
	runnerOpts := []validate.Option{validate.WithSender(*sender)}
	if *strict {
		runnerOpts = append(runnerOpts, validate.WithStrict())
	}
	runner, err := validate.New(endpoint.Sessions(sessOpts...), connType, username, password, runnerOpts...)
	if err != nil {
		return err
	}
	return runner.Run()
}

func cmdProbeEncryption(args []string) error {
	fs := flag.NewFlagSet("probe:encryption", flag.ExitOnError)
	useTLS := fs.Bool("tls", false, "use implicit TLS instead of opportunistic STARTTLS")
	format := fs.String("format", "console", "output format: console, csv or json")
	debug := fs.Bool("debug", false, "log the SMTP dialogue to stderr")
	if err := fs.Parse(args); err != nil {
		return err
	}
	host, port, err := hostPort(fs.Args())
	if err != nil {
		return err
	}

	connType := smtp.ConnectionAuto
	if *useTLS {
		connType = smtp.ConnectionTLS
	}
	endpoint, err := msaprobe.NewEndpoint(host, port, connType, msaprobe.RelaxedTLSPolicy())
	if err != nil {
		return err
	}
	var sessOpts []smtp.Option
	if *debug {
		sessOpts = append(sessOpts, smtp.WithDebugLog())
	}
	fields, err := msaprobe.DumpEncryption(endpoint, sessOpts...)
	if err != nil {
		return err
	}
	return renderEncryption(os.Stdout, *format, fields)
}

func cmdProbeExtensions(args []string) error {
	fs := flag.NewFlagSet("probe:extensions", flag.ExitOnError)
	encType := fs.String("encryption-type", "auto", "encryption type: auto, none, plain, starttls or tls")
	format := fs.String("format", "console", "output format: console, csv or json")
	debug := fs.Bool("debug", false, "log the SMTP dialogue to stderr")
	if err := fs.Parse(args); err != nil {
		return err
	}
	host, port, err := hostPort(fs.Args())
	if err != nil {
		return err
	}

	connType, err := smtp.ParseConnectionType(*encType)
	if err != nil {
		return err
	}
	endpoint, err := msaprobe.NewEndpoint(host, port, connType, msaprobe.RelaxedTLSPolicy())
	if err != nil {
		return err
	}
	var sessOpts []smtp.Option
	if *debug {
		sessOpts = append(sessOpts, smtp.WithDebugLog())
	}
	listings, err := msaprobe.DumpExtensions(endpoint, sessOpts...)
	if err != nil {
		return err
	}
	return renderExtensions(os.Stdout, *format, listings)
}
