// SPDX-FileCopyrightText: Copyright (c) The msaprobe Authors
//
// SPDX-License-Identifier: MIT

package msaprobe

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"testing"

	"github.com/librarymarket/msaprobe/smtp"
)

// scriptedServer serves one plaintext SMTP conversation on a loopback
// port: greeting, EHLO reply, then a 221 for QUIT.
func scriptedServer(t *testing.T, ehloReply []string) (int, <-chan struct{}) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	done := make(chan struct{})
	go func() {
		defer close(done)
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer func() { _ = c.Close() }()
		br := bufio.NewReader(c)
		fmt.Fprintf(c, "220 mail.example ESMTP ready\r\n")
		if _, err := br.ReadString('\n'); err != nil { // EHLO
			return
		}
		for _, line := range ehloReply {
			fmt.Fprintf(c, "%s\r\n", line)
		}
		if _, err := br.ReadString('\n'); err != nil { // QUIT
			return
		}
		fmt.Fprintf(c, "221 2.0.0 bye\r\n")
	}()
	return ln.Addr().(*net.TCPAddr).Port, done
}

func TestDumpExtensions(t *testing.T) {
	port, done := scriptedServer(t, []string{
		"250-mail.example",
		"250-PIPELINING",
		"250-SIZE 10485760",
		"250 AUTH PLAIN LOGIN",
	})
	endpoint, err := NewEndpoint("127.0.0.1", port, smtp.ConnectionPlainText, RelaxedTLSPolicy())
	if err != nil {
		t.Fatalf("NewEndpoint: %v", err)
	}

	listings, err := DumpExtensions(endpoint)
	if err != nil {
		t.Fatalf("DumpExtensions: %v", err)
	}
	<-done

	var keywords []string
	for _, l := range listings {
		keywords = append(keywords, l.Keyword)
	}
	// Ascending by keyword, then parameterized extensions first.
	want := "AUTH SIZE PIPELINING"
	if got := strings.Join(keywords, " "); got != want {
		t.Errorf("keyword order = %q, want %q", got, want)
	}
	if params := listings[0].Params; len(params) != 2 || params[0] != "PLAIN" {
		t.Errorf("AUTH params = %v", params)
	}
}

func TestDumpEncryptionPlaintext(t *testing.T) {
	port, done := scriptedServer(t, []string{
		"250-mail.example",
		"250 AUTH PLAIN",
	})
	endpoint, err := NewEndpoint("127.0.0.1", port, smtp.ConnectionPlainText, RelaxedTLSPolicy())
	if err != nil {
		t.Fatalf("NewEndpoint: %v", err)
	}

	fields, err := DumpEncryption(endpoint)
	if err != nil {
		t.Fatalf("DumpEncryption: %v", err)
	}
	<-done

	wantNames := []string{"protocol", "cipher_name", "cipher_bits", "cipher_version"}
	if len(fields) != len(wantNames) {
		t.Fatalf("field count = %d, want %d", len(fields), len(wantNames))
	}
	for i, f := range fields {
		if f.Name != wantNames[i] {
			t.Errorf("field %d = %q, want %q", i, f.Name, wantNames[i])
		}
		if f.Value != UnknownValue {
			t.Errorf("field %s = %q, want %q on a plaintext connection", f.Name, f.Value, UnknownValue)
		}
	}
}
