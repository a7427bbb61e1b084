// SPDX-FileCopyrightText: Copyright (c) The msaprobe Authors
//
// SPDX-License-Identifier: MIT

package main

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/librarymarket/msaprobe"
)

var testFields = []msaprobe.FieldValue{
	{Name: "protocol", Value: "TLSv1.3"},
	{Name: "cipher_name", Value: "TLS_AES_256_GCM_SHA384"},
	{Name: "cipher_bits", Value: "256"},
	{Name: "cipher_version", Value: "TLSv1.3"},
}

func TestRenderEncryptionConsole(t *testing.T) {
	var b strings.Builder
	if err := renderEncryption(&b, "console", testFields); err != nil {
		t.Fatalf("renderEncryption: %v", err)
	}
	out := b.String()
	for _, want := range []string{"| Field", "| protocol", "| TLSv1.3", "+-"} {
		if !strings.Contains(out, want) {
			t.Errorf("console output misses %q:\n%s", want, out)
		}
	}
}

func TestRenderEncryptionCSV(t *testing.T) {
	var b strings.Builder
	if err := renderEncryption(&b, "csv", testFields); err != nil {
		t.Fatalf("renderEncryption: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(b.String()), "\n")
	if lines[0] != "Field,Value" {
		t.Errorf("CSV header = %q, want Field,Value", lines[0])
	}
	if len(lines) != 5 {
		t.Errorf("CSV line count = %d, want 5", len(lines))
	}
	if lines[1] != "protocol,TLSv1.3" {
		t.Errorf("CSV row = %q", lines[1])
	}
}

func TestRenderEncryptionJSON(t *testing.T) {
	var b strings.Builder
	if err := renderEncryption(&b, "json", testFields); err != nil {
		t.Fatalf("renderEncryption: %v", err)
	}
	var got map[string]string
	if err := json.Unmarshal([]byte(b.String()), &got); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if got["cipher_bits"] != "256" {
		t.Errorf("cipher_bits = %q", got["cipher_bits"])
	}
}

func TestRenderEncryptionUnknownFormat(t *testing.T) {
	var b strings.Builder
	if err := renderEncryption(&b, "yaml", testFields); err == nil {
		t.Error("renderEncryption accepted an unknown format")
	}
}

func TestRenderExtensions(t *testing.T) {
	listings := []msaprobe.ExtensionListing{
		{Keyword: "AUTH", Params: []string{"PLAIN", "LOGIN"}},
		{Keyword: "SIZE", Params: []string{"10485760"}},
		{Keyword: "PIPELINING"},
	}

	var b strings.Builder
	if err := renderExtensions(&b, "csv", listings); err != nil {
		t.Fatalf("renderExtensions: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(b.String()), "\n")
	if lines[0] != "Name,Value" {
		t.Errorf("CSV header = %q, want Name,Value", lines[0])
	}
	if lines[1] != "AUTH,PLAIN LOGIN" {
		t.Errorf("CSV row = %q", lines[1])
	}

	b.Reset()
	if err := renderExtensions(&b, "json", listings); err != nil {
		t.Fatalf("renderExtensions: %v", err)
	}
	var got map[string][]string
	if err := json.Unmarshal([]byte(b.String()), &got); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if params, ok := got["PIPELINING"]; !ok || len(params) != 0 {
		t.Errorf("PIPELINING = %v, want an empty list", params)
	}
}
