// SPDX-FileCopyrightText: Copyright (c) The msaprobe Authors
//
// SPDX-License-Identifier: MIT

package msaprobe

import (
	"sort"
	"strconv"

	"github.com/librarymarket/msaprobe/smtp"
)

// UnknownValue substitutes missing values in the encryption dump.
const UnknownValue = "Unknown"

// ExtensionListing is one advertised ESMTP keyword with its raw
// parameter tokens.
type ExtensionListing struct {
	Keyword string
	Params  []string
}

// FieldValue is one rendered name/value pair of the encryption dump.
type FieldValue struct {
	Name  string
	Value string
}

// DumpExtensions connects, negotiates, and returns the advertised
// extension table: keywords sorted ascending, then stable-sorted by
// parameter count descending so parameterized extensions lead.
func DumpExtensions(e *Endpoint, opts ...smtp.Option) ([]ExtensionListing, error) {
	sess, err := e.NewSession(opts...)
	if err != nil {
		return nil, err
	}
	defer sess.Disconnect()
	if err := sess.Connect(); err != nil {
		return nil, err
	}
	if err := sess.Probe(); err != nil {
		return nil, err
	}

	ext, _ := sess.Extensions()
	listings := make([]ExtensionListing, 0, len(ext))
	for keyword, params := range ext {
		listings = append(listings, ExtensionListing{Keyword: keyword, Params: params})
	}
	sort.Slice(listings, func(i, j int) bool {
		return listings[i].Keyword < listings[j].Keyword
	})
	sort.SliceStable(listings, func(i, j int) bool {
		return len(listings[i].Params) > len(listings[j].Params)
	})
	return listings, nil
}

// DumpEncryption connects, negotiates, and returns the negotiated TLS
// parameters as the fixed field set {protocol, cipher_name,
// cipher_bits, cipher_version}, substituting UnknownValue for anything
// the transport could not report.
func DumpEncryption(e *Endpoint, opts ...smtp.Option) ([]FieldValue, error) {
	sess, err := e.NewSession(opts...)
	if err != nil {
		return nil, err
	}
	defer sess.Disconnect()
	if err := sess.Connect(); err != nil {
		return nil, err
	}
	if err := sess.Probe(); err != nil {
		return nil, err
	}

	meta, _ := sess.Meta()
	bits := UnknownValue
	if meta.CipherBits > 0 {
		bits = strconv.Itoa(meta.CipherBits)
	}
	return []FieldValue{
		{Name: "protocol", Value: orUnknown(meta.Protocol)},
		{Name: "cipher_name", Value: orUnknown(meta.CipherName)},
		{Name: "cipher_bits", Value: bits},
		{Name: "cipher_version", Value: orUnknown(meta.CipherVersion)},
	}, nil
}

func orUnknown(s string) string {
	if s == "" {
		return UnknownValue
	}
	return s
}
