// SPDX-FileCopyrightText: Copyright (c) The msaprobe Authors
//
// SPDX-License-Identifier: MIT

package smtp

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
)

func TestReplyLine(t *testing.T) {
	tests := []struct {
		line string
		code int
		last bool
		text string
		ok   bool
	}{
		{"250 ok", 250, true, "ok", true},
		{"250-ok", 250, false, "ok", true},
		{"554 ", 554, true, "", true},
		{"334 VXNlcm5hbWU6", 334, true, "VXNlcm5hbWU6", true},
		{"220 mail.example ESMTP", 220, true, "mail.example ESMTP", true},
		{"250", 0, false, "", false},
		{"", 0, false, "", false},
		{"abc d", 0, false, "", false},
		{"199 x", 0, false, "", false},
		{"670 x", 0, false, "", false},
		{"2x0 x", 0, false, "", false},
		{"250:ok", 0, false, "", false},
		{"welcome to mail.example", 0, false, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			code, last, text, ok := replyLine(tt.line)
			if ok != tt.ok {
				t.Fatalf("replyLine(%q) ok = %t, want %t", tt.line, ok, tt.ok)
			}
			if !ok {
				return
			}
			if code != tt.code || last != tt.last || text != tt.text {
				t.Errorf("replyLine(%q) = (%d, %t, %q), want (%d, %t, %q)",
					tt.line, code, last, text, tt.code, tt.last, tt.text)
			}
		})
	}
}

func TestReadReply(t *testing.T) {
	tests := []struct {
		name   string
		server []string
		want   Reply
	}{
		{
			name:   "single line",
			server: []string{"220 mail.example ESMTP"},
			want:   Reply{Code: 220, Lines: []string{"mail.example ESMTP"}},
		},
		{
			name:   "multi line",
			server: []string{"250-mail.example", "250-PIPELINING", "250 AUTH PLAIN LOGIN"},
			want:   Reply{Code: 250, Lines: []string{"mail.example", "PIPELINING", "AUTH PLAIN LOGIN"}},
		},
		{
			name:   "malformed lines are skipped",
			server: []string{"* unexpected banner", "250-mail.example", "garbage", "250 ok"},
			want:   Reply{Code: 250, Lines: []string{"mail.example", "ok"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake, _ := scriptedConn(tt.server)
			c := newConn(fake, DefaultReadWriteTimeout, &Transcript{})
			got, err := c.ReadReply()
			if err != nil {
				t.Fatalf("ReadReply: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ReadReply = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestReadReplyNoTerminator(t *testing.T) {
	fake, _ := scriptedConn([]string{"250-mail.example", "250-PIPELINING"})
	c := newConn(fake, DefaultReadWriteTimeout, &Transcript{})
	_, err := c.ReadReply()
	if err == nil {
		t.Fatal("expected an error when the stream ends before the terminator")
	}
	if !errors.Is(err, &DialogError{Reason: ReasonRead}) {
		t.Errorf("error = %v, want a read failure", err)
	}
}

func TestReadReplyRoundTrip(t *testing.T) {
	replies := []Reply{
		{Code: 220, Lines: []string{"mail.example ESMTP ready"}},
		{Code: 250, Lines: []string{"mail.example", "SIZE 10485760", "AUTH PLAIN LOGIN"}},
		{Code: 535, Lines: []string{"authentication credentials invalid"}},
	}
	for _, want := range replies {
		var rendered []string
		for i, line := range want.Lines {
			sep := "-"
			if i == len(want.Lines)-1 {
				sep = " "
			}
			rendered = append(rendered, fmt.Sprintf("%03d%s%s", want.Code, sep, line))
		}
		fake, _ := scriptedConn(rendered)
		c := newConn(fake, DefaultReadWriteTimeout, &Transcript{})
		got, err := c.ReadReply()
		if err != nil {
			t.Fatalf("ReadReply: %v", err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("round trip = %+v, want %+v", got, want)
		}
	}
}

func TestParseExtensions(t *testing.T) {
	reply := Reply{
		Code:  250,
		Lines: []string{"mail.example", "PIPELINING", "SIZE 10485760", "AUTH PLAIN LOGIN"},
	}
	want := Extensions{
		"PIPELINING": []string{},
		"SIZE":       []string{"10485760"},
		"AUTH":       []string{"PLAIN", "LOGIN"},
	}
	got := parseExtensions(reply)
	if len(got) != len(want) {
		t.Fatalf("parseExtensions = %v, want %v", got, want)
	}
	for keyword, params := range want {
		gotParams, ok := got[keyword]
		if !ok {
			t.Errorf("keyword %s missing", keyword)
			continue
		}
		if len(gotParams) != len(params) {
			t.Errorf("keyword %s params = %v, want %v", keyword, gotParams, params)
			continue
		}
		for i := range params {
			if gotParams[i] != params[i] {
				t.Errorf("keyword %s params = %v, want %v", keyword, gotParams, params)
			}
		}
	}
}

func TestExtensionsLookupIsCaseInsensitive(t *testing.T) {
	ext := Extensions{"AUTH": []string{"PLAIN"}}
	if !ext.Has("aUtH") {
		t.Error("expected case-insensitive keyword lookup")
	}
	if got := ext.Params("auth"); len(got) != 1 || got[0] != "PLAIN" {
		t.Errorf("Params = %v, want [PLAIN]", got)
	}
}
