// SPDX-FileCopyrightText: Copyright (c) The msaprobe Authors
//
// SPDX-License-Identifier: MIT

package smtp

import (
	"strings"
)

// Reply is a parsed SMTP reply: a three-digit status code and the text
// of each reply line. Code is zero when the stream ended before a
// properly-formed terminator line was read.
type Reply struct {
	Code  int
	Lines []string
}

// HasCode reports whether a status code was parsed.
func (r Reply) HasCode() bool {
	return r.Code != 0
}

// replyLine matches the RFC 5321 section 4.2 reply line form
// "CCCsTEXT": a three-digit code of the form [2-5][0-5][0-9] and a
// separator that is either a dash (continuation) or a space (final
// line).
func replyLine(line string) (code int, last bool, text string, ok bool) {
	if len(line) < 4 {
		return 0, false, "", false
	}
	if line[0] < '2' || line[0] > '5' || line[1] < '0' || line[1] > '5' || line[2] < '0' || line[2] > '9' {
		return 0, false, "", false
	}
	sep := line[3]
	if sep != '-' && sep != ' ' {
		return 0, false, "", false
	}
	code = int(line[0]-'0')*100 + int(line[1]-'0')*10 + int(line[2]-'0')
	return code, sep == ' ', line[4:], true
}

// ReadReply consumes reply lines from the connection until a final line
// is read. Improperly-formed lines are skipped so that unexpected
// banners do not derail the dialogue, but only a properly-formed line
// terminates the reply. The code is taken from the first
// properly-formed line.
func (c *Conn) ReadReply() (Reply, error) {
	var reply Reply
	for {
		line, err := c.ReadLine()
		if err != nil {
			return reply, err
		}
		code, last, text, ok := replyLine(line)
		if !ok {
			continue
		}
		if !reply.HasCode() {
			reply.Code = code
		}
		reply.Lines = append(reply.Lines, text)
		if last {
			return reply, nil
		}
	}
}

// Extensions is the table of ESMTP keywords advertised by the server
// after a successful EHLO, mapping each uppercase keyword to its raw
// parameter tokens.
type Extensions map[string][]string

// Has reports whether the keyword is advertised. The lookup is
// case-insensitive.
func (e Extensions) Has(keyword string) bool {
	_, ok := e[strings.ToUpper(keyword)]
	return ok
}

// Params returns the raw parameter tokens of the keyword, or nil when
// it is not advertised.
func (e Extensions) Params(keyword string) []string {
	return e[strings.ToUpper(keyword)]
}

// parseExtensions builds the extension table from a successful EHLO
// reply. The first line is the server's greeting echo and carries no
// keyword; each remaining line contributes its first whitespace-
// delimited token, uppercased, with the remaining tokens as parameters.
func parseExtensions(reply Reply) Extensions {
	ext := make(Extensions)
	if len(reply.Lines) < 2 {
		return ext
	}
	for _, line := range reply.Lines[1:] {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		ext[strings.ToUpper(fields[0])] = fields[1:]
	}
	return ext
}
