// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

package markdown

import (
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// mrkdwnEscaper rewrites Slack's three control characters as HTML
// entities. Slack parses them everywhere, including inside code
// blocks, so every path that carries raw text through to a message
// goes through Escape.
var mrkdwnEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
)

// Escape rewrites &, <, and > as mrkdwn entities.
func Escape(s string) string {
	return mrkdwnEscaper.Replace(s)
}

// mrkdwnUnescaper reverses Escape. A single replacer pass resolves
// each position once, so "&amp;lt;" correctly becomes "&lt;" rather
// than "<".
var mrkdwnUnescaper = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
)

// Unescape decodes the three mrkdwn entities in text received from the
// channel. Slack escapes &, <, and > in every message body, so an
// operator typing `!grep -r "<<" src` arrives entity-encoded and must
// be decoded before the command runs.
func Unescape(s string) string {
	if !strings.ContainsRune(s, '&') {
		return s
	}
	return mrkdwnUnescaper.Replace(s)
}

// Sanitize prepares raw subprocess output for posting. Terminal
// escape sequences are stripped, CRLF pairs become plain newlines,
// and carriage-return overwrites (progress bars, spinners) resolve to
// the final state of each line.
func Sanitize(s string) string {
	if s == "" {
		return ""
	}
	s = ansi.Strip(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")

	if strings.ContainsRune(s, '\r') {
		lines := strings.Split(s, "\n")
		for index, line := range lines {
			if cut := strings.LastIndexByte(line, '\r'); cut >= 0 {
				lines[index] = line[cut+1:]
			}
		}
		s = strings.Join(lines, "\n")
	}

	return strings.TrimRight(s, " \t\n")
}

// truncationMarker is appended when Truncate shortens text.
const truncationMarker = "\n… output truncated …"

// Truncate caps text at limit bytes, cutting on a rune boundary and
// appending a marker when anything was dropped. Text at or under the
// limit passes through unchanged.
func Truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit - len(truncationMarker)
	if cut < 0 {
		cut = 0
	}
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + truncationMarker
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// CodeBlock wraps text in a fenced mrkdwn code block, escaping the
// content.
func CodeBlock(s string) string {
	return "```\n" + Escape(strings.TrimRight(s, "\n")) + "\n```"
}
