// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

// Package markdown converts between the text formats Waldo sits
// between: the markdown the code agent produces, the mrkdwn dialect
// Slack renders, and the raw (often ANSI-colored) output of shell
// commands.
//
// [ToMrkdwn] parses GitHub-flavored markdown with goldmark and walks
// the AST directly, emitting Slack mrkdwn: *bold*, _italic_, ~strike~,
// backtick code, <url|text> links, "•" bullets, and "> " quotes.
// Headings become bold lines (mrkdwn has none), and tables are set in
// fixed-width columns inside a code block. Soft line breaks become
// spaces so hard-wrapped source reflows instead of rendering ragged;
// Slack shows every literal newline.
//
// [Sanitize] prepares subprocess output for a message: ANSI escape
// sequences stripped, CRLF normalized, carriage-return overwrites
// (progress bars) resolved to their final state. [Escape] applies
// Slack's three control-character entities (&amp; &lt; &gt;), which
// Slack requires everywhere, including inside code blocks.
// [CodeBlock] and [Truncate] finish the job of fitting raw output
// into a chat message.
package markdown
