// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

package channel

// Message is a single channel or thread message as returned by
// conversations.history and conversations.replies. Slack timestamps
// ("1726000000.000100") double as message IDs and sort
// lexicographically in time order within a channel.
type Message struct {
	// TS is the message timestamp, unique within the channel.
	TS string `json:"ts"`
	// ThreadTS is the root timestamp of the thread this message
	// belongs to. Empty for plain channel messages; equal to TS for
	// a thread's root message.
	ThreadTS string `json:"thread_ts,omitempty"`
	// User is the posting user ID (U...). Empty for bot messages.
	User string `json:"user,omitempty"`
	// BotID is the posting bot ID (B...). Set for messages posted by
	// any bot, including this daemon.
	BotID string `json:"bot_id,omitempty"`
	// SubType marks special message kinds ("bot_message",
	// "channel_join", "thread_broadcast", ...). Empty for ordinary
	// user messages.
	SubType string `json:"subtype,omitempty"`
	// Text is the message body in Slack's mrkdwn form.
	Text string `json:"text,omitempty"`
	// ReplyCount is the number of thread replies under a root
	// message. Only populated on history results.
	ReplyCount int `json:"reply_count,omitempty"`
}

// ThreadRoot returns the timestamp identifying the thread this message
// belongs to: its ThreadTS when it is part of a thread, otherwise its
// own TS (a channel message roots its own thread).
func (m Message) ThreadRoot() string {
	if m.ThreadTS != "" {
		return m.ThreadTS
	}
	return m.TS
}

// IsReply reports whether the message is a reply inside an existing
// thread rather than a thread root.
func (m Message) IsReply() bool {
	return m.ThreadTS != "" && m.ThreadTS != m.TS
}

// MessageRef identifies a posted message for later updates or
// reaction reads.
type MessageRef struct {
	// Channel is the channel ID the message was posted to.
	Channel string `json:"channel"`
	// TS is the message timestamp.
	TS string `json:"ts"`
}

// Reaction is one emoji reaction on a message, with the users who
// added it.
type Reaction struct {
	// Name is the emoji name without colons ("+1", "x").
	Name string `json:"name"`
	// Users lists the user IDs who reacted. Slack truncates this
	// list for very popular reactions; Count is authoritative.
	Users []string `json:"users"`
	// Count is the total number of reactions of this name.
	Count int `json:"count"`
}

// AuthIdentity is the daemon's own identity as reported by auth.test.
// The poll loop uses it to skip the daemon's own messages, and the
// approval gate uses it to ignore the daemon's own reactions.
type AuthIdentity struct {
	// UserID is the bot user's ID (U...).
	UserID string `json:"user_id"`
	// BotID is the bot's ID (B...), as it appears in message BotID
	// fields.
	BotID string `json:"bot_id"`
	// User is the bot's display name.
	User string `json:"user"`
	// Team is the workspace name.
	Team string `json:"team"`
}
