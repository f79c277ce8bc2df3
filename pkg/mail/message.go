/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package mail

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Message is an immutable outbound e-mail. Use NewMessage to build one.
type Message struct {
	sender     string
	recipients []string
	subject    string
	body       string
	html       bool
}

// NewMessage validates the structural parts of a message and returns it.
// An empty sender means the default sender address from the SMTP settings
// is used at delivery time.
func NewMessage(sender string, recipients []string, subject, body string, html bool) (Message, error) {
	if len(recipients) == 0 {
		return Message{}, fmt.Errorf("%w: at least one recipient is required", ErrInvalidMessage)
	}
	rcpts := make([]string, 0, len(recipients))
	for i, r := range recipients {
		r = strings.TrimSpace(r)
		if r == "" {
			return Message{}, fmt.Errorf("%w: recipient %d is empty", ErrInvalidMessage, i)
		}
		if hasLineBreak(r) {
			return Message{}, fmt.Errorf("%w: recipient %d contains a line break", ErrInvalidMessage, i)
		}
		rcpts = append(rcpts, r)
	}
	sender = strings.TrimSpace(sender)
	if hasLineBreak(sender) {
		return Message{}, fmt.Errorf("%w: sender contains a line break", ErrInvalidMessage)
	}
	if hasLineBreak(subject) {
		return Message{}, fmt.Errorf("%w: subject contains a line break", ErrInvalidMessage)
	}

	return Message{
		sender:     sender,
		recipients: rcpts,
		subject:    subject,
		body:       body,
		html:       html,
	}, nil
}

func hasLineBreak(s string) bool {
	return strings.ContainsAny(s, "\r\n")
}

func (m Message) Sender() string { return m.sender }

// Recipients returns a copy of the recipient list.
func (m Message) Recipients() []string {
	out := make([]string, len(m.recipients))
	copy(out, m.recipients)
	return out
}

func (m Message) Subject() string { return m.subject }
func (m Message) Body() string    { return m.body }
func (m Message) IsHTML() bool    { return m.html }

// RecipientList joins the recipients for log output.
func (m Message) RecipientList() string {
	return strings.Join(m.recipients, ", ")
}

type messageJSON struct {
	Sender     string   `json:"sender,omitempty"`
	Recipients []string `json:"recipients"`
	Subject    string   `json:"subject"`
	Body       string   `json:"body"`
	HTML       bool     `json:"html"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(messageJSON{
		Sender:     m.sender,
		Recipients: m.recipients,
		Subject:    m.subject,
		Body:       m.body,
		HTML:       m.html,
	})
}

// UnmarshalJSON decodes a message and runs the same validation as NewMessage.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw messageJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	msg, err := NewMessage(raw.Sender, raw.Recipients, raw.Subject, raw.Body, raw.HTML)
	if err != nil {
		return err
	}
	*m = msg
	return nil
}

// QueueItem is a message waiting for delivery together with its retry bookkeeping.
type QueueItem struct {
	ID         string    `json:"id"`
	Message    Message   `json:"message"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
	LastError  string    `json:"lastError,omitempty"`
}
