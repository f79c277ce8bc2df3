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
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessage(t *testing.T) {
	tests := []struct {
		name       string
		sender     string
		recipients []string
		subject    string
		wantErr    bool
	}{
		{name: "valid", sender: "a@x", recipients: []string{"b@y"}, subject: "hi"},
		{name: "empty sender uses default", recipients: []string{"b@y"}, subject: "hi"},
		{name: "multiple recipients", recipients: []string{"b@y", "c@z"}, subject: "hi"},
		{name: "no recipients", recipients: nil, subject: "hi", wantErr: true},
		{name: "blank recipient", recipients: []string{"b@y", "  "}, subject: "hi", wantErr: true},
		{name: "newline in recipient", recipients: []string{"b@y\nBcc: evil@z"}, subject: "hi", wantErr: true},
		{name: "newline in subject", recipients: []string{"b@y"}, subject: "hi\r\nBcc: evil@z", wantErr: true},
		{name: "newline in sender", sender: "a@x\n", recipients: []string{"b@y"}, subject: "hi", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := NewMessage(tt.sender, tt.recipients, tt.subject, "body", false)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidMessage))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.subject, msg.Subject())
			assert.Equal(t, len(tt.recipients), len(msg.Recipients()))
		})
	}
}

func TestMessageRecipientsAreCopied(t *testing.T) {
	rcpts := []string{"b@y", "c@z"}
	msg, err := NewMessage("a@x", rcpts, "hi", "body", true)
	require.NoError(t, err)

	rcpts[0] = "changed@y"
	assert.Equal(t, []string{"b@y", "c@z"}, msg.Recipients())

	got := msg.Recipients()
	got[1] = "changed@z"
	assert.Equal(t, []string{"b@y", "c@z"}, msg.Recipients())
	assert.Equal(t, "b@y, c@z", msg.RecipientList())
	assert.True(t, msg.IsHTML())
}

func TestQueueItemJSON(t *testing.T) {
	msg, err := NewMessage("", []string{"b@y"}, "hi", "<p>hello</p>", true)
	require.NoError(t, err)
	item := QueueItem{ID: "id-1", Message: msg, Attempt: 2, LastError: "send: boom"}

	data, err := json.Marshal(item)
	require.NoError(t, err)

	var decoded QueueItem
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, item.ID, decoded.ID)
	assert.Equal(t, item.Attempt, decoded.Attempt)
	assert.Equal(t, item.LastError, decoded.LastError)
	assert.Equal(t, msg, decoded.Message)
}

func TestMessageUnmarshalValidates(t *testing.T) {
	var msg Message
	err := json.Unmarshal([]byte(`{"recipients":[],"subject":"hi"}`), &msg)
	assert.True(t, errors.Is(err, ErrInvalidMessage))
}

func TestTransportErrorMatching(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("attempt: %w", &TransportError{Stage: StageConnect, Err: cause})

	assert.True(t, errors.Is(err, ErrConnect))
	assert.False(t, errors.Is(err, ErrAuth))
	assert.False(t, errors.Is(err, ErrSend))
	assert.True(t, errors.Is(err, cause))

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.True(t, te.Retryable())
	assert.Equal(t, "connect: connection refused", te.Error())

	perm := &TransportError{Stage: StageSend, Err: cause, Permanent: true}
	assert.False(t, perm.Retryable())
	assert.True(t, isPermanent(perm))
	assert.Equal(t, StageSend, stageOf(errors.New("plain")))
	assert.Equal(t, StageAuth, stageOf(&TransportError{Stage: StageAuth, Err: cause}))
}
