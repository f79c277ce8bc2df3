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
	"errors"
	"fmt"
)

var (
	// ErrQueueClosed is returned by a queue after Close.
	ErrQueueClosed = errors.New("mail queue is closed")
	// ErrCancelled is returned by Dequeue when its context is done.
	ErrCancelled = errors.New("dequeue cancelled")
	// ErrInvalidMessage wraps structural validation failures.
	ErrInvalidMessage = errors.New("invalid message")

	ErrConnect = errors.New("smtp connect failed")
	ErrAuth    = errors.New("smtp authentication failed")
	ErrSend    = errors.New("smtp send failed")
)

// Stage names the step of a delivery attempt that failed.
type Stage string

const (
	StageConnect Stage = "connect"
	StageAuth    Stage = "authenticate"
	StageSend    Stage = "send"
)

// TransportError is returned by Transport and Connection implementations.
type TransportError struct {
	Stage Stage
	Err   error
	// Permanent marks failures that will not succeed on retry, such as an
	// SMTP 5xx reply. Only consulted when bounded retries are enabled.
	Permanent bool
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match a TransportError against ErrConnect, ErrAuth or ErrSend.
func (e *TransportError) Is(target error) bool {
	switch target {
	case ErrConnect:
		return e.Stage == StageConnect
	case ErrAuth:
		return e.Stage == StageAuth
	case ErrSend:
		return e.Stage == StageSend
	}
	return false
}

// Retryable reports whether another attempt may succeed.
func (e *TransportError) Retryable() bool {
	return !e.Permanent
}

func stageOf(err error) Stage {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Stage
	}
	return StageSend
}

func isPermanent(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Permanent
}
