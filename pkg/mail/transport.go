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
	"context"

	"github.com/telekom/mailqueue/pkg/config"
)

// Transport opens connections to an SMTP relay.
type Transport interface {
	Connect(ctx context.Context, settings config.SMTP) (Connection, error)
}

// Connection is a single session with the relay. Errors returned by the
// methods should be *TransportError values.
type Connection interface {
	Authenticate(username, password string) error
	Send(ctx context.Context, from string, msg Message) error
	Close() error
}

// SettingsProvider returns the SMTP settings currently in effect. It is
// called once per delivery attempt so configuration changes apply to the
// next attempt without restarting the worker.
type SettingsProvider interface {
	SMTP() config.SMTP
}

// SettingsFunc adapts a function to SettingsProvider.
type SettingsFunc func() config.SMTP

func (f SettingsFunc) SMTP() config.SMTP { return f() }

// StaticSettings returns a SettingsProvider that always yields s.
func StaticSettings(s config.SMTP) SettingsProvider {
	return SettingsFunc(func() config.SMTP { return s })
}
