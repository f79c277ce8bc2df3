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
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"

	"github.com/telekom/mailqueue/pkg/config"
)

// Signer signs a rendered RFC 5322 message, for example with DKIM.
type Signer interface {
	Sign(message []byte, from string) ([]byte, error)
}

// SMTPTransport delivers messages to a relay using net/smtp. Messages are
// rendered with gomail so headers and bodies are encoded consistently.
type SMTPTransport struct {
	signer Signer
	now    func() time.Time
}

var _ Transport = (*SMTPTransport)(nil)

// NewSMTPTransport returns a transport. signer may be nil.
func NewSMTPTransport(signer Signer) *SMTPTransport {
	return &SMTPTransport{signer: signer, now: time.Now}
}

type smtpConnection struct {
	conn     net.Conn
	client   *smtp.Client
	settings config.SMTP
	signer   Signer
	now      func() time.Time
	// encrypted is set once the session runs over TLS.
	encrypted bool
}

// Connect dials the relay, reads the greeting, says EHLO and negotiates TLS
// according to settings.Security.
func (t *SMTPTransport) Connect(ctx context.Context, settings config.SMTP) (Connection, error) {
	dialer := &net.Dialer{Timeout: settings.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", settings.Address())
	if err != nil {
		return nil, connectError(fmt.Errorf("dial %s: %w", settings.Address(), err))
	}
	setDeadline(ctx, conn, settings.Timeout)

	tlsConfig := &tls.Config{
		ServerName:         settings.Host,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: settings.InsecureSkipVerify, //nolint:gosec // opt-in for relays with self-signed certificates
	}

	if settings.Security == config.SecurityTLS {
		tlsConn := tls.Client(conn, tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
			return nil, connectError(fmt.Errorf("tls handshake: %w", err))
		}
		conn = tlsConn
	}
	encrypted := settings.Security == config.SecurityTLS

	client, err := smtp.NewClient(conn, settings.Host)
	if err != nil {
		_ = conn.Close()
		return nil, connectError(fmt.Errorf("greeting: %w", err))
	}
	if err := client.Hello(settings.HeloName); err != nil {
		_ = client.Close()
		return nil, connectError(fmt.Errorf("ehlo: %w", err))
	}

	switch settings.Security {
	case config.SecurityStartTLS, config.SecurityAuto:
		ok, _ := client.Extension("STARTTLS")
		if !ok && settings.Security == config.SecurityStartTLS {
			_ = client.Close()
			return nil, &TransportError{Stage: StageConnect, Err: errors.New("server does not offer STARTTLS"), Permanent: true}
		}
		if ok {
			// StartTLS repeats EHLO on the upgraded connection.
			if err := client.StartTLS(tlsConfig); err != nil {
				_ = client.Close()
				return nil, connectError(fmt.Errorf("starttls: %w", err))
			}
			encrypted = true
		}
	}

	return &smtpConnection{
		conn:      conn,
		client:    client,
		settings:  settings,
		signer:    t.signer,
		now:       t.now,
		encrypted: encrypted,
	}, nil
}

// Authenticate uses PLAIN. With security "none" the credentials are sent
// over the unencrypted connection; in the other modes net/smtp refuses to do
// that unless the relay is on localhost, which is a configuration problem
// no retry can fix.
func (c *smtpConnection) Authenticate(username, password string) error {
	var auth smtp.Auth
	if c.settings.Security == config.SecurityNone {
		auth = &plainAuth{username: username, password: password, host: c.settings.Host}
	} else {
		auth = smtp.PlainAuth("", username, password, c.settings.Host)
	}
	if err := c.client.Auth(auth); err != nil {
		return &TransportError{
			Stage:     StageAuth,
			Err:       err,
			Permanent: isPermanentReply(err) || (!c.encrypted && c.settings.Security != config.SecurityNone),
		}
	}
	return nil
}

// plainAuth is smtp.PlainAuth without the TLS requirement.
type plainAuth struct {
	username, password, host string
}

func (a *plainAuth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	if server.Name != a.host {
		return "", nil, errors.New("wrong host name")
	}
	return "PLAIN", []byte("\x00" + a.username + "\x00" + a.password), nil
}

func (a *plainAuth) Next(_ []byte, more bool) ([]byte, error) {
	if more {
		return nil, errors.New("unexpected server challenge")
	}
	return nil, nil
}

func (c *smtpConnection) Send(ctx context.Context, from string, msg Message) error {
	setDeadline(ctx, c.conn, c.settings.Timeout)

	raw, err := c.render(from, msg)
	if err != nil {
		return &TransportError{Stage: StageSend, Err: err, Permanent: true}
	}

	if err := c.client.Mail(from); err != nil {
		return sendError(fmt.Errorf("mail from: %w", err))
	}
	for _, rcpt := range msg.recipients {
		if err := c.client.Rcpt(rcpt); err != nil {
			return sendError(fmt.Errorf("rcpt to %s: %w", rcpt, err))
		}
	}
	w, err := c.client.Data()
	if err != nil {
		return sendError(fmt.Errorf("data: %w", err))
	}
	if _, err := w.Write(raw); err != nil {
		_ = w.Close()
		return sendError(fmt.Errorf("data write: %w", err))
	}
	if err := w.Close(); err != nil {
		return sendError(fmt.Errorf("data close: %w", err))
	}
	return nil
}

// Close sends QUIT and closes the connection. The connection is closed even
// when QUIT fails.
func (c *smtpConnection) Close() error {
	if err := c.client.Quit(); err != nil {
		_ = c.client.Close()
		return err
	}
	return nil
}

func (c *smtpConnection) render(from string, msg Message) ([]byte, error) {
	m := gomail.NewMessage()
	if from == c.settings.SenderAddress && c.settings.SenderName != "" {
		m.SetAddressHeader("From", from, c.settings.SenderName)
	} else {
		m.SetHeader("From", from)
	}
	m.SetHeader("To", msg.recipients...)
	m.SetHeader("Subject", msg.subject)
	m.SetDateHeader("Date", c.now())
	m.SetHeader("Message-ID", fmt.Sprintf("<%s@%s>", uuid.NewString(), messageIDDomain(from, c.settings.HeloName)))
	if msg.html {
		m.SetBody("text/html", msg.body)
	} else {
		m.SetBody("text/plain", msg.body)
	}

	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("render message: %w", err)
	}
	raw := buf.Bytes()

	if c.signer != nil {
		signed, err := c.signer.Sign(raw, from)
		if err != nil {
			return nil, err
		}
		raw = signed
	}
	return raw, nil
}

func messageIDDomain(from, fallback string) string {
	if i := strings.LastIndex(from, "@"); i >= 0 && i+1 < len(from) {
		return from[i+1:]
	}
	if fallback != "" {
		return fallback
	}
	return "localhost"
}

func setDeadline(ctx context.Context, conn net.Conn, timeout time.Duration) {
	deadline, ok := ctx.Deadline()
	if !ok && timeout > 0 {
		deadline, ok = time.Now().Add(timeout), true
	}
	if ok {
		_ = conn.SetDeadline(deadline)
	}
}

func connectError(err error) error {
	return &TransportError{Stage: StageConnect, Err: err, Permanent: isPermanentReply(err)}
}

func sendError(err error) error {
	return &TransportError{Stage: StageSend, Err: err, Permanent: isPermanentReply(err)}
}

// isPermanentReply reports SMTP 5xx replies.
func isPermanentReply(err error) bool {
	var protoErr *textproto.Error
	return errors.As(err, &protoErr) && protoErr.Code >= 500 && protoErr.Code < 600
}
