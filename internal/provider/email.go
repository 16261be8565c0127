// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package provider

import (
	"crypto/tls"
	"fmt"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mattermost/mattermost-messaging/internal/metrics"
	"github.com/mattermost/mattermost-messaging/model"
)

// sslOnConnectPort is the conventional SMTPS port, connected with TLS from
// the first byte instead of a STARTTLS upgrade.
const sslOnConnectPort = 465

// EmailConfig holds the SMTP settings for outbound email.
type EmailConfig struct {
	Host          string
	Port          int
	Username      string
	Password      string
	UseSSL        bool
	DefaultSender string
}

// EmailSender delivers rendered messages over SMTP.
type EmailSender struct {
	config  EmailConfig
	logger  logrus.FieldLogger
	metrics *metrics.MessagingMetrics
}

// NewEmailSender creates a Sender delivering over SMTP with the given config.
func NewEmailSender(config EmailConfig, logger logrus.FieldLogger, messagingMetrics *metrics.MessagingMetrics) *EmailSender {
	return &EmailSender{
		config:  config,
		logger:  logger.WithField("provider", "email"),
		metrics: messagingMetrics,
	}
}

// Send delivers the rendered message to the subscription's email address.
func (s *EmailSender) Send(subscription *model.Subscription, subject, body, contentType, sender string) Result {
	return s.SendTo(subscription.EmailAddress, subject, body, contentType, sender)
}

// SendTo delivers the rendered message directly to the given address,
// bypassing any subscription. Used by the email gateway.
func (s *EmailSender) SendTo(to, subject, body, contentType, sender string) Result {
	if sender == "" {
		sender = s.config.DefaultSender
	}

	start := time.Now()
	result := s.sendMessage(to, buildMessage(to, subject, body, contentType, sender), sender)
	elapsed := time.Since(start).Seconds()

	s.metrics.DeliveryDurationHist.WithLabelValues("email").Observe(elapsed)
	s.metrics.DeliveriesCount.WithLabelValues("email", string(result.Status)).Inc()

	if result.Delivered() {
		s.logger.WithField("to", to).Debug("Delivered email")
	} else {
		s.logger.WithError(result.Error).WithFields(logrus.Fields{
			"to":     to,
			"status": result.Status,
		}).Warn("Failed to deliver email")
	}

	return result
}

// buildMessage assembles an RFC 5322 message with the standard headers. For a
// multipart content type the body already carries the boundary announced in
// contentType and is passed through unchanged.
func buildMessage(to, subject, body, contentType, sender string) []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "From: %s\r\n", sender)
	fmt.Fprintf(&sb, "To: %s\r\n", to)
	fmt.Fprintf(&sb, "Subject: %s\r\n", subject)
	fmt.Fprintf(&sb, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	fmt.Fprintf(&sb, "Message-ID: <%s@messaging>\r\n", model.NewID())
	sb.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&sb, "Content-Type: %s\r\n", contentType)
	sb.WriteString("\r\n")
	sb.WriteString(body)

	return []byte(sb.String())
}

func (s *EmailSender) sendMessage(to string, message []byte, sender string) Result {
	client, err := s.connect()
	if err != nil {
		return transientFailure(errors.Wrap(err, "failed to connect to smtp server"))
	}
	defer client.Close()

	if s.config.Username != "" {
		auth := smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
		if err = client.Auth(auth); err != nil {
			// Rejected credentials usually mean a configuration or server
			// hiccup rather than anything about this recipient.
			return transientFailure(errors.Wrap(err, "failed to authenticate with smtp server"))
		}
	}

	if err = client.Mail(sender); err != nil {
		return classifySMTPError(errors.Wrap(err, "smtp server rejected sender"), err)
	}
	if err = client.Rcpt(to); err != nil {
		return classifySMTPError(errors.Wrap(err, "smtp server rejected recipient"), err)
	}

	writer, err := client.Data()
	if err != nil {
		return classifySMTPError(errors.Wrap(err, "failed to open smtp data stream"), err)
	}
	if _, err = writer.Write(message); err != nil {
		return transientFailure(errors.Wrap(err, "failed to write message"))
	}
	if err = writer.Close(); err != nil {
		return classifySMTPError(errors.Wrap(err, "smtp server rejected message"), err)
	}

	_ = client.Quit()

	return delivered()
}

// connect establishes the SMTP session, selecting the transport by
// configuration: TLS on connect for the SMTPS port, a STARTTLS upgrade for
// any other port when TLS is enabled, plaintext otherwise.
func (s *EmailSender) connect() (*smtp.Client, error) {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	if s.config.UseSSL && s.config.Port == sslOnConnectPort {
		conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: s.config.Host})
		if err != nil {
			return nil, err
		}

		return smtp.NewClient(conn, s.config.Host)
	}

	client, err := smtp.Dial(addr)
	if err != nil {
		return nil, err
	}

	if s.config.UseSSL {
		if err = client.StartTLS(&tls.Config{ServerName: s.config.Host}); err != nil {
			client.Close()
			return nil, err
		}
	}

	return client, nil
}

// classifySMTPError maps SMTP reply codes onto the result taxonomy: 4xx is
// transient, 5xx permanent, anything else transient.
func classifySMTPError(wrapped, cause error) Result {
	var protoErr *textproto.Error
	if errors.As(cause, &protoErr) && protoErr.Code >= 500 {
		return permanentFailure(wrapped)
	}

	return transientFailure(wrapped)
}
