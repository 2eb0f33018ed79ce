// Package notify delivers task outcome messages and keeps a log of every
// delivery attempt.
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"go.uber.org/zap"
)

const (
	ChannelEmail = "email"
	ChannelLog   = "log"
)

// Message is one notification to deliver
type Message struct {
	Recipients []string
	Subject    string
	Body       string
}

// Channel delivers messages
type Channel interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig holds the mail server settings
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// SMTPChannel sends plain text mail
type SMTPChannel struct {
	logger *zap.Logger
	config SMTPConfig
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPChannel(logger *zap.Logger, config SMTPConfig) *SMTPChannel {
	return &SMTPChannel{
		logger: logger.Named("smtp"),
		config: config,
		send:   smtp.SendMail,
	}
}

func (c *SMTPChannel) Name() string { return ChannelEmail }

func (c *SMTPChannel) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(msg.Recipients) == 0 {
		return fmt.Errorf("no recipients")
	}

	var auth smtp.Auth
	if c.config.Username != "" {
		auth = smtp.PlainAuth("", c.config.Username, c.config.Password, c.config.Host)
	}

	addr := fmt.Sprintf("%s:%d", c.config.Host, c.config.Port)
	if err := c.send(addr, auth, c.config.From, msg.Recipients, FormatMail(c.config.From, msg)); err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}

	c.logger.Debug("Mail sent",
		zap.String("subject", msg.Subject),
		zap.Int("recipients", len(msg.Recipients)))
	return nil
}

// FormatMail renders msg as an RFC 5322 message.
func FormatMail(from string, msg Message) []byte {
	return []byte(fmt.Sprintf("From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"Content-Type: text/plain; charset=UTF-8\r\n"+
		"\r\n"+
		"%s\r\n",
		from,
		strings.Join(msg.Recipients, ", "),
		msg.Subject,
		strings.ReplaceAll(msg.Body, "\n", "\r\n")))
}

// LogChannel writes messages to the logger instead of delivering them
type LogChannel struct {
	logger *zap.Logger
}

func NewLogChannel(logger *zap.Logger) *LogChannel {
	return &LogChannel{logger: logger.Named("notify")}
}

func (c *LogChannel) Name() string { return ChannelLog }

func (c *LogChannel) Send(ctx context.Context, msg Message) error {
	c.logger.Info("Notification",
		zap.Strings("recipients", msg.Recipients),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body))
	return nil
}
