// Package email provides an action that sends each dispatched batch as an
// HTML email over SMTP.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/c360/watchpost/component"
	"github.com/c360/watchpost/errors"
	"github.com/c360/watchpost/message"
	"github.com/c360/watchpost/pkg/tlsutil"
)

// Config holds SMTP and message parameters.
type Config struct {
	Host     string   `json:"host"`
	Port     int      `json:"port"`
	Username string   `json:"username"`
	Password string   `json:"password"`
	From     string   `json:"from"`
	To       []string `json:"to"`
	Subject  string   `json:"subject"`
	// StartTLS upgrades the connection when the server offers it.
	StartTLS bool                 `json:"starttls"`
	TLS      tlsutil.ClientConfig `json:"tls"`
	Timeout  string               `json:"timeout"`

	timeout  time.Duration
	fromAddr string
	toAddrs  []string
}

// DefaultConfig returns submission-port defaults.
func DefaultConfig() Config {
	return Config{
		Port:     587,
		Subject:  "watchpost alert",
		StartTLS: true,
		Timeout:  "10s",
	}
}

// Validate checks addresses and the timeout.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	from, err := mail.ParseAddress(c.From)
	if err != nil {
		return fmt.Errorf("invalid from address: %w", err)
	}
	c.fromAddr = from.Address
	if len(c.To) == 0 {
		return fmt.Errorf("at least one recipient is required")
	}
	c.toAddrs = c.toAddrs[:0]
	for _, to := range c.To {
		addr, err := mail.ParseAddress(to)
		if err != nil {
			return fmt.Errorf("invalid recipient %q: %w", to, err)
		}
		c.toAddrs = append(c.toAddrs, addr.Address)
	}
	if strings.ContainsAny(c.Subject, "\r\n") {
		return fmt.Errorf("subject must be a single line")
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return fmt.Errorf("invalid timeout: %w", err)
	}
	if d <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if err := c.TLS.Validate(); err != nil {
		return fmt.Errorf("invalid tls: %w", err)
	}
	c.timeout = d
	return nil
}

var bodyTemplate = template.Must(template.New("alert").Parse(`<html>
<body>
<h2>{{.Subject}}</h2>
<p>{{.Count}} alert(s) at {{.Time.Format "2006-01-02 15:04:05 MST"}}</p>
<ul>
{{- range .Items}}
<li>{{.}}</li>
{{- end}}
</ul>
</body>
</html>
`))

// Action sends one email per batch.
type Action struct {
	name   string
	config Config
	logger *slog.Logger
}

// New creates an email action.
func New(name string, config Config, logger *slog.Logger) (*Action, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "EmailAction", "New", "config validation")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Action{name: name, config: config, logger: logger}, nil
}

// NewAction is the registry factory.
func NewAction(name string, params json.RawMessage, deps component.Dependencies) (component.Action, error) {
	cfg := DefaultConfig()
	if err := component.DecodeParams(params, &cfg); err != nil {
		return nil, errors.WrapInvalid(err, "EmailAction", "NewAction", "decode params")
	}
	return New(name, cfg, deps.GetLoggerWithComponent(component.KindAction, name))
}

// Name implements component.Action.
func (a *Action) Name() string { return a.name }

// Notify renders and sends the batch.
func (a *Action) Notify(ctx context.Context, batch []any) error {
	msg, err := a.compose(message.NewNotification(a.name, batch))
	if err != nil {
		return errors.WrapInvalid(err, "EmailAction", "Notify", "compose message")
	}
	if err := a.send(ctx, msg); err != nil {
		return errors.WrapTransient(err, "EmailAction", "Notify", "send mail")
	}
	a.logger.Info("Email sent", "to", a.config.To, "count", len(batch))
	return nil
}

// describe renders one alert for the HTML list.
func describe(v any) string {
	switch item := v.(type) {
	case message.Alert:
		return fmt.Sprintf("%s: %s (%s)", item.Pipeline, item.Message, item.Time.Format(time.RFC3339))
	case *message.Alert:
		return describe(*item)
	case string:
		return item
	case nil:
		return "alert"
	}
	if data, err := json.Marshal(v); err == nil {
		return string(data)
	}
	return fmt.Sprintf("%v", v)
}

func (a *Action) compose(n message.Notification) ([]byte, error) {
	items := make([]string, len(n.Alerts))
	for i, v := range n.Alerts {
		items[i] = describe(v)
	}

	var body bytes.Buffer
	err := bodyTemplate.Execute(&body, struct {
		Subject string
		Count   int
		Time    time.Time
		Items   []string
	}{a.config.Subject, n.Count, n.Time, items})
	if err != nil {
		return nil, err
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", a.config.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(a.config.To, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", a.config.Subject))
	fmt.Fprintf(&msg, "Date: %s\r\n", n.Time.Format(time.RFC1123Z))
	fmt.Fprintf(&msg, "Message-ID: <%s@watchpost>\r\n", n.ID)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(strings.ReplaceAll(body.String(), "\n", "\r\n"))
	return msg.Bytes(), nil
}

// send runs one SMTP session. The connection deadline is the earlier of the
// configured timeout and ctx's deadline.
func (a *Action) send(ctx context.Context, msg []byte) error {
	addr := net.JoinHostPort(a.config.Host, strconv.Itoa(a.config.Port))
	dialer := &net.Dialer{Timeout: a.config.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(a.config.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	client, err := smtp.NewClient(conn, a.config.Host)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer client.Close()

	if a.config.StartTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			tlsConfig, err := tlsutil.LoadClientConfig(a.config.TLS, a.config.Host)
			if err != nil {
				return err
			}
			if err := client.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		}
	}
	if a.config.Username != "" {
		auth := smtp.PlainAuth("", a.config.Username, a.config.Password, a.config.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := client.Mail(a.config.fromAddr); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	for _, to := range a.config.toAddrs {
		if err := client.Rcpt(to); err != nil {
			return fmt.Errorf("rcpt %s: %w", to, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("end data: %w", err)
	}
	return client.Quit()
}
