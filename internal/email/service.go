// Package email provides email sending capabilities via SMTP.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// Message is a single outbound email with both HTML and plain-text bodies.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
}

// NewService creates a new email service
func NewService(config Config) *Service {
	auth := smtp.PlainAuth("", config.Username, config.Password, config.Host)

	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// Send sends a multipart email with plain-text and HTML alternatives.
func (s *Service) Send(msg Message) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	boundary := "boundary-epicme"

	var body bytes.Buffer
	fmt.Fprintf(&body, "To: %s\r\n", msg.To)
	fmt.Fprintf(&body, "From: %s\r\n", from)
	fmt.Fprintf(&body, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&body, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&body, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&body, "\r\n")

	text := msg.Text
	if strings.TrimSpace(text) == "" {
		text = "Please view this email in an HTML-capable email client."
	}
	fmt.Fprintf(&body, "--%s\r\n", boundary)
	fmt.Fprintf(&body, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&body, "\r\n")
	fmt.Fprintf(&body, "%s\r\n", text)
	fmt.Fprintf(&body, "\r\n")

	fmt.Fprintf(&body, "--%s\r\n", boundary)
	fmt.Fprintf(&body, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&body, "\r\n")
	fmt.Fprintf(&body, "%s\r\n", msg.HTML)
	fmt.Fprintf(&body, "\r\n")
	fmt.Fprintf(&body, "--%s--\r\n", boundary)

	return smtp.SendMail(s.server, s.auth, s.config.From, []string{msg.To}, body.Bytes())
}

// ValidationCodeData holds data for the validation code template
type ValidationCodeData struct {
	AppName string
	Code    string
	Minutes int
}

// ValidationCodeMessage builds the one-time code email. Building is separate
// from sending so callers can inspect or queue the message.
func ValidationCodeMessage(appName, to, code string, minutes int) (Message, error) {
	data := ValidationCodeData{
		AppName: appName,
		Code:    code,
		Minutes: minutes,
	}

	html, err := renderTemplate(validationCodeTemplate, data)
	if err != nil {
		return Message{}, fmt.Errorf("render validation code template: %w", err)
	}

	return Message{
		To:      to,
		Subject: fmt.Sprintf("%s Validation Token", appName),
		HTML:    html,
		Text:    fmt.Sprintf("Here's your %s validation token: %s", appName, code),
	}, nil
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t := template.Must(template.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const validationCodeTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Your {{.AppName}} validation token</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .code { font-size: 32px; letter-spacing: 8px; font-weight: bold; background: #f4f6f8; padding: 16px 24px; border-radius: 4px; display: inline-block; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>Your validation token</h2>

    <p>Enter this token to connect your account:</p>

    <p class="code">{{.Code}}</p>

    <p>This token expires in about {{.Minutes}} minute{{if ne .Minutes 1}}s{{end}}.</p>

    <div class="footer">
        <p>If you didn't request this token, you can safely ignore this email.</p>
    </div>
</body>
</html>`
