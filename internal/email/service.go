// Package email sends account notification emails via SMTP.
package email

import (
	"bytes"
	"fmt"
	"net/smtp"
	"strings"
	"text/template"
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

// SendEmail sends a plain text email
func (s *Service) SendEmail(to []string, subject, body string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	msg := []byte(fmt.Sprintf(
		"To: %s\r\n"+
			"From: %s\r\n"+
			"Subject: %s\r\n"+
			"Content-Type: text/plain; charset=UTF-8\r\n"+
			"\r\n"+
			"%s",
		strings.Join(to, ", "),
		from,
		subject,
		body,
	))

	return smtp.SendMail(s.server, s.auth, s.config.From, to, msg)
}

// CredentialsData holds data for the account emails, which carry a plaintext
// temporary password the recipient is expected to change.
type CredentialsData struct {
	UserName string
	Password string
}

// SendWelcomeEmail tells a newly created user their username and generated
// password.
func (s *Service) SendWelcomeEmail(to, userName, password string) error {
	body, err := renderTemplate(welcomeEmailTemplate, CredentialsData{
		UserName: userName,
		Password: password,
	})
	if err != nil {
		return fmt.Errorf("render welcome template: %w", err)
	}
	return s.SendEmail([]string{to}, "Welcome to Snap Server", body)
}

// SendPasswordResetEmail tells a user their freshly generated password.
func (s *Service) SendPasswordResetEmail(to, userName, password string) error {
	body, err := renderTemplate(passwordResetEmailTemplate, CredentialsData{
		UserName: userName,
		Password: password,
	})
	if err != nil {
		return fmt.Errorf("render password reset template: %w", err)
	}
	return s.SendEmail([]string{to}, "Snap Server password reset", body)
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t := template.Must(template.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const welcomeEmailTemplate = `Hello {{.UserName}},

An account has been created for you on Snap Server.

    username: {{.UserName}}
    password: {{.Password}}

Please log in and change your password as soon as possible.
`

const passwordResetEmailTemplate = `Hello {{.UserName}},

Your Snap Server password has been reset. Your new password is:

    {{.Password}}

Please log in and change it as soon as possible. If you did not request
this reset, contact your administrator.
`
