package email

import (
	"strings"
	"testing"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{
			name:     "empty config",
			config:   Config{},
			expected: false,
		},
		{
			name: "missing host",
			config: Config{
				Port: "587",
				From: "test@example.com",
			},
			expected: false,
		},
		{
			name: "missing port",
			config: Config{
				Host: "smtp.example.com",
				From: "test@example.com",
			},
			expected: false,
		},
		{
			name: "missing from",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
			},
			expected: false,
		},
		{
			name: "fully configured",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
				From: "test@example.com",
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

func TestRenderWelcomeTemplate(t *testing.T) {
	body, err := renderTemplate(welcomeEmailTemplate, CredentialsData{
		UserName: "alice",
		Password: "tmpPass99",
	})
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	if !strings.Contains(body, "alice") {
		t.Error("template should contain the username")
	}
	if !strings.Contains(body, "tmpPass99") {
		t.Error("template should contain the generated password")
	}
}

func TestRenderPasswordResetTemplate(t *testing.T) {
	body, err := renderTemplate(passwordResetEmailTemplate, CredentialsData{
		UserName: "bob",
		Password: "newPass42",
	})
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	if !strings.Contains(body, "bob") {
		t.Error("template should contain the username")
	}
	if !strings.Contains(body, "newPass42") {
		t.Error("template should contain the new password")
	}
}
