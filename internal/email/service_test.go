package email

import (
	"strings"
	"testing"
)

func TestIsConfigured(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		want   bool
	}{
		{
			name:   "fully configured",
			config: Config{Host: "smtp.example.com", Port: "587", From: "noreply@example.com"},
			want:   true,
		},
		{
			name:   "missing host",
			config: Config{Port: "587", From: "noreply@example.com"},
			want:   false,
		},
		{
			name:   "missing from",
			config: Config{Host: "smtp.example.com", Port: "587"},
			want:   false,
		},
		{
			name:   "empty",
			config: Config{},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if got := svc.IsConfigured(); got != tt.want {
				t.Errorf("IsConfigured() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSendUnconfigured(t *testing.T) {
	svc := NewService(Config{})
	err := svc.Send(Message{To: "kody@example.com", Subject: "hi"})
	if err == nil {
		t.Fatal("expected error sending with no configuration")
	}
}

func TestValidationCodeMessage(t *testing.T) {
	msg, err := ValidationCodeMessage("EpicMe", "kody@example.com", "123456", 10)
	if err != nil {
		t.Fatalf("ValidationCodeMessage failed: %v", err)
	}

	if msg.To != "kody@example.com" {
		t.Errorf("expected recipient kody@example.com, got %s", msg.To)
	}
	if msg.Subject != "EpicMe Validation Token" {
		t.Errorf("unexpected subject %q", msg.Subject)
	}
	if !strings.Contains(msg.Text, "123456") {
		t.Errorf("text body missing code: %q", msg.Text)
	}
	if !strings.Contains(msg.HTML, "123456") {
		t.Error("html body missing code")
	}
	if !strings.Contains(msg.HTML, "10 minutes") {
		t.Error("html body missing expiry")
	}
}

func TestValidationCodeMessageSingularMinute(t *testing.T) {
	msg, err := ValidationCodeMessage("EpicMe", "kody@example.com", "654321", 1)
	if err != nil {
		t.Fatalf("ValidationCodeMessage failed: %v", err)
	}
	if !strings.Contains(msg.HTML, "1 minute.") {
		t.Error("expected singular minute phrasing")
	}
	if strings.Contains(msg.HTML, "1 minutes") {
		t.Error("unexpected plural for a single minute")
	}
}
