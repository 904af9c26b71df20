package mailer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-automation/pkg/config"
)

func TestBuildMessageHeaders(t *testing.T) {
	m := New(config.SMTPConfig{Host: "smtp.example.com", Port: 587, Username: "bot@example.com"})
	msg, err := m.buildMessage("prof@example.com", "Rappel", "Cours à 14:00")
	require.NoError(t, err)
	assert.Equal(t, []string{"bot@example.com"}, msg.GetHeader("From"))
	assert.Equal(t, []string{"prof@example.com"}, msg.GetHeader("To"))
	assert.Equal(t, []string{"Rappel"}, msg.GetHeader("Subject"))
}

func TestBuildMessageRequiresRecipient(t *testing.T) {
	m := New(config.SMTPConfig{From: "bot@example.com"})
	_, err := m.buildMessage(" ", "subject", "body")
	assert.Error(t, err)
}

func TestSendEmailHonoursCancelledContext(t *testing.T) {
	m := New(config.SMTPConfig{From: "bot@example.com"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.SendEmail(ctx, "a@example.com", "s", "b"), context.Canceled)
}
