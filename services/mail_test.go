package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMTPMailerNeedsConfiguration(t *testing.T) {
	err := NewSMTPMailer(SMTPConfig{Host: "smtp.example.com"}).SendMagicLink(context.Background(), "ada@example.com", "http://x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not fully configured")

	err = NewSMTPMailer(SMTPConfig{
		Host: "smtp.example.com", Port: "submission", Username: "u", Password: "p",
	}).SendMagicLink(context.Background(), "ada@example.com", "http://x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid SMTP port")

	err = NewSMTPMailer(SMTPConfig{
		Host: "smtp.example.com", Port: "587", Username: "u", Password: "p", From: "not an address",
	}).SendMagicLink(context.Background(), "ada@example.com", "http://x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid sender address")
}
