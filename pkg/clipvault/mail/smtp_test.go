package mail

import (
	"context"
	"net/smtp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{From: "noreply@example.com"})
	assert.Error(t, err)

	_, err = New(Config{Host: "smtp.example.com"})
	assert.Error(t, err)

	m, err := New(Config{Host: "smtp.example.com", From: "noreply@example.com"})
	require.NoError(t, err)
	assert.Equal(t, 587, m.cfg.Port)
}

func TestSendBuildsHTMLMessage(t *testing.T) {
	m, err := New(Config{
		Host: "smtp.example.com",
		Port: 2525,
		From: "noreply@example.com",
	})
	require.NoError(t, err)

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg string
	m.send = func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, string(msg)
		assert.Nil(t, auth)
		return nil
	}

	err = m.Send(context.Background(), "viewer@example.com", "A video was shared", "<p>hello</p>")
	require.NoError(t, err)

	assert.Equal(t, "smtp.example.com:2525", gotAddr)
	assert.Equal(t, "noreply@example.com", gotFrom)
	assert.Equal(t, []string{"viewer@example.com"}, gotTo)
	assert.Contains(t, gotMsg, "Subject: A video was shared\r\n")
	assert.Contains(t, gotMsg, "Content-Type: text/html")
	assert.True(t, strings.HasSuffix(gotMsg, "\r\n<p>hello</p>"))
}

func TestSendUsesPlainAuthWhenConfigured(t *testing.T) {
	m, err := New(Config{
		Host:     "smtp.example.com",
		From:     "noreply@example.com",
		Username: "mailer",
		Password: "secret",
	})
	require.NoError(t, err)

	m.send = func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
		assert.NotNil(t, auth)
		return nil
	}
	require.NoError(t, m.Send(context.Background(), "viewer@example.com", "s", "b"))
}

func TestSendRejectsEmptyRecipient(t *testing.T) {
	m, err := New(Config{Host: "smtp.example.com", From: "noreply@example.com"})
	require.NoError(t, err)

	err = m.Send(context.Background(), "", "s", "b")
	assert.Error(t, err)
}

func TestSendHonorsCancelledContext(t *testing.T) {
	m, err := New(Config{Host: "smtp.example.com", From: "noreply@example.com"})
	require.NoError(t, err)

	called := false
	m.send = func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
		called = true
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = m.Send(ctx, "viewer@example.com", "s", "b")
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
