package mailer

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingProvider struct {
	sent []Message
}

func (p *recordingProvider) Name() string { return "recording" }

func (p *recordingProvider) Send(_ context.Context, msg Message) (SendResult, error) {
	p.sent = append(p.sent, msg)
	return SendResult{ProviderMessageID: "rec-1"}, nil
}

func TestLogProviderSend(t *testing.T) {
	provider := NewLogProvider(zap.NewNop())
	result, err := provider.Send(context.Background(), Message{
		From:    "test@example.com",
		To:      []string{"recipient@example.com"},
		Subject: "Status Change Notification",
		Text:    "Your report is now Resolved",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result.ProviderMessageID, "log-"))
	assert.Equal(t, "log", provider.Name())
}

func TestMailerAppliesDefaultSender(t *testing.T) {
	provider := &recordingProvider{}
	m := New(provider, "default@test.com")

	_, err := m.Send(context.Background(), Message{To: []string{"a@example.com"}, Subject: "hi"})
	require.NoError(t, err)
	require.Len(t, provider.sent, 1)
	assert.Equal(t, "default@test.com", provider.sent[0].From)
	assert.Equal(t, "recording", m.ProviderName())
}

func TestMailerRejectsMissingRecipient(t *testing.T) {
	provider := &recordingProvider{}
	m := New(provider, "default@test.com")

	_, err := m.Send(context.Background(), Message{Subject: "hi"})
	require.Error(t, err)
	assert.Empty(t, provider.sent)
}

func TestMailerHonoursCancelledContext(t *testing.T) {
	provider := &recordingProvider{}
	m := New(provider, "default@test.com")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Send(ctx, Message{To: []string{"a@example.com"}})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, provider.sent)
}
