package mailer

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LogProvider logs emails instead of sending them. Used when no API key is configured.
type LogProvider struct {
	logger *zap.Logger
}

// NewLogProvider creates a new log-only provider.
func NewLogProvider(logger *zap.Logger) *LogProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogProvider{logger: logger}
}

// Name returns the provider name.
func (l *LogProvider) Name() string {
	return "log"
}

// Send logs the email message and returns a fake message ID.
func (l *LogProvider) Send(_ context.Context, msg Message) (SendResult, error) {
	fakeID := "log-" + uuid.NewString()
	l.logger.Info("email logged, not sent",
		zap.String("from", msg.From),
		zap.String("to", strings.Join(msg.To, ", ")),
		zap.String("subject", msg.Subject),
		zap.Int("html_length", len(msg.HTML)),
		zap.String("text", msg.Text),
		zap.String("message_id", fakeID),
	)
	return SendResult{ProviderMessageID: fakeID}, nil
}
