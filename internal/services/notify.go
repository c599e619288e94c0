package services

import (
	"context"

	"go.uber.org/zap"
)

// PushSender delivers a push notification to one device token. Delivery is an
// external concern; the log sender stands in for a real gateway.
type PushSender interface {
	Send(ctx context.Context, pushToken, pushTokenType, title, body string) error
}

type LogPushSender struct {
	log *zap.Logger
}

func NewLogPushSender(log *zap.Logger) *LogPushSender {
	return &LogPushSender{log: log}
}

func (s *LogPushSender) Send(_ context.Context, pushToken, pushTokenType, title, body string) error {
	s.log.Info("push notification",
		zap.String("token_type", pushTokenType),
		zap.String("token_suffix", suffix(pushToken, 6)),
		zap.String("title", title),
		zap.String("body", body),
	)
	return nil
}

// Mailer sends login challenge codes. The log mailer stands in for a real
// provider.
type Mailer interface {
	SendLoginCode(ctx context.Context, email, code string) error
}

type LogMailer struct {
	log *zap.Logger
}

func NewLogMailer(log *zap.Logger) *LogMailer {
	return &LogMailer{log: log}
}

func (m *LogMailer) SendLoginCode(_ context.Context, email, code string) error {
	m.log.Info("login code issued", zap.String("email", email), zap.String("code", code))
	return nil
}

func suffix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
