package mailer

import (
	"context"

	"medprice-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LogSender only logs messages. Used when no transport is configured.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender() *LogSender {
	return &LogSender{logger: util.ComponentLogger("mail-log")}
}

func (s *LogSender) Send(_ context.Context, msg Message) Result {
	if err := validate(msg); err != nil {
		return Failed(err)
	}
	id := uuid.New().String()
	s.logger.Info("Email not sent, log transport in use",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("message_id", id))
	return Result{Success: true, MessageID: id}
}
