package mail

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// LogMailer writes outbound messages to the logger instead of delivering them. It is used in
// development when SMTP is disabled so that confirmation links remain reachable.
type LogMailer struct {
	log *zap.Logger
}

// NewLogMailer constructs a LogMailer. A nil logger discards the output.
func NewLogMailer(log *zap.Logger) *LogMailer {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogMailer{log: log}
}

func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	recipients := uniqueAddresses(msg.To)
	if len(recipients) == 0 {
		return errors.New("mail: at least one recipient is required")
	}
	m.log.Info("mail sent",
		zap.Strings("to", recipients),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body),
	)
	return nil
}
