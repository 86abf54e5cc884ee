package notification

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogSender writes codes to the log. Meant for development setups without SMTP or push.
type LogSender struct {
	logger *logrus.Entry
}

func NewLogSender(logger *logrus.Entry) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, d Delivery) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.logger.WithField("challenge", d.ChallengeID).Debugf("code for owner %s: %s", d.Contact.OwnerID, d.Code)
	s.logger.Infof("logged code of challenge %s for owner %s", d.ChallengeID, d.Contact.OwnerID)
	return nil
}
