package service

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogNotifier is the default Notifier: it records role mentions in the
// structured log and nothing else.
type LogNotifier struct {
	logger *logrus.Logger
}

func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyRoleMention(ctx context.Context, roleName, channelName string) {
	n.logger.WithFields(logrus.Fields{
		"role":    roleName,
		"channel": channelName,
	}).Info("Role mentioned in relayed message")
}
