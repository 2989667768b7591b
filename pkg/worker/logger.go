package worker

import (
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// asynqLogger routes asynq server logs through logrus
type asynqLogger struct {
	log logrus.FieldLogger
}

func newAsynqLogger(log logrus.FieldLogger) *asynqLogger {
	return &asynqLogger{log: log.WithField("component", "asynq")}
}

func (l *asynqLogger) Debug(args ...interface{}) { l.log.Debug(args...) }
func (l *asynqLogger) Info(args ...interface{})  { l.log.Info(args...) }
func (l *asynqLogger) Warn(args ...interface{})  { l.log.Warn(args...) }
func (l *asynqLogger) Error(args ...interface{}) { l.log.Error(args...) }
func (l *asynqLogger) Fatal(args ...interface{}) { l.log.Fatal(args...) }
var _ asynq.Logger = (*asynqLogger)(nil)
