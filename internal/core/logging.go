package core

import (
	"io"

	"github.com/sirupsen/logrus"
)

// discardLogger is used when a component is built without a logger.
func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
