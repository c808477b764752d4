package monarch

// Logger receives the engine's progress messages. *log.Logger,
// *logrus.Logger and *logrus.Entry all satisfy it.
type Logger interface {
	Printf(string, ...interface{})
	Println(...interface{})
}

// NopLogger discards everything. Engines log to it unless WithLogger is
// given, since migrations usually run silently on application startup.
type NopLogger struct{}

func (NopLogger) Printf(string, ...interface{}) {}

func (NopLogger) Println(...interface{}) {}
