package launcher

import (
	"time"

	"github.com/loykin/taskserve/internal/common"
	"github.com/loykin/taskserve/internal/engine"
)

// Observer is told about the externally visible points of a session.
type Observer interface {
	// Listening is called once the server accepts connections.
	Listening(addr engine.Addr)
	// AutoShutdown is called when the session ceiling elapsed and shutdown
	// begins.
	AutoShutdown(ceiling time.Duration)
}

type logObserver struct {
	logger *common.Logger
}

// NewLogObserver reports session events through logger.
func NewLogObserver(logger *common.Logger) Observer {
	return logObserver{logger: logger}
}

func (o logObserver) Listening(addr engine.Addr) {
	o.logger.Info("local server listening",
		"url", "http://"+addr.String(),
		"family", addr.Family,
		"address", addr.Address,
		"port", addr.Port)
}

func (o logObserver) AutoShutdown(ceiling time.Duration) {
	o.logger.Info("session ceiling reached, shutting down", "ceiling", ceiling)
}
