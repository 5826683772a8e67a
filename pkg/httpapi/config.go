package httpapi

import (
	"fmt"
	"time"
)

// newServerConfig builds a Server's listen configuration from the admin
// config's metrics port, applying the same read/write/idle timeout
// defaults the teacher's API server uses.
func newServerConfig(port int) serverConfig {
	return serverConfig{
		Addr:         fmt.Sprintf(":%d", port),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

type serverConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}
