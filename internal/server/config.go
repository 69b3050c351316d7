package server

import (
	"net/http"
	"time"

	"panelup/internal/update"
)

// Config holds the collaborators and settings of a Server.
type Config struct {
	ListenAddr string

	// AdminUser and AdminPasswordHash (bcrypt) guard every /update route
	// and /metrics.
	AdminUser         string
	AdminPasswordHash string

	// SecureCookie sets the Secure flag on the session cookie. Enable it
	// when the server sits behind TLS.
	SecureCookie bool

	Service  *update.Service
	Sessions update.SessionStore

	// Metrics is optional. When set, /metrics is served and requests are
	// counted.
	Metrics Metrics

	Logger update.Logger
	Clock  update.Clock
	IDGen  update.IDGenerator
}

// Metrics is the part of the metrics recorder the server uses.
type Metrics interface {
	Handler() http.Handler
	RecordHTTPRequest(method, path string, status int, duration time.Duration)
}
