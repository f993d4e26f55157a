package app

import (
	"errors"
	"strings"
	"time"

	"filevault/internal/clock"
	"filevault/internal/googleid"
	"filevault/internal/mailer"
	"filevault/pkg/storage"
	"filevault/pkg/store"
)

const (
	defaultSessionTTL  = 7 * 24 * time.Hour
	defaultPasscodeTTL = 10 * time.Minute
)

// Config holds runtime configuration for the core application.
type Config struct {
	Store          store.Store
	Objects        storage.ObjectStore
	Mailer         mailer.Mailer
	Google         googleid.Verifier
	GoogleClientID string
	Clock          clock.Clock
	SessionTTL     time.Duration
	PasscodeTTL    time.Duration
	// AppURL is the public base URL used to build share links.
	AppURL string
}

// App is the core application service: sessions, login flows and files.
type App struct {
	store          store.Store
	objects        storage.ObjectStore
	mailer         mailer.Mailer
	google         googleid.Verifier
	googleClientID string
	clock          clock.Clock
	sessionTTL     time.Duration
	passcodeTTL    time.Duration
	appURL         string
}

// New constructs the application from its collaborators.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Objects == nil {
		return nil, errors.New("object store required")
	}
	if cfg.Mailer == nil {
		return nil, errors.New("mailer required")
	}
	if cfg.Google == nil {
		return nil, errors.New("google verifier required")
	}
	clientID := strings.TrimSpace(cfg.GoogleClientID)
	if clientID == "" {
		return nil, errors.New("google client id required")
	}
	sessionTTL := cfg.SessionTTL
	if sessionTTL <= 0 {
		sessionTTL = defaultSessionTTL
	}
	passcodeTTL := cfg.PasscodeTTL
	if passcodeTTL <= 0 {
		passcodeTTL = defaultPasscodeTTL
	}
	return &App{
		store:          cfg.Store,
		objects:        cfg.Objects,
		mailer:         cfg.Mailer,
		google:         cfg.Google,
		googleClientID: clientID,
		clock:          clock.OrSystem(cfg.Clock),
		sessionTTL:     sessionTTL,
		passcodeTTL:    passcodeTTL,
		appURL:         strings.TrimRight(strings.TrimSpace(cfg.AppURL), "/"),
	}, nil
}

// SessionTTL is the lifetime of new sessions; the cookie Max-Age matches it.
func (a *App) SessionTTL() time.Duration {
	return a.sessionTTL
}

func (a *App) now() time.Time {
	return a.clock.Now()
}
