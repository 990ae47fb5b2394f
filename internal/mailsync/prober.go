package mailsync

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/vdavid/mailsync/internal/imap"
	"github.com/vdavid/mailsync/internal/logging"
	"github.com/vdavid/mailsync/internal/models"
)

// Prober checks candidate account settings against the mail server.
type Prober struct {
	gateway imap.Gateway
	log     zerolog.Logger
}

func NewProber(gateway imap.Gateway, logger zerolog.Logger) *Prober {
	return &Prober{
		gateway: gateway,
		log:     logger.With().Str("component", "prober").Logger(),
	}
}

// TestConnection opens and closes one authenticated session with the settings, bounded
// by their timeout. It never touches stored state. Missing required fields are reported
// as *ValidationError before any network call; every server-side failure is a
// *ConnectionError.
func (p *Prober) TestConnection(ctx context.Context, settings *models.AccountSettings) error {
	if err := validateProbeSettings(settings); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, settings.Timeout())
	defer cancel()

	if err := p.gateway.Probe(ctx, imap.CredentialsFromSettings(settings)); err != nil {
		connErr := newConnectionError(err)
		p.log.Info().
			Str("host", settings.Host).
			Str("username", logging.MaskEmail(settings.Username)).
			Str("reason", connErr.Reason).
			Msg("Connection test failed")
		return connErr
	}

	return nil
}

func validateProbeSettings(settings *models.AccountSettings) error {
	switch {
	case settings == nil:
		return &ValidationError{Field: "settings"}
	case settings.Host == "":
		return &ValidationError{Field: "host"}
	case settings.Username == "":
		return &ValidationError{Field: "username"}
	case settings.Secret == "":
		return &ValidationError{Field: "secret"}
	case !settings.TransportSecurity.Valid():
		return &ValidationError{Field: "transport_security", Reason: "must be one of tls, starttls, none"}
	case settings.Port < 0 || settings.Port > 65535:
		return &ValidationError{Field: "port", Reason: "must be between 1 and 65535"}
	}
	return nil
}
