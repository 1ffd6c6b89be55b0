package options

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/openfpv/flowsync/go/internal/flowstate"
	"github.com/rs/zerolog/log"
)

// Store persists runtime-tunable options in Postgres. Reading a name
// the table has never seen writes the registered default back first, so
// operators always see the effective value when they open the panel.
type Store struct {
	db       *sql.DB
	defaults map[string]string
}

func NewStore(db *sql.DB, defaults map[string]string) *Store {
	return &Store{db: db, defaults: defaults}
}

var _ flowstate.OptionStore = (*Store)(nil)

// Option returns the stored value for name, settling on the default the
// first time an unset option is read.
func (s *Store) Option(ctx context.Context, name string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM options WHERE name = $1`, name).Scan(&value)
	if err == nil {
		return value, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to read option %s: %w", name, err)
	}

	fallback, ok := s.defaults[name]
	if !ok {
		return "", fmt.Errorf("option %s has no stored value and no default", name)
	}
	if err := s.SetOption(ctx, name, fallback); err != nil {
		// The read still succeeds; the default just was not persisted.
		log.Error().Err(err).Str("option", name).Msg("failed to persist option default")
	}
	return fallback, nil
}

// SetOption upserts an option value.
func (s *Store) SetOption(ctx context.Context, name, value string) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO options (name, value) VALUES ($1, $2)
		 ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value`,
		name, value); err != nil {
		return fmt.Errorf("failed to set option %s: %w", name, err)
	}
	return nil
}
