// Package prefs persists user device preferences to a YAML file.
package prefs

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/nstepura/bridge/internal/core"
)

// Store implements core.PreferenceStore over a viper-managed file. Every
// Set is written through so preferences survive restarts.
type Store struct {
	mu   sync.Mutex
	v    *viper.Viper
	path string
}

func NewStore(path string) (*Store, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read preferences %s: %w", path, err)
		}
		log.Debug().Str("module", "prefs").Str("path", path).Msg("no preference file yet")
	}
	return &Store{v: v, path: path}, nil
}

func (s *Store) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.v.IsSet(key) {
		return "", false
	}
	return s.v.GetString(key), true
}

func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.Set(key, value)
	if err := s.v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("write preferences %s: %w", s.path, err)
	}
	return nil
}

var _ core.PreferenceStore = (*Store)(nil)
