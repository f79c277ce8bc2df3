/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"fmt"
	"sync/atomic"
)

// Store holds the configuration currently in effect. Readers always see a
// complete Config; Set swaps the whole value atomically.
type Store struct {
	current atomic.Pointer[Config]
}

// NewStore returns a Store initialised with cfg.
func NewStore(cfg Config) *Store {
	s := &Store{}
	s.Set(cfg)
	return s
}

// Get returns a copy of the current configuration.
func (s *Store) Get() Config {
	return *s.current.Load()
}

func (s *Store) Set(cfg Config) {
	s.current.Store(&cfg)
}

// SMTP returns the current relay settings. It satisfies mail.SettingsProvider.
func (s *Store) SMTP() SMTP {
	return s.current.Load().SMTP
}

// Reload loads and validates path and swaps it in. The previous
// configuration stays active when the file is invalid.
func (s *Store) Reload(path string) (Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration %s: %w", path, err)
	}
	s.Set(cfg)
	return cfg, nil
}
