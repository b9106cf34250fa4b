// Package auth implements the user table authenticator of the daemon.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/axondata/go-svcd"
)

// PlainPrefix marks a clear-text password in the user table
const PlainPrefix = "plain:"

type user struct {
	hash  []byte
	plain string
	level svcd.Level
}

// Simple authenticates against a static user table. It is safe for
// concurrent use.
type Simple struct {
	users     map[string]user
	anonymous svcd.ClientInfo
	log       zerolog.Logger
}

// New builds the authenticator from the auth section of the configuration
func New(cfg svcd.AuthConfig, log zerolog.Logger) (*Simple, error) {
	anon := svcd.LevelDisplay
	if cfg.Unauthenticated != "" {
		l, err := svcd.ParseLevel(cfg.Unauthenticated)
		if err != nil {
			return nil, fmt.Errorf("auth.unauthenticated: %w", err)
		}
		anon = l
	}

	s := &Simple{
		users:     make(map[string]user, len(cfg.Users)),
		anonymous: svcd.NewClientInfo(anon),
		log:       log,
	}
	for i, u := range cfg.Users {
		if u.Name == "" {
			return nil, fmt.Errorf("auth.users[%d]: name is required", i)
		}
		if _, dup := s.users[u.Name]; dup {
			return nil, fmt.Errorf("auth.users[%d]: user %q listed twice", i, u.Name)
		}
		level, err := svcd.ParseLevel(u.Level)
		if err != nil {
			return nil, fmt.Errorf("auth.users[%d]: %w", i, err)
		}
		entry := user{level: level}
		if plain, ok := strings.CutPrefix(u.Password, PlainPrefix); ok {
			entry.plain = plain
		} else {
			if _, err := bcrypt.Cost([]byte(u.Password)); err != nil {
				return nil, fmt.Errorf("auth.users[%d]: password is neither a bcrypt hash nor %q-prefixed: %w", i, PlainPrefix, err)
			}
			entry.hash = []byte(u.Password)
		}
		s.users[u.Name] = entry
	}
	return s, nil
}

// Authenticate checks user's password
func (s *Simple) Authenticate(name, password string) (svcd.ClientInfo, error) {
	u, ok := s.users[name]
	if !ok {
		return svcd.ClientInfo{}, fmt.Errorf("unknown user %q: %w", name, svcd.ErrUnauthorized)
	}
	if u.hash != nil {
		err := bcrypt.CompareHashAndPassword(u.hash, []byte(password))
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return svcd.ClientInfo{}, fmt.Errorf("user %q: %w", name, svcd.ErrUnauthorized)
		}
		if err != nil {
			return svcd.ClientInfo{}, fmt.Errorf("checking password of %q: %w", name, err)
		}
	} else if subtle.ConstantTimeCompare([]byte(u.plain), []byte(password)) != 1 {
		return svcd.ClientInfo{}, fmt.Errorf("user %q: %w", name, svcd.ErrUnauthorized)
	}
	s.log.Debug().Str("user", name).Stringer("level", u.level).Msg("authenticated")
	return svcd.NewClientInfo(u.level), nil
}

// Anonymous returns the client for requests without credentials
func (s *Simple) Anonymous() svcd.ClientInfo {
	return s.anonymous
}

// HashPassword returns a bcrypt hash suitable for the user table
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
