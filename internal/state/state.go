// Package state persists the small amount of client state that outlives a
// process: the logged-in user record and display preferences. Message data
// is never persisted locally.
package state

import (
	"context"
	"errors"
	"fmt"
)

// Supported preference values.
const (
	LanguageEnglish = "en"
	LanguageChinese = "zh"

	ThemeLight = "light"
	ThemeDark  = "dark"
)

var (
	// ErrInvalidLanguage is returned by SetLanguage for unsupported values.
	ErrInvalidLanguage = errors.New("state: unsupported language")
	// ErrInvalidTheme is returned by SetTheme for unsupported values.
	ErrInvalidTheme = errors.New("state: unsupported theme")
)

// User is the persisted current-user record.
type User struct {
	ID       string `yaml:"id" redis:"id"`
	Username string `yaml:"username" redis:"username"`
	Nickname string `yaml:"nickname,omitempty" redis:"nickname"`
	Avatar   string `yaml:"avatar,omitempty" redis:"avatar"`
}

// Prefs are the user's display preferences.
type Prefs struct {
	Language string `yaml:"language" redis:"language"`
	Theme    string `yaml:"theme" redis:"theme"`
}

// DefaultPrefs returns the preferences used before the user picks any.
func DefaultPrefs() Prefs {
	return Prefs{Language: LanguageEnglish, Theme: ThemeLight}
}

// Store persists the current user and preferences.
type Store interface {
	// LoadUser returns the saved user, or nil when nobody is logged in.
	LoadUser(ctx context.Context) (*User, error)
	SaveUser(ctx context.Context, u User) error
	ClearUser(ctx context.Context) error

	Prefs(ctx context.Context) (Prefs, error)
	SetLanguage(ctx context.Context, lang string) error
	SetTheme(ctx context.Context, theme string) error

	Close() error
}

// ValidateLanguage checks lang is supported.
func ValidateLanguage(lang string) error {
	switch lang {
	case LanguageEnglish, LanguageChinese:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidLanguage, lang)
}

// ValidateTheme checks theme is supported.
func ValidateTheme(theme string) error {
	switch theme {
	case ThemeLight, ThemeDark:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidTheme, theme)
}

func validateUser(u User) error {
	if u.ID == "" {
		return fmt.Errorf("state: user id is required")
	}
	return nil
}

// withDefaults fills unset or invalid preference fields.
func (p Prefs) withDefaults() Prefs {
	def := DefaultPrefs()
	if ValidateLanguage(p.Language) != nil {
		p.Language = def.Language
	}
	if ValidateTheme(p.Theme) != nil {
		p.Theme = def.Theme
	}
	return p
}
