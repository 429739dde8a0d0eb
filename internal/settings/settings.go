// Package settings persists the user settings record and the API key.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/kgraph/cli/internal/filetype"
	"github.com/kgraph/cli/internal/poller"
	"github.com/kgraph/cli/pkg/util"
)

const (
	KeyAutoOpenGraph   = "auto_open_graph"
	KeyMaxDocumentSize = "max_document_size"
	KeyMaxCodeSize     = "max_code_size"
	KeyPollInterval    = "poll_interval"
	KeyPollBudget      = "poll_budget"
)

// ErrUnknownKey is returned when setting a key that is not part of the record.
var ErrUnknownKey = errors.New("unknown setting")

// Settings is the persisted settings record.
type Settings struct {
	AutoOpenGraph   bool   `json:"auto_open_graph"`
	MaxDocumentSize string `json:"max_document_size"`
	MaxCodeSize     string `json:"max_code_size"`
	PollInterval    string `json:"poll_interval"`
	PollBudget      string `json:"poll_budget"`
}

func Defaults() Settings {
	return Settings{
		AutoOpenGraph:   false,
		MaxDocumentSize: filetype.DefaultMaxDocumentSize,
		MaxCodeSize:     filetype.DefaultMaxCodeSize,
		PollInterval:    "30s",
		PollBudget:      "15m",
	}
}

// Keys lists the settable keys in a stable order.
func Keys() []string {
	keys := []string{KeyAutoOpenGraph, KeyMaxDocumentSize, KeyMaxCodeSize, KeyPollInterval, KeyPollBudget}
	sort.Strings(keys)
	return keys
}

// Limits returns the parsed upload size limits.
func (s Settings) Limits() (filetype.Limits, error) {
	return filetype.ParseLimits(s.MaxDocumentSize, s.MaxCodeSize)
}

// PollConfig returns the poll cadence as a poller configuration.
func (s Settings) PollConfig() (poller.Config, error) {
	interval, err := time.ParseDuration(s.PollInterval)
	if err != nil {
		return poller.Config{}, fmt.Errorf("invalid %s %q: %w", KeyPollInterval, s.PollInterval, err)
	}
	budget, err := time.ParseDuration(s.PollBudget)
	if err != nil {
		return poller.Config{}, fmt.Errorf("invalid %s %q: %w", KeyPollBudget, s.PollBudget, err)
	}
	if interval <= 0 || budget <= 0 {
		return poller.Config{}, fmt.Errorf("%s and %s must be positive", KeyPollInterval, KeyPollBudget)
	}
	if interval > budget {
		return poller.Config{}, fmt.Errorf("%s (%s) is longer than %s (%s)", KeyPollInterval, interval, KeyPollBudget, budget)
	}
	return poller.Config{Interval: interval, Budget: budget}, nil
}

// Validate checks that every value parses.
func (s Settings) Validate() error {
	if _, err := s.Limits(); err != nil {
		return err
	}
	_, err := s.PollConfig()
	return err
}

// Get returns the value of key as a string.
func (s Settings) Get(key string) (string, error) {
	switch key {
	case KeyAutoOpenGraph:
		return strconv.FormatBool(s.AutoOpenGraph), nil
	case KeyMaxDocumentSize:
		return s.MaxDocumentSize, nil
	case KeyMaxCodeSize:
		return s.MaxCodeSize, nil
	case KeyPollInterval:
		return s.PollInterval, nil
	case KeyPollBudget:
		return s.PollBudget, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
}

// Set assigns value to key. The record is validated as a whole afterwards;
// on error s is left unchanged.
func (s *Settings) Set(key, value string) error {
	next := *s
	switch key {
	case KeyAutoOpenGraph:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid %s %q: expected true or false", key, value)
		}
		next.AutoOpenGraph = b
	case KeyMaxDocumentSize:
		next.MaxDocumentSize = value
	case KeyMaxCodeSize:
		next.MaxCodeSize = value
	case KeyPollInterval:
		next.PollInterval = value
	case KeyPollBudget:
		next.PollBudget = value
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	if err := next.Validate(); err != nil {
		return err
	}
	*s = next
	return nil
}

// Merge applies a partial record, as sent by the browser extension. Values
// may be JSON strings, booleans or numbers.
func (s *Settings) Merge(partial json.RawMessage) error {
	var fields map[string]any
	if err := json.Unmarshal(partial, &fields); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	next := *s
	for _, k := range keys {
		if err := next.Set(k, fmt.Sprint(fields[k])); err != nil {
			return err
		}
	}
	*s = next
	return nil
}

// Store reads and writes the settings file.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// DefaultPath is kg/settings.json under the user config directory
// ($XDG_CONFIG_HOME on Linux).
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate config directory: %w", err)
	}
	return filepath.Join(dir, "kg", "settings.json"), nil
}

func (s *Store) Path() string { return s.path }

// Load returns the stored settings over the defaults. A missing file yields
// the defaults.
func (s *Store) Load() (Settings, error) {
	out := Defaults()
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read settings: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return Settings{}, fmt.Errorf("failed to parse settings %s: %w", s.path, err)
	}
	return out, nil
}

// Save validates and writes settings.
func (s *Store) Save(settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	if err := util.WriteFileAtomic(s.path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return nil
}

// Update loads the settings, applies fn and saves the result.
func (s *Store) Update(fn func(*Settings) error) (Settings, error) {
	current, err := s.Load()
	if err != nil {
		return Settings{}, err
	}
	if err := fn(&current); err != nil {
		return Settings{}, err
	}
	if err := s.Save(current); err != nil {
		return Settings{}, err
	}
	return current, nil
}

// Reset writes the defaults.
func (s *Store) Reset() (Settings, error) {
	d := Defaults()
	return d, s.Save(d)
}
