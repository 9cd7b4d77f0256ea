package config

import "errors"

var (
	// ErrConfigNotFound is returned when the YAML config file is absent;
	// callers fall back to defaults rather than failing startup.
	ErrConfigNotFound = errors.New("config file not found")

	// ErrInvalidYAML is returned when the config file fails to parse.
	ErrInvalidYAML = errors.New("invalid config yaml")
)

// LoadError wraps a failure to load a named config file.
type LoadError struct {
	File string
	Err  error
}

func (e *LoadError) Error() string { return "load " + e.File + ": " + e.Err.Error() }
func (e *LoadError) Unwrap() error { return e.Err }

func NewLoadError(file string, err error) error {
	return &LoadError{File: file, Err: err}
}
