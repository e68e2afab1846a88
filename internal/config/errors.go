package config

import "errors"

// ErrInvalidConfig wraps every Validate failure. ErrLoadConfig wraps
// failures reading .env, the YAML file or the environment.
var (
	ErrInvalidConfig = errors.New("invalid config")
	ErrLoadConfig    = errors.New("load config failed")
)
