package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// Load fills cfg from the process environment using `env` struct tags.
// A field without an envDefault tag must be set, so a forgotten default
// surfaces at start-up instead of as a zero value.
//
//	type Config struct {
//	    StorageKey string        `env:"CART_STORAGE_KEY" envDefault:"cart-storage"`
//	    IdleTTL    time.Duration `env:"CART_SESSION_IDLE" envDefault:"30m"`
//	}
func Load(cfg any) error {
	return parse(cfg, env.Options{})
}

// LoadFrom is Load over the given variables instead of the process
// environment.
func LoadFrom(cfg any, vars map[string]string) error {
	if vars == nil {
		vars = map[string]string{}
	}
	return parse(cfg, env.Options{Environment: vars})
}

func parse(cfg any, opts env.Options) error {
	opts.RequiredIfNoDef = true
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}
