package config

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	mu     sync.RWMutex
	loaded = make(map[string]any)

	dotenvOnce sync.Once
)

// Load parses environment variables into the provided configuration struct
// based on `env` field tags. Each configuration type is parsed at most once
// per process; later calls for the same type receive the cached value.
//
// A .env file in the working directory is loaded before the first parse.
// A missing .env file is not an error.
//
// Example:
//
//	type BillingConfig struct {
//		APIKey    string `env:"PAYTECH_API_KEY,required"`
//		APISecret string `env:"PAYTECH_API_SECRET,required"`
//	}
//
//	var cfg BillingConfig
//	if err := config.Load(&cfg); err != nil {
//		// handle error
//	}
func Load[T any](v *T) error {
	if v == nil {
		return ErrNilPointer
	}

	dotenvOnce.Do(func() {
		// The .env file is a development convenience only.
		_ = godotenv.Load()
	})

	name := typeName[T]()

	mu.RLock()
	cached, ok := loaded[name]
	mu.RUnlock()
	if ok {
		*v = cached.(T)
		return nil
	}

	if err := env.Parse(v); err != nil {
		return errors.Join(ErrParseFailed, err)
	}

	mu.Lock()
	// A concurrent Load of the same type may have won the race; keep the
	// first stored value so all callers observe identical configuration.
	if cached, ok := loaded[name]; ok {
		*v = cached.(T)
	} else {
		loaded[name] = *v
	}
	mu.Unlock()

	return nil
}

// MustLoad is like Load but panics on error. Intended for process startup
// where a missing required variable should prevent the service from running.
func MustLoad[T any](v *T) {
	if err := Load(v); err != nil {
		panic(fmt.Errorf("config: %w", err))
	}
}

func typeName[T any]() string {
	t := reflect.TypeOf((*T)(nil)).Elem()
	if t.PkgPath() == "" {
		return t.String()
	}
	return t.PkgPath() + "." + t.Name()
}
