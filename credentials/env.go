package credentials

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Default environment variable names read by [Env].
const (
	DefaultTokenVar  = "CARTRUSH_ID_TOKEN"
	DefaultA1DataVar = "CARTRUSH_A1DATA"
)

// Env reads credentials from environment variables.
//
// If Files is non-empty, those .env files are loaded on every call without
// overriding variables already set in the process environment. Missing
// files are ignored.
type Env struct {
	TokenVar  string
	A1DataVar string
	Files     []string
}

// Credentials implements [Provider].
func (e Env) Credentials(context.Context) (Credentials, error) {
	if len(e.Files) > 0 {
		env, err := readEnvFiles(e.Files)
		if err != nil {
			return Credentials{}, err
		}
		return e.lookup(func(key string) string {
			if v, ok := os.LookupEnv(key); ok {
				return v
			}
			return env[key]
		})
	}
	return e.lookup(os.Getenv)
}

func (e Env) lookup(get func(string) string) (Credentials, error) {
	tokenVar := e.TokenVar
	if tokenVar == "" {
		tokenVar = DefaultTokenVar
	}
	a1Var := e.A1DataVar
	if a1Var == "" {
		a1Var = DefaultA1DataVar
	}

	c := Credentials{IDToken: get(tokenVar), A1Data: get(a1Var)}.Normalized()
	if c.Empty() {
		return Credentials{}, fmt.Errorf("%w: set %s and %s", ErrMissing, tokenVar, a1Var)
	}
	return c, nil
}

// readEnvFiles merges the given .env files; earlier files win, as with
// godotenv.Load.
func readEnvFiles(files []string) (map[string]string, error) {
	merged := make(map[string]string)
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		vals, err := godotenv.Read(f)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", f, err)
		}
		for k, v := range vals {
			if _, ok := merged[k]; !ok {
				merged[k] = v
			}
		}
	}
	return merged, nil
}
