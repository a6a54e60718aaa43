// Package secrets resolves credentials (the backend token, the geocoding
// key, the Sentry DSN) from config values, environment references or
// mounted secret files. Resolved values are never logged.
package secrets

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/hearthline/migrator/internal/errors"
)

// maxSecretFileSize bounds secret file reads. Tokens are small.
const maxSecretFileSize = 64 * 1024

// ExpandString replaces ${VAR} and ${VAR:-fallback} references with
// environment values. A reference without fallback to an unset variable is
// an error naming the variable, never its neighbours' values.
func ExpandString(s string) (string, error) {
	if s == "" {
		return "", nil
	}

	var missing []string
	expanded := os.Expand(s, func(key string) string {
		name, fallback, hasFallback := strings.Cut(key, ":-")
		if value := os.Getenv(name); value != "" {
			return value
		}
		if !hasFallback {
			missing = append(missing, name)
		}
		return fallback
	})

	if len(missing) > 0 {
		return "", errors.Newf("missing environment variable(s): %s", strings.Join(missing, ", ")).
			Component("secrets").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return expanded, nil
}

// ReadFile reads a secret from a mounted file such as /run/secrets/token.
// Trailing newlines are trimmed; an empty file is an error. Files readable
// by group or others are refused unless they live under a secrets mount
// whose permissions the runtime controls.
func ReadFile(path string) (string, error) {
	if path == "" {
		return "", fileError("secret file path is empty", path)
	}

	clean := filepath.Clean(path)
	info, err := os.Stat(clean)
	if err != nil {
		return "", errors.New(err).
			Component("secrets").
			Category(errors.CategoryFileIO).
			Context("path", clean).
			Build()
	}
	if !info.Mode().IsRegular() {
		return "", fileError("secret path is not a regular file", clean)
	}
	if info.Size() > maxSecretFileSize {
		return "", fileError("secret file is too large", clean)
	}
	if info.Mode().Perm()&0o077 != 0 && !runtimeManaged(clean) {
		return "", fileError("secret file is readable by group or others", clean)
	}

	data, err := os.ReadFile(clean)
	if err != nil {
		return "", errors.New(err).
			Component("secrets").
			Category(errors.CategoryFileIO).
			Context("path", clean).
			Build()
	}

	secret := strings.TrimRight(string(data), "\r\n")
	if secret == "" {
		return "", fileError("secret file is empty", clean)
	}
	return secret, nil
}

// runtimeManaged reports paths mounted by Docker or Kubernetes, which set
// their own modes on secret volumes.
func runtimeManaged(path string) bool {
	return strings.HasPrefix(path, "/run/secrets/") || strings.HasPrefix(path, "/var/run/secrets/")
}

func fileError(msg, path string) error {
	return errors.Newf("%s", msg).
		Component("secrets").
		Category(errors.CategoryConfiguration).
		Context("path", path).
		Build()
}

// Resolve returns the secret for field. A file path wins over value;
// value may hold ${VAR} references. Both empty resolves to "".
func Resolve(field, filePath, value string) (string, error) {
	if filePath != "" {
		secret, err := ReadFile(filePath)
		if err != nil {
			return "", errors.New(err).
				Component("secrets").
				Category(errors.CategoryConfiguration).
				Context("field", field).
				Build()
		}
		return secret, nil
	}

	secret, err := ExpandString(value)
	if err != nil {
		return "", errors.New(err).
			Component("secrets").
			Category(errors.CategoryConfiguration).
			Context("field", field).
			Build()
	}
	return secret, nil
}
