package vault

import "fmt"

// DecryptionError reports a token that could not be decrypted: wrong
// passphrase, tampering, or a value that is not a vault token at all.
type DecryptionError struct {
	Reason string
	Err    error
}

func (e *DecryptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("vault: decrypt: %s: %v", e.Reason, e.Err)
	}
	return "vault: decrypt: " + e.Reason
}

func (e *DecryptionError) Unwrap() error { return e.Err }

// ConfigError reports invalid vault construction parameters.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("vault: invalid %s: %s", e.Field, e.Reason)
}
