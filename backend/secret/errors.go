package secret

import "fmt"

type ErrSecretNotFound struct {
	Key string
	Err error
}

func (e *ErrSecretNotFound) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("key %s not found", e.Key)
	}
	return fmt.Sprintf("key %s not found: %s", e.Key, e.Err)
}

func (e *ErrSecretNotFound) Is(target error) bool {
	_, ok := target.(*ErrSecretNotFound)
	return ok
}

func (e *ErrSecretNotFound) Unwrap() error {
	return e.Err
}

type ErrSecretTooLarge struct {
	Key string
	Err error
}

func (e *ErrSecretTooLarge) Error() string {
	return fmt.Sprintf("secret %s is too large: %s", e.Key, e.Err)
}

type ErrReadOnly struct {
	Key string
}

func (e *ErrReadOnly) Error() string {
	return fmt.Sprintf("secret %s cannot be changed through the environment", e.Key)
}
