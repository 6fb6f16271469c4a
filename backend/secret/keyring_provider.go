package secret

import (
	"errors"

	"github.com/zalando/go-keyring"
)

const DefaultKeyringService = "dispatch"

// KeyringProvider stores secrets in the keychain of the operating system
// under one service name.
type KeyringProvider struct {
	service string
}

func NewKeyringProvider(service string) *KeyringProvider {
	if service == "" {
		service = DefaultKeyringService
	}
	return &KeyringProvider{service: service}
}

func (k *KeyringProvider) Get(key string) (string, error) {
	value, err := keyring.Get(k.service, key)
	if err != nil {
		return "", keyringError(key, err)
	}
	return value, nil
}

func (k *KeyringProvider) Set(key string, value string) error {
	return keyringError(key, keyring.Set(k.service, key, value))
}

func (k *KeyringProvider) Delete(key string) error {
	err := keyring.Delete(k.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return keyringError(key, err)
}

func keyringError(key string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, keyring.ErrNotFound):
		return &ErrSecretNotFound{Key: key, Err: err}
	case errors.Is(err, keyring.ErrSetDataTooBig):
		return &ErrSecretTooLarge{Key: key, Err: err}
	default:
		return err
	}
}
