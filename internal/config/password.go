package config

import (
	"fmt"

	"github.com/99designs/keyring"
	"github.com/bgentry/speakeasy"
	"github.com/pkg/errors"
)

const keyringService = "timesheet"

func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: keyringService,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		KeychainName:             "timesheet",
		KeychainTrustApplication: true,
		FileDir:                  "~/.config/timesheet/credentials",
		FilePasswordFunc:         keyring.TerminalPrompt,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open keyring")
	}
	return ring, nil
}

func keyringKey(url, username string) string {
	return fmt.Sprintf("%s@%s", username, url)
}

// loadJIRAPassword looks the password up in the system keyring. If there is
// none yet, the user is prompted and the answer is stored for the next run.
func loadJIRAPassword(url, username string) (string, error) {
	ring, err := openKeyring()
	if err != nil {
		return "", err
	}
	key := keyringKey(url, username)
	item, err := ring.Get(key)
	if err == nil {
		return string(item.Data), nil
	}
	if err != keyring.ErrKeyNotFound {
		return "", errors.Wrap(err, "failed to query keyring")
	}
	pwd, err := speakeasy.Ask("JIRA password:")
	if err != nil {
		return "", errors.Wrap(err, "failed to read password from prompt")
	}
	if err := ring.Set(keyring.Item{
		Key:         key,
		Data:        []byte(pwd),
		Label:       "JIRA password",
		Description: url,
	}); err != nil {
		return "", errors.Wrap(err, "failed to add password to keyring")
	}
	return pwd, nil
}
