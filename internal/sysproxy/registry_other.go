//go:build !windows

package sysproxy

import "errors"

var errNoRegistry = errors.New("registry is only available on windows")

func openInternetSettings(bool) (InternetSettings, error) {
	return nil, errNoRegistry
}

func notifySettingsChanged() error {
	return nil
}
