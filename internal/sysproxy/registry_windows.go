//go:build windows

package sysproxy

import (
	"fmt"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"
)

// https://learn.microsoft.com/en-us/windows/win32/wininet/option-flags
const (
	internetOptionRefresh         = 37
	internetOptionSettingsChanged = 39
)

var (
	modwininet            = windows.NewLazySystemDLL("wininet.dll")
	procInternetSetOption = modwininet.NewProc("InternetSetOptionW")
)

type registryKey struct {
	key registry.Key
}

func openInternetSettings(write bool) (InternetSettings, error) {
	access := uint32(registry.QUERY_VALUE)
	if write {
		access |= registry.SET_VALUE
	}
	key, err := registry.OpenKey(registry.CURRENT_USER, internetSettingsPath, access)
	if err != nil {
		return nil, err
	}
	return registryKey{key: key}, nil
}

func (k registryKey) SetString(name, value string) error {
	return k.key.SetStringValue(name, value)
}

func (k registryKey) SetDWord(name string, value uint32) error {
	return k.key.SetDWordValue(name, value)
}

func (k registryKey) DWord(name string) (uint32, error) {
	v, _, err := k.key.GetIntegerValue(name)
	return uint32(v), err
}

func (k registryKey) Close() error {
	return k.key.Close()
}

func internetSetOption(option uintptr) error {
	if err := procInternetSetOption.Find(); err != nil {
		return err
	}
	ret, _, lastErr := procInternetSetOption.Call(0, option, 0, 0)
	if ret == 0 {
		return lastErr
	}
	return nil
}

// notifySettingsChanged tells WinINet clients to reread the proxy values.
func notifySettingsChanged() error {
	if err := internetSetOption(internetOptionSettingsChanged); err != nil {
		return fmt.Errorf("notify settings changed: %w", err)
	}
	if err := internetSetOption(internetOptionRefresh); err != nil {
		return fmt.Errorf("refresh proxy data: %w", err)
	}
	return nil
}
