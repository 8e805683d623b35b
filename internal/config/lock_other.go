//go:build !unix

package config

import "sync"

var configMu sync.Mutex

// lockConfig only serializes writers within this process
func lockConfig(string) (func(), error) {
	configMu.Lock()
	return configMu.Unlock, nil
}
