//go:build rp2040 || rp2350

package main

import (
	_ "embed"

	"stepmulti/standalone/config"
)

// machine.json is compiled into the image. Its Mode selects between the
// host protocol and standalone operation.
//
//go:embed machine.json
var machineConfigJSON []byte

// GetMachineConfig returns the embedded configuration, or the built-in
// default when it does not parse or validate
func GetMachineConfig() (*config.MachineConfig, bool) {
	cfg, err := config.LoadConfig(machineConfigJSON)
	if err != nil {
		return config.DefaultConfig(), false
	}
	if err := cfg.Validate(); err != nil {
		return config.DefaultConfig(), false
	}
	return cfg, true
}
