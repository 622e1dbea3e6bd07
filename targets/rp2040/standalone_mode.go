//go:build rp2040 || rp2350

package main

import (
	"time"

	"stepmulti/core"
	"stepmulti/standalone"
	"stepmulti/standalone/config"
	"stepmulti/targets/pio"
)

// RunStandaloneMode runs the configured motors without a host. The USB
// port carries the line console instead of the binary protocol.
func RunStandaloneMode(cfg *config.MachineConfig, led *StatusLED) {
	manager, err := standalone.NewManagerWithConfig(cfg)
	if err != nil {
		haltWithError(led, err)
	}

	gpioDriver := NewRPGPIODriver()
	err = manager.Initialize(core.Steppers(), core.SystemClock{}, selectDriver(gpioDriver))
	if err != nil {
		haltWithError(led, err)
	}

	err = manager.Start()
	if err != nil {
		haltWithError(led, err)
	}

	for {
		UpdateSystemTime()

		if USBAvailable() > 0 {
			data, err := USBRead()
			if err == nil {
				// Errors are already echoed on the console
				manager.ProcessByte(data)
			}
		}

		manager.Tick()

		output := manager.GetOutput()
		if len(output) > 0 {
			USBWriteBytes(output)
		}

		led.Update(core.Steppers().Active())
	}
}

// selectDriver gives PIO motors their own state machine and every other
// motor the plain GPIO driver
func selectDriver(gpioDriver *RPGPIODriver) config.DriverSelector {
	return func(name string, m config.MotorConfig) (core.GPIODriver, error) {
		if !m.UsePIO {
			return gpioDriver, nil
		}
		d, err := pio.NewPhaseDriver(core.GPIOPin(m.Pins[0]))
		if err != nil {
			// Fall back to bit-banged output when the PIO blocks are full
			core.DebugPrintln("[PIO] " + name + ": " + err.Error())
			return gpioDriver, nil
		}
		return d, nil
	}
}

// haltWithError latches the error colour and never returns
func haltWithError(led *StatusLED, err error) {
	core.DebugPrintln("[MAIN] " + err.Error())
	led.Fail()
	for {
		USBWriteBytes([]byte("error: " + err.Error() + "\r\n"))
		time.Sleep(time.Second)
	}
}
