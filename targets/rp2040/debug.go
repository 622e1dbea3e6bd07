//go:build rp2040 || rp2350

package main

import (
	"machine"

	"stepmulti/core"
)

// enableDebugUART routes core debug output to UART0 (GPIO0 TX, GPIO1 RX)
// at 115200 baud. Off by default; those pins may be wired to a motor.
const enableDebugUART = false

var debugUART *machine.UART

// InitDebug configures the debug UART and hooks it into core
func InitDebug() {
	if !enableDebugUART {
		return
	}

	debugUART = machine.UART0
	err := debugUART.Configure(machine.UARTConfig{
		BaudRate: 115200,
		TX:       machine.GPIO0,
		RX:       machine.GPIO1,
	})
	if err != nil {
		debugUART = nil
		return
	}

	core.SetDebugWriter(func(s string) {
		debugUART.Write([]byte(s))
		debugUART.Write([]byte("\r\n"))
	})
	core.SetDebugEnabled(true)
	core.DebugPrintln("=== stepmulti debug UART ===")
}
