package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/google/shlex"

	"stepmulti/host/mcu"
	"stepmulti/host/serial"
	"stepmulti/standalone/config"
)

var (
	device     = flag.String("device", "/dev/ttyACM0", "Serial device path")
	baud       = flag.Int("baud", 250000, "Baud rate (ignored for USB CDC)")
	configPath = flag.String("config", "", "JSON motor configuration to apply on connect")
	verbose    = flag.Bool("verbose", false, "Print the dictionary after connecting")
)

var errUsage = errors.New("usage")

func main() {
	flag.Parse()

	fmt.Println("stepmulti host")
	fmt.Println("==============")

	var cfg *config.MachineConfig
	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		cfg, err = config.LoadConfig(data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid config %s: %v\n", *configPath, err)
			os.Exit(1)
		}
	}

	mcuConn := mcu.NewMCU()

	fmt.Printf("Connecting to MCU on %s...\n", *device)
	serialCfg := serial.DefaultConfig(*device)
	serialCfg.Baud = *baud
	if err := mcuConn.ConnectWithConfig(serialCfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer mcuConn.Close()

	if err := mcuConn.RetrieveDictionary(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to retrieve dictionary: %v\n", err)
		os.Exit(1)
	}
	if *verbose {
		mcuConn.PrintDictionary()
	}

	if cfg != nil {
		if err := mcuConn.ApplyConfig(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	fmt.Println("Enter commands (type 'help' for available commands, 'quit' to exit):")
	if err := repl(mcuConn, cfg, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
		os.Exit(1)
	}
}

// controller is the subset of the MCU client the REPL drives
type controller interface {
	ConfigStepper(oid uint8, stepsPerRev int, pins []uint32) error
	SetSpeed(oid uint8, rpm uint32) error
	Move(oid uint8, steps int32) error
	Stop(oid uint8) error
	Query(oid uint8) (*mcu.StepperState, error)
	ConfigReset() error
	PrintDictionary()
}

func repl(c controller, cfg *config.MachineConfig, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)

	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}

		args, err := shlex.Split(scanner.Text())
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			continue
		}
		if len(args) == 0 {
			continue
		}

		if args[0] == "quit" || args[0] == "exit" || args[0] == "q" {
			fmt.Fprintln(out, "Goodbye!")
			return nil
		}
		if err := runCommand(c, cfg, args, out); err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
		}
	}

	return scanner.Err()
}

func runCommand(c controller, cfg *config.MachineConfig, args []string, out io.Writer) error {
	switch args[0] {
	case "help", "?":
		printHelp(out)
		return nil

	case "dict":
		c.PrintDictionary()
		return nil

	case "reset":
		return c.ConfigReset()

	case "config":
		// config OID STEPS PIN PIN [PIN PIN]
		if len(args) != 5 && len(args) != 7 {
			return fmt.Errorf("%w: config OID STEPS PIN PIN [PIN PIN]", errUsage)
		}
		oid, err := parseOID(cfg, args[1])
		if err != nil {
			return err
		}
		steps, err := strconv.Atoi(args[2])
		if err != nil {
			return err
		}
		pins := make([]uint32, 0, 4)
		for _, a := range args[3:] {
			p, err := strconv.ParseUint(a, 10, 32)
			if err != nil {
				return err
			}
			pins = append(pins, uint32(p))
		}
		return c.ConfigStepper(oid, steps, pins)

	case "speed":
		if len(args) != 3 {
			return fmt.Errorf("%w: speed MOTOR RPM", errUsage)
		}
		oid, err := parseOID(cfg, args[1])
		if err != nil {
			return err
		}
		rpm, err := strconv.ParseUint(args[2], 10, 32)
		if err != nil {
			return err
		}
		return c.SetSpeed(oid, uint32(rpm))

	case "move":
		if len(args) != 3 {
			return fmt.Errorf("%w: move MOTOR STEPS", errUsage)
		}
		oid, err := parseOID(cfg, args[1])
		if err != nil {
			return err
		}
		steps, err := strconv.ParseInt(args[2], 10, 32)
		if err != nil {
			return err
		}
		return c.Move(oid, int32(steps))

	case "stop":
		if len(args) != 2 {
			return fmt.Errorf("%w: stop MOTOR", errUsage)
		}
		oid, err := parseOID(cfg, args[1])
		if err != nil {
			return err
		}
		return c.Stop(oid)

	case "status":
		if len(args) != 2 {
			return fmt.Errorf("%w: status MOTOR", errUsage)
		}
		oid, err := parseOID(cfg, args[1])
		if err != nil {
			return err
		}
		state, err := c.Query(oid)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, state)
		return nil

	default:
		return fmt.Errorf("unknown command: %s (type 'help' for available commands)", args[0])
	}
}

// parseOID accepts a numeric OID or a motor name from the loaded config
func parseOID(cfg *config.MachineConfig, arg string) (uint8, error) {
	if cfg != nil {
		if m, ok := cfg.Motors[arg]; ok {
			return m.OID, nil
		}
	}
	v, err := strconv.ParseUint(arg, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("unknown motor %q", arg)
	}
	return uint8(v), nil
}

func printHelp(out io.Writer) {
	fmt.Fprintln(out, "\nAvailable commands:")
	fmt.Fprintln(out, "  config OID STEPS PINS...  - Configure a 2 or 4 wire stepper")
	fmt.Fprintln(out, "  speed MOTOR RPM           - Set cruise speed")
	fmt.Fprintln(out, "  move MOTOR STEPS          - Start a move (negative reverses)")
	fmt.Fprintln(out, "  stop MOTOR                - Abandon the current move")
	fmt.Fprintln(out, "  status MOTOR              - Query stepper state")
	fmt.Fprintln(out, "  reset                     - Remove all steppers")
	fmt.Fprintln(out, "  dict                      - Print dictionary summary")
	fmt.Fprintln(out, "  quit/exit/q               - Exit the program")
	fmt.Fprintln(out, "MOTOR is an OID or a motor name from -config.")
	fmt.Fprintln(out)
}
