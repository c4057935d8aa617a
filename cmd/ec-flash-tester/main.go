package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/bigbag/ec-flash-tester/embedded"
	"github.com/bigbag/ec-flash-tester/internal/config"
	"github.com/bigbag/ec-flash-tester/internal/console"
	"github.com/bigbag/ec-flash-tester/internal/detect"
	"github.com/bigbag/ec-flash-tester/internal/ecsim"
	"github.com/bigbag/ec-flash-tester/internal/flashtest"
	"github.com/bigbag/ec-flash-tester/internal/logger"
	"github.com/bigbag/ec-flash-tester/internal/plan"
	"github.com/bigbag/ec-flash-tester/internal/protocol"
	"github.com/bigbag/ec-flash-tester/internal/serial"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	configFlag     string
	expectFailFlag bool
	paramsFlag     string
	probeFlag      bool
)

// Loaded by the root command before any subcommand runs.
var (
	cfg *config.Config
	log *zap.Logger
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rootCmd := &cobra.Command{
		Use:   "ec-flash-tester",
		Short: "Test EC flash over the EC console",
		Long: `EC Flash Tester exercises the flash erase, write and read paths of an
embedded controller through its text console.

Writes are verified by XOR checksum of a deterministic stream generated on
both sides. Reads are verified against single-word reads of the same range.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setup(cmd.Root().PersistentFlags())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if log != nil {
				_ = log.Sync()
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFlag, "config", "c", "", "Config file (default ./ec-flash-tester.yaml)")
	flags.StringP("port", "p", "", "Serial port (auto-detect if not specified)")
	flags.IntP("baud", "b", serial.DefaultBaudRate, "Baud rate")
	flags.Uint64("seed", flashtest.DefaultSeed, "Seed for write parameters")
	flags.Duration("timeout", console.DefaultTimeout, "Wait timeout for EC output")
	flags.Bool("simulate", false, "Run against the built-in EC simulator")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("report", "", "Write the plan report to this JSON file")

	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Show flash and RO sizes",
		Args:  cobra.NoArgs,
		RunE:  runInfo,
	}

	eraseCmd := &cobra.Command{
		Use:   "erase <offset> <size>",
		Short: "Erase a flash range and check the confirmation",
		Args:  cobra.ExactArgs(2),
		RunE:  runErase,
	}

	writeCmd := &cobra.Command{
		Use:   "write <offset> <size>",
		Short: "Write a generated stream and check its XOR checksum",
		Long: `Make the EC write a deterministic stream to a flash range and check the
XOR checksum it reports.

Stream parameters are drawn from the seeded source unless --params is given.
With --expect-fail the EC must reject the write, e.g. for a protected RO range.`,
		Args: cobra.ExactArgs(2),
		RunE: runWrite,
	}
	writeCmd.Flags().BoolVar(&expectFailFlag, "expect-fail", false, "Expect the EC to reject the write")
	writeCmd.Flags().StringVar(&paramsFlag, "params", "", "Fixed stream parameters as seed,mult,add")

	readCmd := &cobra.Command{
		Use:   "read <offset> <size>",
		Short: "Read a flash range in bulk and check it word by word",
		Args:  cobra.ExactArgs(2),
		RunE:  runRead,
	}

	runCmd := &cobra.Command{
		Use:   "run [plan.hujson]",
		Short: "Run a test plan (default: built-in plan)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runPlan,
	}

	xorsumCmd := &cobra.Command{
		Use:   "xorsum <size> <seed> <mult> <add>",
		Short: "Compute the expected write checksum offline",
		Args:  cobra.ExactArgs(4),
		RunE:  runXorSum,
	}

	consoleCmd := &cobra.Command{
		Use:   "console",
		Short: "Interactive EC console",
		Args:  cobra.NoArgs,
		RunE:  runConsole,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available serial ports",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}
	listCmd.Flags().BoolVar(&probeFlag, "probe", false, "Probe each port and list only EC consoles")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ec-flash-tester %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}

	rootCmd.AddCommand(infoCmd, eraseCmd, writeCmd, readCmd, runCmd,
		xorsumCmd, consoleCmd, listCmd, versionCmd)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func setup(flags *pflag.FlagSet) error {
	var err error
	cfg, err = config.Load(configFlag, flags)
	if err != nil {
		return err
	}

	log, err = logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	return nil
}

// sessionPort is the transport under a session: a serial port or the
// simulator.
type sessionPort interface {
	console.Port
	io.Closer
	Flush() error
}

// session is an open EC console.
type session struct {
	port    sessionPort
	console *console.Console
	tester  *flashtest.Tester
}

func openSession(ctx context.Context) (*session, error) {
	port, err := openPort(ctx)
	if err != nil {
		return nil, err
	}

	// Drop boot banners and a stale prompt.
	if err := port.Flush(); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to flush port: %w", err)
	}

	c := console.New(port,
		console.WithTimeout(cfg.Test.WaitTimeout),
		console.WithLogger(log))
	params := flashtest.NewRandomParams(cfg.Test.Seed)

	return &session{
		port:    port,
		console: c,
		tester:  flashtest.New(c, params, log),
	}, nil
}

func openPort(ctx context.Context) (sessionPort, error) {
	if cfg.Serial.Simulate {
		fmt.Println("Port: simulator")
		return ecsim.New(), nil
	}

	portName := cfg.Serial.Port
	if portName == "" {
		fmt.Println("Detecting EC console...")
		result, err := detect.New(cfg.Serial.BaudRate, log).DetectDevice(ctx)
		if err != nil {
			return nil, fmt.Errorf("device detection failed: %w", err)
		}
		portName = result.Port
	}

	sp, err := serial.Open(portName, cfg.Serial.BaudRate, cfg.Serial.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to open port: %w", err)
	}

	fmt.Printf("Port: %s @ %d baud\n", sp.PortName(), sp.BaudRate())
	return sp, nil
}

func (s *session) Close() error {
	return s.port.Close()
}

func runInfo(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	size, err := s.tester.FlashSize(cmd.Context())
	if err != nil {
		return err
	}
	ro, err := s.tester.ROSize(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("  Flash size: %d (0x%X)\n", size, size)
	fmt.Printf("  RO size:    %d (0x%X)\n", ro, ro)
	fmt.Printf("  RW region:  0x%X-0x%X\n", ro, size)
	return nil
}

func runErase(cmd *cobra.Command, args []string) error {
	offset, size, err := parseRange(args)
	if err != nil {
		return err
	}

	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.tester.TestErase(cmd.Context(), offset, size); err != nil {
		return err
	}
	fmt.Printf("Erase at 0x%X size 0x%X: OK\n", offset, size)
	return nil
}

func runWrite(cmd *cobra.Command, args []string) error {
	offset, size, err := parseRange(args)
	if err != nil {
		return err
	}

	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	tester := s.tester
	if paramsFlag != "" {
		fixed, err := parseParams(paramsFlag)
		if err != nil {
			return err
		}
		tester = flashtest.New(s.console, fixed, log)
	}

	p, err := tester.TestWrite(cmd.Context(), offset, size, expectFailFlag)
	if err != nil {
		return err
	}

	if expectFailFlag {
		fmt.Printf("Write at 0x%X size 0x%X: rejected as expected\n", offset, size)
		return nil
	}
	fmt.Printf("Write at 0x%X size 0x%X: OK (seed %d mult %d add %d XOR 0x%02X)\n",
		offset, size, p.Seed, p.Mult, p.Add, protocol.XorSum(size, p))
	return nil
}

func runRead(cmd *cobra.Command, args []string) error {
	offset, size, err := parseRange(args)
	if err != nil {
		return err
	}

	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	bar := newBar(int(size/protocol.WordSize), "Reading words")
	s.tester.SetProgressCallback(func(current, total int) {
		bar.Set(current)
	})

	err = s.tester.TestRead(cmd.Context(), offset, size)
	bar.Finish()
	if err != nil {
		return err
	}

	fmt.Printf("Read at 0x%X size 0x%X: OK\n", offset, size)
	return nil
}

func runPlan(cmd *cobra.Command, args []string) error {
	var (
		p   *plan.Plan
		err error
	)
	if len(args) == 1 {
		p, err = plan.Load(args[0])
	} else {
		p, err = plan.Parse(embedded.DefaultPlan())
	}
	if err != nil {
		return err
	}

	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	runner := plan.NewRunner(s.tester, cfg.Test.Seed, log)

	bar := newBar(len(p.Steps), fmt.Sprintf("Plan %s", p.Name))
	runner.SetStepCallback(func(done, total int, result plan.StepResult) {
		bar.Set(done)
	})

	report, runErr := runner.Run(cmd.Context(), p)
	bar.Finish()

	fmt.Println()
	for _, r := range report.Steps {
		status := "PASS"
		if !r.Passed {
			status = "FAIL"
		}
		fmt.Printf("  %2d  %-5s 0x%08X size 0x%-6X %s  %s\n",
			r.Index, r.Op, r.Offset, r.Size, status, time.Duration(r.Duration))
		if r.Error != "" {
			fmt.Printf("      %s\n", r.Error)
		}
	}

	if cfg.Test.Report != "" {
		if err := plan.WriteReport(cfg.Test.Report, report); err != nil {
			return err
		}
		fmt.Printf("Report: %s\n", cfg.Test.Report)
	}

	if runErr != nil {
		return runErr
	}
	fmt.Printf("\nPlan %s passed (run %s, seed %d)\n", p.Name, report.RunID, report.Seed)
	return nil
}

func runXorSum(cmd *cobra.Command, args []string) error {
	sum, err := xorSum(args)
	if err != nil {
		return err
	}
	fmt.Printf("0x%02X\n", sum)
	return nil
}

// xorSum computes the write checksum for size, seed, mult and add.
func xorSum(args []string) (byte, error) {
	if len(args) != 4 {
		return 0, errors.New("want size, seed, mult and add")
	}

	var values [4]uint32
	for i, a := range args {
		v, err := parseUint32(a)
		if err != nil {
			return 0, err
		}
		values[i] = v
	}

	p := protocol.StreamParams{Seed: values[1], Mult: values[2], Add: values[3]}
	return protocol.XorSum(values[0], p), nil
}

func runConsole(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	r := &repl{console: s.console}
	return r.Run(cmd.Context())
}

func runList(cmd *cobra.Command, args []string) error {
	if probeFlag {
		return runListProbe(cmd.Context())
	}

	ports, err := serial.ListDetailedPorts()
	if err != nil {
		return err
	}

	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}

	fmt.Println("Available serial ports:")
	for _, p := range ports {
		if p.IsUSB {
			fmt.Printf("  %s  [%s:%s] %s %s\n", p.Name, p.VID, p.PID, p.Product, p.SerialNumber)
			continue
		}
		fmt.Printf("  %s\n", p.Name)
	}

	return nil
}

func runListProbe(ctx context.Context) error {
	fmt.Println("Scanning for EC consoles...")
	devices, err := detect.New(cfg.Serial.BaudRate, log).ListDevices(ctx)
	if err != nil {
		return err
	}

	if len(devices) == 0 {
		fmt.Println("No EC consoles found")
		return nil
	}

	fmt.Printf("Found %d EC console(s):\n", len(devices))
	for _, d := range devices {
		fmt.Printf("  %s  flash %d (0x%X)\n", d.Port, d.FlashSize, d.FlashSize)
	}
	return nil
}

func newBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

func parseRange(args []string) (offset, size uint32, err error) {
	if offset, err = parseUint32(args[0]); err != nil {
		return 0, 0, err
	}
	if size, err = parseUint32(args[1]); err != nil {
		return 0, 0, err
	}
	if uint64(offset)+uint64(size) > 1<<32 {
		return 0, 0, fmt.Errorf("range 0x%X+0x%X overflows", offset, size)
	}
	return offset, size, nil
}

// parseUint32 accepts decimal or 0x-prefixed hex.
func parseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", s, err)
	}
	return uint32(v), nil
}

func parseParams(s string) (flashtest.FixedParams, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return flashtest.FixedParams{}, errors.New("--params must be seed,mult,add")
	}

	var values [3]uint32
	for i, part := range parts {
		v, err := parseUint32(strings.TrimSpace(part))
		if err != nil {
			return flashtest.FixedParams{}, err
		}
		values[i] = v
	}
	return flashtest.FixedParams{Seed: values[0], Mult: values[1], Add: values[2]}, nil
}
