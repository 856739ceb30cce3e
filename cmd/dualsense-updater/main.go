// Package main provides the entry point for the DualSense firmware updater.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/shini4i/dualsense-updater/internal/config"
	"github.com/shini4i/dualsense-updater/internal/dbus"
	"github.com/shini4i/dualsense-updater/internal/firmware"
	"github.com/shini4i/dualsense-updater/internal/hid"
	"github.com/shini4i/dualsense-updater/internal/progress"
	"github.com/shini4i/dualsense-updater/internal/protocol"
	"github.com/shini4i/dualsense-updater/internal/udev"
	"github.com/shini4i/dualsense-updater/internal/update"
)

const (
	// settleDelay gives the HID interface time to enumerate after a USB add event.
	settleDelay = 500 * time.Millisecond

	// pollFallbackInterval is used when the udev monitor cannot be started.
	pollFallbackInterval = time.Second
)

var errMissingImage = errors.New("FW_IMAGE is required to start an update or write an image")

// steps selects the debug single-step operations, run in protocol order.
type steps struct {
	start    bool
	write    bool
	verify   bool
	finalize bool
}

func (s steps) any() bool {
	return s.start || s.write || s.verify || s.finalize
}

func (s steps) needImage() bool {
	return s.start || s.write
}

type app struct {
	v          *viper.Viper
	cfg        *config.Config
	configFile string
	printInfo  bool
	steps      steps
	in         io.Reader
}

func newApp(in io.Reader) *app {
	return &app{v: viper.New(), in: in}
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dualsense-updater [FW_IMAGE]",
		Short: "Firmware updater for Sony DualSense controllers",
		Long: `dualsense-updater flashes a firmware image onto a Sony DualSense controller
connected over USB, using the controller's HID feature report update protocol.

Without debug flags it runs the complete update: Start, Transfer, Verify and
Finalize, after asking for confirmation.`,
		Args:              cobra.MaximumNArgs(1),
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		RunE:              a.runRoot,
	}

	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Print the firmware currently running on the controller",
		Args:  cobra.NoArgs,
		RunE:  a.runInfo,
	}
	rootCmd.AddCommand(infoCmd)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.configFile, "config", "", "Config file (default $HOME/.config/dualsense-updater/config.yaml)")
	pf.String("vid", config.DefaultVID, "USB vendor ID, hex with 0x prefix or decimal")
	pf.String("pid", config.DefaultPID, "USB product ID, hex with 0x prefix or decimal")
	pf.String("path", "", "HID device path, overrides VID/PID selection")
	pf.BoolP("verbose", "v", false, "Enable verbose logging")
	pf.Int("chunk-size", update.DefaultChunkSize, "Image bytes per transfer chunk")
	pf.Duration("poll-interval", update.DefaultPollInterval, "Delay between status polls")
	pf.Duration("phase-timeout", update.DefaultPhaseTimeout, "Time allowed for one command to complete; during the transfer it applies to each image report")
	pf.Duration("receive-timeout", update.DefaultReceiveTimeout, "Time allowed for one status read")
	pf.Int("max-retries", update.DefaultMaxRetries, "Consecutive status read timeouts tolerated")
	pf.Bool("strict-verify", false, "Fail when the controller reports the image version is already installed")
	pf.Duration("wait-for-device", 0, "Wait up to DURATION for the controller to be plugged in")
	pf.Bool("dbus", false, "Publish progress on the D-Bus session bus")

	f := rootCmd.Flags()
	f.BoolP("yes", "y", false, "Do not ask for confirmation")
	f.BoolVar(&a.printInfo, "print-firmware-info", false, "Print the current firmware info")
	f.BoolVar(&a.steps.start, "start-update-only", false, "Debug: send only the StartUpdate command")
	f.BoolVar(&a.steps.write, "write-update-image-only", false, "Debug: only transfer the image")
	f.BoolVar(&a.steps.verify, "verify-update-image-only", false, "Debug: only verify the transferred image")
	f.BoolVar(&a.steps.finalize, "finalize-update-only", false, "Debug: only finalize the update")

	return rootCmd
}

// setup loads configuration once flags are parsed and configures logging.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if err := a.v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("failed to bind flags: %w", err)
	}

	cfg, err := config.Load(a.v, a.configFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.cfg = cfg

	// Usage is only useful for flag errors, which happen before this point.
	cmd.SilenceUsage = true

	setupLogging(cfg.Verbose)
	return nil
}

func setupLogging(verbose bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
}

func (a *app) runRoot(cmd *cobra.Command, args []string) error {
	imagePath := ""
	if len(args) > 0 {
		imagePath = args[0]
	}

	if !a.printInfo && !a.steps.any() {
		if imagePath == "" {
			return cmd.Help()
		}
		return a.runUpdate(cmd, imagePath)
	}
	return a.runSteps(cmd, imagePath)
}

// runUpdate performs the interactive full update.
func (a *app) runUpdate(cmd *cobra.Command, imagePath string) error {
	out := cmd.OutOrStdout()

	// The image is validated before the controller is touched.
	image, err := firmware.Load(imagePath)
	if err != nil {
		return err
	}
	target, err := image.Version()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_, _ = fmt.Fprintln(out, "USE AT YOUR OWN RISK! There is no guarantee this won't brick your controller.")

	dev, err := a.openDevice(ctx)
	if err != nil {
		return err
	}
	defer dev.close()

	_, _ = fmt.Fprintf(out, "Controller detected (%s)\n", dev.ctrl.Info().Path)
	info, err := dev.updater.ReadInfo(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Could not read current firmware version")
		_, _ = fmt.Fprintln(out, "Current firmware version: unknown")
	} else {
		_, _ = fmt.Fprintf(out, "Current firmware version: %s\n", formatVersion(info.Version))
	}

	if !a.cfg.Yes {
		question := fmt.Sprintf("Do you want to flash the device to firmware version %s?", formatVersion(target))
		ok, err := promptYesNo(a.in, out, question)
		if err != nil {
			return err
		}
		if !ok {
			log.Info().Msg("Update not confirmed, controller left untouched")
			return nil
		}
	}

	res, err := dev.withOptions(knownVersion(info)...).Run(ctx, image)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(out, "Firmware updated to %s (%d chunks)\n", formatVersion(res.ImageVersion), res.ChunksSent)
	for _, w := range res.Warnings {
		_, _ = fmt.Fprintf(out, "Warning: %v\n", w)
	}
	return nil
}

// runSteps performs --print-firmware-info and the debug single steps in protocol order.
func (a *app) runSteps(cmd *cobra.Command, imagePath string) error {
	out := cmd.OutOrStdout()

	var image *firmware.Image
	if a.steps.needImage() {
		if imagePath == "" {
			return errMissingImage
		}
		var err error
		if image, err = firmware.Load(imagePath); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dev, err := a.openDevice(ctx)
	if err != nil {
		return err
	}
	defer dev.close()

	_, _ = fmt.Fprintf(out, "Device path: %s\n", dev.ctrl.Info().Path)

	if a.printInfo {
		if err := printFirmwareInfo(ctx, out, dev.updater); err != nil {
			return err
		}
	}
	if a.steps.start {
		if err := dev.updater.StartUpdate(ctx, image); err != nil {
			return err
		}
		_, _ = fmt.Fprintln(out, "StartUpdate status: SUCCESS")
	}
	if a.steps.write {
		if err := dev.updater.WriteImage(ctx, image); err != nil {
			return err
		}
		_, _ = fmt.Fprintln(out, "WriteUpdateImage status: SUCCESS")
	}
	if a.steps.verify {
		if err := dev.updater.VerifyImage(ctx); err != nil {
			return err
		}
		_, _ = fmt.Fprintln(out, "VerifyUpdateImage status: SUCCESS")
	}
	if a.steps.finalize {
		if err := dev.updater.FinalizeUpdate(ctx); err != nil {
			return err
		}
		_, _ = fmt.Fprintln(out, "FinalizeUpdate status: SUCCESS")
	}
	return nil
}

func (a *app) runInfo(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dev, err := a.openDevice(ctx)
	if err != nil {
		return err
	}
	defer dev.close()

	return printFirmwareInfo(ctx, cmd.OutOrStdout(), dev.updater)
}

func printFirmwareInfo(ctx context.Context, out io.Writer, u *update.Updater) error {
	info, err := u.ReadInfo(ctx)
	if err != nil {
		return &update.PhaseError{Phase: update.PhaseInfo, Chunk: -1, Err: err}
	}
	_, _ = fmt.Fprintf(out, "Current firmware build date: %s\n", info.BuildDate)
	_, _ = fmt.Fprintf(out, "Current firmware build time: %s\n", info.BuildTime)
	_, _ = fmt.Fprintf(out, "Current firmware version: %s\n", formatVersion(info.Version))
	return nil
}

// knownVersion carries an already read firmware version into Run so the
// controller is not queried twice.
func knownVersion(info *protocol.FirmwareInfo) []update.Option {
	if info == nil {
		return nil
	}
	return []update.Option{update.WithCurrentVersion(info.Version)}
}

// device is an opened controller with its updater and optional D-Bus publisher.
type device struct {
	ctrl    *hid.Controller
	opts    []update.Option
	updater *update.Updater
	server  *dbus.Server
}

// withOptions returns an Updater for the same controller with extra options applied.
func (d *device) withOptions(extra ...update.Option) *update.Updater {
	if len(extra) == 0 {
		return d.updater
	}
	return update.New(d.ctrl, append(slices.Clip(d.opts), extra...)...)
}

func (d *device) close() {
	if d.server != nil {
		if err := d.server.Stop(); err != nil {
			log.Error().Err(err).Msg("Failed to stop D-Bus server")
		}
	}
	if err := d.ctrl.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close controller")
	}
}

// openDevice waits for and opens the controller and builds its Updater.
func (a *app) openDevice(ctx context.Context) (*device, error) {
	locator := hid.NewLocator()
	vid, pid := a.cfg.VendorID(), a.cfg.ProductID()

	if a.cfg.WaitForDevice > 0 {
		present := func() bool {
			_, err := locator.Find(vid, pid, a.cfg.Path)
			return err == nil
		}
		if err := waitForController(ctx, vid, pid, a.cfg.WaitForDevice, present); err != nil {
			return nil, err
		}
	}

	raw, err := locator.Open(vid, pid, a.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", update.ErrChannel, err)
	}

	dev := &device{ctrl: hid.NewController(raw)}
	if a.cfg.DBus {
		server := dbus.NewServer()
		if err := server.Start(); err != nil {
			log.Warn().Err(err).Msg("D-Bus progress publishing disabled")
		} else {
			dev.server = server
		}
	}

	dev.opts = updaterOptions(a.cfg, observers(a.cfg, dev.server))
	dev.updater = update.New(dev.ctrl, dev.opts...)
	return dev, nil
}

// observers returns the progress reporters for cfg. Without --verbose the
// progress bar replaces per-phase log lines and only warnings are logged.
func observers(cfg *config.Config, server *dbus.Server) []update.Observer {
	var obs []update.Observer
	if cfg.Verbose {
		obs = append(obs, progress.NewLogReporter(log.Logger).Observe)
	} else {
		obs = append(obs,
			progress.NewLogReporter(log.Logger.Level(zerolog.WarnLevel)).Observe,
			progress.NewBarReporter(os.Stderr).Observe,
		)
	}
	if server != nil {
		obs = append(obs, server.Observe)
	}
	return obs
}

func updaterOptions(cfg *config.Config, obs []update.Observer) []update.Option {
	opts := []update.Option{
		update.WithChunkSize(cfg.ChunkSize),
		update.WithPollInterval(cfg.PollInterval),
		update.WithPhaseTimeout(cfg.PhaseTimeout),
		update.WithReceiveTimeout(cfg.ReceiveTimeout),
		update.WithMaxRetries(cfg.MaxRetries),
		update.WithStrictVerify(cfg.StrictVerify),
	}
	for _, o := range obs {
		opts = append(opts, update.WithObserver(o))
	}
	return opts
}

// waitForController blocks until present reports true, the timeout passes or ctx ends.
// Hot-plug events come from udev; if the monitor cannot start, presence is polled.
func waitForController(ctx context.Context, vid, pid uint16, timeout time.Duration, present func() bool) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	events := make(chan udev.Event, 1)
	forward := udev.Forward(events)

	monitor := udev.NewMonitor(vid, pid, forward)
	// Events may have been lost; make the waiter look again.
	monitor.SetRecoveryHandler(func() {
		forward(udev.Event{Type: udev.EventAdd})
	})

	if err := monitor.Start(); err != nil {
		log.Warn().Err(err).Msg("Failed to start udev monitor, polling for the controller instead")
		go pollPresence(ctx, forward)
	} else {
		defer func() {
			if err := monitor.Stop(); err != nil {
				log.Error().Err(err).Msg("Failed to stop udev monitor")
			}
		}()
	}

	if err := udev.WaitForDevice(ctx, events, present, settleDelay); err != nil {
		if errors.Is(err, udev.ErrWaitTimeout) {
			return fmt.Errorf("%w: %w after %s", update.ErrChannel, err, timeout)
		}
		return err
	}
	return nil
}

func pollPresence(ctx context.Context, forward udev.EventHandler) {
	ticker := time.NewTicker(pollFallbackInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			forward(udev.Event{Type: udev.EventAdd})
		}
	}
}

// promptYesNo asks question until the answer is yes or no. An empty answer
// or end of input means no.
func promptYesNo(in io.Reader, out io.Writer, question string) (bool, error) {
	scanner := bufio.NewScanner(in)
	for {
		_, _ = fmt.Fprintf(out, "%s [y/N] ", question)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return false, fmt.Errorf("failed to read answer: %w", err)
			}
			_, _ = fmt.Fprintln(out)
			return false, nil
		}

		switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
		case "", "n", "no":
			return false, nil
		case "y", "yes":
			return true, nil
		}
		_, _ = fmt.Fprintln(out, "Please enter 'y' or 'n'.")
	}
}

func formatVersion(v uint16) string {
	return fmt.Sprintf("0x%04x", v)
}

func main() {
	if err := newRootCmd(newApp(os.Stdin)).ExecuteContext(context.Background()); err != nil {
		log.Error().Err(err).Msg("dualsense-updater failed")
		os.Exit(update.ExitCode(err))
	}
}
