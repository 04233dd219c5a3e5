// Command adbtransfer pushes a host directory tree to one or more Android
// devices over adb, chunking large files, bundling small ones, and
// driving on-device reassembly at a destination path.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/gosuri/uilive"
	"github.com/sirupsen/logrus"

	"github.com/adbtransfer/adbtransfer/internal/cli"
	"github.com/adbtransfer/adbtransfer/internal/config"
	"github.com/adbtransfer/adbtransfer/internal/coordinator"
	"github.com/adbtransfer/adbtransfer/internal/driver"
	"github.com/adbtransfer/adbtransfer/internal/planner"
	"github.com/adbtransfer/adbtransfer/internal/pushengine"
	"github.com/adbtransfer/adbtransfer/internal/transport"
)

var buildVersion = "dev"

func main() {
	app := kingpin.New("adbtransfer", "Transfers a directory tree to one or more Android devices over adb.")
	app.Version(buildVersion)
	app.HelpFlag.Short('h')

	var base cli.BaseFlags
	cli.RegisterBaseFlags(app, &base)

	pushCmd := app.Command("push", "Transfer a directory tree to one or more devices.")
	var pushCfg config.Config
	cli.RegisterConfigFlags(pushCmd, &pushCfg)
	pushSource := pushCmd.Flag("source", "Source directory to transfer.").Required().String()
	pushTarget := pushCmd.Flag("target", "Destination directory on the device.").Required().String()
	pushScratch := pushCmd.Flag("scratch", "Host scratch directory for chunks and bundles; a temp dir is used if unset.").String()
	pushOnly := pushCmd.Flag("push-only", "Push only; skip reassembly so it can be run later via resume.").Bool()
	pushDevices := pushCmd.Arg("devices", "Device serials to transfer to; all attached devices if none given.").Strings()

	resumeCmd := app.Command("resume", "Resume reassembly for a previously pushed transfer.")
	var resumeCfg config.Config
	cli.RegisterConfigFlags(resumeCmd, &resumeCfg)
	resumeScratch := resumeCmd.Flag("scratch", "Host scratch directory used by the original push.").Required().String()
	resumeSource := resumeCmd.Flag("source", "Source directory originally transferred.").Required().String()
	resumeTarget := resumeCmd.Flag("target", "Destination directory on the device.").Required().String()
	resumeDevices := resumeCmd.Arg("devices", "Device serials to resume; all attached devices if none given.").Strings()

	devicesCmd := app.Command("devices", "List attached and connected devices.")

	pairCmd := app.Command("pair", "Pair with a device over WiFi (Android 11+ pairing code flow).")
	pairHostPort := pairCmd.Arg("host:port", "Pairing service address, as shown on the device.").Required().String()
	pairCode := pairCmd.Arg("code", "Six-digit pairing code, as shown on the device.").Required().String()

	command, err := app.Parse(os.Args[1:])
	if err != nil {
		app.Fatalf("%v", err)
	}

	log, err := cli.NewLogger(base)
	if err != nil {
		app.Fatalf("%v", err)
	}
	log.Infof("adbtransfer %s", buildVersion)

	t := &transport.AdbTransport{Path: base.AdbPath, Log: log}
	ctx := context.Background()

	switch command {
	case pushCmd.FullCommand():
		err = runTransfer(ctx, log, t, pushCfg, transferArgs{
			source:   *pushSource,
			target:   *pushTarget,
			scratch:  *pushScratch,
			devices:  *pushDevices,
			pushOnly: *pushOnly,
		})
	case resumeCmd.FullCommand():
		resumeCfg.ResumeTransfer = true
		err = runTransfer(ctx, log, t, resumeCfg, transferArgs{
			source:  *resumeSource,
			target:  *resumeTarget,
			scratch: *resumeScratch,
			devices: *resumeDevices,
		})
	case devicesCmd.FullCommand():
		err = runDevices(ctx, log, t)
	case pairCmd.FullCommand():
		err = runPair(ctx, log, t, *pairHostPort, *pairCode)
	}

	if err != nil {
		log.Fatal(err)
	}
}

type transferArgs struct {
	source   string
	target   string
	scratch  string
	devices  []string
	pushOnly bool
}

// runTransfer drives one end-to-end run: resolve devices, build the
// TransferPlan (timed separately from the transfer itself, matching the
// original's per-phase duration breakdown), push to every device with a
// live progress line, then advance every device that pushed cleanly
// through reassembly.
func runTransfer(ctx context.Context, log *logrus.Logger, t transport.Transport, cfg config.Config, args transferArgs) error {
	devices, err := resolveDevices(ctx, t, args.devices)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		return fmt.Errorf("no devices to transfer to")
	}

	scratch := args.scratch
	if scratch == "" {
		dir, err := os.MkdirTemp("", "adbtransfer-")
		if err != nil {
			return fmt.Errorf("creating scratch directory: %w", err)
		}
		scratch = dir
	} else if err := os.MkdirAll(scratch, 0o755); err != nil {
		return fmt.Errorf("preparing scratch directory: %w", err)
	}

	planStart := time.Now()
	p := planner.New(log)
	tp, err := p.Build(planner.FromConfig(cfg, absOrSame(args.source), scratch))
	if err != nil {
		return fmt.Errorf("preparing transfer plan: %w", err)
	}
	planDuration := time.Since(planStart)
	log.Infof("prepared run %s: %d large file(s), %d bundle(s) (%s)", tp.RunID, len(tp.Manifests), len(tp.Bundles), planDuration)

	progress := uilive.New()
	progress.Start()
	defer progress.Stop()

	pushOpts := pushengine.Options{
		Workers:           cfg.ParallelProcesses,
		Resume:            cfg.ResumeTransfer,
		VerifySizes:       cfg.VerifySizes,
		RetryFailedChunks: cfg.RetryFailedChunks,
		MaxRetries:        cfg.MaxRetries,
		AggressiveCleanup: cfg.AggressiveTempCleanup,
		Progress: func(completed, total int) {
			fmt.Fprintf(progress, "pushing: %d/%d\n", completed, total)
		},
	}

	engine := pushengine.New(t, log)
	drv := driver.New(t, log)
	coord := coordinator.New(engine, drv, log)

	summary, err := coord.Run(ctx, devices, tp, coordinator.Options{
		Push:         pushOpts,
		Driver:       driver.Options{ReassemblyTimeout: cfg.ReassemblyTimeout, VerifyAfterReassembly: cfg.VerifyAfterReassembly, DeleteTempFolder: cfg.DeleteTempFolder},
		RemoteTemp:   cfg.RemoteTempDir,
		TargetDir:    args.target,
		UseShellMode: cfg.UseAdbShellMode,
		PushOnly:     args.pushOnly,
		PromptFunc:   terminalPrompt,
	})
	progress.Stop()
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"plan":       planDuration,
		"push":       summary.PushDuration,
		"reassembly": summary.ReassemblyDuration,
	}).Info("phase timing")

	printSummary(log, summary)
	return nil
}

func printSummary(log *logrus.Logger, summary *coordinator.Summary) {
	for serial, ds := range summary.Devices {
		fields := logrus.Fields{"push_ok": ds.PushOK, "reassembly_ok": ds.ReassemblyOK}
		if ds.PushErr != "" {
			fields["push_err"] = ds.PushErr
		}
		if ds.ReassemblyErr != "" {
			fields["reassembly_err"] = ds.ReassemblyErr
		}
		log.WithFields(fields).Infof("%s: done", serial)
	}
}

func resolveDevices(ctx context.Context, t transport.Transport, serials []string) ([]transport.Device, error) {
	all, err := t.Devices(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	if len(serials) == 0 {
		return all, nil
	}

	bySerial := make(map[string]transport.Device, len(all))
	for _, d := range all {
		bySerial[d.Serial] = d
	}

	var selected []transport.Device
	for _, s := range serials {
		d, ok := bySerial[s]
		if !ok {
			return nil, fmt.Errorf("device %s not found among attached devices", s)
		}
		selected = append(selected, d)
	}
	return selected, nil
}

func runDevices(ctx context.Context, log *logrus.Logger, t transport.Transport) error {
	devices, err := t.Devices(ctx)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("no devices attached")
		return nil
	}
	for _, d := range devices {
		fmt.Printf("%s\t%s\t%s\n", d.Serial, d.Kind, d.Model)
	}
	return nil
}

// runPair drives the Android 11+ WiFi pairing handshake: pair with the
// pairing-service address and code, then connect to the device's normal
// adb-over-WiFi port.
func runPair(ctx context.Context, log *logrus.Logger, t transport.Transport, hostPort, code string) error {
	ok, err := t.Pair(ctx, hostPort, code)
	if err != nil {
		return fmt.Errorf("pairing %s: %w", hostPort, err)
	}
	if !ok {
		return fmt.Errorf("pairing %s was not confirmed by adb", hostPort)
	}
	log.Infof("paired with %s", hostPort)

	host := hostPort
	if idx := strings.LastIndex(hostPort, ":"); idx != -1 {
		host = hostPort[:idx]
	}
	connected, err := t.ConnectWiFi(ctx, host)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", host, err)
	}
	if !connected {
		return fmt.Errorf("adb did not confirm connection to %s", host)
	}
	log.Infof("connected to %s", host)
	return nil
}

// terminalPrompt is the default Variant B confirm_permission gate: a
// synchronous yes/no prompt on stdin, replacing the original's modal
// dialog (out of scope per spec.md).
func terminalPrompt(phase string, devices []string) bool {
	fmt.Printf("Grant storage permission on %s, then confirm to continue [y/N]: ", strings.Join(devices, ", "))
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	line = strings.ToLower(strings.TrimSpace(line))
	return line == "y" || line == "yes"
}

func absOrSame(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}
