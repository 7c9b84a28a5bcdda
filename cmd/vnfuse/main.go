package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"bazil.org/fuse"
	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"vnfuse/internal/bridge"
	"vnfuse/internal/config"
	"vnfuse/internal/hostfs"
	"vnfuse/internal/logging"
	"vnfuse/internal/state"
	"vnfuse/internal/vfs"
)

var (
	logger = logging.GetLogger()
)

func main() {
	if err := run(); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("vnfuse", pflag.ContinueOnError)
	configPath := flags.String("config", "", "Configuration file (default "+config.GetDefaultConfigPath()+")")
	flags.String("mountpoint", "", "Mount point for the filesystem")
	flags.String("source", "", "Source directory to serve")
	flags.String("state-dir", "", "Directory for the persistent node-ID table (in memory if empty)")
	flags.String("log-level", "", "Log level: ERROR, WARN, INFO, DEBUG or TRACE")
	flags.Bool("allow-other", false, "Allow other users to access the mount")
	flags.Bool("debug", false, "Log every FUSE message")
	writeConfig := flags.String("write-config", "", "Write the effective configuration to this file and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	cfg, err := config.Load(*configPath, flags)
	if err != nil {
		return err
	}
	if *writeConfig != "" {
		if err := config.WriteDefault(*writeConfig, cfg, false); err != nil {
			return err
		}
		logger.Info("Wrote configuration to %s", *writeConfig)
		return nil
	}

	if err := logger.SetLevelName(cfg.Logging.Level); err != nil {
		return err
	}
	if cfg.Mount.Debug {
		fuse.Debug = logger.FuseDebug
	}

	cleanMount := filepath.Clean(cfg.Mount.Point)
	cleanSource := filepath.Clean(cfg.Engine.Source)

	logger.Info("Starting vnfuse...")
	logger.Debug("Mount point: %s", cleanMount)
	logger.Debug("Source path: %s", cleanSource)
	logger.Debug("State dir: %q", cfg.Engine.StateDir)

	logger.Info("Initializing state manager...")
	sm, err := state.NewManager(state.Config{Dir: cfg.Engine.StateDir, FirstID: hostfs.FirstNodeID})
	if err != nil {
		return fmt.Errorf("failed to initialize state manager: %w", err)
	}
	defer func() {
		if err := sm.Close(); err != nil {
			logger.Error("Failed to close state: %v", err)
		}
	}()

	engine, err := hostfs.New(hostfs.Config{Source: cleanSource, State: sm})
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	ctx := context.Background()
	mounted, err := vfs.Mount(ctx, engine)
	if err != nil {
		return fmt.Errorf("failed to mount engine: %w", err)
	}
	if sv, err := mounted.Statvfs(ctx); err == nil {
		logger.Info("Source %s: %s free of %s", engine.Source(),
			humanize.IBytes(sv.Bavail*sv.Frsize), humanize.IBytes(sv.Blocks*sv.Frsize))
	}

	b := bridge.New(mounted, bridge.Options{
		EntryTimeout: cfg.Bridge.EntryTimeout,
		AttrTimeout:  cfg.Bridge.AttrTimeout,
	})

	logger.Debug("Setting up signal handlers...")
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	logger.Info("Mounting filesystem...")
	c, err := bridge.Mount(bridge.MountConfig{
		Mountpoint:         cleanMount,
		FSName:             cfg.Mount.FSName,
		Subtype:            cfg.Mount.Subtype,
		AllowOther:         cfg.Mount.AllowOther,
		DefaultPermissions: cfg.Mount.DefaultPermissions,
	})
	if err != nil {
		return err
	}
	defer c.Close()

	var wg sync.WaitGroup
	wg.Add(1)

	logger.Debug("Starting FUSE server...")
	go func() {
		defer wg.Done()
		logger.Info("Serving filesystem...")
		if err := b.Serve(c); err != nil {
			logger.Error("FUSE server error: %v", err)
		}
		logger.Debug("FUSE server stopped")
	}()

	if err := bridge.WaitForMount(cleanMount); err != nil {
		logger.Warn("%v", err)
	} else {
		logger.Info("Filesystem mounted and ready")
	}

	go func() {
		sig := <-sigChan
		logger.Info("Received signal %v", sig)
		if err := bridge.Unmount(cleanMount); err != nil {
			logger.Error("Unmount error: %v", err)
		}
	}()

	wg.Wait()

	// The kernel may close the session without sending DESTROY.
	if !mounted.Unmounted() {
		b.Destroy(ctx)
	}
	logger.Info("Clean shutdown complete")
	return nil
}
