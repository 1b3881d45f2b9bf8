// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/DataDog/sigmon/pkg/analysis"
	"github.com/DataDog/sigmon/pkg/api"
	"github.com/DataDog/sigmon/pkg/config"
	"github.com/DataDog/sigmon/pkg/correlation"
	"github.com/DataDog/sigmon/pkg/decoder"
	"github.com/DataDog/sigmon/pkg/decoder/decoders"
	"github.com/DataDog/sigmon/pkg/flows"
	"github.com/DataDog/sigmon/pkg/knowledge"
	"github.com/DataDog/sigmon/pkg/output"
	"github.com/DataDog/sigmon/pkg/pipeline"
	"github.com/DataDog/sigmon/pkg/source"
	"github.com/DataDog/sigmon/pkg/stats"
	"github.com/DataDog/sigmon/pkg/util/log"
	"github.com/DataDog/sigmon/pkg/version"
)

// loggerName is the name of the signaling monitor logger
const loggerName config.LoggerName = "SIG"

var (
	sigmonCmd = &cobra.Command{
		Use:   "sigmon [command]",
		Short: "Passive telecom signaling monitor.",
		Long: `
Sigmon decodes signaling traffic forwarded by capture probes, correlates the
messages into subscriber sessions, reconstructs standard call flows, flags
known failure patterns and writes events and CDRs to disk.`,
	}

	startCmd = &cobra.Command{
		Use:   "start",
		Short: "Start the signaling monitor",
		Long:  `Runs the monitor in the foreground`,
		RunE:  start,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Long:  ``,
		Run: func(cmd *cobra.Command, args []string) {
			if version.Commit != "" {
				fmt.Printf("sigmon %s - Commit: %s\n", color.CyanString(version.MonitorVersion), version.Commit)
				return
			}
			fmt.Printf("sigmon %s\n", color.CyanString(version.MonitorVersion))
		},
	}

	confPath string
)

func init() {
	sigmonCmd.AddCommand(startCmd)
	sigmonCmd.AddCommand(versionCmd)

	startCmd.Flags().StringVarP(&confPath, "cfgpath", "c", "", "path to folder containing sigmon.yaml")
	config.Sigmon.BindPFlag("conf_path", startCmd.Flags().Lookup("cfgpath")) //nolint:errcheck
}

func start(cmd *cobra.Command, args []string) error {
	configFound := false
	if len(confPath) != 0 {
		config.Sigmon.SetConfigName("sigmon")
		config.Sigmon.AddConfigPath(confPath)
		if err := config.Load(); err != nil {
			log.Error(err)
		} else {
			configFound = true
		}
	}
	if !configFound {
		log.Infof("Config will be read from env variables")
	}

	logFile := config.Sigmon.GetString("log_file")
	if config.Sigmon.GetBool("disable_file_logging") {
		logFile = ""
	}
	err := config.SetupLogger(
		loggerName,
		config.Sigmon.GetString("log_level"),
		logFile,
		config.Sigmon.GetBool("log_to_console"),
		config.Sigmon.GetBool("log_format_json"),
	)
	if err != nil {
		log.Criticalf("Unable to setup logger: %s", err)
		return nil
	}

	snap, err := config.BuildSnapshot(config.Sigmon)
	if err != nil {
		log.Criticalf("Invalid configuration: %s", err)
		return nil
	}
	holder := config.NewSnapshotHolder(snap)

	kbPath := config.Sigmon.GetString("knowledge.dataset_file")
	kb, err := knowledge.Load(kbPath)
	if err != nil {
		log.Criticalf("Unable to load knowledge dataset: %s", err)
		return nil
	}

	clk := clock.New()
	bucket := stats.New()
	registry := decoders.BuildRegistry(kb, snap.EnabledProtocols)

	feed, err := source.NewUDPFeed(config.Sigmon, snap.InputBufferSize)
	if err != nil {
		return log.Errorf("Invalid feed configuration: %v", err)
	}

	fs := afero.NewOsFs()
	events := output.NewEventWriter(fs, snap.EventsDir, snap.EventRetentionDays, snap.WriterBufferSize, bucket, clk)
	if err := events.Start(); err != nil {
		return log.Errorf("Unable to start event writer: %v", err)
	}
	cdr := output.NewCDRWriter(fs, snap.CDRDir, snap.CDRRetentionDays, bucket, clk)
	if err := cdr.Start(); err != nil {
		return log.Errorf("Unable to start CDR writer: %v", err)
	}

	var store *correlation.Store
	if config.Sigmon.GetBool("database.enabled") {
		store = correlation.NewStore(correlation.DBConfig{
			Host:     config.Sigmon.GetString("database.host"),
			Port:     config.Sigmon.GetInt("database.port"),
			User:     config.Sigmon.GetString("database.user"),
			Password: config.Sigmon.GetString("database.password"),
			Database: config.Sigmon.GetString("database.name"),
			Insecure: config.Sigmon.GetBool("database.insecure"),
			Timeout:  time.Duration(config.Sigmon.GetInt("database.timeout_seconds")) * time.Second,
		}, snap.PersistenceBufferSize, bucket)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := store.EnsureSchema(ctx)
		cancel()
		if err != nil {
			return log.Errorf("Unable to prepare database schema: %v", err)
		}
		store.Start()
	}

	analyzer := analysis.NewEngine(kb, bucket)
	reconstructor := flows.NewReconstructor()

	engine := correlation.NewEngine(snap, bucket, clk)
	engine.OnComplete(func(s *correlation.Session) {
		flow := reconstructor.Reconstruct(s)
		cdr.Write(s, flow)
		if store != nil {
			store.Enqueue(s)
		}
	})
	engine.OnLatency(func(msg *decoder.Message, latency time.Duration) {
		analyzer.ObserveLatency(msg, latency)
	})
	engine.Start()

	dispatcher := pipeline.NewDispatcher(snap, registry, feed, bucket, engine, analyzer, events)
	dispatcher.Start()
	if err := feed.Start(); err != nil {
		return log.Errorf("Unable to start feed listener: %v", err)
	}

	apiServer := api.NewServer(config.Sigmon, bucket, engine, analyzer)
	if err := apiServer.Start(); err != nil {
		return log.Errorf("Unable to start API server: %v", err)
	}

	log.Infof("sigmon %s started", version.MonitorVersion)

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range signalCh {
		if sig != syscall.SIGHUP {
			break
		}
		reload(holder, analyzer, kbPath)
	}

	// Shutdown order follows the data flow: the feed stops producing, the
	// dispatcher drains its queues, the correlation engine flushes every
	// remaining session through the completion hooks, then the writers and
	// the store flush to disk.
	apiServer.Stop()
	feed.Stop()
	dispatcher.Stop()
	engine.Stop()
	events.Stop()
	cdr.Stop()
	if store != nil {
		store.Stop()
	}
	log.Info("See ya!")
	log.Flush()
	return nil
}

// reload rebuilds the snapshot and the knowledge base from the current config
// file. A broken config is rejected and the previous state stays active.
func reload(holder *config.SnapshotHolder, analyzer *analysis.Engine, kbPath string) {
	log.Info("SIGHUP received, reloading configuration")
	if err := config.Load(); err != nil {
		log.Warnf("Reload rejected, keeping previous configuration: %v", err)
		return
	}
	snap, err := config.BuildSnapshot(config.Sigmon)
	if err != nil {
		log.Warnf("Reload rejected, keeping previous configuration: %v", err)
		return
	}
	holder.Store(snap)

	kb, err := knowledge.Load(kbPath)
	if err != nil {
		log.Warnf("Reload: keeping previous knowledge dataset: %v", err)
		return
	}
	analyzer.SetKnowledgeBase(kb)
	log.Info("Reload complete")
}

func main() {
	if err := sigmonCmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(-1)
	}
}
