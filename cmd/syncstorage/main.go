// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Command syncstorage serves the sync storage HTTP surface: batched BSO
// upload/retrieval behind HAWK-authenticated requests.
package main

import (
	gosql "database/sql"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"storj.io/syncstorage/config"
	"storj.io/syncstorage/pkg/cfgstruct"
	"storj.io/syncstorage/pkg/process"
	"storj.io/syncstorage/web"
)

var cfg config.Config

var rootCmd = &cobra.Command{
	Use:   "syncstorage",
	Short: "sync storage HTTP server",
	RunE:  run,
}

func main() {
	cfgstruct.Bind(rootCmd.Flags(), &cfg)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	log, err := process.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	backend, err := config.OpenSyncstorageBackend(log, cfg.Syncstorage)
	if err != nil {
		return err
	}
	defer func() { _ = backend.Close() }()

	deadman := process.NewDeadman(cfg.LBHeartbeatTTL, cfg.LBHeartbeatTTLJitter)
	health := &web.HealthChecker{Deadman: deadman}
	if dber, ok := backend.(interface{ DB() *gosql.DB }); ok {
		health.DB = dber.DB()
	}

	srv := web.NewServer(log, backend, []byte(cfg.MasterSecret), cfg.Syncstorage.Limits, health)

	statsd, err := process.NewStatsdSink(cfg.Statsd)
	if err != nil {
		return err
	}
	defer func() { _ = statsd.Close() }()
	stop := make(chan struct{})
	defer close(stop)
	go statsd.Run(monkit.Default, 10*time.Second, stop)

	addr := cfg.Host + ":" + cfg.Port
	log.Sugar().Infof("listening on %s", addr)
	return http.ListenAndServe(addr, srv.Router())
}
