// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Command tokenserver serves the node-assignment token issuance endpoint.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"storj.io/syncstorage/config"
	"storj.io/syncstorage/pkg/cfgstruct"
	"storj.io/syncstorage/pkg/process"
	"storj.io/syncstorage/tokenserver/web"
)

var cfg config.Config

var rootCmd = &cobra.Command{
	Use:   "tokenserver",
	Short: "sync storage node-assignment token server",
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

	if !cfg.Tokenserver.Enabled {
		log.Sugar().Info("tokenserver disabled, exiting")
		return nil
	}

	store, err := config.OpenTokenserverStore(log, cfg.Tokenserver)
	if err != nil {
		return err
	}

	oauth, err := cfg.Tokenserver.FxaOAuth.OAuthVerifier()
	if err != nil {
		return err
	}
	browserID := cfg.Tokenserver.FxaBrowserID.BrowserIDVerifier()

	origin := cfg.Host + ":" + cfg.Port
	issueCfg := cfg.IssueConfig(origin)

	handler := web.NewHandler(log, store, oauth, browserID, issueCfg, cfg.Tokenserver.NodeType)

	addr := cfg.Host + ":" + cfg.Port
	log.Sugar().Infof("listening on %s", addr)
	return http.ListenAndServe(addr, handler.Router())
}
