// Command wikistore serves and maintains a wiki.
//
//	wikistore serve --config wiki.toml
//	wikistore reindex --config wiki.toml
//	wikistore editlog --config wiki.toml --limit 20
//	wikistore acl "JoeDoe:read,write All:read"
package main

import (
	"os"

	"github.com/getsentry/raven-go"
	"github.com/spf13/cobra"

	"github.com/ndlib/wikistore/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string
	root := &cobra.Command{
		Use:           "wikistore",
		Short:         "versioned wiki storage server",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to the TOML configuration file")

	load := func() (*config.Config, error) {
		cfg, err := config.Load(configFile)
		if err != nil {
			return nil, err
		}
		// the .env file may carry the sentry DSN too
		raven.SetDSN(os.Getenv("SENTRY_DSN"))
		return cfg, nil
	}
	root.AddCommand(
		newServeCmd(load),
		newReindexCmd(load),
		newEditLogCmd(load),
		newACLCmd(load),
	)
	root.CompletionOptions.HiddenDefaultCmd = true
	return root
}

type loader func() (*config.Config, error)
