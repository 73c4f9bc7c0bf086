package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/ndlib/wikistore/server"
)

func newServeCmd(load loader) *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Port = port
			}
			w, err := server.Open(cfg)
			if err != nil {
				return err
			}
			defer w.Close()
			s, err := server.New(w)
			if err != nil {
				return err
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sig
				log.Println("Received signal, stopping")
				if err := s.Stop(); err != nil {
					log.Println(err)
				}
			}()
			if err := s.Run(); err != nil {
				return errors.Wrap(err, "serve")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "port to listen on, overrides the configuration")
	return cmd
}

func newReindexCmd(load loader) *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "rebuild the index from the stored items",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			w, err := server.Open(cfg)
			if err != nil {
				return err
			}
			defer w.Close()
			if check {
				n, err := w.CheckIndex(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d items disagree with the index\n", n)
				return nil
			}
			n, err := w.Reindex(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d items\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "only report items whose index entry is wrong")
	return cmd
}
