package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/ndlib/wikistore/acl"
	"github.com/ndlib/wikistore/editlog"
)

func newEditLogCmd(load loader) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "editlog",
		Short: "print the most recent edits, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if cfg.EditLog == "" {
				return errors.New("no edit_log configured")
			}
			records, err := editlog.Open(cfg.EditLog).Tail(limit)
			if err != nil {
				return err
			}
			for _, r := range records {
				fmt.Fprint(cmd.OutOrStdout(), r.Format())
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of records to print, 0 for all")
	return cmd
}

func newACLCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "acl <rule>",
		Short: "parse an acl and print it in normal form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			valid := cfg.ACL.ValidRights
			if len(valid) == 0 {
				valid = acl.DefaultRights
			}
			fmt.Fprintln(cmd.OutOrStdout(), acl.Parse(args[0], valid).String())
			return nil
		},
	}
}
