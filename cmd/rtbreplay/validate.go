package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/StreetsDigital/thenexusengine/rtbreplay/internal/config"
	"github.com/StreetsDigital/thenexusengine/rtbreplay/internal/lookup"
)

func newValidateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and lookup tables without sending anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configFile)
			if err != nil {
				return err
			}
			tables, err := lookup.LoadAll(lookupPaths(cfg))
			if err != nil {
				return err
			}

			fmt.Fprintln(opts.stdout, "configuration OK")
			fmt.Fprintf(opts.stdout, "  auction:  %s\n", cfg.AuctionURL())
			fmt.Fprintf(opts.stdout, "  win:      %s (%s)\n", cfg.WinURL(), cfg.Win.Style)
			fmt.Fprintf(opts.stdout, "  events:   %s\n", cfg.EventsURL())
			fmt.Fprintf(opts.stdout, "  sizes:    %v\n", cfg.Replay.AllowedSizes)
			fmt.Fprintf(opts.stdout, "  lookups:  %d cities, %d regions, %d profile tags\n",
				len(tables.City), len(tables.Region), len(tables.UserProfileTags))
			return nil
		},
	}
}

func lookupPaths(cfg *config.Config) lookup.Paths {
	return lookup.Paths{
		City:            cfg.Lookup.City,
		Region:          cfg.Lookup.Region,
		UserProfileTags: cfg.Lookup.UserProfileTags,
	}
}
