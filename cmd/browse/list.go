package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-browse/internal/browser"
	"github.com/joeblew999/plat-browse/internal/db"
	"github.com/joeblew999/plat-browse/internal/logging"
	"github.com/joeblew999/plat-browse/internal/mapview"
	"github.com/joeblew999/plat-browse/internal/service"
)

type listOptions struct {
	Filter     string
	View       string
	InBbox     bool
	SourcesDir string
	DataDir    string
	NoDB       bool
}

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list MAP.yaml",
		Short: "Print what the data browser lists for a map file",
		Args:  cobra.ExactArgs(1),
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			lo := listOptions{DataDir: opts.DataDir, NoDB: opts.NoDB}
			lo.Filter, _ = cmd.Flags().GetString("filter")
			lo.View, _ = cmd.Flags().GetString("view")
			lo.InBbox, _ = cmd.Flags().GetBool("in-bbox")
			lo.SourcesDir = filepath.Join(opts.DataDir, "sources")

			log := logging.Must(opts.LogLevel, opts.LogJSON)
			defer log.Sync()
			if err := listMap(cmd.Context(), cmd.OutOrStdout(), args[0], lo, log); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}),
	}
	cmd.Flags().StringP("filter", "f", "", "Text filter applied to feature labels")
	cmd.Flags().String("view", "", "Map view as zoom/lat/lng, overriding the map file")
	cmd.Flags().Bool("in-bbox", false, "Only list features in the current map view")
	return cmd
}

// listMap opens a map file in a throwaway session and prints the browser list.
func listMap(ctx context.Context, w io.Writer, path string, lo listOptions, log *zap.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	m, err := service.LoadMapFile(path)
	if err != nil {
		return err
	}

	opts := []service.LoaderOption{service.WithLoaderLogger(log)}
	if !lo.NoDB {
		opts = append(opts, service.WithDB(db.Lazy(db.Config{
			DataDir:    lo.DataDir,
			DBName:     "browse",
			Extensions: db.DefaultExtensions,
			Logger:     log,
		})))
		defer db.Close()
	}
	sessions := service.NewSessionService(nil, service.NewLoader(lo.SourcesDir, opts...),
		service.NewSettingsService("", log), nil, service.WithSessionLogger(log))
	defer sessions.Close()

	sess, err := sessions.Open(ctx, m, m.ID)
	if err != nil {
		return err
	}
	if lo.View != "" {
		cam, err := mapview.ParseHash(lo.View)
		if err != nil {
			return err
		}
		sess.MoveTo(cam, true)
	}
	sess.Controller.Open()
	sess.Controller.SetQuery(lo.Filter)
	sess.Controller.SetViewportRestricted(lo.InBbox)

	printView(w, sess.Controller.View())
	return nil
}

func printView(w io.Writer, v browser.View) {
	for _, sec := range v.Sections {
		hidden := ""
		if !sec.Displayed {
			hidden = " [hidden]"
		}
		fmt.Fprintf(w, "%s (%s)%s\n", sec.Name, sec.Count, hidden)
		for _, row := range sec.Rows {
			fmt.Fprintf(w, "  %s\t%s\n", row.Label, row.Color)
		}
	}
}
