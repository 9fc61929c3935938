package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-browse/internal/logging"
	"github.com/joeblew999/plat-browse/internal/server"
)

// Options defines all CLI flags and env vars for the browse server.
// Flags: --host, --port, --data-dir, --web-dir, --log-level, --log-json, --settle-ms, --watch, --no-db
// Env vars: SERVICE_HOST, SERVICE_PORT, SERVICE_DATA_DIR, ...
type Options struct {
	Host     string `doc:"Host to bind to" default:"0.0.0.0"`
	Port     int    `doc:"Port to listen on" short:"p" default:"8086"`
	DataDir  string `doc:"Directory for maps, settings and source files" default:".data"`
	WebDir   string `doc:"Directory with static/ files and templates/fragments/ overrides" default:"web"`
	LogLevel string `doc:"Log level: debug, info, warn or error" default:"info"`
	LogJSON  bool   `doc:"Log as JSON instead of console text"`
	SettleMs int    `doc:"Milliseconds the map must be still before the list follows it" default:"150"`
	Watch    bool   `doc:"Reload layers when their source file changes"`
	NoDB     bool   `doc:"Disable DuckDB query layers"`
}

func newServer(opts *Options, log *zap.Logger) (*server.Server, error) {
	return server.New(server.Config{
		Host:        opts.Host,
		Port:        fmt.Sprintf("%d", opts.Port),
		DataDir:     opts.DataDir,
		WebDir:      opts.WebDir,
		Logger:      log,
		SettleDelay: time.Duration(opts.SettleMs) * time.Millisecond,
		Watch:       opts.Watch,
		DisableDB:   opts.NoDB,
	})
}

func main() {
	var (
		log     *zap.Logger
		httpSrv *http.Server
		srv     *server.Server
		cancel  context.CancelFunc
	)

	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		log = logging.Must(opts.LogLevel, opts.LogJSON)

		hooks.OnStart(func() {
			var err error
			srv, err = newServer(opts, log)
			if err != nil {
				log.Fatal("server setup failed", zap.Error(err))
			}
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			srv.Start(ctx)

			addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
			displayHost := opts.Host
			if displayHost == "0.0.0.0" {
				displayHost = "localhost"
			}
			baseURL := fmt.Sprintf("http://%s:%d", displayHost, opts.Port)
			log.Info("plat-browse API server starting",
				zap.String("server", baseURL),
				zap.String("data", opts.DataDir),
				zap.String("docs", baseURL+"/docs"),
				zap.String("openapi", baseURL+"/openapi.json"),
				zap.Bool("watch", opts.Watch),
			)

			httpSrv = &http.Server{Addr: addr, Handler: srv}
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatal("server error", zap.Error(err))
			}
		})

		hooks.OnStop(func() {
			if cancel != nil {
				cancel()
			}
			if httpSrv != nil {
				ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
				defer done()
				if err := httpSrv.Shutdown(ctx); err != nil {
					log.Warn("shutdown", zap.Error(err))
				}
			}
			if srv != nil {
				if err := srv.Close(); err != nil {
					log.Warn("close", zap.Error(err))
				}
			}
			_ = log.Sync()
		})
	})

	cli.Root().Use = "browse"
	cli.Root().Short = "Browse and filter the features of map data layers"
	cli.Root().Version = "0.1.0"

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			opts.NoDB = true
			srv, err := newServer(opts, zap.NewNop())
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			defer srv.Close()
			spec := srv.OpenAPI()

			useYAML, _ := cmd.Flags().GetBool("yaml")

			var output []byte
			if useYAML {
				output, err = yaml.Marshal(spec)
			} else {
				output, err = json.MarshalIndent(spec, "", "  ")
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error marshaling spec: %v\n", err)
				os.Exit(1)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(output))
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	cli.Root().AddCommand(newListCmd())

	cli.Run()
}
