package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/voicenotes/voicenotes/internal/capture"
	"github.com/voicenotes/voicenotes/internal/clip"
	"github.com/voicenotes/voicenotes/internal/config"
	"github.com/voicenotes/voicenotes/internal/logging"
	"github.com/voicenotes/voicenotes/internal/manager"
	"github.com/voicenotes/voicenotes/internal/playback"
	"github.com/voicenotes/voicenotes/internal/server"
	"github.com/voicenotes/voicenotes/internal/store"
	"github.com/voicenotes/voicenotes/internal/upload"
	"github.com/voicenotes/voicenotes/internal/watch"
)

var cfgFile string

var errAPINotConfigured = errors.New("api.base_url is not configured; set it with --api-base-url or VOICENOTES_API_BASE_URL")

// uploadAPI is the union of what the manager and the watchers need from the
// upload client.
type uploadAPI interface {
	Upload(ctx context.Context, record clip.Clip) (upload.Result, error)
	Status(ctx context.Context, serverID string) (*upload.StatusResponse, error)
	Fetch(ctx context.Context, serverID string) (*upload.StatusResponse, error)
}

// unconfiguredAPI stands in when no endpoint is set.
type unconfiguredAPI struct{}

func (unconfiguredAPI) Upload(context.Context, clip.Clip) (upload.Result, error) {
	return upload.Result{}, errAPINotConfigured
}

func (unconfiguredAPI) Status(context.Context, string) (*upload.StatusResponse, error) {
	return nil, errAPINotConfigured
}

func (unconfiguredAPI) Fetch(context.Context, string) (*upload.StatusResponse, error) {
	return nil, errAPINotConfigured
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "voicenotes",
		Short: "Voice notes recorder and transcription sync client",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)

	rootCmd.AddCommand(
		newRecordCommand(),
		newListCommand(),
		newUploadCommand(),
		newSyncCommand(),
		newRefreshCommand(),
		newRemoveCommand(),
		newPlayCommand(),
		newServeCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to settings file")
	cmd.PersistentFlags().String("data-dir", defaults.GetString("data.dir"), "Directory for clips and settings")
	cmd.PersistentFlags().String("api-base-url", defaults.GetString("api.base_url"), "Transcription API base URL")
	cmd.PersistentFlags().String("api-upload-path", defaults.GetString("api.upload_path"), "Upload route on the API")
	cmd.PersistentFlags().String("api-token", "", "Bearer token for the API (overrides env)")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-file", defaults.GetString("log.file"), "Log file path (rotated); empty logs to stderr")
	cmd.PersistentFlags().String("serve-address", defaults.GetString("serve.address"), "Listen address for the local stub server")
	cmd.PersistentFlags().String("signing-secret", "", "HS256 secret for the stub server (overrides env)")

	bindFlag(cmd, "data.dir", "data-dir")
	bindFlag(cmd, "api.base_url", "api-base-url")
	bindFlag(cmd, "api.upload_path", "api-upload-path")
	bindFlag(cmd, "api.auth_token", "api-token")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.file", "log-file")
	bindFlag(cmd, "serve.address", "serve-address")
	bindFlag(cmd, "serve.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	return config.ReadFile(viper.GetViper(), cfgFile)
}

// app bundles everything a subcommand needs, plus a teardown function.
type app struct {
	cfg     config.AppConfig
	logger  *zap.Logger
	store   store.Store
	manager *manager.Manager
	gate    *watch.NetGate
	cancel  context.CancelFunc
	close   func()
}

func buildApp(ctx context.Context) (*app, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewFileLogger(appConfig.LogLevel, appConfig.LogFile)
	if err != nil {
		return nil, err
	}

	clipStore, closeStore := store.OpenChain(filepath.Join(appConfig.DataDir, "clips"), logger)

	gate := watch.NewNetGate(appConfig.API.BaseURL, logger)

	// Without an endpoint the client still records, lists and plays; the
	// gate reads offline so upload attempts queue instead of failing.
	var uploader uploadAPI = unconfiguredAPI{}
	if strings.TrimSpace(appConfig.API.BaseURL) != "" {
		client, err := upload.NewClient(upload.ClientConfig{
			API: upload.Config{
				BaseURL:    appConfig.API.BaseURL,
				UploadPath: appConfig.API.UploadPath,
				AuthToken:  appConfig.API.AuthToken,
			},
			Logger: logger,
		})
		if err != nil {
			_ = closeStore()
			return nil, err
		}
		uploader = client
	} else {
		gate.SetOnline(false)
	}

	gateCtx, cancelGate := context.WithCancel(ctx)
	go gate.Run(gateCtx)

	player := playback.NewPlayer(playback.Config{Logger: logger})

	application := &app{cfg: appConfig, logger: logger, store: clipStore, gate: gate, cancel: cancelGate}

	watchers := watch.New(watch.Config{
		Poller: uploader,
		Gate:   gate,
		Update: func(id string, patch clip.Patch) {
			if application.manager != nil {
				application.manager.HandleWatchUpdate(id, patch)
			}
		},
		Logger: logger,
	})

	clipManager, err := manager.NewManager(manager.Config{
		Store:    clipStore,
		Uploader: uploader,
		Watchers: watchers,
		Player:   player,
		Gate:     gate,
		Logger:   logger,
	})
	if err != nil {
		cancelGate()
		_ = closeStore()
		return nil, err
	}
	application.manager = clipManager
	application.close = func() {
		clipManager.Close()
		cancelGate()
		_ = closeStore()
		_ = logger.Sync()
	}
	return application, nil
}

func withApp(cmd *cobra.Command, run func(ctx context.Context, application *app) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer application.close()

	if err := application.manager.Load(ctx); err != nil {
		return err
	}
	return run(ctx, application)
}

func newRecordCommand() *cobra.Command {
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a new clip from the default microphone",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, application *app) error {
				session, err := capture.NewSession(capture.SessionConfig{
					Store:  application.store,
					Logger: application.logger,
				})
				if err != nil {
					return err
				}

				record, err := session.Start(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "recording %s ", record.ID)
				if duration > 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "for %s...\n", duration)
					select {
					case <-time.After(duration):
					case <-ctx.Done():
					}
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "(press Enter to stop)")
					waitForEnter(ctx)
				}

				finished, err := session.Stop(ctx)
				if err != nil {
					session.Cancel()
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "saved %s (%s, %.1fs)\n",
					finished.ID, finished.MimeType, float64(finished.DurationMs)/1000)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&duration, "duration", 0, "Stop automatically after this long (0 waits for Enter)")
	return cmd
}

func newListCommand() *cobra.Command {
	var query string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List clips, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, application *app) error {
				clips := application.manager.Search(query)
				if len(clips) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no clips")
					return nil
				}
				for _, record := range clips {
					created := time.UnixMilli(record.CreatedAtMs).Format(time.RFC3339)
					line := fmt.Sprintf("%s  %-10s  %s  %s", record.ID, record.Status, created, record.Title)
					if len(record.Tags) > 0 {
						line += "  [" + strings.Join(record.Tags, ", ") + "]"
					}
					fmt.Fprintln(cmd.OutOrStdout(), line)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&query, "query", "", "Filter by title, tag or details")
	return cmd
}

func newUploadCommand() *cobra.Command {
	var all bool
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "upload [clip-id]",
		Short: "Upload a clip (or everything pending with --all)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return errors.New("a clip id or --all is required")
			}
			return withApp(cmd, func(ctx context.Context, application *app) error {
				if all {
					count := application.manager.UploadPending(ctx)
					fmt.Fprintf(cmd.OutOrStdout(), "uploaded %d clip(s)\n", count)
				} else {
					if err := application.manager.UploadClip(ctx, args[0]); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "uploaded %s\n", args[0])
				}
				if wait > 0 {
					return waitForCompletion(ctx, cmd, application, wait)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Upload every saved, queued or errored clip")
	cmd.Flags().DurationVar(&wait, "wait", 0, "Keep polling until processing finishes or the timeout passes")
	return cmd
}

func newSyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Re-attempt every queued clip",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, application *app) error {
				count := application.manager.SyncQueued(ctx)
				fmt.Fprintf(cmd.OutOrStdout(), "synced %d queued clip(s)\n", count)
				return nil
			})
		},
	}
}

func newRefreshCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Re-fetch server metadata for every uploaded clip",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, application *app) error {
				if err := application.manager.RefreshMetadata(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "metadata refreshed")
				return nil
			})
		},
	}
}

func newRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <clip-id>",
		Short: "Delete a clip locally",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, application *app) error {
				if err := application.manager.RemoveClip(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
				return nil
			})
		},
	}
}

func newPlayCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "play <clip-id>",
		Short: "Play a clip through the default output device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, application *app) error {
				if err := application.manager.PlayClip(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "playing %s (press Enter to stop)\n", args[0])
				waitForEnter(ctx)
				application.manager.StopPlayback()
				return nil
			})
		},
	}
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run a local transcription stub for end-to-end testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			logger, err := logging.NewFileLogger(appConfig.LogLevel, appConfig.LogFile)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			handler, err := server.NewHTTPHandler(server.Dependencies{
				Logger:         logger,
				UploadPath:     appConfig.API.UploadPath,
				SigningSecret:  appConfig.ServeToken,
				NotFoundWindow: 3 * time.Second,
				CompleteAfter:  15 * time.Second,
			})
			if err != nil {
				return err
			}

			httpServer := &http.Server{
				Addr:    appConfig.ServeAddr,
				Handler: handler,
			}

			signalCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				logger.Info("stub server starting", zap.String("address", appConfig.ServeAddr))
				err := httpServer.ListenAndServe()
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case <-signalCtx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return httpServer.Shutdown(shutdownCtx)
			case err := <-errCh:
				return err
			}
		},
	}
}

// waitForCompletion blocks until no clip is left in the processing state.
func waitForCompletion(ctx context.Context, cmd *cobra.Command, application *app, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return errors.New("timed out waiting for processing to finish")
		case <-ticker.C:
			pending := 0
			for _, record := range application.manager.Clips() {
				if record.Status == clip.StatusProcessing {
					pending++
				}
			}
			if pending == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "processing finished")
				return nil
			}
		}
	}
}

func waitForEnter(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		reader := bufio.NewReader(os.Stdin)
		_, _ = reader.ReadString('\n')
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
