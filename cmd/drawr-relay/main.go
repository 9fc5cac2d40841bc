package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/drawr/internal/auth"
	"github.com/MarcoPoloResearchLab/drawr/internal/config"
	"github.com/MarcoPoloResearchLab/drawr/internal/database"
	"github.com/MarcoPoloResearchLab/drawr/internal/discovery"
	"github.com/MarcoPoloResearchLab/drawr/internal/export"
	"github.com/MarcoPoloResearchLab/drawr/internal/logging"
	"github.com/MarcoPoloResearchLab/drawr/internal/rooms"
	"github.com/MarcoPoloResearchLab/drawr/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "drawr-relay",
		Short: "drawr room relay and shape store",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newTokenCommand(), newExportCommand(), newDiscoverCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().String("issuer", defaults.GetString("auth.issuer"), "Session token issuer")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Session token TTL in minutes")
	cmd.PersistentFlags().Bool("echo-to-sender", defaults.GetBool("relay.echo_to_sender"), "Relay chat and delete frames back to their sender")
	cmd.PersistentFlags().Bool("mdns", defaults.GetBool("discovery.mdns_enabled"), "Advertise the relay over mDNS")
	cmd.PersistentFlags().String("mdns-instance", defaults.GetString("discovery.instance"), "mDNS instance name")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "auth.issuer", "issuer")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "relay.echo_to_sender", "echo-to-sender")
	bindFlag(cmd, "discovery.mdns_enabled", "mdns")
	bindFlag(cmd, "discovery.instance", "mdns-instance")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.Issuer,
	})
	if err != nil {
		return err
	}

	roomService, err := rooms.NewService(rooms.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	hub := server.NewRoomHub(server.RoomHubConfig{
		EchoToSender: appConfig.EchoToSender,
		Logger:       logger,
	})

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Validator: validator,
		Rooms:     roomService,
		Hub:       hub,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", appConfig.HTTPAddress)
	if err != nil {
		return err
	}

	if appConfig.DiscoveryEnabled {
		port := listener.Addr().(*net.TCPAddr).Port
		advertisement, err := discovery.Advertise(appConfig.DiscoveryInstance, port)
		if err != nil {
			logger.Warn("mdns advertisement unavailable", zap.Error(err))
		} else {
			logger.Info("mdns advertisement started", zap.String("instance", appConfig.DiscoveryInstance), zap.Int("port", port))
			defer advertisement.Shutdown() //nolint:errcheck
		}
	}

	httpServer := &http.Server{
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("relay starting", zap.String("address", listener.Addr().String()))
		err := httpServer.Serve(listener)
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
}

func newTokenCommand() *cobra.Command {
	var userID, username string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a session token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(appConfig.SigningSecret),
				Issuer:        appConfig.Issuer,
				TokenTTL:      appConfig.TokenTTL,
			})
			if err != nil {
				return err
			}
			token, expiresIn, err := issuer.IssueSessionToken(cmd.Context(), auth.Identity{UserID: userID, Username: username})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires in %ds\n", expiresIn)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "Stable user identifier")
	cmd.Flags().StringVar(&username, "username", "", "Display name shown in room presence")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}

func newExportCommand() *cobra.Command {
	var slug, output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Render a room to a PDF file",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.NewLogger(viper.GetString("log.level"))
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			db, err := database.OpenSQLite(viper.GetString("database.path"), logger)
			if err != nil {
				return err
			}
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			defer sqlDB.Close()

			roomService, err := rooms.NewService(rooms.ServiceConfig{Database: db, Logger: logger})
			if err != nil {
				return err
			}
			room, err := roomService.RoomBySlug(cmd.Context(), slug)
			if err != nil {
				return err
			}
			list, err := roomService.ListShapes(cmd.Context(), room.ID)
			if err != nil {
				return err
			}

			if output == "" {
				output = room.Slug + ".pdf"
			}
			file, err := os.Create(output)
			if err != nil {
				return err
			}
			if err := export.WritePDF(file, list); err != nil {
				_ = file.Close()
				return err
			}
			if err := file.Close(); err != nil {
				return err
			}
			logger.Info("room exported", zap.String("slug", room.Slug), zap.Int("shapes", len(list)), zap.String("output", output))
			return nil
		},
	}
	cmd.Flags().StringVar(&slug, "room", "", "Room slug")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (defaults to <slug>.pdf)")
	_ = cmd.MarkFlagRequired("room")
	return cmd
}

func newDiscoverCommand() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List relays advertised on the local network",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			seen := make(map[string]struct{})
			return discovery.Browse(ctx, func(relay discovery.Relay) {
				key := relay.Instance + "@" + relay.IP.String() + ":" + strconv.Itoa(relay.Port)
				if _, ok := seen[key]; ok {
					return
				}
				seen[key] = struct{}{}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", relay.Instance, relay.BaseURL(), relay.WebsocketURL())
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "How long to listen for answers")
	return cmd
}
