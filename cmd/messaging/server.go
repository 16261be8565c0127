// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	logrus "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vrischmann/envconfig"
	_ "gocloud.dev/pubsub/gcppubsub"
	_ "gocloud.dev/pubsub/mempubsub"
	"golang.org/x/sync/errgroup"

	"github.com/mattermost/mattermost-messaging/internal/api"
	"github.com/mattermost/mattermost-messaging/internal/flush"
	"github.com/mattermost/mattermost-messaging/internal/ingest"
	"github.com/mattermost/mattermost-messaging/internal/metrics"
	"github.com/mattermost/mattermost-messaging/internal/provider"
	"github.com/mattermost/mattermost-messaging/internal/store"
	"github.com/mattermost/mattermost-messaging/model"
)

const (
	serviceModeCombined   = "combined"
	serviceModeAPIOnly    = "api-only"
	serviceModePubsubOnly = "pubsub-only"

	shutdownGracePeriod = 30 * time.Second
)

// smtpConfig is loaded from the environment. A missing SMTP_HOST fails
// startup, since both the flush engine and the ingestion gateway need a
// working outbound email path.
type smtpConfig struct {
	Host          string `envconfig:"SMTP_HOST"`
	Port          int    `envconfig:"SMTP_PORT,default=587"`
	Username      string `envconfig:"SMTP_USERNAME,optional"`
	Password      string `envconfig:"SMTP_PASSWORD,optional"`
	UseSSL        bool   `envconfig:"SMTP_USE_SSL,default=true"`
	DefaultSender string `envconfig:"SMTP_DEFAULT_SENDER,optional"`
}

var instanceID string

func init() {
	instanceID = model.NewID()

	serverCmd.PersistentFlags().String("database", "sqlite://messaging.db", "The database backing the messaging server.")
	serverCmd.PersistentFlags().String("listen", ":8075", "The interface and port on which to listen.")
	serverCmd.PersistentFlags().String("service-mode", serviceModeCombined, "The services to run: combined, api-only, or pubsub-only.")
	serverCmd.PersistentFlags().String("subscription", "", "The pub/sub subscription URL to ingest events from.")
	serverCmd.PersistentFlags().Int("max-concurrency", ingest.DefaultMaxConcurrency, "The maximum number of in-flight pub/sub messages.")
	serverCmd.PersistentFlags().Bool("debug", false, "Whether to output debug logs.")
	serverCmd.PersistentFlags().Bool("machine-readable-logs", false, "Output the logs in machine readable format.")
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the messaging server.",
	RunE: func(command *cobra.Command, args []string) error {
		command.SilenceUsage = true

		debug, _ := command.Flags().GetBool("debug")
		if debug {
			logger.SetLevel(logrus.DebugLevel)
		}

		machineLogs, _ := command.Flags().GetBool("machine-readable-logs")
		if machineLogs {
			logger.SetFormatter(&logrus.JSONFormatter{})
		}

		logger := logger.WithField("instance", instanceID)

		serviceMode, _ := command.Flags().GetString("service-mode")
		runAPI := serviceMode == serviceModeCombined || serviceMode == serviceModeAPIOnly
		runPubsub := serviceMode == serviceModeCombined || serviceMode == serviceModePubsubOnly
		if !runAPI && !runPubsub {
			return errors.Errorf("unknown service mode %q", serviceMode)
		}

		subscriptionURL, _ := command.Flags().GetString("subscription")
		if runPubsub && subscriptionURL == "" {
			return errors.New("subscription is required unless running api-only")
		}

		var smtp smtpConfig
		if err := envconfig.Init(&smtp); err != nil {
			return errors.Wrap(err, "failed to load SMTP configuration")
		}

		sqlStore, err := sqlStore(command)
		if err != nil {
			return err
		}

		currentVersion, err := sqlStore.GetCurrentVersion()
		if err != nil {
			return err
		}
		serverVersion := store.LatestVersion()

		// Require the schema to be at least the server version, and also the same major
		// version during an online migration. The next server version wouldn't rollback
		// an upgraded schema, but an older server version will likely fail on a newer
		// schema.
		if currentVersion.LT(serverVersion) || currentVersion.Major != serverVersion.Major {
			return errors.Errorf("database schema %s is not compatible with server version %s", currentVersion, serverVersion)
		}

		messagingMetrics := metrics.New()

		emailSender := provider.NewEmailSender(provider.EmailConfig{
			Host:          smtp.Host,
			Port:          smtp.Port,
			Username:      smtp.Username,
			Password:      smtp.Password,
			UseSSL:        smtp.UseSSL,
			DefaultSender: smtp.DefaultSender,
		}, logger, messagingMetrics)
		slackSender := provider.NewSlackSender(logger, messagingMetrics)

		senders := map[model.DeliveryMethod]provider.Sender{
			model.DeliveryMethodEmail: emailSender,
			model.DeliveryMethodSlack: slackSender,
		}

		flushEngine := flush.NewEngine(sqlStore, senders, logger, messagingMetrics)

		listen, _ := command.Flags().GetString("listen")
		logger.WithFields(logrus.Fields{
			"service-mode":  serviceMode,
			"listen":        listen,
			"store-version": currentVersion,
		}).Info("Starting messaging server")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		group, ctx := errgroup.WithContext(ctx)

		if runAPI {
			router := mux.NewRouter()
			api.Register(router, &api.Context{
				Store:   sqlStore,
				Flusher: flushEngine,
				Logger:  logger,
			})

			srv := &http.Server{
				Addr:           listen,
				Handler:        router,
				ReadTimeout:    180 * time.Second,
				WriteTimeout:   180 * time.Second,
				IdleTimeout:    time.Second * 180,
				MaxHeaderBytes: 1 << 20,
				ErrorLog:       log.New(&logrusWriter{logger}, "", 0),
			}

			group.Go(func() error {
				logger.WithField("addr", srv.Addr).Info("Listening")
				err := srv.ListenAndServe()
				if err == http.ErrServerClosed {
					return nil
				}
				return err
			})

			group.Go(func() error {
				<-ctx.Done()

				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
		}

		if runPubsub {
			maxConcurrency, _ := command.Flags().GetInt("max-concurrency")
			processor := ingest.NewProcessor(sqlStore, senders, emailSender, logger, messagingMetrics, maxConcurrency)

			group.Go(func() error {
				return processor.Run(ctx, subscriptionURL)
			})
		}

		err = group.Wait()

		logger.Info("Shutting down")
		sqlStore.Close()

		return err
	},
}
