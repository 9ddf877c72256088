package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/beacon/internal/agent/notify"
	"github.com/felixgeelhaar/beacon/internal/shared/infrastructure/eventbus"
	"github.com/felixgeelhaar/beacon/pkg/config"
)

var (
	watchURL      string
	watchExchange string
	watchQueue    string
)

var notificationsCmd = &cobra.Command{
	Use:   "notifications",
	Short: "Work with agent notifications",
}

var notificationsWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print notifications published to RabbitMQ",
	Long: `Bind a queue to the notification exchange and print every agent
notification until interrupted. Without --queue a temporary queue is used.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		url, exchange := watchURL, watchExchange
		if url == "" || exchange == "" {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if url == "" {
				url = cfg.RabbitMQURL
			}
			if exchange == "" {
				exchange = cfg.RabbitMQExchange
			}
		}
		if url == "" {
			return errors.New("no broker configured: set RABBITMQ_URL or --url")
		}

		consumer, err := eventbus.NewRabbitMQConsumer(eventbus.RabbitMQConsumerConfig{
			RabbitMQConfig: eventbus.RabbitMQConfig{URL: url, Exchange: exchange, Logger: logger},
			QueueName:      watchQueue,
		})
		if err != nil {
			return err
		}
		defer consumer.Close()

		if err := consumer.Register(notificationPrinter(cmd.OutOrStdout())); err != nil {
			return err
		}
		err = consumer.Start(cmd.Context())
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

// notificationPrinter writes one line per notification.
func notificationPrinter(w io.Writer) eventbus.Handler {
	return eventbus.HandlerFunc{
		Topics: []string{notify.RoutingPattern},
		Fn: func(_ context.Context, d eventbus.Delivery) error {
			env, err := notify.DecodeEnvelope(d.Payload)
			if err != nil {
				return err
			}
			fields := make([]string, 0, len(env.Fields))
			for _, f := range env.Fields {
				fields = append(fields, fmt.Sprintf("%#x=%s", uint32(f.ID), f.Value))
			}
			fmt.Fprintf(w, "%s %s code=%#04x id=%d %s\n",
				env.QueuedAt.Format("15:04:05.000"), d.RoutingKey, env.Code, env.ID, strings.Join(fields, " "))
			return nil
		},
	}
}

func init() {
	notificationsWatchCmd.Flags().StringVar(&watchURL, "url", "", "RabbitMQ URL (default RABBITMQ_URL)")
	notificationsWatchCmd.Flags().StringVar(&watchExchange, "exchange", "", "exchange name (default RABBITMQ_EXCHANGE)")
	notificationsWatchCmd.Flags().StringVar(&watchQueue, "queue", "", "durable queue name")
	notificationsCmd.AddCommand(notificationsWatchCmd)
	rootCmd.AddCommand(notificationsCmd)
}
