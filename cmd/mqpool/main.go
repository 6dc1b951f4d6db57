package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/spf13/cobra"

	"github.com/glimte/mqpool"
	"github.com/glimte/mqpool/config"
	"github.com/glimte/mqpool/health"
)

var (
	// Version information
	version   = "dev"
	gitCommit = "unknown"
)

func main() {
	var (
		configPath string
		verbose    bool
	)

	rootCmd := &cobra.Command{
		Use:   "mqpool",
		Short: "Declare, publish and consume through an mqpool connection",
		Long: `mqpool drives a RabbitMQ broker through the connection pool.
Broker settings come from MQPOOL_ environment variables; exchanges, queues
and routes come from an XML or TOML document.`,
		Version: fmt.Sprintf("%s (commit: %s)", version, gitCommit),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "mqpool.xml", "Topology and route document (.xml or .toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	declareCmd := &cobra.Command{
		Use:   "declare",
		Short: "Declare every exchange and queue of the document",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFile(configPath)
			if err != nil {
				return err
			}
			pool, err := openPool()
			if err != nil {
				return err
			}
			defer pool.Close()

			ctx := cmd.Context()
			if exchanges := cfg.Exchanges(); len(exchanges) > 0 {
				if err := pool.DeclareExchange(ctx, exchanges...); err != nil {
					return fmt.Errorf("failed to declare exchanges: %w", err)
				}
			}
			queues := cfg.Queues()
			if err := pool.DeclareQueue(ctx, queues...); err != nil {
				return fmt.Errorf("failed to declare queues: %w", err)
			}

			fmt.Printf("Declared %d exchanges and %d queues\n", len(cfg.Exchanges()), len(queues))
			return nil
		},
	}

	var (
		delay      int
		expire     int
		persistent bool
		exchange   string
		routeArgs  []string
	)
	publishCmd := &cobra.Command{
		Use:   "publish <route-or-routing-key> <message>",
		Short: "Publish a text message",
		Long: `Publish a text message along a named publish route of the document.
When no route has that name the argument is used as a raw routing key.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := openPool()
			if err != nil {
				return err
			}
			defer pool.Close()

			var opts []mqpool.PublishOption
			if expire > 0 {
				opts = append(opts, mqpool.WithExpire(expire))
			}
			if persistent {
				opts = append(opts, mqpool.WithPersistent(true))
			}

			ctx := cmd.Context()
			route, found := lookupPubRoute(configPath, args[0])
			switch {
			case found && delay > 0:
				err = pool.PublishDelayedTo(ctx, route.Parameterize(toArgs(routeArgs)...), args[1], delay, opts...)
			case found:
				err = pool.PublishTo(ctx, route.Parameterize(toArgs(routeArgs)...), args[1], opts...)
			case delay > 0:
				err = pool.PublishDelayed(ctx, args[0], args[1], delay, append(opts, mqpool.WithExchange(exchange))...)
			default:
				err = pool.Publish(ctx, args[0], args[1], append(opts, mqpool.WithExchange(exchange))...)
			}
			if err != nil {
				return fmt.Errorf("failed to publish: %w", err)
			}

			fmt.Println("Published")
			return nil
		},
	}
	publishCmd.Flags().IntVarP(&delay, "delay", "d", 0, "Publish to the delay routing key with this delay in seconds")
	publishCmd.Flags().IntVarP(&expire, "expire", "e", 0, "Message TTL in seconds")
	publishCmd.Flags().BoolVarP(&persistent, "persistent", "p", false, "Mark the message persistent")
	publishCmd.Flags().StringVarP(&exchange, "exchange", "x", config.DefaultExchange, "Exchange for raw routing keys")
	publishCmd.Flags().StringSliceVarP(&routeArgs, "arg", "a", nil, "Values for {0}, {1}... placeholders of the route")

	var (
		autoAck   bool
		queueArgs []string
	)
	subscribeCmd := &cobra.Command{
		Use:   "subscribe <route-or-queue>",
		Short: "Print messages of a queue until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sigChan
				cancel()
			}()

			pool, err := openPool(mqpool.WithExceptionSink(mqpool.ExceptionSinkFunc(func(queue string, err error) {
				fmt.Fprintf(os.Stderr, "%s: %v\n", queue, err)
			})))
			if err != nil {
				return err
			}
			defer pool.Close()

			queue := args[0]
			if route, found := lookupSubRoute(configPath, queue); found {
				queue = route.Parameterize(toArgs(queueArgs)...).Queue
			}

			sub, err := mqpool.Subscribe[string](ctx, pool, queue, mqpool.HandlerFunc[string](
				func(ctx context.Context, msg string, d amqp.Delivery) (bool, error) {
					fmt.Printf("[%d] %s\n", d.DeliveryTag, msg)
					return true, nil
				}), mqpool.WithAutoAck(autoAck))
			if err != nil {
				return fmt.Errorf("failed to subscribe: %w", err)
			}

			fmt.Printf("Consuming %s as %s... Press Ctrl+C to stop\n", sub.Queue, sub.ConsumerTag)
			<-ctx.Done()
			return nil
		},
	}
	subscribeCmd.Flags().BoolVar(&autoAck, "auto-ack", false, "Let the broker settle deliveries on receipt")
	subscribeCmd.Flags().StringSliceVarP(&queueArgs, "arg", "a", nil, "Values for {0}, {1}... placeholders of the route")

	var timeout time.Duration
	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check that the broker is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			pool, err := openPool()
			if err != nil {
				return err
			}
			defer pool.Close()

			report := health.Run(ctx, health.NewPoolChecker(pool), health.NewRuntimeChecker(500, 1000))
			for _, r := range report.Results {
				fmt.Printf("%-10s %-10s %s\n", r.Name, r.Status, r.Message)
				if r.Error != "" {
					fmt.Printf("%-10s %-10s %s\n", "", "error", r.Error)
				}
			}
			if report.Status == health.StatusUnhealthy {
				return fmt.Errorf("broker is %s", report.Status)
			}
			return nil
		},
	}
	healthCmd.Flags().DurationVarP(&timeout, "timeout", "t", 5*time.Second, "Give up on the broker after this long")

	rootCmd.AddCommand(declareCmd, publishCmd, subscribeCmd, healthCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openPool(options ...mqpool.Option) (*mqpool.Pool, error) {
	opts, err := mqpool.LoadOptions()
	if err != nil {
		return nil, err
	}
	pool, err := mqpool.New(opts, append([]mqpool.Option{mqpool.WithLogger(slog.Default())}, options...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	return pool, nil
}

func lookupPubRoute(path, name string) (config.PubRoute, bool) {
	cfg, err := config.LoadFile(path)
	if err != nil {
		slog.Debug("no route document", "path", path, "error", err)
		return config.PubRoute{}, false
	}
	return cfg.PubRoute(name)
}

func lookupSubRoute(path, name string) (config.SubRoute, bool) {
	cfg, err := config.LoadFile(path)
	if err != nil {
		slog.Debug("no route document", "path", path, "error", err)
		return config.SubRoute{}, false
	}
	return cfg.SubRoute(name)
}

func toArgs(values []string) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
