package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	domain "github.com/yungbote/neurobridge-transcribe/internal/domain/transcription"
	"github.com/yungbote/neurobridge-transcribe/internal/platform/logger"
	"github.com/yungbote/neurobridge-transcribe/internal/platform/redis"
)

const (
	flagRedisAddr    = "redis-addr"
	flagRedisChannel = "channel"
	flagJob          = "job"

	envRedisAddr = "REDIS_ADDR"
)

var newEventBus = redis.NewEventBus

func (c *cli) watchCmd() *cobra.Command {
	var (
		addr    string
		channel string
		jobID   string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream job lifecycle events from Redis",
		Long: `Subscribes to the server's Redis event channel and prints one JSON line per
event until interrupted. Events are best-effort; use status for the source of truth.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed(flagRedisAddr) {
				if v := strings.TrimSpace(os.Getenv(envRedisAddr)); v != "" {
					addr = v
				}
			}
			log, err := logger.New(logger.Options{Mode: "production", Level: "warn", Redact: true})
			if err != nil {
				return err
			}
			defer log.Sync()

			bus, err := newEventBus(log, addr, channel)
			if err != nil {
				return fmt.Errorf("error connecting to redis: %w", err)
			}
			defer bus.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			enc := json.NewEncoder(out)
			err = bus.StartForwarder(ctx, func(ev domain.Event) {
				if jobID != "" && ev.JobID != jobID {
					return
				}
				_ = enc.Encode(ev)
			})
			if err != nil {
				return fmt.Errorf("error subscribing: %w", err)
			}
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, flagRedisAddr, "localhost:6379", "Redis address (env: "+envRedisAddr+")")
	cmd.Flags().StringVar(&channel, flagRedisChannel, "transcription.jobs", "Redis pub/sub channel")
	cmd.Flags().StringVar(&jobID, flagJob, "", "Only print events for this job id")
	return cmd
}
