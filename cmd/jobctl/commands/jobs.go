package commands

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	domain "github.com/yungbote/neurobridge-transcribe/internal/domain/transcription"
	"github.com/yungbote/neurobridge-transcribe/internal/http/client"
	"github.com/yungbote/neurobridge-transcribe/internal/modules/transcription"
)

// Job flag names
const (
	flagInput        = "input"
	flagLanguage     = "language"
	flagModel        = "model"
	flagPunctuation  = "punctuation"
	flagWordOffsets  = "word-offsets"
	flagDiarize      = "diarize"
	flagMinSpeakers  = "min-speakers"
	flagMaxSpeakers  = "max-speakers"
	flagLimit        = "limit"
	flagOwner        = "owner"
	flagWaitTimeout  = "timeout"
	flagWaitInterval = "interval"
)

const defaultWaitInterval = 5 * time.Second

func parseJobArg(args []string) (uuid.UUID, error) {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid job id %q: %w", args[0], err)
	}
	return id, nil
}

func (c *cli) healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the API and its job store are up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.api.HealthCheck(cmd.Context()); err != nil {
				return fmt.Errorf("error checking health: %w", err)
			}
			return c.print(cmd, map[string]string{"status": "ok"})
		},
	}
}

func (c *cli) submitCmd() *cobra.Command {
	var (
		inputs []string
		hints  domain.Hints
		owner  string
	)
	cmd := &cobra.Command{
		Use:   "submit [input...]",
		Short: "Submit audio inputs for transcription",
		Example: `  jobctl submit gs://bucket/meeting.flac --language en-US --diarize --min-speakers 2
  jobctl submit -i https://example.com/a.wav -i https://example.com/b.wav`,
		RunE: func(cmd *cobra.Command, args []string) error {
			all := append(append([]string{}, inputs...), args...)
			if len(all) == 0 {
				return fmt.Errorf("at least one input is required")
			}
			res, err := c.api.Submit(cmd.Context(), transcription.SubmitRequest{Inputs: all, Hints: hints, OwnerContext: owner})
			if err != nil {
				return fmt.Errorf("error submitting job: %w", err)
			}
			return c.print(cmd, res)
		},
	}
	cmd.Flags().StringArrayVarP(&inputs, flagInput, "i", nil, "Input URI (repeatable)")
	cmd.Flags().StringVar(&hints.LanguageCode, flagLanguage, "", "BCP-47 language code, e.g. en-US")
	cmd.Flags().StringVar(&hints.Model, flagModel, "", "Provider model name")
	cmd.Flags().BoolVar(&hints.EnableAutomaticPunctuation, flagPunctuation, false, "Enable automatic punctuation")
	cmd.Flags().BoolVar(&hints.EnableWordTimeOffsets, flagWordOffsets, false, "Include word time offsets")
	cmd.Flags().BoolVar(&hints.EnableSpeakerDiarization, flagDiarize, false, "Enable speaker diarization")
	cmd.Flags().IntVar(&hints.MinSpeakerCount, flagMinSpeakers, 0, "Minimum speaker count")
	cmd.Flags().IntVar(&hints.MaxSpeakerCount, flagMaxSpeakers, 0, "Maximum speaker count")
	cmd.Flags().StringVar(&owner, flagOwner, "", "Owner to record (ignored by servers with auth)")
	return cmd
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job, refreshing it from the provider when due",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobArg(args)
			if err != nil {
				return err
			}
			view, err := c.api.GetStatus(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("error getting job: %w", err)
			}
			return c.print(cmd, view)
		},
	}
}

func (c *cli) lookupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <external-job-id>",
		Short: "Find a job by the provider's job id and show its status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := c.api.GetStatusByExternalID(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("error looking up job: %w", err)
			}
			return c.print(cmd, view)
		},
	}
}

func (c *cli) waitCmd() *cobra.Command {
	var (
		timeout  time.Duration
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "wait <job-id>",
		Short: "Poll a job until it reaches a terminal status",
		Long: `Polls the job until it is SUCCEEDED, FAILED, CANCELED or UNKNOWN and prints
the final status. Exits non-zero unless the job SUCCEEDED.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobArg(args)
			if err != nil {
				return err
			}
			view, err := c.waitTerminal(cmd, id, timeout, interval)
			if err != nil {
				return err
			}
			if err := c.print(cmd, view); err != nil {
				return err
			}
			if view.Status != domain.StatusSucceeded {
				return fmt.Errorf("job %s finished %s", id, view.Status)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, flagWaitTimeout, 30*time.Minute, "Give up after this long")
	cmd.Flags().DurationVar(&interval, flagWaitInterval, 0, "Poll interval (default: the server's poll interval)")
	return cmd
}

func (c *cli) waitTerminal(cmd *cobra.Command, id uuid.UUID, timeout, interval time.Duration) (transcription.StatusView, error) {
	ctx := cmd.Context()
	deadline := time.Now().Add(timeout)
	for {
		view, err := c.api.GetStatus(ctx, id)
		if err != nil {
			return view, fmt.Errorf("error getting job: %w", err)
		}
		if view.Status.IsTerminal() {
			return view, nil
		}
		sleep := interval
		if sleep <= 0 {
			sleep = time.Duration(view.PollIntervalSeconds) * time.Second
		}
		if sleep <= 0 {
			sleep = defaultWaitInterval
		}
		if time.Now().Add(sleep).After(deadline) {
			return view, fmt.Errorf("timed out waiting for job %s (last status %s)", id, view.Status)
		}
		t := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			t.Stop()
			return view, ctx.Err()
		case <-t.C:
		}
	}
}

func (c *cli) cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a job that has not started running",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobArg(args)
			if err != nil {
				return err
			}
			res, err := c.api.Cancel(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("error canceling job: %w", err)
			}
			return c.print(cmd, res)
		},
	}
}

func (c *cli) artifactURLCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "artifact-url <job-id>",
		Short: "Get a fresh signed URL for a finished transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobArg(args)
			if err != nil {
				return err
			}
			u, err := c.api.ArtifactURL(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("error getting artifact url: %w", err)
			}
			return c.print(cmd, u)
		},
	}
}

// jobListOutput is the filtered output for a list of jobs.
type jobListOutput struct {
	Jobs []jobListItem `json:"jobs" yaml:"jobs"`
}

type jobListItem struct {
	JobID       uuid.UUID     `json:"job_id" yaml:"job_id"`
	Status      domain.Status `json:"status" yaml:"status"`
	Inputs      int           `json:"inputs" yaml:"inputs"`
	SubmittedAt string        `json:"submitted_at" yaml:"submitted_at"`
	Durable     bool          `json:"durable_artifact_available" yaml:"durable_artifact_available"`
}

func (c *cli) listCmd() *cobra.Command {
	var opts client.ListOptions
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs for the caller",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			views, err := c.api.List(cmd.Context(), opts)
			if err != nil {
				return fmt.Errorf("error listing jobs: %w", err)
			}
			out := jobListOutput{Jobs: make([]jobListItem, len(views))}
			for i, v := range views {
				out.Jobs[i] = jobListItem{
					JobID:       v.JobID,
					Status:      v.Status,
					Inputs:      len(v.Inputs),
					SubmittedAt: v.SubmittedAt.Format(time.RFC3339),
					Durable:     v.DurableArtifactAvailable,
				}
			}
			return c.print(cmd, out)
		},
	}
	cmd.Flags().IntVar(&opts.Limit, flagLimit, 20, "Maximum number of jobs")
	cmd.Flags().StringVar(&opts.Owner, flagOwner, "", "Owner to list (only used by servers without auth)")
	return cmd
}
