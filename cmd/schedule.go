package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jmehdipour/email-scheduler/internal/app"
	"github.com/jmehdipour/email-scheduler/internal/service/emails"
	"github.com/spf13/cobra"
)

var (
	scheduleTo      []string
	scheduleSubject string
	scheduleBody    string
	scheduleAt      string
	scheduleIn      time.Duration
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Schedule one email from the command line",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.Bootstrap(cfgPath)
		if err != nil {
			return err
		}
		defer a.Close()

		at, err := resolveScheduleTime(scheduleAt, scheduleIn, a.Clock.Now())
		if err != nil {
			return err
		}

		e, err := a.EmailService().Create(cmd.Context(), emails.CreateInput{
			Recipients:  scheduleTo,
			Subject:     scheduleSubject,
			Body:        scheduleBody,
			ScheduledAt: at,
		})
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(e)
	},
}

func init() {
	f := scheduleCmd.Flags()
	f.StringSliceVar(&scheduleTo, "to", nil, "recipient address (repeatable or comma separated)")
	f.StringVar(&scheduleSubject, "subject", "", "email subject")
	f.StringVar(&scheduleBody, "body", "", "email body (plain text)")
	f.StringVar(&scheduleAt, "at", "", "delivery time, RFC3339")
	f.DurationVar(&scheduleIn, "in", 0, "delivery delay from now, e.g. 10m")
	_ = scheduleCmd.MarkFlagRequired("to")
	scheduleCmd.MarkFlagsMutuallyExclusive("at", "in")
}

func resolveScheduleTime(at string, in time.Duration, now time.Time) (time.Time, error) {
	switch {
	case at != "":
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return time.Time{}, fmt.Errorf("--at: %w", err)
		}
		return t.UTC(), nil
	case in > 0:
		return now.Add(in).UTC(), nil
	default:
		return time.Time{}, errors.New("one of --at or --in is required")
	}
}
