package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"pipemock/pkg/bus"
	"pipemock/pkg/client"
	"pipemock/services/api"
)

func (f *clientFlags) client() (*client.Client, error) {
	return client.New(f.server, f.token)
}

func parseInt64Arg(value, name string) (int64, error) {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, errors.Newf("%s must be an integer, got %q", name, value)
	}
	return n, nil
}

func parseVariables(pairs []string) (map[string]string, error) {
	vars := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, errors.Newf("variable %q must be KEY=VALUE", pair)
		}
		vars[k] = v
	}
	return vars, nil
}

func newTriggerCommand(flags *clientFlags) *cobra.Command {
	var (
		ref            string
		triggerToken   string
		vars           []string
		scenarioID     int64
		after          int64
		terminalStatus string
		form           bool
		wait           bool
		interval       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "trigger PROJECT_ID",
		Short: "Trigger a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			projectID, err := parseInt64Arg(args[0], "PROJECT_ID")
			if err != nil {
				return err
			}
			variables, err := parseVariables(vars)
			if err != nil {
				return err
			}

			t := client.Trigger{
				Token:          triggerToken,
				Ref:            ref,
				Variables:      variables,
				TerminalStatus: terminalStatus,
				Form:           form,
			}
			if cmd.Flags().Changed("scenario") {
				t.ScenarioID = &scenarioID
			}
			if cmd.Flags().Changed("after") {
				t.TerminalAfterSeconds = &after
			}

			c, err := flags.client()
			if err != nil {
				return err
			}
			p, err := c.Trigger(ctx, projectID, t)
			if err != nil {
				return err
			}
			if wait {
				if p, err = c.WaitForTerminal(ctx, projectID, p.ID, interval); err != nil {
					return err
				}
			}
			printPipeline(cmd.OutOrStdout(), p)
			return nil
		},
	}

	cmd.Flags().StringVar(&ref, "ref", "main", "Git ref to trigger")
	cmd.Flags().StringVar(&triggerToken, "trigger-token", "pipemock", "Trigger token sent in the body")
	cmd.Flags().StringArrayVar(&vars, "var", nil, "Pipeline variable KEY=VALUE (repeatable)")
	cmd.Flags().Int64Var(&scenarioID, "scenario", 0, "Scenario id to attach")
	cmd.Flags().Int64Var(&after, "after", 0, "Inline terminal_after_seconds")
	cmd.Flags().StringVar(&terminalStatus, "terminal-status", "", "Inline terminal status")
	cmd.Flags().BoolVar(&form, "form", false, "Send a form-encoded body instead of JSON")
	cmd.Flags().BoolVar(&wait, "wait", false, "Poll until the pipeline leaves running")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "Poll interval for --wait")
	return cmd
}

func newStatusCommand(flags *clientFlags) *cobra.Command {
	var (
		wait     bool
		interval time.Duration
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "status PROJECT_ID PIPELINE_ID",
		Short: "Show the status of a pipeline",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			projectID, err := parseInt64Arg(args[0], "PROJECT_ID")
			if err != nil {
				return err
			}
			pipelineID, err := parseInt64Arg(args[1], "PIPELINE_ID")
			if err != nil {
				return err
			}

			c, err := flags.client()
			if err != nil {
				return err
			}

			var p api.Pipeline
			if wait {
				if timeout > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, timeout)
					defer cancel()
				}
				p, err = c.WaitForTerminal(ctx, projectID, pipelineID, interval)
			} else {
				p, err = c.Pipeline(ctx, projectID, pipelineID)
			}
			if err != nil {
				return err
			}
			printPipeline(cmd.OutOrStdout(), p)
			return nil
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "Poll until the pipeline leaves running")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "Poll interval for --wait")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up waiting after this long (0 waits forever)")
	return cmd
}

func newPipelinesCommand(flags *clientFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipelines",
		Short: "List pipelines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			pipelines, err := c.Pipelines(commandContext(cmd))
			if err != nil {
				return err
			}
			printPipelines(cmd.OutOrStdout(), pipelines, time.Now())
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "delete PIPELINE_ID",
		Short: "Delete a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseInt64Arg(args[0], "PIPELINE_ID")
			if err != nil {
				return err
			}
			c, err := flags.client()
			if err != nil {
				return err
			}
			return c.DeletePipeline(commandContext(cmd), id)
		},
	})
	return cmd
}

func newScenariosCommand(flags *clientFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenarios",
		Short: "List scenarios",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			scenarios, err := c.Scenarios(commandContext(cmd))
			if err != nil {
				return err
			}
			printScenarios(cmd.OutOrStdout(), scenarios)
			return nil
		},
	}

	cmd.AddCommand(newScenarioPutCommand(flags, "create"))
	cmd.AddCommand(newScenarioPutCommand(flags, "update"))
	cmd.AddCommand(&cobra.Command{
		Use:   "delete SCENARIO_ID",
		Short: "Delete a scenario, detaching its pipelines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseInt64Arg(args[0], "SCENARIO_ID")
			if err != nil {
				return err
			}
			c, err := flags.client()
			if err != nil {
				return err
			}
			return c.DeleteScenario(commandContext(cmd), id)
		},
	})
	return cmd
}

func newScenarioPutCommand(flags *clientFlags, verb string) *cobra.Command {
	var (
		name           string
		after          int64
		terminalStatus string
		never          bool
	)

	cmd := &cobra.Command{
		Use:   verb + " SCENARIO_ID",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " a scenario",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseInt64Arg(args[0], "SCENARIO_ID")
			if err != nil {
				return err
			}
			s := api.Scenario{
				ScenarioID:     id,
				Name:           name,
				TerminalStatus: terminalStatus,
				NeverComplete:  never,
			}
			if cmd.Flags().Changed("after") {
				s.TerminalAfterSeconds = &after
			}

			c, err := flags.client()
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)
			if verb == "create" {
				s, err = c.CreateScenario(ctx, s)
			} else {
				s, err = c.UpdateScenario(ctx, s)
			}
			if err != nil {
				return err
			}
			printScenarios(cmd.OutOrStdout(), []api.Scenario{s})
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Scenario name")
	cmd.Flags().Int64Var(&after, "after", 0, "Seconds until the terminal status")
	cmd.Flags().StringVar(&terminalStatus, "terminal-status", "success", "Terminal status")
	cmd.Flags().BoolVar(&never, "never-complete", false, "Stay running forever")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newEventsCommand() *cobra.Command {
	var (
		natsURL string
		subject string
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Tail events published by a running mock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			if natsURL == "" {
				return errors.New("--nats or NATS_URL is required")
			}

			b, err := bus.New(natsURL, nats.Name(serviceName+"-events"))
			if err != nil {
				return err
			}
			defer b.Close()

			out := cmd.OutOrStdout()
			sub, err := b.Tail(ctx, subject, func(ev bus.Event, err error) {
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "skip malformed event: %v\n", err)
					return
				}
				printEvent(out, ev)
			})
			if err != nil {
				return err
			}
			defer sub.Close()

			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringVar(&natsURL, "nats", os.Getenv("NATS_URL"), "NATS server URL")
	cmd.Flags().StringVar(&subject, "subject", bus.AllSubjects, "Subject filter")
	return cmd
}

func printPipeline(w io.Writer, p api.Pipeline) {
	printPipelines(w, []api.Pipeline{p}, time.Now())
}

func printPipelines(w io.Writer, pipelines []api.Pipeline, now time.Time) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPROJECT\tREF\tSTATUS\tSCENARIO\tRULE\tCREATED\tWEB URL")
	for _, p := range pipelines {
		scenario := "-"
		if p.ScenarioID != nil {
			scenario = strconv.FormatInt(*p.ScenarioID, 10)
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			p.ID, p.ProjectID, p.Ref, p.Status, scenario,
			describeRule(p.TerminalAfterSeconds, p.TerminalStatus, false),
			humanize.RelTime(p.CreatedAt, now, "ago", "from now"),
			p.WebURL,
		)
	}
	_ = tw.Flush()
}

func printScenarios(w io.Writer, scenarios []api.Scenario) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tRULE")
	for _, s := range scenarios {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", s.ScenarioID, s.Name, describeRule(s.TerminalAfterSeconds, s.TerminalStatus, s.NeverComplete))
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "%s scenarios\n", humanize.Comma(int64(len(scenarios))))
}

func describeRule(after *int64, status string, never bool) string {
	switch {
	case never:
		return "never completes"
	case after == nil:
		return status + " on first read"
	case *after == 0:
		return status + " immediately"
	default:
		d := time.Duration(*after) * time.Second
		return fmt.Sprintf("%s after %s", status, strings.TrimSpace(humanize.RelTime(time.Time{}, time.Time{}.Add(d), "", "")))
	}
}

func printEvent(w io.Writer, ev bus.Event) {
	fmt.Fprintf(w, "%s  %-36s  %s\n", ev.At.Format(time.RFC3339), ev.Type, string(ev.Data))
}
