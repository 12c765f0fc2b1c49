package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	cfnats "github.com/harnessforge/harnessforge/internal/adapter/nats"
	"github.com/harnessforge/harnessforge/internal/config"
	"github.com/harnessforge/harnessforge/internal/logger"
	"github.com/harnessforge/harnessforge/internal/port/messagequeue"
	"github.com/harnessforge/harnessforge/internal/port/progress"
)

// runStatus prints recorded outcomes and, with --follow, streams live
// session events from NATS.
func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultConfigFile, "path to YAML config")
	project := fs.String("project", "", "only show this project")
	status := fs.String("status", "", "only show records with this status")
	follow := fs.Bool("follow", false, "stream live session events (requires nats.url)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.LoadFrom(*configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log, closeLog := logger.NewTo(cfg.Logging, os.Stderr)
	defer closeLog.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	recs, err := store.Records(ctx)
	if err != nil {
		return fmt.Errorf("read records: %w", err)
	}
	printRecords(os.Stdout, filterRecords(recs, *project, *status))

	if !*follow {
		return nil
	}
	if cfg.NATS.URL == "" {
		return fmt.Errorf("--follow requires nats.url")
	}
	q, err := cfnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = q.Close() }()

	unsubscribe, err := q.Subscribe(ctx, messagequeue.SubjectSessionsAll, func(subject string, data []byte) error {
		line, ok, err := formatEvent(subject, data, *project)
		if err != nil {
			log.Warn("undecodable session event", "subject", subject, "error", err)
			return nil
		}
		if ok {
			fmt.Fprintln(os.Stdout, line)
		}
		return nil
	})
	if err != nil {
		return err
	}
	defer unsubscribe()

	fmt.Fprintln(os.Stderr, "following session events, press Ctrl-C to stop")
	<-ctx.Done()
	return nil
}

func filterRecords(recs []progress.Record, project, status string) []progress.Record {
	var out []progress.Record
	for _, r := range recs {
		if project != "" && r.Project != project {
			continue
		}
		if status != "" && r.Status != status {
			continue
		}
		out = append(out, r)
	}
	return out
}

func printRecords(w io.Writer, recs []progress.Record) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "No sessions recorded.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PROJECT\tFUNCTION\tITER\tSTATUS\tREASON\tFIXES\tFINISHED")
	for _, r := range recs {
		reason := r.Reason
		if reason == "" {
			reason = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%d\t%s\n",
			r.Project, r.Function, r.Iteration, r.Status, reason, r.FixCount,
			r.FinishedAt.Local().Format(time.DateTime))
	}
	_ = tw.Flush()
}

// formatEvent renders a session event as one line. ok is false for events
// of other projects.
func formatEvent(subject string, data []byte, project string) (line string, ok bool, err error) {
	switch subject {
	case messagequeue.SubjectSessionStage:
		var p messagequeue.SessionStagePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return "", false, err
		}
		if project != "" && p.Project != project {
			return "", false, nil
		}
		line = fmt.Sprintf("%s  %s/%s#%d  %s -> %s", shortSession(p.SessionID), p.Project, p.Function, p.Iteration, p.From, p.To)
		if p.Note != "" {
			line += " (" + p.Note + ")"
		}
		return line, true, nil
	case messagequeue.SubjectSessionFinished:
		var p messagequeue.SessionFinishedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return "", false, err
		}
		if project != "" && p.Project != project {
			return "", false, nil
		}
		line = fmt.Sprintf("%s  %s/%s#%d  finished %s", shortSession(p.SessionID), p.Project, p.Function, p.Iteration, p.Status)
		if p.Reason != "" {
			line += " (" + p.Reason + ")"
		}
		return line + fmt.Sprintf(" after %d fixes in %s", p.FixCount, time.Duration(p.DurationMS)*time.Millisecond), true, nil
	default:
		return "", false, nil
	}
}

func shortSession(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
