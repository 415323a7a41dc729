// Command jobqueuectl starts a job-queue registry from a queues.yaml
// topology file and serves it until SIGINT/SIGTERM, mirroring the flag-
// driven, no-framework CLI style of the reference stack's backfill
// commands (cmd/backfill_file_signatures). A running "start" daemon
// also listens on a control socket so that "stop", "status", and
// "abort" invocations of this same binary can reach it without a
// second transport.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/yungbote/taskforge/internal/jobqueue/config"
	"github.com/yungbote/taskforge/internal/jobqueue/control"
	"github.com/yungbote/taskforge/internal/jobqueue/events"
	"github.com/yungbote/taskforge/internal/platform/logger"
	"github.com/yungbote/taskforge/internal/platform/shutdown"
	"github.com/yungbote/taskforge/internal/platform/tracing"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	var err error
	switch os.Args[1] {
	case "start":
		err = runStart(os.Args[2:])
	case "stop":
		err = runStop(os.Args[2:])
	case "status":
		err = runStatus(os.Args[2:])
	case "abort":
		err = runAbort(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "jobqueuectl: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: jobqueuectl <start|stop|status|abort> [flags]")
}

func runStart(args []string) error {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "queues.yaml", "path to the queue topology file")
	logMode := fs.String("log-mode", "prod", "logger mode: prod or dev")
	socketPath := fs.String("socket", control.DefaultSocketPath, "control socket path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	log, err := logger.New(*logMode)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	ctx, cancel := shutdown.NotifyContext(context.Background())
	defer cancel()

	shutdownTracing := tracing.Init(ctx, log, tracing.Config{ServiceName: "jobqueuectl"})
	defer shutdownTracing(context.Background())

	topo, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load topology config %q: %w", *configPath, err)
	}

	bus := events.New()
	bus.Subscribe("", events.TopicJobError, func(ev events.Event) {
		log.Warn("job failed", "queue", ev.QueueName, "job_id", ev.Job.ID, "error", ev.Err)
	})
	bus.Subscribe("", events.TopicJobComplete, func(ev events.Event) {
		log.Info("job completed", "queue", ev.QueueName, "job_id", ev.Job.ID)
	})

	reg, err := config.BuildRegistry(topo, bus, log)
	if err != nil {
		return fmt.Errorf("build queue registry: %w", err)
	}

	ctl := control.NewServer(reg, *socketPath)
	go func() {
		if err := ctl.Serve(); err != nil {
			log.Warn("control socket stopped", "error", err)
		}
	}()
	defer ctl.Close()

	log.Info("starting job queues", "queues", reg.Names(), "socket", *socketPath)
	reg.StartQueues(ctx)

	<-ctx.Done()
	log.Info("shutdown signal received, draining queues")
	if err := reg.StopQueues(context.Background()); err != nil {
		return fmt.Errorf("stop queues: %w", err)
	}
	log.Info("all queues drained, exiting")
	return nil
}

func runStop(args []string) error {
	fs := flag.NewFlagSet("stop", flag.ExitOnError)
	socketPath := fs.String("socket", control.DefaultSocketPath, "control socket path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	resp, err := control.Dial(*socketPath, control.Request{Command: "stop"})
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("%s", resp.Error)
	}
	fmt.Println("stopped")
	return nil
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	socketPath := fs.String("socket", control.DefaultSocketPath, "control socket path")
	queueName := fs.String("queue", "", "restrict to a single queue name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	resp, err := control.Dial(*socketPath, control.Request{Command: "status", Queue: *queueName})
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("%s", resp.Error)
	}
	for _, q := range resp.Queues {
		fmt.Printf("%-20s size=%-6d processing=%d\n", q.Name, q.Size, q.Processing)
	}
	return nil
}

func runAbort(args []string) error {
	fs := flag.NewFlagSet("abort", flag.ExitOnError)
	socketPath := fs.String("socket", control.DefaultSocketPath, "control socket path")
	queueName := fs.String("queue", "", "queue the job belongs to")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("abort requires exactly one job id argument")
	}
	id, err := uuid.Parse(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("invalid job id %q: %w", fs.Arg(0), err)
	}
	if *queueName == "" {
		return fmt.Errorf("abort requires --queue NAME")
	}
	resp, err := control.Dial(*socketPath, control.Request{Command: "abort", Queue: *queueName, JobID: id})
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("%s", resp.Error)
	}
	fmt.Println("abort requested")
	return nil
}
