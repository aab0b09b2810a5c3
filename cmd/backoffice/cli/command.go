package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/backoffice/internal/platform/db"
)

// Command dispatches the operational sub-commands of the backoffice binary.
type Command struct {
	DSN       string
	RedisAddr string
	Logger    *slog.Logger
	Stdout    io.Writer
	Stderr    io.Writer
	Migrate   func(dsn string, logger *slog.Logger) error
	NewJobs   func(redisAddr string) *JobsCLI
}

// IsCommand reports whether name is handled by Run instead of starting the server.
func IsCommand(name string) bool {
	switch name {
	case "migrate", "jobs", "help":
		return true
	}
	return false
}

// Run executes args and returns the process exit code.
func (c Command) Run(ctx context.Context, args []string) int {
	c.defaults()
	if len(args) == 0 {
		c.usage()
		return 2
	}
	switch args[0] {
	case "migrate":
		if err := c.Migrate(c.DSN, c.Logger); err != nil {
			_, _ = fmt.Fprintf(c.Stderr, "migrate: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintln(c.Stdout, "migrations applied")
		return 0
	case "jobs":
		return c.jobs(ctx, args[1:])
	case "help":
		c.usage()
		return 0
	}
	_, _ = fmt.Fprintf(c.Stderr, "unknown command %q\n", args[0])
	c.usage()
	return 2
}

func (c *Command) defaults() {
	if c.Stdout == nil {
		c.Stdout = os.Stdout
	}
	if c.Stderr == nil {
		c.Stderr = os.Stderr
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Migrate == nil {
		c.Migrate = db.Migrate
	}
	if c.NewJobs == nil {
		c.NewJobs = NewJobsCLI
	}
}

func (c Command) jobs(ctx context.Context, args []string) int {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(c.Stderr, "jobs: expected trigger or inspect")
		return 2
	}
	switch args[0] {
	case "trigger":
		return c.trigger(ctx, args[1:])
	case "inspect":
		return c.inspect(ctx, args[1:])
	}
	_, _ = fmt.Fprintf(c.Stderr, "jobs: unknown sub-command %q\n", args[0])
	return 2
}

func (c Command) trigger(ctx context.Context, args []string) int {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(c.Stderr, "jobs trigger: job name is required")
		return 2
	}
	name := args[0]
	fs := flag.NewFlagSet("jobs trigger", flag.ContinueOnError)
	fs.SetOutput(c.Stderr)
	product := fs.String("product", "", "recompute a single product by id")
	limit := fs.Int("limit", 0, "maximum flagged products per sweep")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}
	opts := TriggerOptions{Limit: *limit}
	if *product != "" {
		id, err := uuid.Parse(*product)
		if err != nil {
			_, _ = fmt.Fprintf(c.Stderr, "jobs trigger: invalid product id %q\n", *product)
			return 2
		}
		opts.ProductID = &id
	}

	jobsCLI := c.NewJobs(c.RedisAddr)
	defer func() { _ = jobsCLI.Close() }()
	info, err := jobsCLI.Trigger(ctx, name, opts)
	if err != nil {
		_, _ = fmt.Fprintf(c.Stderr, "jobs trigger: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(c.Stdout, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	return 0
}

type inspectOutput struct {
	QueueStats
	Tasks []scheduledTask `json:"scheduled_tasks,omitempty"`
}

type scheduledTask struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	NextRunAt time.Time `json:"next_run_at"`
}

func (c Command) inspect(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("jobs inspect", flag.ContinueOnError)
	fs.SetOutput(c.Stderr)
	scheduled := fs.Int("scheduled", 0, "list up to n scheduled tasks")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	jobsCLI := c.NewJobs(c.RedisAddr)
	defer func() { _ = jobsCLI.Close() }()
	stats, err := jobsCLI.InspectQueue(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(c.Stderr, "jobs inspect: %v\n", err)
		return 1
	}
	out := inspectOutput{QueueStats: stats}
	if *scheduled > 0 {
		tasks, err := jobsCLI.ListScheduled(ctx, *scheduled)
		if err != nil {
			_, _ = fmt.Fprintf(c.Stderr, "jobs inspect: %v\n", err)
			return 1
		}
		for _, t := range tasks {
			out.Tasks = append(out.Tasks, scheduledTask{ID: t.ID, Type: t.Type, NextRunAt: t.NextProcessAt})
		}
	}

	if *asJSON {
		if err := json.NewEncoder(c.Stdout).Encode(out); err != nil {
			_, _ = fmt.Fprintf(c.Stderr, "jobs inspect: encode json: %v\n", err)
			return 1
		}
		return 0
	}
	_, _ = fmt.Fprintf(c.Stdout, "queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
		stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
	for _, t := range out.Tasks {
		_, _ = fmt.Fprintf(c.Stdout, "  %s %s next=%s\n", t.ID, t.Type, t.NextRunAt.Format(time.RFC3339))
	}
	return 0
}

func (c Command) usage() {
	_, _ = fmt.Fprint(c.Stderr, `usage: backoffice [command]

  (no command)                         start the HTTP API
  migrate                              apply database migrations
  jobs trigger inventory:recompute     enqueue a recompute [--product id] [--limit n]
  jobs inspect                         print queue depth [--scheduled n] [--json]
`)
}
