// linkmemctl inspects and administers a linkmem store from the shell.
//
// It opens the store described by the configuration file (or the defaults
// and environment), runs one command and prints the result as JSON on
// stdout. Logs go to stderr.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/ZanzyTHEbar/linkmem/linkmem/config"
	"github.com/ZanzyTHEbar/linkmem/linkmem/logging"
	"github.com/ZanzyTHEbar/linkmem/linkmem/memory"
)

// errUsage marks errors caused by a malformed command line.
var errUsage = errors.New("usage error")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// options carries the global flags shared by every command.
type options struct {
	configPath string
	backend    string
	url        string
	limit      int
	ttl        time.Duration
	confirm    string
	status     string
	pretty     bool
}

func run(ctx context.Context, argv []string, stdout, stderr io.Writer) error {
	var opts options

	flagSet := pflag.NewFlagSet("linkmemctl", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVarP(&opts.configPath, "config", "c", "", "path to config file (default: ./config.yaml if present)")
	flagSet.StringVar(&opts.backend, "backend", "", "override store.backend (redis or memory)")
	flagSet.StringVar(&opts.url, "url", "", "override store.url")
	flagSet.IntVarP(&opts.limit, "limit", "n", 0, "history: number of most recent entries (0 for all)")
	flagSet.DurationVar(&opts.ttl, "ttl", 0, "presence set: lease duration (default: memory.presence_ttl)")
	flagSet.StringVar(&opts.confirm, "confirm", "", "flush: confirmation token")
	flagSet.StringVar(&opts.status, "status", "", "session list: filter by status (active or completed)")
	flagSet.BoolVar(&opts.pretty, "pretty", false, "indent JSON output")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(argv); err != nil {
		if err == pflag.ErrHelp {
			printHelp(stderr, flagSet)
			return nil
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	if help, _ := flagSet.GetBool("help"); help {
		printHelp(stderr, flagSet)
		return nil
	}

	args := flagSet.Args()
	if len(args) == 0 {
		printHelp(stderr, flagSet)
		return fmt.Errorf("%w: missing command", errUsage)
	}

	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if opts.backend != "" {
		cfg.Store.Backend = opts.backend
	}
	if opts.url != "" {
		cfg.Store.URL = opts.url
	}

	logger := logging.NewWithWriter(cfg.Logging, stderr)

	system, err := memory.NewMemorySystem(ctx, memory.MemorySystemConfig{
		Config: cfg,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer system.Close()

	result, err := dispatch(ctx, system, opts, args)
	if err != nil {
		return err
	}
	return writeJSON(stdout, result, opts.pretty)
}

// dispatch runs a single command against the memory system and returns
// the value to print.
func dispatch(ctx context.Context, system *memory.MemorySystem, opts options, args []string) (any, error) {
	command, rest := args[0], args[1:]

	switch command {
	case "ping":
		if err := system.Admin.Ping(ctx); err != nil {
			return nil, err
		}
		return map[string]string{"status": "ok"}, nil

	case "stats":
		return system.Admin.GetStats(ctx)

	case "metrics":
		return system.GetMetrics(), nil

	case "context":
		return contextCommand(ctx, system, rest)

	case "history":
		id, err := oneArg("history", rest)
		if err != nil {
			return nil, err
		}
		return system.History.GetHistory(ctx, id, opts.limit)

	case "session":
		return sessionCommand(ctx, system, opts, rest)

	case "presence":
		return presenceCommand(ctx, system, opts, rest)

	case "snapshot":
		return snapshotCommand(ctx, system, rest)

	case "flush":
		if err := system.Admin.FlushAll(ctx, opts.confirm); err != nil {
			return nil, err
		}
		return map[string]string{"status": "flushed"}, nil

	default:
		return nil, fmt.Errorf("%w: unknown command %q", errUsage, command)
	}
}

func contextCommand(ctx context.Context, system *memory.MemorySystem, args []string) (any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: context requires get, set, delete, global or agents", errUsage)
	}
	switch args[0] {
	case "get":
		id, err := oneArg("context get", args[1:])
		if err != nil {
			return nil, err
		}
		fields, found, err := system.Contexts.GetContext(ctx, id)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("no context stored for agent %q", id)
		}
		return fields, nil

	case "set":
		if len(args) != 3 {
			return nil, fmt.Errorf("%w: context set <agent-id> <json-object>", errUsage)
		}
		var fields map[string]any
		if err := json.Unmarshal([]byte(args[2]), &fields); err != nil {
			return nil, fmt.Errorf("%w: context fields must be a JSON object: %v", errUsage, err)
		}
		if err := system.Contexts.SetContext(ctx, args[1], fields); err != nil {
			return nil, err
		}
		return map[string]string{"status": "stored", "agent_id": args[1]}, nil

	case "delete":
		id, err := oneArg("context delete", args[1:])
		if err != nil {
			return nil, err
		}
		if err := system.Contexts.DeleteContext(ctx, id); err != nil {
			return nil, err
		}
		return map[string]string{"status": "deleted", "agent_id": id}, nil

	case "global":
		return system.Contexts.GetGlobalContext(ctx)

	case "agents":
		return system.Contexts.ListAgents(ctx)

	default:
		return nil, fmt.Errorf("%w: unknown context command %q", errUsage, args[0])
	}
}

func sessionCommand(ctx context.Context, system *memory.MemorySystem, opts options, args []string) (any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: session requires get, stats, context, list or close", errUsage)
	}
	switch args[0] {
	case "get":
		id, err := oneArg("session get", args[1:])
		if err != nil {
			return nil, err
		}
		session, found, err := system.Sessions.GetSession(ctx, id)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("%w: %s", memory.ErrSessionNotFound, id)
		}
		return session, nil

	case "stats":
		id, err := oneArg("session stats", args[1:])
		if err != nil {
			return nil, err
		}
		stats, found, err := system.Sessions.SessionStats(ctx, id)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("%w: %s", memory.ErrSessionNotFound, id)
		}
		return stats, nil

	case "context":
		id, err := oneArg("session context", args[1:])
		if err != nil {
			return nil, err
		}
		sessionCtx, found, err := system.Sessions.GetSessionContext(ctx, id)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("%w: %s", memory.ErrSessionNotFound, id)
		}
		return sessionCtx, nil

	case "list":
		if len(args) > 1 {
			return system.Sessions.SessionsForAgent(ctx, args[1])
		}
		return system.Sessions.ListSessions(ctx, memory.SessionStatus(opts.status))

	case "close":
		id, err := oneArg("session close", args[1:])
		if err != nil {
			return nil, err
		}
		if err := system.Sessions.CloseSession(ctx, id); err != nil {
			return nil, err
		}
		return map[string]string{"status": "closed", "session_id": id}, nil

	default:
		return nil, fmt.Errorf("%w: unknown session command %q", errUsage, args[0])
	}
}

func presenceCommand(ctx context.Context, system *memory.MemorySystem, opts options, args []string) (any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: presence requires get, set or online", errUsage)
	}
	switch args[0] {
	case "get":
		id, err := oneArg("presence get", args[1:])
		if err != nil {
			return nil, err
		}
		status, err := system.Presence.GetPresence(ctx, id)
		if err != nil {
			return nil, err
		}
		return map[string]string{"agent_id": id, "status": status}, nil

	case "set":
		if len(args) != 3 {
			return nil, fmt.Errorf("%w: presence set <agent-id> <status>", errUsage)
		}
		if err := system.Presence.SetPresence(ctx, args[1], args[2], opts.ttl); err != nil {
			return nil, err
		}
		return map[string]string{"agent_id": args[1], "status": args[2]}, nil

	case "online":
		return system.Presence.GetAllOnlineAgents(ctx)

	default:
		return nil, fmt.Errorf("%w: unknown presence command %q", errUsage, args[0])
	}
}

func snapshotCommand(ctx context.Context, system *memory.MemorySystem, args []string) (any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: snapshot requires latest, get, list or create", errUsage)
	}
	switch args[0] {
	case "latest":
		data, found, err := system.Snapshots.GetLatestSnapshot(ctx)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, errors.New("no snapshots stored")
		}
		return data, nil

	case "get":
		ts, err := oneArg("snapshot get", args[1:])
		if err != nil {
			return nil, err
		}
		data, found, err := system.Snapshots.GetSnapshot(ctx, ts)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("no snapshot at %s", ts)
		}
		return data, nil

	case "list":
		return system.Snapshots.ListSnapshots(ctx)

	case "create":
		payload, err := oneArg("snapshot create", args[1:])
		if err != nil {
			return nil, err
		}
		var data any
		if err := json.Unmarshal([]byte(payload), &data); err != nil {
			return nil, fmt.Errorf("%w: snapshot data must be JSON: %v", errUsage, err)
		}
		ts, err := system.Snapshots.CreateSnapshot(ctx, data)
		if err != nil {
			return nil, err
		}
		return map[string]string{"timestamp": ts}, nil

	default:
		return nil, fmt.Errorf("%w: unknown snapshot command %q", errUsage, args[0])
	}
}

func oneArg(command string, args []string) (string, error) {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		return "", fmt.Errorf("%w: %s takes exactly one argument", errUsage, command)
	}
	return args[0], nil
}

func writeJSON(w io.Writer, value any, pretty bool) error {
	encoder := json.NewEncoder(w)
	if pretty {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(value)
}

func printHelp(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, `linkmemctl inspects and administers a linkmem store.

Usage: linkmemctl [flags] <command> [args]

Commands:
  ping                              check store connectivity
  stats                             aggregate key counts
  metrics                           per-operation counters of this process
  context get|delete <agent-id>     read or remove an agent context
  context set <agent-id> <json>     replace fields of an agent context
  context global                    read the shared context
  context agents                    list agents with a stored context
  history <agent-id> [-n N]         read recent history entries
  session get|stats|close <id>      inspect or close a session
  session context <id>              read the shared context of a session
  session list [agent-id]           list sessions (--status filters)
  presence get <agent-id>           read an agent status
  presence set <agent-id> <status>  publish a status lease (--ttl)
  presence online                   list online agents
  snapshot latest|list              read snapshots
  snapshot get <timestamp>          read one snapshot
  snapshot create <json>            store a snapshot
  flush --confirm <token>           delete every key (needs store.allow_flush)

Flags:
`)
	flagSet.PrintDefaults()
}
