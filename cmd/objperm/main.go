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

	"github.com/MrEthical07/objperm"
	"github.com/MrEthical07/objperm/record"
	"github.com/MrEthical07/objperm/record/pgstore"
	"github.com/MrEthical07/objperm/record/redisstore"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
)

const envPrefix = "OBJPERM"

var errUsage = errors.New("usage error")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

type options struct {
	envFile     string
	redisAddr   string
	postgresDSN string
	typesFile   string
	jsonOutput  bool
	anyOf       bool
}

// backend is the store pair a command runs against.
type backend struct {
	store      record.Store
	membership interface {
		record.Membership
		AddMember(ctx context.Context, groupID, actorID string) error
		RemoveMember(ctx context.Context, groupID, actorID string) error
		Members(ctx context.Context, groupID string) ([]string, error)
	}
	migrate func(ctx context.Context) error
	close   func()
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var opts options

	flagSet := pflag.NewFlagSet("objperm", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&opts.envFile, "env-file", "", "load environment variables from this file first")
	flagSet.StringVar(&opts.redisAddr, "redis-addr", "", "redis address (default: $REDIS_ADDR)")
	flagSet.StringVar(&opts.postgresDSN, "postgres-dsn", "", "use PostgreSQL instead of Redis (default: $DATABASE_URL)")
	flagSet.StringVar(&opts.typesFile, "types", "", "YAML file with entity type definitions (default: $OBJPERM_TYPES_FILE)")
	flagSet.BoolVar(&opts.jsonOutput, "json", false, "print results as JSON")
	flagSet.BoolVar(&opts.anyOf, "any", false, "check: allow when any permission is held")
	flagSet.BoolP("help", "h", false, "show help")
	flagSet.SetInterspersed(true)

	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			printHelp(stderr, flagSet)
			return nil
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if help, _ := flagSet.GetBool("help"); help || flagSet.NArg() == 0 {
		printHelp(stderr, flagSet)
		return nil
	}

	if opts.envFile != "" {
		if err := godotenv.Load(opts.envFile); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
	}
	if opts.redisAddr == "" {
		opts.redisAddr = os.Getenv("REDIS_ADDR")
	}
	if opts.postgresDSN == "" {
		opts.postgresDSN = os.Getenv("DATABASE_URL")
	}
	if opts.typesFile == "" {
		opts.typesFile = os.Getenv(envPrefix + "_TYPES_FILE")
	}

	cfg, err := objperm.LoadConfigFromEnv(envPrefix)
	if err != nil {
		return err
	}
	logger := objperm.NewLogger(cfg.Log, stderr)

	var defs []objperm.TypeDefinition
	if opts.typesFile != "" {
		defs, err = objperm.LoadTypeDefinitionsFile(opts.typesFile)
		if err != nil {
			return err
		}
	}

	be, err := openBackend(ctx, opts, cfg)
	if err != nil {
		return err
	}
	defer be.close()

	engine, err := objperm.New().
		WithConfig(cfg).
		WithLogger(logger).
		WithStore(be.store).
		WithMembership(be.membership).
		WithTypeDefinitions(defs).
		WithAuditSink(objperm.NewJSONWriterSink(stderr)).
		Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	cmd := &command{engine: engine, backend: be, out: stdout, json: opts.jsonOutput, anyOf: opts.anyOf}
	return cmd.dispatch(ctx, flagSet.Args())
}

func openBackend(ctx context.Context, opts options, cfg objperm.Config) (*backend, error) {
	switch {
	case opts.postgresDSN != "":
		pool, err := pgstore.Connect(ctx, opts.postgresDSN)
		if err != nil {
			return nil, err
		}
		return &backend{
			store:      pgstore.New(pool),
			membership: pgstore.NewMembership(pool),
			migrate:    func(ctx context.Context) error { return pgstore.Migrate(ctx, pool) },
			close:      pool.Close,
		}, nil
	case opts.redisAddr != "":
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{opts.redisAddr}})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("%w: %v", objperm.ErrStoreUnavailable, err)
		}
		return &backend{
			store:      redisstore.New(client, cfg.Store.RedisPrefix),
			membership: redisstore.NewMembership(client, cfg.Store.RedisPrefix),
			migrate:    func(context.Context) error { return nil },
			close:      func() { _ = client.Close() },
		}, nil
	default:
		return nil, fmt.Errorf("%w: set --redis-addr or --postgres-dsn", errUsage)
	}
}

type command struct {
	engine  *objperm.Engine
	backend *backend
	out     io.Writer
	json    bool
	anyOf   bool
}

func (c *command) dispatch(ctx context.Context, args []string) error {
	name, rest := args[0], args[1:]
	switch name {
	case "grant", "revoke":
		if len(rest) < 3 {
			return usagef("%s SUBJECT INSTANCE PERMISSION...", name)
		}
		subject, inst, err := parseTarget(rest[0], rest[1])
		if err != nil {
			return err
		}
		var rec objperm.Record
		if name == "grant" {
			rec, err = c.engine.Grant(ctx, subject, inst, rest[2:]...)
		} else {
			rec, err = c.engine.Revoke(ctx, subject, inst, rest[2:]...)
		}
		if err != nil {
			return err
		}
		return c.printMask(inst, rec.Mask)

	case "revoke-all":
		if len(rest) != 2 {
			return usagef("revoke-all SUBJECT INSTANCE")
		}
		subject, inst, err := parseTarget(rest[0], rest[1])
		if err != nil {
			return err
		}
		rec, err := c.engine.RevokeAll(ctx, subject, inst)
		if err != nil {
			return err
		}
		return c.printMask(inst, rec.Mask)

	case "check":
		if len(rest) < 3 {
			return usagef("check [--any] SUBJECT INSTANCE PERMISSION...")
		}
		subject, inst, err := parseTarget(rest[0], rest[1])
		if err != nil {
			return err
		}
		mode := objperm.CheckAll
		if c.anyOf {
			mode = objperm.CheckAny
		}
		allowed, err := c.engine.Check(ctx, subject, inst, mode, rest[2:]...)
		if err != nil {
			return err
		}
		if c.json {
			return c.writeJSON(map[string]bool{"allowed": allowed})
		}
		if allowed {
			fmt.Fprintln(c.out, "allowed")
		} else {
			fmt.Fprintln(c.out, "denied")
		}
		return nil

	case "effective":
		if len(rest) != 2 {
			return usagef("effective SUBJECT INSTANCE")
		}
		subject, inst, err := parseTarget(rest[0], rest[1])
		if err != nil {
			return err
		}
		mask, err := c.engine.EffectivePermission(ctx, subject, inst)
		if err != nil {
			return err
		}
		return c.printMask(inst, mask)

	case "holders":
		if len(rest) != 1 {
			return usagef("holders INSTANCE")
		}
		inst, err := parseInstance(rest[0])
		if err != nil {
			return err
		}
		records, err := c.engine.Holders(ctx, inst)
		if err != nil {
			return err
		}
		voc, err := c.engine.Vocabulary(inst.Type)
		if err != nil {
			return err
		}
		if c.json {
			out := make([]map[string]any, 0, len(records))
			for _, r := range records {
				out = append(out, map[string]any{
					"subject":     objperm.Subject{Kind: r.Key.Kind, ID: r.Key.SubjectID}.String(),
					"mask":        r.Mask.Raw(),
					"permissions": voc.NameList(r.Mask),
				})
			}
			return c.writeJSON(out)
		}
		for _, r := range records {
			subject := objperm.Subject{Kind: r.Key.Kind, ID: r.Key.SubjectID}
			fmt.Fprintf(c.out, "%s\t%d\t%s\n", subject, r.Mask.Raw(), strings.Join(voc.NameList(r.Mask), ","))
		}
		return nil

	case "member":
		if len(rest) != 3 || (rest[0] != "add" && rest[0] != "remove") {
			return usagef("member add|remove GROUP ACTOR")
		}
		if rest[0] == "add" {
			return c.backend.membership.AddMember(ctx, rest[1], rest[2])
		}
		return c.backend.membership.RemoveMember(ctx, rest[1], rest[2])

	case "groups", "members":
		if len(rest) != 1 {
			return usagef("%s ID", name)
		}
		var ids []string
		var err error
		if name == "groups" {
			ids, err = c.backend.membership.Groups(ctx, rest[0])
		} else {
			ids, err = c.backend.membership.Members(ctx, rest[0])
		}
		if err != nil {
			return err
		}
		if c.json {
			return c.writeJSON(ids)
		}
		for _, id := range ids {
			fmt.Fprintln(c.out, id)
		}
		return nil

	case "types":
		for _, t := range c.engine.Types() {
			voc, err := c.engine.Vocabulary(t)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "%s\t%s\n", t, strings.Join(voc.Names(), ","))
		}
		return nil

	case "migrate":
		return c.backend.migrate(ctx)

	default:
		return usagef("unknown command %q", name)
	}
}

func (c *command) printMask(inst objperm.Ref, mask objperm.Mask) error {
	voc, err := c.engine.Vocabulary(inst.Type)
	if err != nil {
		return err
	}
	names := voc.NameList(mask)
	if c.json {
		return c.writeJSON(map[string]any{
			"instance":    inst.String(),
			"mask":        mask.Raw(),
			"permissions": names,
		})
	}
	fmt.Fprintf(c.out, "%d\t%s\n", mask.Raw(), strings.Join(names, ","))
	return nil
}

func (c *command) writeJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseTarget reads "actor:ID" or "group:ID" and "TYPE/INSTANCE".
func parseTarget(subjectArg, instanceArg string) (objperm.Subject, objperm.Ref, error) {
	subject, err := parseSubject(subjectArg)
	if err != nil {
		return objperm.Subject{}, objperm.Ref{}, err
	}
	inst, err := parseInstance(instanceArg)
	if err != nil {
		return objperm.Subject{}, objperm.Ref{}, err
	}
	return subject, inst, nil
}

func parseSubject(arg string) (objperm.Subject, error) {
	kindPart, id, ok := strings.Cut(arg, ":")
	if !ok || id == "" {
		return objperm.Subject{}, usagef("subject %q must be actor:ID or group:ID", arg)
	}
	kind, err := record.ParseSubjectKind(kindPart)
	if err != nil {
		return objperm.Subject{}, usagef("subject %q: %v", arg, err)
	}
	return objperm.Subject{Kind: kind, ID: id}, nil
}

func parseInstance(arg string) (objperm.Ref, error) {
	entityType, id, ok := strings.Cut(arg, "/")
	if !ok || entityType == "" || id == "" {
		return objperm.Ref{}, usagef("instance %q must be TYPE/ID", arg)
	}
	return objperm.Ref{Type: entityType, ID: id}, nil
}

func usagef(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{errUsage}, args...)...)
}

func printHelp(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, `objperm manages object-level permissions stored in Redis or PostgreSQL.

Usage:
  objperm [flags] COMMAND [ARGS]

Commands:
  grant SUBJECT INSTANCE PERMISSION...    add permissions to a subject's record
  revoke SUBJECT INSTANCE PERMISSION...   remove permissions from a subject's record
  revoke-all SUBJECT INSTANCE             clear a subject's record
  check SUBJECT INSTANCE PERMISSION...    report allowed or denied (all-of, or --any)
  effective SUBJECT INSTANCE              show own plus group permissions
  holders INSTANCE                        list subjects holding permissions
  member add|remove GROUP ACTOR           change group membership
  groups ACTOR                            list an actor's groups
  members GROUP                           list a group's actors
  types                                   list registered entity types
  migrate                                 create PostgreSQL tables

SUBJECT is actor:ID or group:ID. INSTANCE is TYPE/ID.
Entity types come from --types, a YAML file of the form

  types:
    - name: flatpage
      permissions: [view, edit, delete]

Flags:
%s`, flagSet.FlagUsages())
}
