// Command qms-admin prepares a database for the queue service: it applies
// migrations, seeds the default services and administrator, and creates
// staff accounts.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"qms/walkin-queue/internal/admin"
	"qms/walkin-queue/internal/auth"
	"qms/walkin-queue/internal/config"
	"qms/walkin-queue/internal/logging"
	"qms/walkin-queue/internal/models"
	"qms/walkin-queue/internal/store"
	"qms/walkin-queue/internal/store/postgres"
	"qms/walkin-queue/migrations"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

var defaultServices = []admin.ServiceInput{
	{Name: "Matrícula", Prefix: "M", Color: "#000000"},
	{Name: "Bienestar Estudiantil", Prefix: "B", Color: "#CF142B"},
}

type command struct {
	name   string
	dsn    string
	member admin.StaffInput
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New("info", "qms-admin")
		bootLogger.Fatal().Err(err).Msg("load config")
	}
	logger := logging.New(cfg.LogLevel, "qms-admin")

	cmd, err := parseArgs(os.Args[1:], cfg.DatabaseURL)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printUsage(os.Stderr)
			return
		}
		printUsage(os.Stderr)
		logger.Fatal().Err(err).Msg("invalid arguments")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := run(ctx, cmd, cfg, logger); err != nil {
		logger.Fatal().Err(err).Str("command", cmd.name).Msg("command failed")
	}
}

func parseArgs(args []string, defaultDSN string) (command, error) {
	if len(args) == 0 {
		return command{}, errors.New("missing command")
	}
	cmd := command{name: args[0]}
	flagSet := pflag.NewFlagSet(cmd.name, pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.StringVar(&cmd.dsn, "dsn", defaultDSN, "postgres connection string (default: DB_DSN)")

	var desk int
	switch cmd.name {
	case "migrate", "seed":
	case "create-user":
		flagSet.StringVar(&cmd.member.Name, "name", "", "login name")
		flagSet.StringVar(&cmd.member.Password, "password", "", "initial password")
		flagSet.StringVar(&cmd.member.Role, "role", models.RoleStaff, "staff, registrar or admin")
		flagSet.StringVar(&cmd.member.ServiceName, "service", "", "service attended (staff only)")
		flagSet.IntVar(&desk, "desk", 0, "desk number (staff only)")
	default:
		return command{}, fmt.Errorf("unknown command %q", cmd.name)
	}

	if err := flagSet.Parse(args[1:]); err != nil {
		return command{}, err
	}
	if extra := flagSet.Args(); len(extra) > 0 {
		return command{}, fmt.Errorf("unexpected argument: %s", extra[0])
	}
	if cmd.dsn == "" {
		return command{}, errors.New("--dsn or DB_DSN is required")
	}
	if cmd.name == "create-user" {
		if cmd.member.Name == "" || cmd.member.Password == "" {
			return command{}, errors.New("--name and --password are required")
		}
		if desk > 0 {
			cmd.member.DeskNumber = &desk
		}
	}
	return cmd, nil
}

func run(ctx context.Context, cmd command, cfg config.Config, logger zerolog.Logger) error {
	pool, err := pgxpool.New(ctx, cmd.dsn)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer pool.Close()

	st := postgres.NewStore(pool)
	authService := auth.NewService(st, auth.Options{})
	adminService := admin.NewService(st, authService)

	switch cmd.name {
	case "migrate":
		if err := migrations.Apply(ctx, pool); err != nil {
			return err
		}
		logger.Info().Msg("migrations applied")
		return nil
	case "seed":
		if err := migrations.Apply(ctx, pool); err != nil {
			return err
		}
		return seed(ctx, st, adminService, cfg, logger)
	case "create-user":
		member, err := adminService.CreateStaff(ctx, cmd.member)
		if err != nil {
			return err
		}
		logger.Info().Str("staff_id", member.StaffID).Str("name", member.Name).Str("role", member.Role).Msg("staff created")
		return nil
	}
	return fmt.Errorf("unknown command %q", cmd.name)
}

// seed is idempotent: existing services and the administrator are left as
// they are.
func seed(ctx context.Context, st store.Store, adminService *admin.Service, cfg config.Config, logger zerolog.Logger) error {
	for _, input := range defaultServices {
		_, err := st.GetServiceByName(ctx, input.Name)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrServiceNotFound) {
			return err
		}
		created, err := adminService.CreateService(ctx, input)
		if err != nil {
			return fmt.Errorf("seed service %s: %w", input.Name, err)
		}
		logger.Info().Str("service", created.Name).Str("prefix", created.Prefix).Msg("service seeded")
	}

	_, err := st.GetStaffByName(ctx, cfg.AdminUsername)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrStaffNotFound) {
		return err
	}
	if _, err := adminService.CreateStaff(ctx, admin.StaffInput{
		Name:     cfg.AdminUsername,
		Password: cfg.AdminPassword,
		Role:     models.RoleAdmin,
	}); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	logger.Info().Str("name", cfg.AdminUsername).Msg("administrator seeded")
	return nil
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `usage: qms-admin <command> [flags]

commands:
  migrate       apply database migrations
  seed          apply migrations, then create default services and the administrator
  create-user   create a staff account (--name, --password, --role, --service, --desk)

every command accepts --dsn; it defaults to DB_DSN.
`)
}
