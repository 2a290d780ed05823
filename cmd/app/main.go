package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"

	json "github.com/goccy/go-json"
	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/codex/internal"
	pkgconfig "github.com/starford/codex/pkg/config"
)

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:        "config",
		Aliases:     []string{"c"},
		Usage:       "Path to config file",
		DefaultText: "config/config.yaml",
		Value:       "config/config.yaml",
		Sources:     cli.EnvVars("APP_CONFIG_FILE"),
	}
}

// options loads the config named by the --config flag. A missing file
// means defaults.
func options(cmd *cli.Command, extra ...internal.Option) ([]internal.Option, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return append([]internal.Option{internal.WithConfig(cfg)}, extra...), nil
}

// toolOptions sends logs to stderr so stdout carries only results.
func toolOptions(cmd *cli.Command) ([]internal.Option, error) {
	return options(cmd, internal.WithLogOutput(os.Stderr))
}

func serve(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func rebuildURLs(ctx context.Context, cmd *cli.Command) error {
	opts, err := toolOptions(cmd)
	if err != nil {
		return err
	}
	n, err := internal.RebuildURLs(ctx, opts...)
	if err != nil {
		return err
	}
	fmt.Printf("rebuilt: %d urls\n", n)
	return nil
}

func rollback(ctx context.Context, cmd *cli.Command) error {
	xid := cmd.Args().First()
	if xid == "" {
		return fmt.Errorf("usage: %s <xid>", cmd.Name)
	}
	opts, err := toolOptions(cmd)
	if err != nil {
		return err
	}
	sum, err := internal.Rollback(ctx, xid, cmd.String("user"), opts...)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func prune(ctx context.Context, cmd *cli.Command) error {
	opts, err := toolOptions(cmd)
	if err != nil {
		return err
	}
	pruned, err := internal.Prune(ctx, opts...)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(pruned))
	for id := range pruned {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Printf("%s %v\n", id, pruned[id])
	}
	return nil
}

func addUser(ctx context.Context, cmd *cli.Command) error {
	name := cmd.Args().First()
	if name == "" {
		return fmt.Errorf("usage: %s <name>", cmd.Name)
	}
	opts, err := toolOptions(cmd)
	if err != nil {
		return err
	}
	u, err := internal.AddUser(ctx, name, cmd.String("email"), opts...)
	if err != nil {
		return err
	}
	fmt.Println(u.ID)
	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	opts, err := toolOptions(cmd)
	if err != nil {
		return err
	}
	return internal.ServeMCP(ctx, opts...)
}

func main() {
	cmd := &cli.Command{
		Name:   "codex",
		Usage:  "Versioned, multilingual content store with transactional changes and rollback",
		Action: serve,
		Flags:  []cli.Flag{configFlag()},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API",
				Flags:  []cli.Flag{configFlag()},
				Action: serve,
			},
			{
				Name:   "rebuild-urls",
				Usage:  "Rebuild the URL index from the stored elements",
				Flags:  []cli.Flag{configFlag()},
				Action: rebuildURLs,
			},
			{
				Name:      "rollback",
				Usage:     "Revert a committed transaction",
				ArgsUsage: "<xid>",
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{
						Name:     "user",
						Aliases:  []string{"u"},
						Usage:    "Id of the user performing the rollback",
						Sources:  cli.EnvVars("CODEX_USER"),
						Required: true,
					},
				},
				Action: rollback,
			},
			{
				Name:   "prune",
				Usage:  "Remove versions no longer reachable from any rollback",
				Flags:  []cli.Flag{configFlag()},
				Action: prune,
			},
			{
				Name:      "add-user",
				Usage:     "Register a user and print its id",
				ArgsUsage: "<name>",
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{Name: "email", Usage: "Contact address"},
				},
				Action: addUser,
			},
			{
				Name:   "mcp",
				Usage:  "Serve the MCP tools on stdio",
				Flags:  []cli.Flag{configFlag()},
				Action: serveMCP,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
