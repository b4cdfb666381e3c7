package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ashureev/vulnshop/internal/config"
	"github.com/ashureev/vulnshop/internal/flags"
	"github.com/ashureev/vulnshop/internal/identity"
	"github.com/ashureev/vulnshop/internal/store"
)

// options carries CLI overrides of the environment configuration.
type options struct {
	port   string
	dbPath string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "vulnshop",
		Short: "Deliberately vulnerable AI demo shop",
		Long: `Vulnshop runs a small web shop whose concierge chatbot can call tools
against the shop database. Exploiting the concierge awards CTF flags.

Run without a subcommand to start the server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.dbPath, "db", "", "SQLite database path (overrides DB_PATH)")
	cmd.Flags().StringVar(&opts.port, "port", "", "HTTP port (overrides PORT)")

	cmd.AddCommand(
		newServeCmd(opts),
		newSeedCmd(opts),
		newFlagsCmd(opts),
	)
	return cmd
}

func newServeCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Example: `  vulnshop serve
  vulnshop serve --port 8080 --db ./data/demo.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.port, "port", "", "HTTP port (overrides PORT)")
	return cmd
}

func newSeedCmd(opts *options) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the demo catalog, accounts and documents",
		Long: `Seed the database with the demo data set. Without --force the data is
only loaded into a database that has no users yet.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, repo, err := openStore(opts)
			if err != nil {
				return err
			}
			defer closeStore(repo)

			res, err := repo.Seed(cmd.Context(), force)
			if err != nil {
				return fmt.Errorf("seeding database: %w", err)
			}
			if !res.Seeded {
				color.New(color.FgYellow).Println("Database already has users; nothing seeded (use --force to reset)")
				return nil
			}
			color.New(color.FgGreen, color.Bold).Println("Database seeded")
			fmt.Printf("   Users:     %d\n", res.Users)
			fmt.Printf("   Products:  %d\n", res.Products)
			fmt.Printf("   Orders:    %d\n", res.Orders)
			fmt.Printf("   Documents: %d\n", res.Documents)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "wipe every table before seeding")
	return cmd
}

func newFlagsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flags",
		Short: "Inspect or clear awarded CTF flags",
	}

	reset := &cobra.Command{
		Use:   "reset",
		Short: "Delete every awarded flag",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, repo, err := openStore(opts)
			if err != nil {
				return err
			}
			defer closeStore(repo)

			n, err := flags.NewAwarder(repo, cfg.FlagSecret).Reset(cmd.Context())
			if err != nil {
				return fmt.Errorf("resetting flags: %w", err)
			}
			color.New(color.FgGreen, color.Bold).Printf("Cleared %d flag(s)\n", n)
			return nil
		},
	}

	list := &cobra.Command{
		Use:     "list <email>",
		Short:   "Show the flags a user has captured",
		Example: `  vulnshop flags list annie@demo.store`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, repo, err := openStore(opts)
			if err != nil {
				return err
			}
			defer closeStore(repo)

			return listFlags(cmd.Context(), repo, cfg.FlagSecret, args[0])
		},
	}

	cmd.AddCommand(reset, list)
	return cmd
}

func listFlags(ctx context.Context, repo store.Repository, secret, email string) error {
	user, err := repo.GetUserByEmail(ctx, identity.NormalizeEmail(email))
	if err != nil {
		return fmt.Errorf("looking up %s: %w", email, err)
	}
	if user == nil {
		return fmt.Errorf("no user with email %s", email)
	}
	awards, err := flags.NewAwarder(repo, secret).List(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("listing flags: %w", err)
	}
	if len(awards) == 0 {
		fmt.Printf("%s has no flags yet\n", user.Email)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "CODE\tFLAG")
	for _, a := range awards {
		fmt.Fprintf(w, "%s\t%s\n", color.CyanString(a.VulnCode), a.Flag)
	}
	return w.Flush()
}

// loadConfig reads the environment and applies CLI overrides.
func loadConfig(opts *options) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if opts.port != "" {
		cfg.Port = opts.port
	}
	if opts.dbPath != "" {
		cfg.DBPath = opts.dbPath
	}
	return cfg, nil
}

func openStore(opts *options) (*config.Config, store.Repository, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, nil, err
	}
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database %s: %w", cfg.DBPath, err)
	}
	return cfg, repo, nil
}
