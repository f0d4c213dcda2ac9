package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"intakeportal.org/internal/audit"
	"intakeportal.org/internal/auth"
	"intakeportal.org/internal/migrate"
	"intakeportal.org/internal/obs"
	"intakeportal.org/internal/store/pg"
	"intakeportal.org/migrations"
)

type cli struct {
	dsn     string
	secret  string
	out     string
	timeout time.Duration
}

func main() {
	c := &cli{
		dsn:     os.Getenv("PORTAL_DATABASE_URL"),
		secret:  os.Getenv("PORTAL_JWT_SECRET"),
		out:     envOr("PORTAL_OUT", "text"),
		timeout: 30 * time.Second,
	}
	if err := c.root().Execute(); err != nil {
		os.Exit(1)
	}
}

func (c *cli) root() *cobra.Command {
	root := &cobra.Command{
		Use:           "portalctl",
		Short:         "Operator tooling for the intake portal",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if _, err := obs.InitLogger(obs.LogConfig{Env: "dev", Level: envOr("PORTAL_LOG_LEVEL", "warn"), Service: "portalctl"}); err != nil {
				return err
			}
			if c.out != "text" && c.out != "json" {
				return fmt.Errorf("--out must be text or json, got %q", c.out)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.dsn, "dsn", c.dsn, "PostgreSQL DSN (env PORTAL_DATABASE_URL)")
	root.PersistentFlags().StringVar(&c.out, "out", c.out, "Output format: text|json")
	root.PersistentFlags().DurationVar(&c.timeout, "timeout", c.timeout, "Overall command timeout")

	root.AddCommand(c.migrateCmd(), c.profileCmd(), c.firmCmd(), c.auditCmd(), c.sessionCmd())
	return root
}

func (c *cli) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.timeout)
}

func (c *cli) openDB() (*sql.DB, error) {
	if strings.TrimSpace(c.dsn) == "" {
		return nil, errors.New("missing DSN: provide --dsn or PORTAL_DATABASE_URL")
	}
	return sql.Open("pgx", c.dsn)
}

func (c *cli) migrateCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "migrate", Short: "Apply or inspect schema migrations"}

	withManager := func(fn func(ctx context.Context, m *migrate.Manager) error) func(*cobra.Command, []string) error {
		return func(*cobra.Command, []string) error {
			db, err := c.openDB()
			if err != nil {
				return err
			}
			defer db.Close()
			ctx, cancel := c.context()
			defer cancel()
			return fn(ctx, migrate.NewManager(db, migrations.FS, migrations.SQLDir, migrations.SeedsDir))
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			RunE: withManager(func(ctx context.Context, m *migrate.Manager) error {
				applied, err := m.Up(ctx)
				if err != nil {
					return err
				}
				if len(applied) == 0 {
					fmt.Println("up to date")
				}
				for _, name := range applied {
					fmt.Println("applied", name)
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Revert the latest migration",
			RunE: withManager(func(ctx context.Context, m *migrate.Manager) error {
				name, err := m.Down(ctx)
				if errors.Is(err, migrate.ErrNothingApplied) {
					fmt.Println("nothing to revert")
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Println("reverted", name)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "List migrations and whether they are applied",
			RunE: withManager(func(ctx context.Context, m *migrate.Manager) error {
				states, err := m.Status(ctx)
				if err != nil {
					return err
				}
				if c.out == "json" {
					return printJSON(states)
				}
				for _, s := range states {
					mark := "pending"
					if s.Applied {
						mark = "applied"
					}
					fmt.Printf("%-8s %s\n", mark, s.Name)
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "seed",
			Short: "Apply seed data",
			RunE: withManager(func(ctx context.Context, m *migrate.Manager) error {
				return m.Seed(ctx)
			}),
		},
	)
	return cmd
}

// profileCmd works on the store directly so the first site admin can be
// bootstrapped before anyone can call the API.
func (c *cli) profileCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "profile", Short: "Inspect or change user profiles"}

	var userID, role string
	setRole := &cobra.Command{
		Use:   "set-role",
		Short: "Set a user's role",
		RunE: func(*cobra.Command, []string) error {
			r, err := auth.ParseRole(role)
			if err != nil {
				return err
			}
			return c.withStore(func(ctx context.Context, st *pg.Store) error {
				p, err := st.SetProfileRole(ctx, userID, r)
				if err != nil {
					return err
				}
				return c.print(p, fmt.Sprintf("%s is now %s", p.UserID, p.Role))
			})
		},
	}
	setRole.Flags().StringVar(&userID, "user", "", "User ID")
	setRole.Flags().StringVar(&role, "role", "", "user|firm_admin|site_admin")
	_ = setRole.MarkFlagRequired("user")
	_ = setRole.MarkFlagRequired("role")

	var showUser string
	show := &cobra.Command{
		Use:   "show",
		Short: "Print a user's profile",
		RunE: func(*cobra.Command, []string) error {
			return c.withStore(func(ctx context.Context, st *pg.Store) error {
				p, err := st.ProfileByUserID(ctx, showUser)
				if err != nil {
					return err
				}
				return c.print(p, fmt.Sprintf("%s %s <%s> role=%s firm=%s", p.FirstName, p.LastName, p.Email, p.Role, p.FirmID))
			})
		},
	}
	show.Flags().StringVar(&showUser, "user", "", "User ID")
	_ = show.MarkFlagRequired("user")

	cmd.AddCommand(setRole, show)
	return cmd
}

func (c *cli) firmCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "firm", Short: "Manage firms"}

	var name, slug string
	create := &cobra.Command{
		Use:   "create",
		Short: "Register a firm",
		RunE: func(*cobra.Command, []string) error {
			return c.withStore(func(ctx context.Context, st *pg.Store) error {
				f, err := st.CreateFirm(ctx, strings.TrimSpace(name), strings.ToLower(strings.TrimSpace(slug)))
				if err != nil {
					return err
				}
				return c.print(f, fmt.Sprintf("created %s (%s)", f.Slug, f.ID))
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "Display name")
	create.Flags().StringVar(&slug, "slug", "", "URL slug")
	_ = create.MarkFlagRequired("name")
	_ = create.MarkFlagRequired("slug")

	list := &cobra.Command{
		Use:   "list",
		Short: "List firms",
		RunE: func(*cobra.Command, []string) error {
			return c.withStore(func(ctx context.Context, st *pg.Store) error {
				firms, err := st.ListFirms(ctx)
				if err != nil {
					return err
				}
				if c.out == "json" {
					return printJSON(firms)
				}
				for _, f := range firms {
					fmt.Printf("%s\t%s\t%s\n", f.ID, f.Slug, f.Name)
				}
				return nil
			})
		},
	}

	cmd.AddCommand(create, list)
	return cmd
}

func (c *cli) auditCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "audit", Short: "Read form audit trails"}

	var formType, formID string
	history := &cobra.Command{
		Use:   "history",
		Short: "Print a form's audit trail, newest first",
		RunE: func(*cobra.Command, []string) error {
			return c.withStore(func(ctx context.Context, st *pg.Store) error {
				entries, err := audit.NewReader(st).History(ctx, formID, formType)
				if err != nil {
					return err
				}
				if c.out == "json" {
					return printJSON(entries)
				}
				for _, e := range entries {
					fmt.Printf("%s  %-9s by %s  %s\n", e.CreatedAt.Format(time.RFC3339), e.Action(), e.SubmittedBy, describe(e.Metadata))
				}
				return nil
			})
		},
	}
	history.Flags().StringVar(&formType, "form-type", "economic-loss", "Form type")
	history.Flags().StringVar(&formID, "form-id", "", "Form ID")
	_ = history.MarkFlagRequired("form-id")

	cmd.AddCommand(history)
	return cmd
}

func (c *cli) sessionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "session", Short: "Issue session tokens for tooling and local testing"}

	var userID, email string
	var ttl time.Duration
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Sign a session token",
		RunE: func(*cobra.Command, []string) error {
			resolver, err := auth.NewSessionResolver(c.secret)
			if err != nil {
				return fmt.Errorf("%w (flag --secret or env PORTAL_JWT_SECRET)", err)
			}
			token, expires, err := resolver.Issue(auth.Identity{UserID: userID, Email: email}, ttl)
			if err != nil {
				return err
			}
			return c.print(map[string]any{"token": token, "expires_at": expires}, token)
		},
	}
	issue.Flags().StringVar(&c.secret, "secret", c.secret, "Session signing secret (env PORTAL_JWT_SECRET)")
	issue.Flags().StringVar(&userID, "user", "", "User ID")
	issue.Flags().StringVar(&email, "email", "", "Email claim")
	issue.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	_ = issue.MarkFlagRequired("user")

	cmd.AddCommand(issue)
	return cmd
}

func (c *cli) withStore(fn func(ctx context.Context, st *pg.Store) error) error {
	db, err := c.openDB()
	if err != nil {
		return err
	}
	st := pg.New(db)
	defer st.Close()
	ctx, cancel := c.context()
	defer cancel()
	return fn(ctx, st)
}

func (c *cli) print(v any, text string) error {
	if c.out == "json" {
		return printJSON(v)
	}
	fmt.Println(text)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func describe(m audit.Metadata) string {
	switch v := m.(type) {
	case audit.Submitted:
		return fmt.Sprintf("v%d role=%s", v.Version, v.UpdatedByRole)
	case audit.Updated:
		if v.DiffUnavailable {
			return fmt.Sprintf("v%d role=%s diff unavailable", v.Version, v.UpdatedByRole)
		}
		fields := make([]string, 0, len(v.FieldChanges))
		for _, fc := range v.FieldChanges {
			fields = append(fields, fc.Field)
		}
		return fmt.Sprintf("v%d role=%s changed=[%s]", v.Version, v.UpdatedByRole, strings.Join(fields, ", "))
	case audit.Deleted:
		return fmt.Sprintf("v%d role=%s reason=%q", v.Version, v.UpdatedByRole, v.Reason)
	default:
		return ""
	}
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
