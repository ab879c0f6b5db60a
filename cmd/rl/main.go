package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"redline/internal/app"
	"redline/internal/domain"
	"redline/internal/engine"
	"redline/internal/repo"
	"redline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "rl",
	Short: "Redline CLI",
	Long: `Redline tracks issues through a fixed triage workflow.
- Workspace: the .redline directory holding the sqlite database; redline.yml beside it.
- Issues: reported problems with a severity, moving OPEN -> TRIAGED -> IN_PROGRESS -> DONE.
- Roles: reporters file and comment, maintainers drive the workflow, admins manage users.
- API keys: how reporters authenticate against the HTTP API ('rl token create').
- Event log: diary of changes, view with 'rl log tail'.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("REDLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("as", "", "act as this username")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("as", rootCmd.PersistentFlags().Lookup("as"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(issueCmd())
	rootCmd.AddCommand(tagCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(serveCmd())
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	conn, cfg, err := app.Open(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, engine.New(conn, cfg))
}

func principal(ctx context.Context, e engine.Engine) (domain.Principal, error) {
	return app.ResolvePrincipal(ctx, e.Repo, viper.GetString("as"))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func initCmd() *cobra.Command {
	var adminUser, adminEmail, adminPassword string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, cfg, err := app.Open(workspace)
			if err != nil {
				return err
			}
			defer conn.Close()
			path, err := app.WriteDefaultConfig(workspace)
			if err != nil {
				return err
			}
			if adminPassword == "" {
				adminPassword = os.Getenv("REDLINE_ADMIN_PASSWORD")
			}
			e := engine.New(conn, cfg)
			u, created, err := app.EnsureAdmin(cmd.Context(), e, adminUser, adminEmail, adminPassword)
			if err != nil {
				return err
			}
			fmt.Printf("Workspace ready (config at %s)\n", path)
			if created {
				fmt.Printf("Admin account %q created\n", u.Username)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&adminUser, "admin-user", "admin", "initial admin username")
	cmd.Flags().StringVar(&adminEmail, "admin-email", "admin@deeplogicai.tech", "initial admin email")
	cmd.Flags().StringVar(&adminPassword, "admin-password", "", "initial admin password (or REDLINE_ADMIN_PASSWORD)")
	return cmd
}

func userCmd() *cobra.Command {
	user := &cobra.Command{Use: "user", Short: "Manage users"}
	user.AddCommand(userCreateCmd())
	user.AddCommand(userListCmd())
	user.AddCommand(userSetRoleCmd())
	return user
}

func userCreateCmd() *cobra.Command {
	var opts engine.UserCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if opts.Password == "" {
					opts.Password = os.Getenv("REDLINE_USER_PASSWORD")
				}
				u, err := e.CreateUser(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Username, "username", "", "username")
	cmd.Flags().StringVar(&opts.Email, "email", "", "email address")
	cmd.Flags().StringVar(&opts.Password, "password", "", "password (or REDLINE_USER_PASSWORD)")
	cmd.Flags().StringVar(&opts.FirstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&opts.LastName, "last-name", "", "last name")
	cmd.Flags().StringVar(&opts.Role, "role", "REPORTER", "role: ADMIN, MAINTAINER or REPORTER")
	return cmd
}

func userListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				users, err := e.Repo.ListUsers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Username", "Email", "Role", "Created"})
				for _, u := range users {
					tw.AppendRow(table.Row{u.Username, u.Email, u.Role, u.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func userSetRoleCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "set-role <username>",
		Short: "Assign a role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor := "local-admin"
				if as := viper.GetString("as"); as != "" {
					p, err := app.ResolvePrincipal(ctx, e.Repo, as)
					if err != nil {
						return err
					}
					actor = p.UserID
				}
				u, err := e.SetUserRole(ctx, args[0], domain.Role(role), actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role: ADMIN, MAINTAINER or REPORTER")
	return cmd
}

func tokenCmd() *cobra.Command {
	token := &cobra.Command{Use: "token", Short: "Manage API keys"}
	token.AddCommand(tokenCreateCmd())
	token.AddCommand(tokenListCmd())
	token.AddCommand(tokenRevokeCmd())
	return token
}

func tokenCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create <username>",
		Short: "Mint an API key; the plaintext is printed once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				key, plaintext, err := e.CreateAPIKey(ctx, args[0], name)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{
					"id":      key.ID,
					"user_id": key.UserID,
					"name":    key.Name,
					"key":     plaintext,
				})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func tokenListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <username>",
		Short: "List a user's API keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.Repo.GetUserByUsername(ctx, args[0])
				if err != nil {
					return err
				}
				keys, err := e.Repo.ListAPIKeys(ctx, u.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	return cmd
}

func tokenRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
}

func issueCmd() *cobra.Command {
	issue := &cobra.Command{Use: "issue", Short: "Manage issues"}
	issue.AddCommand(issueCreateCmd())
	issue.AddCommand(issueListCmd())
	issue.AddCommand(issueShowCmd())
	issue.AddCommand(issueUpdateCmd())
	issue.AddCommand(issueTransitionCmd())
	issue.AddCommand(issueDeleteCmd())
	issue.AddCommand(issueCommentCmd())
	issue.AddCommand(issueCommentsCmd())
	return issue
}

func issueCreateCmd() *cobra.Command {
	var opts engine.IssueCreateOptions
	var attachment string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "File an issue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := principal(ctx, e)
				if err != nil {
					return err
				}
				if attachment != "" {
					opts.Attachment = &attachment
				}
				i, err := e.CreateIssue(ctx, opts, p)
				if err != nil {
					return err
				}
				return printJSONOrTable(i)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "issue title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "issue description")
	cmd.Flags().StringVar(&opts.Severity, "severity", "", "LOW, MEDIUM, HIGH or CRITICAL")
	cmd.Flags().StringVar(&attachment, "attachment", "", "attachment reference")
	cmd.Flags().StringVar(&opts.AttachmentName, "attachment-name", "", "attachment display name")
	return cmd
}

func issueListCmd() *cobra.Command {
	var f repo.IssueFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List issues",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := principal(ctx, e)
				if err != nil {
					return err
				}
				items, err := e.ListIssues(ctx, f, p)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Severity", "Created By"})
				for _, i := range items {
					tw.AppendRow(table.Row{i.ID, i.Title, i.Status, i.Severity, i.CreatedBy})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Severity, "severity", "", "severity filter")
	cmd.Flags().StringVar(&f.CreatedBy, "created-by", "", "creator filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func issueShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <issue-id>",
		Short: "Show an issue with comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := principal(ctx, e)
				if err != nil {
					return err
				}
				i, err := e.GetIssue(ctx, args[0], p)
				if err != nil {
					return err
				}
				comments, err := e.ListComments(ctx, i.ID, p)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"issue": i, "comments": comments})
			})
		},
	}
}

func issueUpdateCmd() *cobra.Command {
	var title, description, severity string
	cmd := &cobra.Command{
		Use:   "update <issue-id>",
		Short: "Edit issue fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := principal(ctx, e)
				if err != nil {
					return err
				}
				opts := engine.IssueUpdateOptions{ID: args[0]}
				if cmd.Flags().Changed("title") {
					opts.Title = &title
				}
				if cmd.Flags().Changed("description") {
					opts.Description = &description
				}
				if cmd.Flags().Changed("severity") {
					opts.Severity = &severity
				}
				i, err := e.UpdateIssue(ctx, opts, p)
				if err != nil {
					return err
				}
				return printJSONOrTable(i)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	cmd.Flags().StringVar(&severity, "severity", "", "new severity")
	return cmd
}

func issueTransitionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transition <issue-id> <status>",
		Short: "Move an issue through the workflow",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := principal(ctx, e)
				if err != nil {
					return err
				}
				i, err := e.Transition(ctx, args[0], domain.Status(strings.ToUpper(args[1])), p)
				if err != nil {
					return err
				}
				return printJSONOrTable(i)
			})
		},
	}
}

func issueDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <issue-id>",
		Short: "Delete an issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := principal(ctx, e)
				if err != nil {
					return err
				}
				return e.DeleteIssue(ctx, args[0], p)
			})
		},
	}
}

func issueCommentCmd() *cobra.Command {
	var content string
	cmd := &cobra.Command{
		Use:   "comment <issue-id>",
		Short: "Comment on an issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := principal(ctx, e)
				if err != nil {
					return err
				}
				c, err := e.AddComment(ctx, args[0], content, p)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&content, "content", "", "comment text")
	return cmd
}

func issueCommentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "comments <issue-id>",
		Short: "List an issue's comments oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := principal(ctx, e)
				if err != nil {
					return err
				}
				comments, err := e.ListComments(ctx, args[0], p)
				if err != nil {
					return err
				}
				return printJSONOrTable(comments)
			})
		},
	}
}

func tagCmd() *cobra.Command {
	tag := &cobra.Command{Use: "tag", Short: "Manage tags"}
	tag.AddCommand(tagCreateCmd())
	tag.AddCommand(tagListCmd())
	tag.AddCommand(tagDeleteCmd())
	return tag
}

func tagCreateCmd() *cobra.Command {
	var color string
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create tag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := principal(ctx, e)
				if err != nil {
					return err
				}
				t, err := e.CreateTag(ctx, args[0], color, p)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&color, "color", "", "hex color, e.g. #ff0000")
	return cmd
}

func tagListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tags",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := principal(ctx, e)
				if err != nil {
					return err
				}
				tags, err := e.ListTags(ctx, p)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tags)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Color"})
				for _, t := range tags {
					tw.AppendRow(table.Row{t.ID, t.Name, t.Color})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func tagDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <tag-id>",
		Short: "Delete tag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := principal(ctx, e)
				if err != nil {
					return err
				}
				return e.DeleteTag(ctx, args[0], p)
			})
		},
	}
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Event log"}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var limit int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Newest events first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, limit, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Type", "Entity", "Actor", "Payload"})
				for _, ev := range events {
					tw.AppendRow(table.Row{ev.TS, ev.Type, ev.EntityKind + "/" + ev.EntityID, ev.ActorID, ev.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind filter")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id filter")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Issue counts by workflow status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				counts, err := e.Repo.CountIssuesByStatus(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(counts)
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, cfg, err := app.Open(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer conn.Close()
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret: os.Getenv("REDLINE_JWT_SECRET"),
				TokenTTL:  time.Duration(cfg.Auth.TokenTTLMinutes) * time.Minute,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("REDLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Redline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}
