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

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"lexline/internal/ai"
	"lexline/internal/config"
	"lexline/internal/credit"
	"lexline/internal/db"
	"lexline/internal/domain"
	"lexline/internal/migrate"
	"lexline/internal/repo"
	"lexline/internal/server"
	"lexline/internal/wizard"
)

var rootCmd = &cobra.Command{
	Use:   "lx",
	Short: "Lexline CLI",
	Long: `Lexline drafts legal documents through a step-validated wizard.
- Workspace: the .lexline directory holding the database; lexline.yml holds config.
- Accounts: per-firm credit accounts; each successful generation costs one credit.
- Sessions: in-memory wizard runs (party -> area -> facts -> process -> theses -> review -> generation -> final).
- Documents: finished drafts, persisted once a generation succeeds.
- Event log: diary of account and generation activity, view with 'lx log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
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
	viper.SetEnvPrefix("LEXLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(accountCmd())
	rootCmd.AddCommand(clientCmd())
	rootCmd.AddCommand(documentCmd())
	rootCmd.AddCommand(draftCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default lexline.yml and initialize the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			fmt.Printf("wrote %s and initialized %s\n", path, db.Path(workspace))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config")
	return cmd
}

// --- accounts ---

func accountCmd() *cobra.Command {
	acc := &cobra.Command{Use: "account", Short: "Manage credit accounts"}
	acc.AddCommand(accountCreateCmd())
	acc.AddCommand(accountListCmd())
	acc.AddCommand(accountShowCmd())
	acc.AddCommand(accountTopupCmd())
	acc.AddCommand(accountPlanCmd())
	return acc
}

func accountCreateCmd() *cobra.Command {
	var id, owner, plan string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a credit account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConfigAndRepo(cmd.Context(), func(ctx context.Context, cfg *config.Config, r repo.Repo) error {
				if owner == "" {
					owner = viper.GetString("actor-id")
				}
				if plan == "" {
					plan = cfg.Credits.DefaultPlan
				}
				allowance, ok := cfg.PlanAllowance(plan)
				if !ok {
					return fmt.Errorf("unknown plan %q", plan)
				}
				if id == "" {
					id = uuid.New().String()
				}
				now := time.Now().UTC().Format(time.RFC3339)
				account := domain.CreditAccount{
					ID:        id,
					OwnerID:   owner,
					Plan:      plan,
					Balance:   allowance,
					CreatedAt: now,
					UpdatedAt: now,
				}
				if err := r.InsertAccount(ctx, account); err != nil {
					return err
				}
				return printJSONOrTable(account)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "account id (generated when empty)")
	cmd.Flags().StringVar(&owner, "owner", "", "owner actor id (defaults to --actor-id)")
	cmd.Flags().StringVar(&plan, "plan", "", "plan name (defaults to config default)")
	return cmd
}

func accountListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List credit accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				accounts, err := r.ListAccounts(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(accounts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Owner", "Plan", "Balance"})
				for _, a := range accounts {
					balance := fmt.Sprintf("%d", a.Balance)
					if a.Unlimited() {
						balance = "unlimited"
					}
					tw.AppendRow(table.Row{a.ID, a.OwnerID, a.Plan, balance})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func accountShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a credit account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				account, err := r.GetAccount(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(account)
			})
		},
	}
	return cmd
}

func accountTopupCmd() *cobra.Command {
	var amount int64
	cmd := &cobra.Command{
		Use:   "topup <id>",
		Short: "Add credits to an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if amount <= 0 {
				return fmt.Errorf("--amount must be positive")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				account, err := r.GetAccount(ctx, args[0])
				if err != nil {
					return err
				}
				if account.Unlimited() {
					return fmt.Errorf("account %s is unlimited", account.ID)
				}
				if err := r.SetAccountBalance(ctx, account.ID, account.Balance+amount, account.ResetAt); err != nil {
					return err
				}
				account, err = r.GetAccount(ctx, account.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(account)
			})
		},
	}
	cmd.Flags().Int64Var(&amount, "amount", 0, "credits to add")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func accountPlanCmd() *cobra.Command {
	var plan string
	cmd := &cobra.Command{
		Use:   "plan <id>",
		Short: "Change an account's plan, resetting its balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConfigAndRepo(cmd.Context(), func(ctx context.Context, cfg *config.Config, r repo.Repo) error {
				allowance, ok := cfg.PlanAllowance(plan)
				if !ok {
					return fmt.Errorf("unknown plan %q", plan)
				}
				if err := r.SetAccountPlan(ctx, args[0], plan, allowance); err != nil {
					return err
				}
				account, err := r.GetAccount(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(account)
			})
		},
	}
	cmd.Flags().StringVar(&plan, "plan", "", "plan name")
	_ = cmd.MarkFlagRequired("plan")
	return cmd
}

// --- clients ---

func clientCmd() *cobra.Command {
	cli := &cobra.Command{Use: "client", Short: "Manage the client directory"}
	cli.AddCommand(clientAddCmd())
	cli.AddCommand(clientListCmd())
	return cli
}

func clientAddCmd() *cobra.Command {
	var account, name, taxID, address, city, state string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a client directory entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if _, err := r.GetAccount(ctx, account); err != nil {
					return fmt.Errorf("resolve account: %w", err)
				}
				rec := domain.ClientRecord{
					ID:        uuid.New().String(),
					AccountID: account,
					Name:      name,
					TaxID:     taxID,
					Address:   address,
					City:      city,
					State:     state,
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertClient(ctx, rec); err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "account id")
	cmd.Flags().StringVar(&name, "name", "", "client name")
	cmd.Flags().StringVar(&taxID, "tax-id", "", "tax id")
	cmd.Flags().StringVar(&address, "address", "", "address")
	cmd.Flags().StringVar(&city, "city", "", "city")
	cmd.Flags().StringVar(&state, "state", "", "state")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func clientListCmd() *cobra.Command {
	var account string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List client directory entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				clients, err := r.ListClients(ctx, account)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(clients)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "City", "State"})
				for _, c := range clients {
					tw.AppendRow(table.Row{c.ID, c.Name, c.City, c.State})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "account id")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

// --- documents ---

func documentCmd() *cobra.Command {
	doc := &cobra.Command{Use: "document", Short: "Browse generated documents"}
	doc.AddCommand(documentListCmd())
	doc.AddCommand(documentShowCmd())
	return doc
}

func documentListCmd() *cobra.Command {
	var account string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List documents, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				docs, err := r.ListDocumentsWithCursor(ctx, account, limit, "", "")
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(docs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Area", "Type", "Created"})
				for _, d := range docs {
					tw.AppendRow(table.Row{d.ID, d.Title, d.Area, d.DocType, d.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "account id")
	cmd.Flags().IntVar(&limit, "n", 20, "number of documents")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func documentShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a document's full text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				doc, err := r.GetDocument(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(doc)
				}
				fmt.Println(doc.Text)
				return nil
			})
		},
	}
	return cmd
}

// --- draft (full wizard run) ---

func draftCmd() *cobra.Command {
	var account, area, docType, facts, requests string
	var parties, theses []string
	cmd := &cobra.Command{
		Use:   "draft",
		Short: "Run the wizard end to end and print the generated document",
		Long: `Runs a full wizard session synchronously: parties, area, facts,
review, then generation. Consumes one credit on success. Parties are
"Name=role" pairs, e.g. --party "Acme Corp=plaintiff".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(parties) == 0 {
				return fmt.Errorf("at least one --party required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *wizard.Engine) error {
				actor := viper.GetString("actor-id")
				snap, err := e.OpenSession(ctx, account, actor)
				if err != nil {
					return err
				}
				sessionID := snap.ID
				for _, spec := range parties {
					name, role, err := splitPartySpec(spec)
					if err != nil {
						return err
					}
					if _, err := e.AddParty(ctx, sessionID, domain.Party{
						Name:   name,
						Role:   role,
						Origin: domain.OriginManual,
					}); err != nil {
						return err
					}
				}
				if _, err := e.SetArea(ctx, sessionID, area, docType); err != nil {
					return err
				}
				if _, err := e.SetFacts(ctx, sessionID, facts, requests); err != nil {
					return err
				}
				if len(theses) > 0 {
					if _, err := e.SetTheses(ctx, sessionID, theses, nil); err != nil {
						return err
					}
				}
				// Walk forward to review, stopping at the first invalid step.
				for i := 0; i < len(domain.Steps); i++ {
					res, snap, err := e.GoNext(ctx, sessionID)
					if err != nil {
						return err
					}
					if !res.Valid {
						return fmt.Errorf("step %s invalid: %s", snap.Step, strings.Join(res.Errors, "; "))
					}
					if snap.Step == domain.StepReview {
						break
					}
				}
				if _, err := e.StartGeneration(ctx, sessionID); err != nil {
					return err
				}
				final, err := e.WaitForJob(ctx, sessionID)
				if err != nil {
					return err
				}
				if final.Step != domain.StepFinal {
					return fmt.Errorf("generation failed: %s", final.LastFailure)
				}
				if viper.GetBool("json") {
					return printJSON(final)
				}
				fmt.Println(final.Text)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "account id")
	cmd.Flags().StringArrayVar(&parties, "party", nil, `party as "Name=role"`)
	cmd.Flags().StringVar(&area, "area", "", "legal area")
	cmd.Flags().StringVar(&docType, "doc-type", "", "document type")
	cmd.Flags().StringVar(&facts, "facts", "", "facts narrative")
	cmd.Flags().StringVar(&requests, "requests", "", "specific requests")
	cmd.Flags().StringArrayVar(&theses, "thesis", nil, "legal thesis (repeatable)")
	_ = cmd.MarkFlagRequired("account")
	_ = cmd.MarkFlagRequired("area")
	_ = cmd.MarkFlagRequired("doc-type")
	_ = cmd.MarkFlagRequired("facts")
	return cmd
}

func splitPartySpec(spec string) (string, domain.Role, error) {
	name, roleStr, found := strings.Cut(spec, "=")
	if !found || strings.TrimSpace(name) == "" {
		return "", "", fmt.Errorf(`party %q must be "Name=role"`, spec)
	}
	role := domain.Role(strings.TrimSpace(roleStr))
	if err := domain.ValidateRole(role); err != nil {
		return "", "", err
	}
	return strings.TrimSpace(name), role, nil
}

// --- event log ---

func logCmd() *cobra.Command {
	lg := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of account, session, and generation activity.",
	}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var account string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.ListEvents(ctx, account, n, 0)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&account, "account", "", "account id filter")
	return cmd
}

// --- api keys ---

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	cmd.AddCommand(apikeyCreateCmd())
	cmd.AddCommand(apikeyListCmd())
	cmd.AddCommand(apikeyDeleteCmd())
	return cmd
}

func apikeyCreateCmd() *cobra.Command {
	var actor, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Mint an API key; the plaintext value is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				actor = viper.GetString("actor-id")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				plaintext := "lx_" + strings.ReplaceAll(uuid.New().String(), "-", "")
				key := domain.APIKey{
					ID:        uuid.New().String(),
					ActorID:   actor,
					Name:      name,
					KeyHash:   repo.HashAPIKey(plaintext),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{
					"id":       key.ID,
					"actor_id": key.ActorID,
					"name":     key.Name,
					"key":      plaintext,
				})
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor id (defaults to --actor-id)")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor id filter")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

// --- serve ---

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacy, devLogin bool
	var adminActors []string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			gate := credit.New(conn, cfg.ReservationTTL())
			engine := wizard.New(conn, cfg, gate, backendFromConfig(cfg))

			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("LEXLINE_JWT_SECRET"),
				AllowLegacyActorHeader: allowLegacy,
				EnableDevLogin:         devLogin,
				AdminActors:            adminActors,
			}
			if authCfg.JWTSecret == "" && !allowLegacy {
				return fmt.Errorf("LEXLINE_JWT_SECRET is required for bearer auth (or pass --allow-legacy-actor-header)")
			}
			handler, err := server.New(server.Config{
				Engine:   engine,
				Repo:     repo.Repo{DB: conn},
				Gate:     gate,
				BasePath: basePath,
				Auth:     authCfg,
			})
			if err != nil {
				return err
			}

			sweepCtx, stopSweep := context.WithCancel(cmd.Context())
			defer stopSweep()
			go gate.SweepLoop(sweepCtx, time.Minute)

			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Lexline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&allowLegacy, "allow-legacy-actor-header", false, "accept unauthenticated X-Actor-Id (dev only)")
	cmd.Flags().BoolVar(&devLogin, "enable-dev-login", false, "expose POST /auth/dev/login (dev only)")
	cmd.Flags().StringSliceVar(&adminActors, "admin-actor", nil, "actor ids granted the admin role")
	return cmd
}

// --- helpers ---

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func withConfigAndRepo(ctx context.Context, fn func(context.Context, *config.Config, repo.Repo) error) error {
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	return withRepo(ctx, func(ctx context.Context, r repo.Repo) error {
		return fn(ctx, cfg, r)
	})
}

func withEngine(ctx context.Context, fn func(context.Context, *wizard.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	gate := credit.New(conn, cfg.ReservationTTL())
	return fn(ctx, wizard.New(conn, cfg, gate, backendFromConfig(cfg)))
}

func backendFromConfig(cfg *config.Config) ai.Backend {
	if cfg.AI.Mode == "http" {
		return ai.HTTPBackend{BaseURL: cfg.AI.BaseURL, Timeout: cfg.AITimeout()}
	}
	return ai.Scripted{Delay: 50 * time.Millisecond}
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
