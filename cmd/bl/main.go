package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"bidline/internal/app"
	"bidline/internal/auction"
	"bidline/internal/config"
	"bidline/internal/db"
	"bidline/internal/domain"
	"bidline/internal/engine"
	"bidline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "bl",
	Short: "Bidline CLI",
	Long: `Bidline runs real-time auctions with proxy bidding.
Core concepts:
- Workspace: a directory holding the .bidline database and an optional bidline.yml.
- Auction: scheduled -> active -> ended -> settled. Ended auctions record why (expired, buy_now, cancelled).
- Bid: every submission lands in the ledger, rejected ones included, with a per-auction sequence number.
- Proxy agent: a standing bid up to a ceiling that answers rivals automatically, one increment at a time.
- Soft close: bids near the end push the end time out, up to a configured number of times.
- Event log: everything that happened, view with 'bl log tail'.`,
	SilenceUsage: true,
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
	viper.SetEnvPrefix("BIDLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().Bool("admin", false, "act with the admin role")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("admin", rootCmd.PersistentFlags().Lookup("admin"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(auctionCmd())
	rootCmd.AddCommand(bidCmd())
	rootCmd.AddCommand(proxyCmd())
	rootCmd.AddCommand(ledgerCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "bidline.yml tunes bidding, soft close, the scheduler, the journal and webhooks. Missing files fall back to defaults.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default bidline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate bidline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func auctionCmd() *cobra.Command {
	a := &cobra.Command{Use: "auction", Short: "Manage auctions"}
	a.AddCommand(auctionCreateCmd())
	a.AddCommand(auctionListCmd())
	a.AddCommand(auctionShowCmd())
	a.AddCommand(auctionStartCmd())
	a.AddCommand(auctionCancelCmd())
	a.AddCommand(auctionSettleCmd())
	return a
}

func auctionCreateCmd() *cobra.Command {
	var opts engine.AuctionCreateOptions
	var starting, reserve, buyNow, increment string
	var duration time.Duration
	var startIn time.Duration
	var autoExtend bool
	var maxExt int
	var window, length time.Duration
	cmd := &cobra.Command{
		Use:   "create",
		Short: "List a new auction; the actor is the seller",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if opts.StartingPrice, err = decimal.NewFromString(starting); err != nil {
				return fmt.Errorf("invalid --starting-price: %w", err)
			}
			if opts.ReservePrice, err = optionalDecimal("reserve", reserve); err != nil {
				return err
			}
			if opts.BuyNowPrice, err = optionalDecimal("buy-now", buyNow); err != nil {
				return err
			}
			if opts.MinIncrement, err = optionalDecimal("increment", increment); err != nil {
				return err
			}
			if cmd.Flags().Changed("auto-extend") {
				opts.AutoExtend = &autoExtend
			}
			if cmd.Flags().Changed("max-extensions") {
				opts.MaxExtensions = &maxExt
			}
			opts.ExtensionWindow = window
			opts.ExtensionLength = length
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				now := time.Now().UTC()
				opts.StartTime = now.Add(startIn)
				opts.EndTime = opts.StartTime.Add(duration)
				opts.SellerID = viper.GetString("actor-id")
				opts.ActorID = opts.SellerID
				a, err := w.Engine.CreateAuction(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "auction id (generated when empty)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&starting, "starting-price", "", "starting price")
	cmd.Flags().StringVar(&reserve, "reserve", "", "reserve price")
	cmd.Flags().StringVar(&buyNow, "buy-now", "", "buy-now price")
	cmd.Flags().StringVar(&increment, "increment", "", "minimum increment (config default when empty)")
	cmd.Flags().DurationVar(&startIn, "start-in", 0, "delay before the auction opens")
	cmd.Flags().DurationVar(&duration, "duration", 24*time.Hour, "how long the auction runs")
	cmd.Flags().BoolVar(&autoExtend, "auto-extend", true, "extend on late bids")
	cmd.Flags().DurationVar(&window, "extension-window", 0, "late-bid window (config default when zero)")
	cmd.Flags().DurationVar(&length, "extension-length", 0, "extension length (config default when zero)")
	cmd.Flags().IntVar(&maxExt, "max-extensions", 0, "extension cap")
	_ = cmd.MarkFlagRequired("starting-price")
	return cmd
}

func auctionListCmd() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List auctions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				items, err := w.Engine.ListAuctions(ctx, status, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Price", "Winner", "Bids", "Ends"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.ID, a.Title, a.Status, a.CurrentPrice.String(), a.WinnerID, a.BidCount, a.EndTime.Format(time.RFC3339)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func auctionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <auction-id>",
		Short: "Show live auction state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				snap, err := w.Engine.GetAuctionSnapshot(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(snap)
			})
		},
	}
}

func auctionStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <auction-id>",
		Short: "Open a scheduled auction now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				snap, err := w.Engine.StartAuction(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(snap)
			})
		},
	}
}

func auctionCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <auction-id>",
		Short: "Cancel an auction (seller or --admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				snap, err := w.Engine.CancelAuction(ctx, args[0], viper.GetString("actor-id"), viper.GetBool("admin"))
				if err != nil {
					return err
				}
				return printJSONOrTable(snap)
			})
		},
	}
}

func auctionSettleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "settle <auction-id>",
		Short: "Hand an ended auction off to payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				st, err := w.Engine.SettleAuction(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	}
}

func bidCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bid <auction-id> <amount>",
		Short: "Place a bid as the actor",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(args[1])
			if err != nil {
				return fmt.Errorf("invalid amount %q", args[1])
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				res, err := w.Engine.SubmitBid(ctx, engine.BidRequest{
					AuctionID: args[0],
					BidderID:  viper.GetString("actor-id"),
					Amount:    amount,
				})
				if err != nil {
					var ae *auction.Error
					if errors.As(err, &ae) && ae.Minimum != nil {
						return fmt.Errorf("%s (minimum bid %s)", ae.Code, ae.Minimum.String())
					}
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
}

func proxyCmd() *cobra.Command {
	p := &cobra.Command{
		Use:   "proxy",
		Short: "Manage your proxy agent",
		Long:  "A proxy agent bids for you, one step over each rival, until its ceiling.",
	}
	p.AddCommand(proxySetCmd())
	p.AddCommand(proxyUpdateCmd())
	p.AddCommand(proxyCancelCmd())
	p.AddCommand(proxyListCmd())
	return p
}

func proxySetCmd() *cobra.Command {
	var increment, strategy string
	cmd := &cobra.Command{
		Use:   "set <auction-id> <ceiling>",
		Short: "Register a proxy agent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ceiling, err := decimal.NewFromString(args[1])
			if err != nil {
				return fmt.Errorf("invalid ceiling %q", args[1])
			}
			inc, err := optionalDecimal("increment", increment)
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				res, err := w.Engine.SetProxyAgent(ctx, args[0], auction.ProxyRequest{
					BidderID:  viper.GetString("actor-id"),
					Ceiling:   ceiling,
					Increment: inc,
					Strategy:  domain.Strategy(strategy),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(res.Agent)
			})
		},
	}
	cmd.Flags().StringVar(&increment, "increment", "", "agent increment (auction increment when empty)")
	cmd.Flags().StringVar(&strategy, "strategy", "conservative", "conservative, aggressive or adaptive")
	return cmd
}

func proxyUpdateCmd() *cobra.Command {
	var ceiling, increment, strategy string
	cmd := &cobra.Command{
		Use:   "update <auction-id>",
		Short: "Change your active proxy agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			upd := auction.ProxyUpdate{BidderID: viper.GetString("actor-id")}
			var err error
			if upd.Ceiling, err = optionalDecimal("ceiling", ceiling); err != nil {
				return err
			}
			if upd.Increment, err = optionalDecimal("increment", increment); err != nil {
				return err
			}
			if cmd.Flags().Changed("strategy") {
				s := domain.Strategy(strategy)
				upd.Strategy = &s
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				res, err := w.Engine.UpdateProxyAgent(ctx, args[0], upd)
				if err != nil {
					return err
				}
				return printJSONOrTable(res.Agent)
			})
		},
	}
	cmd.Flags().StringVar(&ceiling, "ceiling", "", "new ceiling")
	cmd.Flags().StringVar(&increment, "increment", "", "new increment")
	cmd.Flags().StringVar(&strategy, "strategy", "", "new strategy")
	return cmd
}

func proxyCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <auction-id>",
		Short: "Deactivate your proxy agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				res, err := w.Engine.CancelProxyAgent(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(res.Agent)
			})
		},
	}
}

func proxyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <auction-id>",
		Short: "List proxy agents of an auction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				agents, err := w.Engine.ProxyAgents(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(agents)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Bidder", "Ceiling", "Strategy", "Bids", "Active", "Exhausted"})
				for _, p := range agents {
					tw.AppendRow(table.Row{p.BidderID, p.Ceiling.String(), p.Strategy, p.BidsPlaced, p.Active, p.Exhausted})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func ledgerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ledger <auction-id>",
		Short: "Show the bid ledger in commit order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				bids, err := w.Engine.Ledger(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(bids)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Seq", "Bidder", "Amount", "Origin", "Outcome", "Reason", "Winning"})
				for _, b := range bids {
					winning := ""
					if b.Winning {
						winning = "*"
					}
					outcome := string(b.Outcome)
					if b.Cancelled {
						outcome += " (cancelled)"
					}
					tw.AppendRow(table.Row{b.Seq, b.BidderID, b.Amount.String(), b.Origin, outcome, b.RejectReason, winning})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Everything that happened: bids, outbids, extensions, proxy changes and lifecycle transitions.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var auctionID, evtType string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				events, err := w.Engine.Repo.LatestEventsFrom(ctx, n, 0, auctionID, evtType)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Auction", "Actor"})
				for _, e := range events {
					tw.AppendRow(table.Row{e.ID, e.TS.Format(time.RFC3339), e.Type, e.AuctionID, e.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&auctionID, "auction", "", "auction id filter")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	return cmd
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Start and close auctions whose time has come, once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				started, ended, err := engine.NewScheduler(w.Engine).Sweep(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]int{"started": started, "ended": ended})
			})
		},
	}
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the actor",
		Long:  "Signs an HS256 token with BIDLINE_JWT_SECRET. --admin adds the admin role.",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("BIDLINE_JWT_SECRET is required")
			}
			var roles []string
			if viper.GetBool("admin") {
				roles = append(roles, server.RoleAdmin)
			}
			token, err := server.SignToken(secret, viper.GetString("actor-id"), roles, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime (0 for none)")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var legacyHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server, scheduler and webhooks",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("BIDLINE_JWT_SECRET is required for bearer auth")
			}
			log, err := newLogger(viper.GetString("log-level"))
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			w, err := app.Open(ctx, viper.GetString("workspace"), log)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := w.Close(context.Background()); cerr != nil {
					log.Error("close workspace", zap.Error(cerr))
				}
			}()

			handler, err := server.New(server.Config{
				Engine:   w.Engine,
				BasePath: basePath,
				Auth:     server.AuthConfig{JWTSecret: secret, AllowLegacyActorHeader: legacyHeader},
				Log:      log,
			})
			if err != nil {
				return err
			}
			go engine.NewScheduler(w.Engine).Run(ctx)
			server.StartWebhookDispatcher(ctx, w.Engine, log)

			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			fmt.Printf("Serving Bidline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&legacyHeader, "allow-actor-header", false, "accept X-Actor-Id without a token")
	return cmd
}

// --- helpers ---

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", level)
	}
	cfg := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func withWorkspace(ctx context.Context, fn func(context.Context, *app.Workspace) error) error {
	log, err := newLogger(viper.GetString("log-level"))
	if err != nil {
		return err
	}
	defer log.Sync()
	w, err := app.Open(ctx, viper.GetString("workspace"), log)
	if err != nil {
		return err
	}
	err = fn(ctx, w)
	// Queued ledger writes must land before the process exits.
	if cerr := w.Close(context.Background()); cerr != nil {
		err = errors.Join(err, cerr)
	}
	return err
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

func optionalDecimal(name, raw string) (*decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s: %w", name, err)
	}
	return &d, nil
}
