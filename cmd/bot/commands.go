package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/eddiefleurent/wheelbot/internal/broker"
	"github.com/eddiefleurent/wheelbot/internal/config"
	"github.com/eddiefleurent/wheelbot/internal/logging"
	"github.com/eddiefleurent/wheelbot/internal/models"
	"github.com/eddiefleurent/wheelbot/internal/retry"
	"github.com/eddiefleurent/wheelbot/internal/storage"
	"github.com/eddiefleurent/wheelbot/internal/strategy"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const liveConfirmDelay = 10 * time.Second

type rootOptions struct {
	configPath string
	envFile    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "wheelbot",
		Short:         "Cash-secured put / covered call wheel for Interactive Brokers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "config.yaml", "Path to configuration file")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Optional .env file loaded before the config")

	root.AddCommand(newRunCmd(opts), newSelectCmd(opts), newStateCmd(opts))
	return root
}

func (o *rootOptions) load() (*config.Config, error) {
	if err := config.LoadDotEnv(o.envFile); err != nil {
		return nil, err
	}
	return config.Load(o.configPath)
}

// newLogger builds the configured logger. Console output goes to w when set
// so that commands printing results can keep stdout clean.
func newLogger(cfg *config.Config, w io.Writer) (*logrus.Logger, io.Closer, error) {
	if w == nil {
		w = os.Stdout
	}
	logger, closer, err := logging.NewWithConsole(cfg.LoggingConfig(), w)
	if err != nil {
		return nil, nil, fmt.Errorf("creating logger: %w", err)
	}
	return logger, closer, nil
}

// runFlags are the run command's overrides of the config file.
type runFlags struct {
	symbols []string
	delta   float64
	dteMin  int
	dteMax  int
	markup  float64
	dry     bool
	noDry   bool
	loop    int
	live    bool
	broker  string
}

// apply copies every flag that was set on the command line into cfg and
// re-validates it.
func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	fs := cmd.Flags()
	if fs.Changed("symbol") {
		cfg.Strategy.Tickers = append([]string(nil), f.symbols...)
	}
	if fs.Changed("delta") {
		cfg.Strategy.TargetDelta = f.delta
	}
	if fs.Changed("dte-min") || fs.Changed("dte-max") {
		put := append([]int(nil), cfg.Strategy.PutDTE...)
		call := append([]int(nil), cfg.Strategy.CallDTE...)
		if len(put) != 2 || len(call) != 2 {
			return fmt.Errorf("strategy DTE windows must be [min,max]")
		}
		if fs.Changed("dte-min") {
			put[0], call[0] = f.dteMin, f.dteMin
		}
		if fs.Changed("dte-max") {
			put[1], call[1] = f.dteMax, f.dteMax
		}
		cfg.Strategy.PutDTE, cfg.Strategy.CallDTE = put, call
	}
	if fs.Changed("markup") {
		cfg.Strategy.Markup = f.markup
	}
	if f.dry {
		cfg.Run.DryRun = true
	}
	if f.noDry {
		cfg.Run.DryRun = false
	}
	if fs.Changed("loop") {
		cfg.Run.LoopIntervalSec = f.loop
	}
	if f.live {
		cfg.Broker.MarketDataMode = int(broker.MarketDataLive)
	}
	if fs.Changed("broker") {
		cfg.Broker.Provider = f.broker
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	return nil
}

// register defines the override flags on cmd.
func (f *runFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringSliceVar(&f.symbols, "symbol", nil, "Symbol to trade (repeatable or comma-separated)")
	fs.Float64Var(&f.delta, "delta", 0, "Target put delta")
	fs.IntVar(&f.dteMin, "dte-min", 0, "Minimum days to expiry")
	fs.IntVar(&f.dteMax, "dte-max", 0, "Maximum days to expiry")
	fs.Float64Var(&f.markup, "markup", 0, "Markup over theoretical value")
	fs.BoolVar(&f.dry, "dry", false, "Log orders instead of placing them")
	fs.BoolVar(&f.noDry, "no-dry", false, "Place orders")
	fs.IntVar(&f.loop, "loop", 0, "Seconds between passes (0 runs once)")
	fs.BoolVar(&f.live, "live", false, "Request live market data (mode 1)")
	fs.StringVar(&f.broker, "broker", "", "Broker provider: ibkr or mock")
	cmd.MarkFlagsMutuallyExclusive("dry", "no-dry")
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run wheel cycles for the configured symbols",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if err := flags.apply(cmd, cfg); err != nil {
				return err
			}
			return runBot(cmd.Context(), cfg)
		},
	}
	flags.register(cmd)
	return cmd
}

func runBot(ctx context.Context, cfg *config.Config) error {
	logger, closer, err := newLogger(cfg, nil)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	if cfg.IsPaperTrading() {
		logger.Info("PAPER TRADING MODE - No real money at risk")
	} else {
		logger.Warnf("LIVE TRADING MODE - Real money at risk! Waiting %s to confirm...", liveConfirmDelay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(liveConfirmDelay):
		}
	}

	store, err := storage.NewStorage(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Errorf("Closing storage: %v", cerr)
		}
	}()

	bot := NewBot(cfg, buildGateway(cfg, logger), store, logger, nil)
	if err := bot.Run(ctx); err != nil {
		logger.Errorf("Bot error: %v", err)
		return err
	}
	logger.Info("Bot stopped successfully")
	return nil
}

func newSelectCmd(opts *rootOptions) *cobra.Command {
	var symbol, right, provider string
	cmd := &cobra.Command{
		Use:   "select",
		Short: "Print the option the strategy would sell, without placing an order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := models.ParseRight(right)
			if err != nil {
				return err
			}
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if provider != "" {
				cfg.Broker.Provider = provider
			}
			cfg.Strategy.Tickers = []string{symbol}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger, closer, err := newLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = closer.Close() }()

			ctx := cmd.Context()
			gw := buildGateway(cfg, logger)
			if err := gw.Ping(ctx); err != nil {
				return fmt.Errorf("verifying broker session: %w", err)
			}
			if err := gw.SetMarketDataMode(ctx, broker.MarketDataMode(cfg.Broker.MarketDataMode)); err != nil {
				return fmt.Errorf("setting market data mode: %w", err)
			}
			_, err = runSelect(ctx, cmd.OutOrStdout(), gw, cfg, cfg.Strategy.Tickers[0], r, nil, logger)
			return err
		},
	}
	cmd.Flags().StringVar(&symbol, "symbol", "", "Underlying symbol")
	cmd.Flags().StringVar(&right, "right", "P", "Option right: P or C")
	cmd.Flags().StringVar(&provider, "broker", "", "Broker provider: ibkr or mock")
	_ = cmd.MarkFlagRequired("symbol")
	return cmd
}

// runSelect resolves spot, volatility and the chain for symbol and prints
// the chosen candidate with the limit price a sale would use.
func runSelect(ctx context.Context, out io.Writer, gw broker.Gateway, cfg *config.Config, symbol string, right models.Right, clock retry.Clock, logger logrus.FieldLogger) (models.OptionCandidate, error) {
	sc := cfg.StrategyConfig()
	leg := sc.Put
	if right == models.RightCall {
		leg = sc.Call
	}
	ctrl := strategy.NewController(gw, nil, sc,
		strategy.WithClock(clock),
		strategy.WithMarketData(cfg.MarketDataConfig()),
		strategy.WithLogger(logger),
		strategy.WithComposer(cfg.Composer()),
	)

	stock, err := gw.ResolveStock(ctx, symbol)
	if err != nil {
		return models.OptionCandidate{}, fmt.Errorf("resolving %s: %w", symbol, err)
	}
	cand, err := ctrl.Selector().SelectStrike(ctx, stock, leg, right)
	if err != nil {
		return models.OptionCandidate{}, fmt.Errorf("selecting %s %s: %w", stock.Symbol, right, err)
	}

	limit := cfg.Composer().ComposeLimit(cand.TheoreticalPrice, sc.Markup, models.ActionSell)
	fmt.Fprintf(out, "%s %s %s (%d DTE) strike %.2f\n",
		cand.Symbol, cand.Right, cand.Expiry.Format("2006-01-02"), cand.DTE, cand.Strike)
	fmt.Fprintf(out, "  spot %.2f  vol %.1f%%  model delta %.3f  theo %.2f\n",
		cand.Spot, cand.Volatility*100, cand.ModelDelta, cand.TheoreticalPrice)
	fmt.Fprintf(out, "  limit (markup %.0f%%): %.2f\n", sc.Markup*100, limit)
	return cand, nil
}

func newStateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Print the persisted per-symbol state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			store, err := storage.NewStorage(cfg.Storage.Backend, cfg.Storage.Path)
			if err != nil {
				return fmt.Errorf("opening storage: %w", err)
			}
			defer func() { _ = store.Close() }()
			return printState(cmd.OutOrStdout(), store)
		},
	}
}

func printState(out io.Writer, store storage.Interface) error {
	states := store.All()
	if len(states) == 0 {
		_, err := fmt.Fprintln(out, "no persisted state")
		return err
	}
	data, err := json.MarshalIndent(states, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}
