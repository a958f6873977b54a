package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"follower/bus"
	"follower/config"
	"follower/journal"
	"follower/market"
	"follower/sim"
	"follower/watcher"
	"follower/watcher/follower"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a trade against a scripted quote tape",
	Long: `Run one trade lifecycle using settings from a configuration file.

The config names the trade to enter, the simulated instrument, and a quote
tape. The tape is fed to the broker simulator step by step; the controller
reacts exactly as it would against a live feed.

Example:
  follower run -f examples/long-stopout.yaml`,
	RunE: runRun,
}

var runConfigPath string

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runConfigPath, "config", "f", "", "path to YAML config file (required)")
	runCmd.MarkFlagRequired("config")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(runConfigPath)
	if err != nil {
		return err
	}

	logger, err := buildLogger(cfg.Log)
	if err != nil {
		return err
	}

	jnl, err := buildJournal(cfg.Journal)
	if err != nil {
		return fmt.Errorf("create journal: %w", err)
	}
	defer jnl.Close()

	engine := sim.NewEngine()
	engine.SetFutures(market.FuturesMeta{
		Symbol:      cfg.Trade.SymbolBroker,
		Description: cfg.Instrument.Description,
		TickSize:    cfg.Instrument.TickSize,
		TickValue:   cfg.Instrument.TickValue,
		Fee:         cfg.Instrument.Fee,
	})

	b := bus.New()
	b.Subscribe(bus.TopicStatus, bus.SubUpdate, func(a ...any) {
		fmt.Println(a[0])
	})
	b.Subscribe(bus.TopicState, bus.SubTransition, func(a ...any) {
		if len(a) >= 3 {
			fmt.Printf("== %v [%v contract(s)] %v\n", a[0], a[1], a[2])
		}
	})
	b.Subscribe(bus.TopicProfit, bus.SubUpdate, func(a ...any) {
		if len(a) >= 5 {
			fmt.Printf("   P/L %+.2f pts  trade $%.2f  total $%.2f  balance $%.2f  in trade %v\n",
				a[0], a[1], a[2], a[3], a[4])
		}
	})

	hot, _ := cfg.Trade.ParseHotInterval()
	f := follower.New(follower.Options{
		Gateway:     engine,
		Feed:        engine,
		Journal:     jnl,
		Bus:         b,
		Logger:      logger,
		HotInterval: hot,
	})
	defer f.Close()
	f.Arm(cfg.Trade.Armed)
	f.Start()

	params := watcher.Params{
		"limit_off":     cfg.Trade.LimitOff,
		"market_ord":    cfg.Trade.MarketOrd,
		"stop_off":      cfg.Trade.StopOff,
		"stop_off_even": cfg.Trade.StopOffEven,
		"hour_sigmoid":  cfg.Trade.HourSigmoid,
		"commissions":   cfg.Trade.Commissions,
	}
	if cfg.Trade.Side == "long" {
		f.Watcher().Enqueue(watcher.BuyCommand{
			Future:       cfg.Trade.Symbol,
			FutureBroker: cfg.Trade.SymbolBroker,
			Contracts:    cfg.Trade.Contracts,
			Params:       params,
		})
	} else {
		f.Watcher().Enqueue(watcher.SellShortCommand{
			Future:       cfg.Trade.Symbol,
			FutureBroker: cfg.Trade.SymbolBroker,
			Contracts:    cfg.Trade.Contracts,
			Params:       params,
		})
	}

	for _, step := range cfg.Scenario.Steps {
		delay, _ := step.ParseDelay()
		if delay > 0 {
			time.Sleep(delay)
		}
		q := market.Quote{
			Symbol:  cfg.Trade.Symbol,
			Bid:     step.Bid,
			Ask:     step.Ask,
			Last:    step.Last,
			BidSize: 1,
			AskSize: 1,
			Time:    time.Now(),
		}
		if q.Last == 0 {
			q.Last = q.Mid()
		}
		engine.UpdateQuote(q)
		// Orders rest under the broker's symbology.
		if cfg.Trade.SymbolBroker != cfg.Trade.Symbol {
			qb := q
			qb.Symbol = cfg.Trade.SymbolBroker
			engine.UpdateQuote(qb)
		}
	}

	// Tape exhausted. If the trade is still on, flatten it so the session
	// ends with closed books.
	if st, _ := f.Watcher().CurrentState(); st == watcher.StateHot {
		f.Watcher().Enqueue(watcher.GoFlatCommand{})
	}
	if err := waitForRest(f.Watcher(), 10*time.Second); err != nil {
		return err
	}

	f.Watcher().Shutdown()
	<-f.Watcher().Done()

	snap := f.Snapshot()
	fmt.Printf("\nSession complete.\n")
	fmt.Printf("  Total P/L: $%.2f\n", snap.TotalPL)
	fmt.Printf("  Balance:   $%.2f\n", snap.Balance)
	return nil
}

// waitForRest blocks until the controller settles in dormant or a terminal
// state.
func waitForRest(w *watcher.Watcher, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		st, _ := w.CurrentState()
		if st == watcher.StateDormant || st.Terminal() {
			if st.Terminal() {
				return fmt.Errorf("controller ended in state %s", st)
			}
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("controller stuck in state %s", st)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func buildLogger(lc config.LogConfig) (zerolog.Logger, error) {
	level := lc.Level
	if level == "" {
		level = "info"
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("log.level: %w", err)
	}
	var out = zerolog.New(os.Stderr)
	if lc.Pretty {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	}
	return out.Level(lvl).With().Timestamp().Logger(), nil
}

func buildJournal(jc config.JournalConfig) (journal.Journal, error) {
	switch jc.Type {
	case "sqlite":
		return journal.NewSQLite(jc.Path)
	case "csv":
		return journal.NewCSV(jc.Path)
	default:
		return journal.Nop{}, nil
	}
}
