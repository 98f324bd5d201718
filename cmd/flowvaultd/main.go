package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"flowvault/internal/clock"
	"flowvault/internal/config"
	"flowvault/internal/debug"
	"flowvault/internal/eventbus"
	"flowvault/internal/keeper"
	"flowvault/internal/model"
	"flowvault/internal/rules"
	"flowvault/internal/staking"
	"flowvault/internal/store"
	"flowvault/internal/vault"
	"flowvault/pkg/logx"
)

// engineID is the identity the engine presents to the vault. Bootstrap
// authorizes exactly this identity; anything else fails UnauthorizedExecutor.
const engineID model.AccountID = "automation-engine"

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfgPath); err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	mgr := config.NewManager(cfgPath, logx.NewConsole("info"))
	cfg, err := mgr.Load()
	if err != nil {
		return err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig(cfg.Logging.File),
	})
	defer logSvc.Close()

	st, err := store.Open(store.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: cfg.StorageBusyTimeout(),
	}, log)
	if err != nil {
		return err
	}
	defer st.Close()

	bus := eventbus.New()
	clk := clock.System()
	admin := model.AccountID(cfg.Vault.Admin)

	// Outbound settlement rail: not wired in this deployment, so payouts are
	// only logged. The ledger debit has already committed by the time this runs.
	payout := vault.PayoutFunc(func(_ context.Context, to model.AccountID, amount model.Amount) error {
		log.Info("payout issued", logx.String("to", string(to)), logx.Stringer("amount", amount))
		return nil
	})

	// Bootstrap order matters: vault first, then engine, then authorization.
	// Until SetAutomationEngine commits, every ExecuteTransfer fails.
	v := vault.New(st, bus, log.With(logx.String("component", "vault")), clk, payout, admin)
	adapter := staking.New(staking.NopDelegator(), bus,
		log.With(logx.String("component", "staking")), clk, "")
	eng := rules.NewEngine(st, bus, log.With(logx.String("component", "engine")),
		clk, engineID, v, rules.Options{Compounder: adapter})
	if err := v.SetAutomationEngine(admin, engineID); err != nil {
		return err
	}
	adapter.SetAutomationEngine(engineID)

	kp := keeper.New(keeper.Config{
		Enabled:    cfg.KeeperEnabled(),
		Schedule:   cfg.Keeper.Schedule,
		RatePerSec: cfg.Keeper.RatePerSec,
		Identity:   model.AccountID(cfg.Keeper.Identity),
	}, eng, log.With(logx.String("component", "keeper")), clk)
	if err := kp.Start(ctx); err != nil {
		return err
	}
	defer kp.Stop()

	// Tail committed audit records into the log for external observability.
	recs, unsub := bus.Subscribe(64)
	defer unsub()
	go func() {
		for rec := range recs {
			log.Info("audit",
				logx.String("kind", string(rec.Kind)),
				logx.String("account", string(rec.Account)),
				logx.Uint64("rule_id", rec.RuleID),
				logx.String("recipient", string(rec.Recipient)),
				logx.Stringer("amount", rec.Amount),
				logx.Stringer("balance", rec.Balance))
		}
	}()

	pprofSrv := debug.NewServer(log.With(logx.String("component", "pprof")))
	pprofSrv.Apply(ctx, debug.Config(cfg.Debug))
	defer pprofSrv.Stop(context.Background())

	// Re-apply logging and debug config on file change; other sections need
	// a restart.
	go func() {
		err := mgr.Watch(ctx, func(c *config.Config) {
			logSvc.Apply(logx.Config{
				Level:   c.Logging.Level,
				Console: c.Logging.Console,
				File:    logx.FileConfig(c.Logging.File),
			})
			pprofSrv.Apply(ctx, debug.Config(c.Debug))
		})
		if err != nil {
			log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	log.Info("flowvault started",
		logx.String("storage", cfg.Storage.Driver),
		logx.Bool("keeper", cfg.KeeperEnabled()))
	<-ctx.Done()
	return nil
}
