package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"msgvault/internal/core/version"
	"msgvault/internal/modkit"
	"msgvault/internal/modkit/module"
	"msgvault/internal/platform/config"
	"msgvault/internal/platform/logger"
	"msgvault/internal/platform/store"

	importmod "msgvault/internal/services/importer/module"

	"msgvault/internal/services/importer/domain"
)

func mustSetEnv(key, val string) {
	if val != "" {
		_ = os.Setenv(key, val)
	}
}

// parseWhen accepts RFC3339 or raw unix seconds
func parseWhen(l *logger.Logger, flagName, val string) *int64 {
	if val == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, val); err == nil {
		s := t.Unix()
		return &s
	}
	s, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		l.Panic().Str("flag", flagName).Str("value", val).Msg("want RFC3339 or unix seconds")
	}
	return &s
}

func main() {
	root := config.New()
	pgCfg := root.Prefix("SERVICE_PGSQL_")
	moCfg := root.Prefix("SERVICE_MONGO_")

	l := logger.Get()

	var (
		fMode   = flag.String("mode", "all", "run mode: all | chat | hub")
		fChat   = flag.String("chat", "", "conversation id (mode=chat)")
		fChats  = flag.String("chats", "", "comma separated inclusion list (mode=all)")
		fSince  = flag.String("since", "", "absolute window start, RFC3339 or unix seconds")
		fUntil  = flag.String("until", "", "absolute window end, RFC3339 or unix seconds")
		fDays   = flag.Int("days", 0, "relative window in days, anchored to each conversation's latest message")
		fDepth  = flag.Int("depth", 0, "import only around the N most recent messages per conversation")
		fDryRun = flag.Bool("dry-run", false, "map and validate without writing to the target store")
		fIdx    = flag.Bool("ensure-indexes", false, "create target unique indexes before running")

		fTenant  = flag.String("tenant", "", "tenant id stamped on every canonical message")
		fBatch   = flag.Int("batch", 0, "rows per page (0 = configured default)")
		fWorkers = flag.Int("workers", 0, "concurrent conversations (0 = configured default)")
	)
	flag.Parse()

	bi := version.Info()
	l.Info().
		Str("service", bi.Service).
		Str("version", bi.Version).
		Str("commit", bi.Commit).
		Msg("starting")

	// Build the range rule from flags; exactly one policy applies per run
	rule := domain.RangeRule{Mode: domain.RangeAll}
	switch {
	case *fDays > 0 && *fDepth > 0:
		l.Panic().Msg("-days and -depth are mutually exclusive")
	case *fDays > 0:
		rule = domain.RangeRule{Mode: domain.RangeDays, Days: *fDays}
	case *fDepth > 0:
		rule = domain.RangeRule{Mode: domain.RangeDepth, Depth: *fDepth}
	case *fSince != "" || *fUntil != "":
		rule = domain.RangeRule{
			Mode:  domain.RangeAbsolute,
			Since: parseWhen(l, "since", *fSince),
			Until: parseWhen(l, "until", *fUntil),
		}
	}
	if *fChats != "" {
		rule.Chats = strings.Split(*fChats, ",")
	}
	if err := rule.Validate(); err != nil {
		l.Panic().Err(err).Msg("bad range flags")
	}
	if *fMode == "chat" && *fChat == "" {
		l.Panic().Msg("mode=chat needs -chat")
	}

	st, err := store.Open(context.Background(), store.Config{
		AppName: bi.Service,
		PG: store.PGConfig{
			Enabled:     true,
			URL:         pgCfg.MustString("DBURL"),
			MaxConns:    int32(pgCfg.MayInt("MAX_CONNS", 4)),
			SlowQueryMs: pgCfg.MayInt("SLOW_MS", 500),
			LogSQL:      pgCfg.MayBool("LOG_SQL", false),
		},
		Mongo: store.MongoConfig{
			Enabled:     !*fDryRun,
			URI:         moCfg.MayString("URI", ""),
			Database:    moCfg.MayString("DB", "msgvault"),
			MaxPoolSize: uint64(moCfg.MayInt("MAX_POOL", 8)),
		},
	}, store.WithLogger(*l))
	if err != nil {
		l.Panic().Err(err).Msg("store.Open failed")
	}
	defer func() {
		if err := st.Close(context.Background()); err != nil {
			l.Error().Err(err).Msg("failed to close store")
		}
	}()

	// Shared deps for modules
	deps := modkit.Deps{
		Cfg:   root,
		PG:    st.PG,
		Mongo: st.Mongo,
		Log:   *l,
	}

	// Surface flag overrides to the module's FromConfig
	mustSetEnv("CORE_IMPORT_TENANT", *fTenant)
	if *fBatch > 0 {
		mustSetEnv("CORE_IMPORT_BATCH", strconv.Itoa(*fBatch))
	}
	if *fWorkers > 0 {
		mustSetEnv("CORE_IMPORT_WORKERS", strconv.Itoa(*fWorkers))
	}

	im := importmod.New(deps, rule, *fDryRun)
	module.Register(im.Name(), im.Ports())

	// Shutdown is honored at batch boundaries; a second signal kills
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *fIdx {
		if tgt := im.Target(); tgt != nil {
			if err := tgt.EnsureIndexes(ctx); err != nil {
				l.Fatal().Err(err).Msg("ensure indexes failed")
			}
		}
	}

	ports := im.Ports().(importmod.Ports)
	switch *fMode {
	case "chat":
		sum, err := ports.Runner.RunChat(ctx, *fChat)
		if err != nil {
			l.Fatal().Err(err).Str("chat", *fChat).Msg("import failed")
		}
		l.Info().
			Str("chat", sum.ChatID).
			Int("batches", sum.Batches).
			Int64("read", sum.Read).
			Int64("imported", sum.Imported).
			Int64("skipped", sum.Skipped).
			Msg("import done")

	case "hub":
		run, err := ports.Runner.RunHub(ctx)
		if err != nil {
			l.Fatal().Err(err).Msg("hub import failed")
		}
		logRun(l, run)

	case "all":
		run, err := ports.Runner.RunAll(ctx)
		if err != nil {
			logRun(l, run)
			l.Fatal().Err(err).Msg("import failed")
		}
		logRun(l, run)

	default:
		l.Panic().Str("mode", *fMode).Msg("unknown mode")
	}
}

func logRun(l *logger.Logger, run domain.RunSummary) {
	l.Info().
		Int("chats", run.Chats).
		Int("failed", run.Failed).
		Int64("read", run.Read).
		Int64("imported", run.Imported).
		Int64("skipped", run.Skipped).
		Dur("elapsed", run.Elapsed).
		Msg("import run finished")
}
