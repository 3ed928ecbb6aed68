package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/bartek5186/pcmcatalog/internal/catalog"
	conf "github.com/bartek5186/pcmcatalog/internal/config"
	"github.com/bartek5186/pcmcatalog/internal/db"
	"github.com/bartek5186/pcmcatalog/internal/importer"
	"github.com/bartek5186/pcmcatalog/internal/jobs"
	logs "github.com/bartek5186/pcmcatalog/internal/logs"
	"github.com/bartek5186/pcmcatalog/internal/notify"
	"github.com/bartek5186/pcmcatalog/internal/sources"
	syncer "github.com/bartek5186/pcmcatalog/internal/syncer"
	"github.com/bartek5186/pcmcatalog/internal/versions"
	goredis "github.com/redis/go-redis/v9"
)

var ver = "1.0.0"

const usage = "Komendy: start | stop | reload | status | scan | jobs [status] | job <id> | cancel <id> | current <kod> | history <kod> | diff <kod> <a> <b> | files | paths | quit"

func main() {
	appDir := mustAppDataDir("pcmcatalog")

	cfgPath := filepath.Join(appDir, "config.json")
	cfg, firstRun, err := conf.LoadOrCreate(cfgPath)
	if err != nil {
		panic(err)
	}

	log := logs.New(filepath.Join(appDir, "app.log"), true, cfg.LogLevel)
	if firstRun {
		log.Info().Msgf("Utworzono domyślną konfigurację: %s", cfgPath)
	}

	dbh, err := openDB(appDir, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("DB open error")
	}
	defer dbh.Close()
	if err := dbh.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("DB migrate error")
	}
	log.Info().Str("driver", dbh.Driver).Str("db", dbh.Path).Msg("DB ready")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	srcStore := sources.NewStore(dbh.DB)
	if err := srcStore.Seed(ctx, cfg.Sources); err != nil {
		log.Fatal().Err(err).Msg("seed sources")
	}

	notifier, err := notify.Build(log, cfg.Notifiers)
	if err != nil {
		log.Fatal().Err(err).Msg("notifiers")
	}

	var locker versions.Locker
	if cfg.Redis.Addr != "" {
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis ping")
		}
		locker = versions.NewRedisLocker(rdb, time.Duration(cfg.Redis.LockTTLMs)*time.Millisecond)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("entity lock: redis")
	}

	mgr, err := versions.NewManager(versions.ManagerDeps{
		Store:    versions.NewGormStore(dbh.DB),
		Sources:  srcStore,
		Locker:   locker,
		Notifier: notifier,
		Logger:   log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("versions")
	}
	proc, err := jobs.NewProcessor(jobs.ProcessorDeps{
		Store:  jobs.NewGormStore(dbh.DB),
		Logger: log,
		Options: jobs.Options{
			ChunkSize: cfg.Jobs.ChunkSize,
			MaxErrors: cfg.Jobs.MaxErrors,
			Workers:   cfg.Jobs.Workers,
		},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("jobs")
	}
	defer proc.Close()

	svc, err := catalog.NewService(catalog.ServiceDeps{Versions: mgr, Jobs: proc, Sources: srcStore, Logger: log})
	if err != nil {
		log.Fatal().Err(err).Msg("catalog")
	}
	imp := importer.New(log, cfg.Importer, dbh.DB, svc)
	s := syncer.New(log, cfg, imp, proc)

	log.Info().Msg("Aplikacja (CLI) uruchomiona")
	if cfg.AutoStart {
		if err := s.Start(ctx); err != nil {
			log.Error().Msgf("AutoStart nieudany: %v", err)
		} else {
			log.Info().Msgf("PCM Catalog %s — działa", ver)
		}
	}

	// Prosta pętla poleceń w terminalu
	fmt.Println("PCM Catalog CLI", ver)
	fmt.Println(usage)
	lines := make(chan string)
	go func() {
		reader := bufio.NewReader(os.Stdin)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				close(lines)
				return
			}
			lines <- line
		}
	}()

	for {
		fmt.Print("> ")
		var line string
		select {
		case <-ctx.Done():
			s.Stop()
			return
		case l, ok := <-lines:
			if !ok {
				s.Stop()
				return
			}
			line = l
		}

		args := strings.Fields(strings.TrimSpace(line))
		if len(args) == 0 {
			continue
		}
		switch strings.ToLower(args[0]) {
		case "start":
			if err := s.Start(ctx); err != nil {
				log.Error().Msgf("Start error: %v", err)
				fmt.Println("Błąd startu:", err)
				continue
			}
			fmt.Println("Start OK")
		case "stop":
			s.Stop()
			fmt.Println("Zatrzymano")
		case "reload":
			newCfg, _, err := conf.LoadOrCreate(cfgPath)
			if err != nil {
				log.Error().Msgf("Błąd reloadu: %v", err)
				fmt.Println("Błąd reloadu:", err)
				continue
			}
			if err := srcStore.Seed(ctx, newCfg.Sources); err != nil {
				fmt.Println("Błąd źródeł:", err)
				continue
			}
			cfg = newCfg
			s.UpdateConfig(ctx, cfg)
			log.Info().Msg("Konfiguracja przeładowana")
			fmt.Println("Konfiguracja przeładowana")
		case "status":
			if s.IsRunning() {
				fmt.Println("Status: DZIAŁA")
			} else {
				fmt.Println("Status: ZATRZYMANY")
			}
		case "scan":
			st, err := imp.ScanOnce(ctx)
			if err != nil {
				fmt.Println("Błąd skanu:", err)
				continue
			}
			printJSON(st)
		case "jobs":
			status := ""
			if len(args) > 1 {
				status = args[1]
			}
			printResult(svc.Jobs(ctx, status, 20))
		case "job":
			if len(args) < 2 {
				fmt.Println("Użycie: job <id>")
				continue
			}
			printResult(svc.JobStatus(ctx, args[1]))
		case "cancel":
			if len(args) < 2 {
				fmt.Println("Użycie: cancel <id>")
				continue
			}
			if err := svc.CancelJob(ctx, args[1]); err != nil {
				fmt.Println("Błąd:", err)
				continue
			}
			fmt.Println("Anulowano")
		case "current":
			if len(args) < 2 {
				fmt.Println("Użycie: current <kod>")
				continue
			}
			printResult(svc.Current(ctx, args[1]))
		case "history":
			if len(args) < 2 {
				fmt.Println("Użycie: history <kod>")
				continue
			}
			printResult(svc.History(ctx, args[1]))
		case "diff":
			if len(args) < 4 {
				fmt.Println("Użycie: diff <kod> <a> <b>")
				continue
			}
			a, errA := strconv.Atoi(args[2])
			b, errB := strconv.Atoi(args[3])
			if err := errors.Join(errA, errB); err != nil {
				fmt.Println("Błędny numer wersji:", err)
				continue
			}
			printResult(svc.Compare(ctx, args[1], a, b))
		case "files":
			printResult(imp.Files(ctx, 20))
		case "paths":
			fmt.Println("Logi:", filepath.Join(appDir, "app.log"))
			fmt.Println("Config:", cfgPath)
			fmt.Println("DB:", dbh.Path)
			fmt.Println("Feedy:", cfg.Importer.WatchDir)
		case "quit", "exit":
			cancel()
			s.Stop()
			return
		default:
			fmt.Println("Nieznana komenda.", usage)
		}
	}
}

func openDB(appDir string, c conf.DatabaseConfig) (*db.Handle, error) {
	if (c.Driver == "" || strings.HasPrefix(c.Driver, "sqlite")) && c.DSN == "" {
		if c.Driver == "sqlite3" {
			return db.Open("sqlite3", filepath.Join(appDir, "pcmcatalog.db"))
		}
		return db.OpenAt(appDir)
	}
	return db.Open(c.Driver, c.DSN)
}

func printResult[T any](v T, err error) {
	if err != nil {
		fmt.Println("Błąd:", err)
		return
	}
	printJSON(v)
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println("Błąd:", err)
		return
	}
	fmt.Println(string(out))
}

func mustAppDataDir(name string) string {
	if dir := os.Getenv("PCM_APP_DIR"); dir != "" {
		_ = os.MkdirAll(dir, 0o755)
		return dir
	}
	base, err := os.UserConfigDir()
	if err != nil {
		panic(err)
	}
	p := filepath.Join(base, name)
	_ = os.MkdirAll(p, 0o755)
	return p
}
