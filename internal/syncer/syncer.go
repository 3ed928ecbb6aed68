// internal/syncer/syncer.go
package syncer

import (
	"context"
	"sync"
	"time"

	conf "github.com/bartek5186/pcmcatalog/internal/config"
	"github.com/bartek5186/pcmcatalog/internal/importer"
	"github.com/rs/zerolog"
)

// Scanner picks up new feed files (importer.Importer).
type Scanner interface {
	ScanOnce(ctx context.Context) (importer.ScanStats, error)
}

// Watchdog fails jobs left in processing by a dead run (jobs.Processor).
type Watchdog interface {
	MarkStale(ctx context.Context, olderThan time.Duration) (int, error)
}

type Syncer struct {
	log      zerolog.Logger // logowanie
	mu       sync.Mutex     // ochrona sekcji krytycznych
	cfg      *conf.Config   // aktualna konfiguracja
	scanner  Scanner
	watchdog Watchdog
	running  bool // czy syncer działa
	cancel   context.CancelFunc
	wg       sync.WaitGroup // śledzi goroutines
	ticks    uint64         // licznik przebiegów
}

func New(log zerolog.Logger, cfg *conf.Config, scanner Scanner, watchdog Watchdog) *Syncer {
	return &Syncer{
		log:      log.With().Str("component", "syncer").Logger(),
		cfg:      cfg,
		scanner:  scanner,
		watchdog: watchdog,
	}
}

func (s *Syncer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.ticks = 0
	s.wg.Add(1)
	s.mu.Unlock()

	s.log.Info().Dur("interval", s.interval()).Msg("Syncer: start")
	go s.loop(ctx)
	return nil
}

func (s *Syncer) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.log.Info().Msg("Syncer: stop")
}

func (s *Syncer) UpdateConfig(ctx context.Context, cfg *conf.Config) {
	s.mu.Lock()
	s.cfg = cfg
	isRunning := s.running
	s.mu.Unlock()

	s.log.Info().Msg("Syncer: config zaktualizowany")

	if isRunning {
		// szybki restart, żeby pętla wzięła nową konfigurację
		s.Stop()
		_ = s.Start(ctx)
	}
}

func (s *Syncer) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Syncer) Ticks() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks
}

func (s *Syncer) interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg != nil && s.cfg.SyncIntervalSeconds > 0 {
		return time.Duration(s.cfg.SyncIntervalSeconds) * time.Second
	}
	return 30 * time.Second
}

func (s *Syncer) staleAfter() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg != nil && s.cfg.Jobs.StaleAfterSeconds > 0 {
		return time.Duration(s.cfg.Jobs.StaleAfterSeconds) * time.Second
	}
	return 30 * time.Minute
}

func (s *Syncer) loop(ctx context.Context) {
	defer s.wg.Done()

	// pierwszy strzał od razu
	s.tickOnce(ctx)

	current := s.interval()
	ticker := time.NewTicker(current)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Syncer: koniec pętli")
			return
		case <-ticker.C:
			// jeśli ktoś zmienił interwał w cfg, odśwież ticker
			if next := s.interval(); next != current {
				current = next
				ticker.Reset(current)
			}
			s.tickOnce(ctx)
		}
	}
}

func (s *Syncer) tickOnce(ctx context.Context) {
	s.mu.Lock()
	s.ticks++
	n := s.ticks
	s.mu.Unlock()

	if s.scanner != nil {
		if _, err := s.scanner.ScanOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.Error().Err(err).Uint64("tick", n).Msg("skan katalogu nieudany")
		}
	}
	if s.watchdog != nil {
		stale, err := s.watchdog.MarkStale(ctx, s.staleAfter())
		if err != nil && ctx.Err() == nil {
			s.log.Error().Err(err).Uint64("tick", n).Msg("watchdog nieudany")
		}
		if stale > 0 {
			s.log.Warn().Int("stale_jobs", stale).Msg("zawieszone joby oznaczone jako failed")
		}
	}
	s.log.Debug().Uint64("tick", n).Msg("Syncer: tick")
}
