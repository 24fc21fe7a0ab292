// Command sequencer runs the trusted-setup ceremony coordinator.
//
// The sequencer admits verified participants into a lobby, schedules
// them into a bounded number of active contribution slots, validates
// submitted contributions against the current transcript head, and
// appends accepted ones to the durable transcript. Every identity gets
// exactly one attempt, ever.
//
// Configuration comes from the environment (see envConfig); the most
// common settings can be overridden with flags:
//
//	go run ./cmd/sequencer --addr=:3000 --database=sqlite://ledger.db
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/ethereum/kzg-ceremony-sequencer/api"
	"github.com/ethereum/kzg-ceremony-sequencer/api/httpserver"
	"github.com/ethereum/kzg-ceremony-sequencer/ceremony"
	"github.com/ethereum/kzg-ceremony-sequencer/kzg"
	"github.com/ethereum/kzg-ceremony-sequencer/ledger"
	"github.com/ethereum/kzg-ceremony-sequencer/lobby"
	"github.com/ethereum/kzg-ceremony-sequencer/receipt"
	"github.com/ethereum/kzg-ceremony-sequencer/sequencer"
	"github.com/ethereum/kzg-ceremony-sequencer/transcript"
)

type envConfig struct {
	ListenAddr     string `env:"LISTEN_ADDR" envDefault:":3000"`
	DatabaseURL    string `env:"DATABASE_URL" envDefault:"sqlite://ledger.db"`
	TranscriptFile string `env:"TRANSCRIPT_FILE" envDefault:"./transcript.json"`
	StagingFile    string `env:"TRANSCRIPT_IN_PROGRESS_FILE" envDefault:""`
	ReceiptKeyFile string `env:"RECEIPT_KEY_FILE" envDefault:""`
	EnablePprof    bool   `env:"ENABLE_PPROF" envDefault:"false"`

	MaxActiveSessions int           `env:"MAX_ACTIVE_SESSIONS" envDefault:"1"`
	ComputeDeadline   time.Duration `env:"COMPUTE_DEADLINE" envDefault:"180s"`
	CheckinFrequency  time.Duration `env:"LOBBY_CHECKIN_FREQUENCY" envDefault:"30s"`
	CheckinTolerance  time.Duration `env:"LOBBY_CHECKIN_TOLERANCE" envDefault:"2s"`
	FlushInterval     time.Duration `env:"LOBBY_FLUSH_INTERVAL" envDefault:"5s"`
	MaxLobbySize      int           `env:"MAX_LOBBY_SIZE" envDefault:"1000"`
	MaxSubmitRetries  int           `env:"MAX_SUBMIT_RETRIES" envDefault:"3"`
	GenesisSequence   uint64        `env:"GENESIS_SEQUENCE" envDefault:"0"`

	NumG1Powers int `env:"NUM_G1_POWERS" envDefault:"4096"`
	NumG2Powers int `env:"NUM_G2_POWERS" envDefault:"65"`

	GithubCreationCutoff string `env:"GITHUB_ACCOUNT_CREATION_DEADLINE" envDefault:"2022-08-01T00:00:00Z"`
	EthMinTxCount        int64  `env:"ETH_MIN_NONCE" envDefault:"4"`
}

func main() {
	cfg := envConfig{}
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	var (
		addr     = flag.String("addr", cfg.ListenAddr, "HTTP listen address")
		database = flag.String("database", cfg.DatabaseURL, "Contributor ledger DSN (postgres:// or sqlite://)")
		tsFile   = flag.String("transcript", cfg.TranscriptFile, "Canonical transcript file")
		pprof    = flag.Bool("pprof", cfg.EnablePprof, "Enable pprof debug API")
	)
	flag.Parse()
	cfg.ListenAddr = *addr
	cfg.DatabaseURL = *database
	cfg.TranscriptFile = *tsFile
	cfg.EnablePprof = *pprof

	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	if err := run(cfg, log); err != nil {
		log.Error("Sequencer failed", "err", err)
		os.Exit(1)
	}
}

func run(cfg envConfig, log *slog.Logger) error {
	ceremonyCfg := ceremony.Config{
		MaxActiveSessions: cfg.MaxActiveSessions,
		ComputeDeadline:   cfg.ComputeDeadline,
		CheckinFrequency:  cfg.CheckinFrequency,
		CheckinTolerance:  cfg.CheckinTolerance,
		FlushInterval:     cfg.FlushInterval,
		MaxLobbySize:      cfg.MaxLobbySize,
		MaxSubmitRetries:  cfg.MaxSubmitRetries,
		GenesisSequence:   cfg.GenesisSequence,
	}
	if err := ceremonyCfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	cutoff, err := time.Parse(time.RFC3339, cfg.GithubCreationCutoff)
	if err != nil {
		return fmt.Errorf("invalid GitHub creation cutoff: %w", err)
	}

	ledgerStore, err := ledger.Open(cfg.DatabaseURL, log)
	if err != nil {
		return err
	}
	defer ledgerStore.Close()

	initialState, err := kzg.InitialState(cfg.NumG1Powers, cfg.NumG2Powers)
	if err != nil {
		return err
	}
	transcriptStore, err := transcript.Open(transcript.StoreConfig{
		Path:            cfg.TranscriptFile,
		StagingPath:     cfg.StagingFile,
		GenesisSequence: ceremonyCfg.GenesisSequence,
		InitialState:    initialState,
		Log:             log,
	})
	if err != nil {
		return err
	}

	lobbyMgr := lobby.NewManager(lobby.ManagerConfig{
		Ceremony: ceremonyCfg,
		Ledger:   ledgerStore,
		Policy: ceremony.DefaultEligibility{
			GithubCreationCutoff: cutoff,
			EthMinTxCount:        cfg.EthMinTxCount,
		},
		Log: log,
	})

	engine, err := sequencer.NewEngine(sequencer.EngineConfig{
		Ceremony:   ceremonyCfg,
		Lobby:      lobbyMgr,
		Ledger:     ledgerStore,
		Transcript: transcriptStore,
		Validator:  kzg.NewValidator(),
		Log:        log,
	})
	if err != nil {
		return err
	}

	signer, err := loadSigner(cfg.ReceiptKeyFile, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	monitor := lobby.NewMonitor(lobbyMgr, engine, ceremonyCfg.FlushInterval, log)
	go monitor.Run(ctx)

	handler := api.NewHandler(engine, lobbyMgr, signer, log)
	srv := httpserver.New(&httpserver.Config{
		ListenAddr:               cfg.ListenAddr,
		EnablePprof:              cfg.EnablePprof,
		Log:                      log,
		DrainDuration:            5 * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             60 * time.Second,
	}, handler)
	srv.RunInBackground()

	<-ctx.Done()
	log.Info("Shutting down")
	srv.Shutdown()
	return nil
}

func loadSigner(path string, log *slog.Logger) (*receipt.Signer, error) {
	if path == "" {
		log.Warn("No receipt key configured, generating an ephemeral one")
		return receipt.Generate()
	}
	return receipt.LoadSigner(path)
}
