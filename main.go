package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bcistream/pkg/dataset"
	"github.com/bcistream/pkg/playback"
	"github.com/bcistream/pkg/session"
	"github.com/bcistream/pkg/sidebus"
)

// cleanupInterval is how often the background sweep removes sessions
// idle beyond the TTL.
const cleanupInterval = 5 * time.Minute

func main() {
	port := flag.Int("port", 0, "listen port (overrides BCI_PORT)")
	dataDir := flag.String("data", "", "parquet dataset directory (overrides BCI_DATA_DIR)")
	datasetName := flag.String("dataset", "", "dataset name (overrides BCI_DATASET_NAME)")
	sim := flag.Bool("sim", false, "synthesize a dataset if the named one is missing")
	flag.Parse()

	cfg, err := LoadSettings()
	if err != nil {
		log.Fatalf("%v", err)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *datasetName != "" {
		cfg.DatasetName = *datasetName
	}

	ds, err := openDataset(cfg, *sim)
	if err != nil {
		log.Fatalf("opening dataset %s/%s: %v", cfg.DataDir, cfg.DatasetName, err)
	}

	var noiseFactory func() *playback.NoiseStage
	if cfg.NoiseInjectionEnabled {
		noiseFactory = func() *playback.NoiseStage {
			return playback.NewNoiseStage(playback.NoiseConfig{
				Std:                cfg.NoiseStd,
				DriftAmplitude:     cfg.DriftAmplitude,
				DriftPeriodSeconds: cfg.DriftPeriodSeconds,
				NoiseEnabled:       true,
				DriftEnabled:       true,
			})
		}
	}

	manager := session.NewManager(ds, session.Config{
		MaxSessions: cfg.MaxConnections,
		TTL:         time.Duration(cfg.SessionTTLSeconds) * time.Second,
		Engine: playback.Config{
			FrequencyHz: cfg.StreamFrequencyHz,
		},
		NoiseFactory: noiseFactory,
	})

	bus := openSideBus(cfg, ds)

	srv := newServer(cfg, manager, bus)

	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if n := manager.CleanupExpired(); n > 0 {
					log.Printf("cleanup sweep removed %d expired sessions", n)
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.run() }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server: %v", err)
		}
	case s := <-sig:
		log.Printf("received %s", s)
	}
	close(stop)
	srv.shutdown()
}

// openDataset loads the named parquet dataset, synthesizing and
// persisting one first when -sim is set and the files are absent.
func openDataset(cfg Settings, sim bool) (dataset.Dataset, error) {
	if !dataset.Exists(cfg.DataDir, cfg.DatasetName) && sim {
		log.Printf("dataset %s not found in %s, synthesizing", cfg.DatasetName, cfg.DataDir)
		m := dataset.Synthesize(dataset.SynthConfig{Name: cfg.DatasetName})
		if err := m.WriteParquet(cfg.DataDir); err != nil {
			return nil, err
		}
	}
	return dataset.Open(cfg.DataDir, cfg.DatasetName)
}

// openSideBus builds the research-bus publisher, or the no-op one when
// the bus is disabled or unreachable.
func openSideBus(cfg Settings, ds dataset.Dataset) sidebus.Publisher {
	if !cfg.LSLEnabled {
		return sidebus.Nop()
	}
	outlet, err := sidebus.NewUDPOutlet(cfg.LSLAddr)
	if err != nil {
		log.Printf("side bus unavailable, continuing without it: %v", err)
		return sidebus.Nop()
	}
	info := sidebus.StreamInfo{
		Name:         cfg.LSLStreamName,
		Type:         cfg.LSLStreamType,
		SourceID:     cfg.LSLSourceID,
		ChannelCount: ds.NumChannels(),
		NominalSRate: float64(cfg.StreamFrequencyHz),
	}
	if err := outlet.Announce(info); err != nil {
		log.Printf("side bus announce failed: %v", err)
	}
	log.Printf("side bus outlet announced %q (%d channels at %.0fHz)",
		info.Name, info.ChannelCount, info.NominalSRate)
	return sidebus.NewRelay(outlet, 64)
}
