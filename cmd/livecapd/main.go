package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pitabwire/frame"
	"github.com/pitabwire/frame/config"
	"github.com/pitabwire/frame/workerpool"

	lcconfig "github.com/livecap/livecap/config"
	"github.com/livecap/livecap/internal/caption/backends/grammar"
	"github.com/livecap/livecap/internal/caption/backends/native"
	"github.com/livecap/livecap/internal/caption/backends/neural"
	"github.com/livecap/livecap/internal/caption/capture"
	"github.com/livecap/livecap/internal/caption/engine"
	"github.com/livecap/livecap/internal/caption/models"
	"github.com/livecap/livecap/internal/caption/session"
	"github.com/livecap/livecap/pkg/events"
)

func main() {
	ctx := context.Background()

	cfg, err := config.LoadWithOIDC[lcconfig.CaptionConfig](ctx)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	kind, err := cfg.BackendKind()
	if err != nil {
		log.Fatalf("selecting backend: %v", err)
	}

	ctx, srv := frame.NewService(
		frame.WithConfig(&cfg),
		frame.WithName("livecapd"),
		frame.WithWorkerPoolOptions(
			workerpool.WithPoolCount(cfg.WorkerPoolCount),
			workerpool.WithSinglePoolCapacity(cfg.WorkerPoolCapacity),
		),
	)
	defer srv.Stop(ctx)

	pool, err := srv.WorkManager().GetPool()
	if err != nil {
		log.Fatalf("getting worker pool: %v", err)
	}

	pub := events.NewPublisher("livecapd")

	registry := models.NewRegistry(cfg.ModelPaths(), cfg.ModelReferenceSizes())
	registry.Subscribe(func(snap models.Snapshot) {
		for modelKind, desc := range snap {
			_ = pub.Emit(events.ModelChanged, "", events.ModelChangedData{
				Kind:      string(modelKind),
				Path:      desc.Path,
				Validated: desc.Validated,
			})
		}
	})
	if cfg.ModelWatchEnabled {
		_ = pool.Submit(ctx, func() {
			if err := registry.Watch(ctx); err != nil {
				log.Printf("warning: model watch: %v", err)
			}
		})
	}

	engineCfg := cfg.EngineConfig()
	engineCfg.Paths.Vocabulary = cfg.VocabularyPath

	adapter, source, err := buildAdapter(kind, &cfg, &engineCfg)
	if err != nil {
		log.Fatalf("building %s backend: %v", kind, err)
	}
	if source != nil {
		defer func() { _ = source.Close() }()
	}

	sess := session.New(adapter, registry, engineCfg, pub, pool)
	defer sess.Close(ctx)

	subID, eventCh := pub.Subscribe(128)
	defer pub.Unsubscribe(subID)
	_ = pool.Submit(ctx, func() { printEvents(eventCh) })

	if err := sess.SetActive(ctx, true); err != nil {
		log.Fatalf("starting session: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Println("shutting down")
}

// buildAdapter wires the backend for the configured kind, creating a
// microphone source for the backends that consume raw audio. The native
// backend talks to the platform dictation bridge and captures on its own.
func buildAdapter(kind engine.Kind, cfg *lcconfig.CaptionConfig, engineCfg *engine.Config) (engine.Adapter, engine.AudioSource, error) {
	switch kind {
	case engine.KindNative:
		return native.New(), nil, nil
	case engine.KindNeural, engine.KindGrammar:
		mic, err := capture.NewMicrophone(uint32(cfg.CaptureSampleRate), uint32(cfg.CaptureChannels))
		if err != nil {
			return nil, nil, fmt.Errorf("opening microphone: %w", err)
		}
		engineCfg.Source = mic
		if kind == engine.KindGrammar {
			return grammar.New(), mic, nil
		}
		return neural.New(), mic, nil
	default:
		return nil, nil, fmt.Errorf("unsupported backend %q", kind)
	}
}

// printEvents writes subtitle and status events to stdout until the
// subscription channel closes.
func printEvents(ch <-chan events.Envelope) {
	for env := range ch {
		switch env.Type {
		case events.SubtitleAppend:
			data, err := events.Decode[events.SubtitleAppendData](env)
			if err != nil {
				continue
			}
			marker := " "
			if data.IsFinal {
				marker = "*"
			}
			fmt.Printf("%s %s\n", marker, data.Text)
		case events.SessionStatus:
			data, err := events.Decode[events.SessionStatusData](env)
			if err != nil {
				continue
			}
			log.Printf("session: %s", data.Status)
		case events.SessionError:
			data, err := events.Decode[events.SessionErrorData](env)
			if err != nil {
				continue
			}
			log.Printf("session error: %s", data.Message)
		}
	}
}
