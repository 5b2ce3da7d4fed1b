// Command guestctl administers the guest list from a shell: the phone
// whitelist, RSVP lookups, seat statistics and waitlist promotion.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/config"
	"github.com/wb-go/wbf/zlog"

	"guestlist/cmd/buildCFG"
	"guestlist/internal/admission"
	"guestlist/internal/mailer"
	"guestlist/internal/notify"
	"guestlist/internal/rabbit"
	"guestlist/internal/repo"
)

// backend is what every command runs against.
type backend struct {
	engine *admission.Engine
	store  repo.Store
	dirs   buildCFG.StorageConfig
	// flush waits for outgoing notifications and releases their transport.
	flush func()
}

// close flushes notifications before the store goes away.
func (b *backend) close() error {
	if b.flush != nil {
		b.flush()
	}
	return b.store.Close()
}

type openFunc func(configPath string, log *zerolog.Logger) (*backend, error)

func openFromConfig(configPath string, log *zerolog.Logger) (*backend, error) {
	cfg := config.New()
	if err := cfg.Load(configPath, "", "GUESTLIST"); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	store, sc, err := buildCFG.OpenStore(cfg, log)
	if err != nil {
		return nil, err
	}
	notifier, flush, err := buildNotifier(cfg, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	engine := admission.New(store, buildCFG.BuildAdmissionConfig(cfg, log), log, notifier)
	return &backend{engine: engine, store: store, dirs: sc, flush: flush}, nil
}

// buildNotifier publishes to the broker when one is configured, like the
// server does, so the server's worker delivers the mail. Otherwise it sends
// directly and the returned flush waits for the sends.
func buildNotifier(cfg *config.Config, log *zerolog.Logger) (notify.Notifier, func(), error) {
	if rabbitCfg, ok := buildCFG.BuildRabbitConfig(cfg, log); ok {
		rmq, err := rabbit.NewRabbit(rabbitCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
		}
		return notify.NewQueue(rmq, log), rmq.Close, nil
	}
	direct := notify.NewDirect(mailer.New(buildCFG.BuildSMTPConfig(cfg), log), log)
	return direct, direct.Wait, nil
}

func main() {
	zlog.Init()
	log := zlog.Logger.Level(zerolog.WarnLevel)

	if err := newCLI(openFromConfig, &log).Execute(context.Background(), os.Args[1:]); err != nil {
		os.Exit(1)
	}
}
