// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package lifecycle

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/jibrid/internal/log"
	"github.com/ManuGH/jibrid/internal/session"
)

// ErrKilled marks an immediate shutdown; the process must exit non-zero
// so the supervisor restarts it.
var ErrKilled = errors.New("killed by signal")

const teardownTimeout = time.Minute

// Controller is the session-controller surface the lifecycle manager
// drives. Implemented by session.Worker.
type Controller interface {
	StopAndWait(ctx context.Context, reason session.Reason) error
	Cleanup(ctx context.Context)
	PoisonClients()
	BroadcastBusy()
	Slot() *session.Slot
}

// Supervisor is the watchdog's shutdown surface.
type Supervisor interface {
	Poison()
}

// Manager funnels every exit path through one teardown sequence and maps
// signals onto the drain and kill behaviors.
type Manager struct {
	controller Controller
	dog        Supervisor
	cancel     context.CancelFunc
	logger     zerolog.Logger
	once       sync.Once
}

// New builds a manager. cancel stops the daemon's root context once
// teardown has run.
func New(controller Controller, dog Supervisor, cancel context.CancelFunc) *Manager {
	return &Manager{
		controller: controller,
		dog:        dog,
		cancel:     cancel,
		logger:     log.WithComponent("lifecycle"),
	}
}

// Run handles process signals until the context ends:
//   - SIGTERM/SIGINT: immediate teardown, exit non-zero
//   - SIGHUP: wait for any active session to finish, then teardown, exit
//     clean
//   - SIGUSR1: fan a busy presence to all signaling clients
func (m *Manager) Run(ctx context.Context) error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP, syscall.SIGUSR1)
	defer signal.Stop(sigs)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig := <-sigs:
			switch sig {
			case syscall.SIGUSR1:
				m.logger.Info().Msg("SIGUSR1, broadcasting busy")
				m.controller.BroadcastBusy()
			case syscall.SIGHUP:
				m.logger.Info().Msg("SIGHUP, draining before shutdown")
				if err := m.drain(ctx); err != nil {
					return err
				}
				return nil
			default:
				m.logger.Warn().Str("signal", sig.String()).Msg("immediate shutdown")
				m.Kill()
				return ErrKilled
			}
		}
	}
}

// drain waits for the recording slot to free up, then tears down. The slot
// stays held through the teardown so no new session can start in between.
func (m *Manager) drain(ctx context.Context) error {
	slot := m.controller.Slot()
	if err := slot.Wait(ctx); err != nil {
		return err
	}
	m.Kill()
	return nil
}

// Kill runs the teardown sequence exactly once: stop any session, kill
// leftover media and browser processes, poison the watchdog and the
// signaling clients, cancel the root context. Also the REST kill
// endpoint's target.
func (m *Manager) Kill() {
	m.once.Do(func() {
		m.logger.Info().Msg("tearing down")
		ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()
		if err := m.controller.StopAndWait(ctx, session.ReasonXMPPStop); err != nil {
			m.logger.Warn().Err(err).Msg("session stop during teardown failed")
		}
		m.controller.Cleanup(ctx)
		if m.dog != nil {
			m.dog.Poison()
		}
		m.controller.PoisonClients()
		if m.cancel != nil {
			m.cancel()
		}
		m.logger.Info().Msg("teardown complete")
	})
}
