package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openfpv/flowsync/go/internal/flowstate"
	"github.com/openfpv/flowsync/go/internal/gateway"
	"github.com/openfpv/flowsync/go/internal/heats"
	"github.com/openfpv/flowsync/go/internal/options"
	"github.com/openfpv/flowsync/go/internal/racecontrol"
	"github.com/openfpv/flowsync/go/internal/races"
	"github.com/openfpv/flowsync/go/internal/roster"
)

// Services bundles everything the HTTP server needs.
type Services struct {
	Connections *gateway.ConnectionManager
	Manager     *flowstate.Manager
	Race        *racecontrol.Engine
}

// setupServices wires the dependency chain:
// storage -> repositories -> race engine -> session manager -> gateway,
// then bootstraps the session so the engine points at a real heat.
func setupServices(ctx context.Context, cfg *Config, database *sql.DB, pool *pgxpool.Pool, events racecontrol.EventPublisher) (*Services, error) {
	rosterRepo := roster.NewRepository(pool)
	heatRepo := heats.NewRepository(pool, flowstate.MaxSeats)
	raceRepo := races.NewRepository(database)
	optionStore := options.NewStore(database, flowstate.OptionDefaults())

	engine := racecontrol.NewEngine(racecontrol.Config{
		Races:      raceRepo,
		Events:     events,
		SeatCount:  flowstate.MaxSeats,
		TargetLaps: cfg.Race.TargetLaps,
	})

	connections := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())

	manager := flowstate.NewManager(flowstate.Config{
		Roster:      rosterRepo,
		Heats:       heatRepo,
		Race:        engine,
		Options:     optionStore,
		Notifier:    gateway.NewUINotifier(connections),
		Broadcaster: connections,
	})

	connections.SetRoute(gateway.NewRouter(manager).Route)

	if err := manager.Bootstrap(ctx); err != nil {
		return nil, fmt.Errorf("bootstrap session: %w", err)
	}

	return &Services{
		Connections: connections,
		Manager:     manager,
		Race:        engine,
	}, nil
}
