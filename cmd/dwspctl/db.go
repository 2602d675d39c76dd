package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nzwater/compliance-core/pkg/configuration"
)

func loadConfig() (*configuration.Configuration, error) {
	conf, err := configuration.Load()
	if err != nil {
		return nil, withCode(exitUsage, err)
	}
	return conf, nil
}

func connectDB(ctx context.Context, conf *configuration.Configuration) (*pgxpool.Pool, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.New(connectCtx, conf.Database.Opts)
	if err != nil {
		return nil, withCode(exitDB, err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, withCode(exitDB, err)
	}
	return pool, nil
}
