// Package mgo provides a MongoDB client wrapper used as the document store seam
package mgo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Config configures mongodb connectivity
type Config struct {
	URI         string
	Database    string
	MaxPoolSize uint64
	PingTimeout time.Duration
}

// DB bundles a connected client with its default database handle
type DB struct {
	Client *mongo.Client
	DB     *mongo.Database
}

// Open connects, pings with a bounded timeout, and returns the handle.
// The driver dials lazily, so the ping is what actually proves connectivity
func Open(ctx context.Context, cfg Config) (*DB, error) {
	if cfg.URI == "" {
		return nil, errors.New("mgo: empty URI")
	}
	if cfg.Database == "" {
		return nil, errors.New("mgo: empty database name")
	}

	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(cfg.MaxPoolSize)
	}

	cli, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}

	pt := cfg.PingTimeout
	if pt <= 0 {
		pt = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, pt)
	defer cancel()
	if err := cli.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, err
	}

	return &DB{Client: cli, DB: cli.Database(cfg.Database)}, nil
}

// Ping reports readiness of the primary
func (d *DB) Ping(ctx context.Context) error {
	if d == nil || d.Client == nil {
		return errors.New("mgo: nil client")
	}
	return d.Client.Ping(ctx, readpref.Primary())
}

// Collection returns a collection handle on the default database
func (d *DB) Collection(name string) *mongo.Collection {
	return d.DB.Collection(name)
}

// Close disconnects the client
func (d *DB) Close(ctx context.Context) error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Disconnect(ctx)
}
