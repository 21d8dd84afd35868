package mongoneo

import (
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// DefaultConnection is the alias used by models that do not declare one.
const DefaultConnection = "default"

var (
	connMu      sync.RWMutex
	connections = map[string]*Client{}
)

// Client binds a connection alias to a database backend.
type Client struct {
	alias string
	db    Database
	mongo *mongo.Client
}

func (c *Client) Alias() string {
	return c.alias
}

func (c *Client) Database() Database {
	return c.db
}

// Connect registers the default connection against a MongoDB deployment.
func Connect(ctx context.Context, cfg *Config) error {
	return ConnectWithAlias(ctx, DefaultConnection, cfg)
}

// ConnectFromEnv is Connect with settings read from the environment.
func ConnectFromEnv(ctx context.Context) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	return Connect(ctx, cfg)
}

// ConnectWithAlias registers a named connection. Models pick their connection
// through the Connectable interface; everything else uses DefaultConnection.
func ConnectWithAlias(ctx context.Context, alias string, cfg *Config) error {
	connMu.RLock()
	_, exists := connections[alias]
	connMu.RUnlock()
	if exists {
		return errors.Wrapf(ErrConnectionAlreadyRegistered, "alias %q", alias)
	}

	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.AppName != "" {
		opts.SetAppName(cfg.AppName)
	}

	mc, err := mongo.Connect(ctx, opts)
	if err != nil {
		return err
	}

	pingCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	if err := mc.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = mc.Disconnect(ctx)
		return errors.Wrapf(ErrConnectionCheckFailed, "alias %q: %v", alias, err)
	}

	c := &Client{
		alias: alias,
		db:    &mongoDatabase{db: mc.Database(cfg.Database)},
		mongo: mc,
	}
	if err := registerConnection(c); err != nil {
		_ = mc.Disconnect(ctx)
		return err
	}
	logger().Info("connected", "alias", alias, "database", cfg.Database)
	return nil
}

// ConnectMemory registers an in-process connection, for tests and local
// development. The returned database can be inspected directly.
func ConnectMemory(alias string) (*MemoryDatabase, error) {
	db := NewMemoryDatabase(alias)
	if err := registerConnection(&Client{alias: alias, db: db}); err != nil {
		return nil, err
	}
	return db, nil
}

func registerConnection(c *Client) error {
	connMu.Lock()
	defer connMu.Unlock()
	if _, ok := connections[c.alias]; ok {
		return errors.Wrapf(ErrConnectionAlreadyRegistered, "alias %q", c.alias)
	}
	connections[c.alias] = c
	return nil
}

// Disconnect closes and removes a named connection. Unknown aliases are a
// no-op so repeated calls are safe.
func Disconnect(ctx context.Context, alias string) error {
	connMu.Lock()
	c, ok := connections[alias]
	delete(connections, alias)
	connMu.Unlock()
	if !ok || c.mongo == nil {
		return nil
	}
	return c.mongo.Disconnect(ctx)
}

// DisconnectAll closes every registered connection, collecting errors.
func DisconnectAll(ctx context.Context) error {
	connMu.Lock()
	all := connections
	connections = map[string]*Client{}
	connMu.Unlock()

	var errs *multierror.Error
	for _, c := range all {
		if c.mongo == nil {
			continue
		}
		if err := c.mongo.Disconnect(ctx); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

func connection(alias string) (*Client, error) {
	connMu.RLock()
	defer connMu.RUnlock()
	c, ok := connections[alias]
	if !ok {
		return nil, errors.Wrapf(ErrConnectionNotFound, "alias %q", alias)
	}
	return c, nil
}

func databaseFor(def *definition) (Database, error) {
	c, err := connection(def.connection)
	if err != nil {
		return nil, err
	}
	return c.db, nil
}

func collectionFor(def *definition) (Collection, error) {
	db, err := databaseFor(def)
	if err != nil {
		return nil, err
	}
	return db.Collection(def.collection), nil
}

// RunInTransaction executes fn inside a MongoDB transaction on the named
// connection. fn must pass the supplied context to every operation it runs.
// Memory-backed connections return ErrTransactionsUnsupported.
func RunInTransaction(ctx context.Context, alias string, fn func(ctx context.Context) error) error {
	c, err := connection(alias)
	if err != nil {
		return err
	}
	if c.mongo == nil {
		return errors.Wrapf(ErrTransactionsUnsupported, "alias %q", alias)
	}

	sess, err := c.mongo.StartSession()
	if err != nil {
		return err
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}
