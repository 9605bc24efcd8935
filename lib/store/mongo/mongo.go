// Package mongo implements the interface for MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mgo "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tarancss/fabbank/lib/block/types"
	"github.com/tarancss/fabbank/lib/store"
)

// Database and collection names.
const (
	Database    = "bank"
	Deployments = "deployments"
	Txs         = "txs"
)

// Mongo implements a connection to a MongoDB database.
type Mongo struct {
	c *mgo.Client
}

// New returns a Mongo client connection to the specified MongoDB database uri.
func New(uri string) (*Mongo, error) {
	// get a client
	c, err := mgo.NewClient(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to mongo DB in %s: %w", uri, err)
	}
	// connect client
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second) //nolint:gomnd // 5 seconds timeout
	defer cancel()

	err = c.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("error connecting to mongo DB: %w", err)
	}

	return &Mongo{c: c}, nil
}

// CloseMongo will close a database connection. Must be called at termination time.
func (m *Mongo) CloseMongo() error {
	return m.c.Disconnect(context.Background())
}

// SaveDeployment upserts the deployment of a chaincode, keyed by chaincode name.
func (m *Mongo) SaveDeployment(d store.Deployment) error {
	_, err := m.c.Database(Database).Collection(Deployments).ReplaceOne(context.Background(),
		bson.M{"_id": d.Name}, d, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("could not save deployment in db: %w", err)
	}

	return nil
}

// LoadDeployment returns the last deployment saved for the chaincode name.
func (m *Mongo) LoadDeployment(name string) (d store.Deployment, err error) {
	sr := m.c.Database(Database).Collection(Deployments).FindOne(context.Background(), bson.M{"_id": name})
	if err = sr.Decode(&d); errors.Is(err, mgo.ErrNoDocuments) {
		err = store.ErrDataNotFound
	}

	return
}

// AddTx saves a transaction event. Events already saved are ignored.
func (m *Mongo) AddTx(e types.Event) error {
	_, err := m.c.Database(Database).Collection(Txs).InsertOne(context.Background(), e)
	if mgo.IsDuplicateKeyError(err) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("could not insert transaction in db: %w", err)
	}

	return nil
}

// GetTxs returns the transaction events for the chaincode functions in fcn, all of them if fcn is empty, sorted
// by time.
func (m *Mongo) GetTxs(fcn []string) ([]types.Event, error) {
	filter := bson.M{}
	if len(fcn) > 0 {
		filter["fcn"] = bson.M{"$in": fcn}
	}

	cur, err := m.c.Database(Database).Collection(Txs).Find(context.Background(), filter,
		options.Find().SetSort(bson.D{{Key: "ts", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("error getting mongo DB object: %w", err)
	}
	defer cur.Close(context.Background())

	evs := []types.Event{}
	if err = cur.All(context.Background(), &evs); err != nil {
		return nil, fmt.Errorf("error decoding transactions: %w", err)
	}

	return evs, nil
}
