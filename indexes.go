package mongoneo

import (
	"context"
	"os"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"gopkg.in/yaml.v2"
)

const indexesFilename = "indexes.yml"

// indexList mirrors the indexes.yml layout: a list of single-entry maps from
// collection name to index declaration. Declaring several indexes on one
// collection repeats the collection key.
type indexList []map[string]IndexSpec

type IndexOptions struct {
	Unique bool `yaml:"unique"`
	Sparse bool `yaml:"sparse"`
}

// IndexSpec declares one index: ordered fields with 1/-1 directions plus
// options. Field order is preserved, it matters for compound indexes.
type IndexSpec struct {
	Fields  yaml.MapSlice `yaml:"fields"`
	Options IndexOptions  `yaml:"options"`
}

func (s IndexSpec) model() mongo.IndexModel {
	keys := make(bson.D, 0, len(s.Fields))
	for _, item := range s.Fields {
		name, ok := item.Key.(string)
		if !ok {
			continue
		}
		keys = append(keys, bson.E{Key: name, Value: item.Value})
	}
	opts := options.Index()
	if s.Options.Unique {
		opts.SetUnique(true)
	}
	if s.Options.Sparse {
		opts.SetSparse(true)
	}
	return mongo.IndexModel{Keys: keys, Options: opts}
}

// BuildIndexes reads indexes.yml from the working directory and ensures the
// declared indexes on the named connection.
func BuildIndexes(ctx context.Context, alias string) error {
	return BuildIndexesFromFile(ctx, alias, indexesFilename)
}

func BuildIndexesFromFile(ctx context.Context, alias string, filename string) error {
	byCollection, err := readIndexesFromFile(filename)
	if err != nil {
		return err
	}
	c, err := connection(alias)
	if err != nil {
		return err
	}
	return ensureIndexes(ctx, c.db, byCollection)
}

// ensureIndexes fans out one worker per collection and collects failures.
func ensureIndexes(ctx context.Context, db Database, byCollection map[string][]IndexSpec) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs *multierror.Error
	)
	for name, specs := range byCollection {
		wg.Add(1)
		go func(name string, specs []IndexSpec) {
			defer wg.Done()
			if err := db.Collection(name).EnsureIndexes(ctx, specs); err != nil {
				mu.Lock()
				errs = multierror.Append(errs, errors.Wrapf(err, "collection %q", name))
				mu.Unlock()
			}
		}(name, specs)
	}
	wg.Wait()
	return errs.ErrorOrNil()
}

func readIndexesFromFile(filename string) (map[string][]IndexSpec, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var list indexList
	if err := yaml.NewDecoder(f).Decode(&list); err != nil {
		return nil, err
	}

	byCollection := map[string][]IndexSpec{}
	for _, entry := range list {
		for collection, spec := range entry {
			byCollection[collection] = append(byCollection[collection], spec)
		}
	}
	return byCollection, nil
}
