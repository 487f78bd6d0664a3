// Package nvd keeps small non-volatile settings, one value per key.
package nvd

import (
	"context"
	"fmt"

	"github.com/i5heu/ouroboros-dag/internal/keyValStore"
	"github.com/sirupsen/logrus"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const StoreName = "nvdata"

type NVD struct {
	store *keyValStore.Store
	log   logrus.FieldLogger
}

func NewNVD(reg *keyValStore.Registry, log logrus.FieldLogger) *NVD {
	if log == nil {
		log = logrus.New()
	}
	return &NVD{
		store: reg.Register(StoreName, ""),
		log:   log.WithField("component", "nvd"),
	}
}

// Save stores value under key. value may be anything structpb.NewValue
// accepts: nil, bool, numbers, string, []byte, map[string]interface{} and
// []interface{} of those.
func (n *NVD) Save(ctx context.Context, key string, value interface{}) error {
	v, err := structpb.NewValue(value)
	if err != nil {
		return fmt.Errorf("error encoding %s: %w", key, err)
	}

	b, err := proto.Marshal(v)
	if err != nil {
		return fmt.Errorf("error encoding %s: %w", key, err)
	}

	n.log.WithField("key", key).Debug("Saving")
	return n.store.Put(ctx, key, b)
}

// Load returns the value saved under key. Numbers come back as float64 and
// []byte as a base64 string.
func (n *NVD) Load(ctx context.Context, key string) (interface{}, bool, error) {
	res, err := n.store.Lookup(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !res.Found {
		return nil, false, nil
	}

	var v structpb.Value
	if err := proto.Unmarshal(res.Value, &v); err != nil {
		return nil, false, fmt.Errorf("error decoding %s: %w", key, err)
	}
	return v.AsInterface(), true, nil
}
