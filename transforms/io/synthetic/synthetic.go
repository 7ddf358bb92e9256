// Package synthetic produces elements and load.
// Typically used for load testing, and for exercising the executor in
// tests and demos.
package synthetic

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/pkg/errors"

	"lostluck.dev/splitrun"
	"lostluck.dev/splitrun/coders"
)

// SourceConfig is a splittable source description: how many records to
// produce, their shape, and how much work to simulate per record.
type SourceConfig struct {
	NumRecords          int
	KeySize, ValueSize  int
	SleepPerInputRecord time.Duration
	Seed                uint64
}

// Record is one generated key/value pair.
type Record struct {
	Key, Value []byte
}

// Restriction is the initial restriction covering every record of cfg.
func Restriction(cfg SourceConfig) splitrun.Range[int64] {
	return splitrun.Range[int64]{Min: 0, Max: int64(cfg.NumRecords)}
}

// MakeTracker is the tracker constructor for source restrictions.
func MakeTracker(r splitrun.Range[int64]) splitrun.Tracker[splitrun.Range[int64], int64] {
	return splitrun.NewRangeTracker(r)
}

// Source returns the processing routine generating records for claimed
// positions. Records are derived deterministically from the position and
// the config seed, so a record is identical no matter which session
// produces it.
func Source() splitrun.ProcessRestriction[SourceConfig, Record, splitrun.Range[int64], int64] {
	return func(ctx context.Context, cfg SourceConfig, rest splitrun.Range[int64], tc splitrun.TryClaim[int64], emit splitrun.Emit[Record]) (splitrun.ProcessContinuation, error) {
		err := tc(func(p int64) (int64, error) {
			if cfg.SleepPerInputRecord > 0 {
				time.Sleep(cfg.SleepPerInputRecord)
			}
			if err := emit(recordAt(cfg, p)); err != nil {
				return 0, err
			}
			return p + 1, nil
		})
		return splitrun.Stop(), err
	}
}

func recordAt(cfg SourceConfig, pos int64) Record {
	rng := rand.New(rand.NewPCG(cfg.Seed, uint64(pos)))
	fill := func(n int) []byte {
		b := make([]byte, n)
		for i := range b {
			b[i] = byte(rng.UintN(256))
		}
		return b
	}
	return Record{Key: fill(cfg.KeySize), Value: fill(cfg.ValueSize)}
}

// ConfigCoder serializes a SourceConfig for durable state stores.
func ConfigCoder() coders.Coder[SourceConfig] {
	return configCoder{}
}

type configCoder struct{}

func (configCoder) Encode(enc *coders.Encoder, cfg SourceConfig) {
	enc.Varint64(int64(cfg.NumRecords))
	enc.Varint64(int64(cfg.KeySize))
	enc.Varint64(int64(cfg.ValueSize))
	enc.Varint64(int64(cfg.SleepPerInputRecord))
	enc.BigEndianUint64(cfg.Seed)
}

func (configCoder) Decode(dec *coders.Decoder) (SourceConfig, error) {
	var cfg SourceConfig
	read := func(dst *int64) error {
		v, err := dec.Varint64()
		*dst = v
		return err
	}
	var n, ks, vs, sleep int64
	for _, dst := range []*int64{&n, &ks, &vs, &sleep} {
		if err := read(dst); err != nil {
			return SourceConfig{}, errors.Wrap(err, "decoding source config")
		}
	}
	seed, err := dec.BigEndianUint64()
	if err != nil {
		return SourceConfig{}, errors.Wrap(err, "decoding source config seed")
	}
	cfg.NumRecords = int(n)
	cfg.KeySize = int(ks)
	cfg.ValueSize = int(vs)
	cfg.SleepPerInputRecord = time.Duration(sleep)
	cfg.Seed = seed
	return cfg, nil
}
