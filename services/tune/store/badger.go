// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/flagtune/services/tune/measure"
)

// Key layout:
//
//	phase/<phase>    encoded phase result
//	session/id       workspace session UUID
//	session/started  RFC 3339 creation time
const (
	phaseKeyPrefix    = "phase/"
	sessionIDKey      = "session/id"
	sessionStartedKey = "session/started"
)

// BadgerConfig holds configuration for a BadgerStore.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps the database in RAM. Useful for testing.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives BadgerDB's internal messages. nil disables them.
	Logger *slog.Logger

	// GCInterval is how often to run value log garbage collection.
	// Zero disables it.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum discardable fraction before GC.
	GCDiscardRatio float64
}

// DefaultBadgerConfig returns the settings used for a workspace database.
//
// Description:
//
//	Returns a BadgerConfig with:
//	- SyncWrites enabled so a killed tuning run keeps finished phases
//	- 10-minute GC interval
//	- 50% discard ratio threshold
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     10 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryBadgerConfig returns configuration optimized for testing.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerStore keeps phase results in an embedded BadgerDB.
//
// Thread Safety: Safe for concurrent use.
type BadgerStore struct {
	db *badger.DB
	gc *gcRunner
}

// OpenBadger opens or creates the database described by cfg.
//
// Inputs:
//
//	cfg - Database configuration. Path is required unless InMemory is true.
//
// Outputs:
//
//	*BadgerStore - The store. Caller must call Close() when done.
//	error - Non-nil if path is invalid or the database cannot be opened.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	s := &BadgerStore{db: db}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gc = newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		s.gc.start()
	}
	return s, nil
}

func (s *BadgerStore) Status(ctx context.Context, phase Phase) (Status, error) {
	if _, ok := phaseFiles[phase]; !ok {
		return Pending, fmt.Errorf("unknown phase %q", phase)
	}
	found := false
	err := s.withReadTxn(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get(phaseKey(phase))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return Pending, fmt.Errorf("status %s: %w", phase, err)
	}
	if found {
		return Completed, nil
	}
	return Pending, nil
}

func (s *BadgerStore) SaveBaseline(ctx context.Context, samples []float64) error {
	return s.put(ctx, PhaseBaseline, encodeFloats(samples))
}

func (s *BadgerStore) LoadBaseline(ctx context.Context) ([]float64, error) {
	data, err := s.get(ctx, PhaseBaseline)
	if err != nil {
		return nil, err
	}
	return decodeFloats(data)
}

func (s *BadgerStore) SaveFlags(ctx context.Context, flags []string) error {
	return s.put(ctx, PhaseFlags, encodeLines(flags))
}

func (s *BadgerStore) LoadFlags(ctx context.Context) ([]string, error) {
	data, err := s.get(ctx, PhaseFlags)
	if err != nil {
		return nil, err
	}
	return decodeLines(data), nil
}

func (s *BadgerStore) SaveParameters(ctx context.Context, params []string) error {
	return s.put(ctx, PhaseParameters, encodeLines(params))
}

func (s *BadgerStore) LoadParameters(ctx context.Context) ([]string, error) {
	data, err := s.get(ctx, PhaseParameters)
	if err != nil {
		return nil, err
	}
	return decodeLines(data), nil
}

func (s *BadgerStore) SaveAssignment(ctx context.Context, assignment []measure.Setting) error {
	return s.put(ctx, PhaseBandit, encodeAssignment(assignment))
}

func (s *BadgerStore) LoadAssignment(ctx context.Context) ([]measure.Setting, error) {
	data, err := s.get(ctx, PhaseBandit)
	if err != nil {
		return nil, err
	}
	return decodeAssignment(data)
}

func (s *BadgerStore) SaveResults(ctx context.Context, results Results) error {
	data, err := encodeResults(results)
	if err != nil {
		return err
	}
	return s.put(ctx, PhaseCompare, data)
}

func (s *BadgerStore) LoadResults(ctx context.Context) (Results, error) {
	data, err := s.get(ctx, PhaseCompare)
	if err != nil {
		return Results{}, err
	}
	return decodeResults(data)
}

// Session returns the workspace session, creating it on first use.
func (s *BadgerStore) Session(ctx context.Context) (Session, error) {
	var sess Session
	err := s.withTxn(ctx, func(txn *badger.Txn) error {
		id, err := getString(txn, sessionIDKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			sess = Session{ID: uuid.NewString(), Started: time.Now().UTC().Truncate(time.Second)}
			if err := txn.Set([]byte(sessionIDKey), []byte(sess.ID)); err != nil {
				return err
			}
			return txn.Set([]byte(sessionStartedKey), []byte(sess.Started.Format(time.RFC3339)))
		}
		if err != nil {
			return err
		}
		started, err := getString(txn, sessionStartedKey)
		if err != nil {
			return err
		}
		t, err := time.Parse(time.RFC3339, started)
		if err != nil {
			return err
		}
		sess = Session{ID: id, Started: t}
		return nil
	})
	if err != nil {
		return Session{}, fmt.Errorf("session: %w", err)
	}
	return sess, nil
}

// Close stops garbage collection and closes the database.
func (s *BadgerStore) Close() error {
	if s.gc != nil {
		s.gc.stop()
	}
	return s.db.Close()
}

func (s *BadgerStore) put(ctx context.Context, phase Phase, data []byte) error {
	err := s.withTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(phaseKey(phase), data)
	})
	if err != nil {
		return fmt.Errorf("save %s: %w", phase, err)
	}
	return nil
}

func (s *BadgerStore) get(ctx context.Context, phase Phase) ([]byte, error) {
	var data []byte
	err := s.withReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(phaseKey(phase))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%s: %w", phase, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", phase, err)
	}
	return data, nil
}

// withTxn runs fn in a read-write transaction and commits if fn succeeds.
func (s *BadgerStore) withTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	txn := s.db.NewTransaction(true)
	defer txn.Discard()

	if err := fn(txn); err != nil {
		return err
	}
	return txn.Commit()
}

func (s *BadgerStore) withReadTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	txn := s.db.NewTransaction(false)
	defer txn.Discard()
	return fn(txn)
}

func phaseKey(p Phase) []byte {
	return []byte(phaseKeyPrefix + string(p))
}

func getString(txn *badger.Txn, key string) (string, error) {
	item, err := txn.Get([]byte(key))
	if err != nil {
		return "", err
	}
	v, err := item.ValueCopy(nil)
	return string(v), err
}

// -----------------------------------------------------------------------------
// Value log GC
// -----------------------------------------------------------------------------

// gcRunner runs periodic value log garbage collection.
type gcRunner struct {
	db       *badger.DB
	interval time.Duration
	ratio    float64
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func newGCRunner(db *badger.DB, interval time.Duration, ratio float64, logger *slog.Logger) *gcRunner {
	if ratio <= 0 || ratio > 1 {
		ratio = 0.5
	}
	return &gcRunner{
		db:       db,
		interval: interval,
		ratio:    ratio,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (r *gcRunner) start() {
	go r.run()
}

func (r *gcRunner) stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *gcRunner) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			// ErrNoRewrite means nothing was worth collecting.
			if err := r.db.RunValueLogGC(r.ratio); err != nil && !errors.Is(err, badger.ErrNoRewrite) && r.logger != nil {
				r.logger.Warn("badger value log GC error", slog.String("error", err.Error()))
			}
		}
	}
}
