package remoteconfig

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
)

var ErrOffline = errors.New("remoteconfig: not connected")

// DocumentStore fetches and writes configuration documents by key.
// Fetch returns an error wrapping ErrDocumentNotFound when nothing is
// stored under key.
type DocumentStore interface {
	Fetch(ctx context.Context, key string) (Document, error)
	Write(ctx context.Context, key string, doc Document) error
}

type Connectivity interface {
	IsConnected() bool
}

type Source int

const (
	SourceNone Source = iota
	SourceFleetDefaults
	SourceDeviceOverrides
)

func (s Source) String() string {
	switch s {
	case SourceFleetDefaults:
		return "fleet defaults"
	case SourceDeviceOverrides:
		return "device overrides"
	default:
		return "none"
	}
}

type Result struct {
	Source       Source
	Applied      int
	Rejected     int
	Bootstrapped bool
}

type Options struct {
	// Interval between reconciles while connected.
	Interval time.Duration
	// Retry is the minimum spacing between attempts of any kind.
	Retry time.Duration
}

// Synchronizer reconciles the live settings and thresholds with the
// fleet-defaults and device-overrides documents.
type Synchronizer struct {
	docs   DocumentStore
	link   Connectivity
	keys   Keys
	target Target
	logger *log.Logger
	now    func() time.Time
	opts   Options

	lastAttempt time.Time
	lastSuccess time.Time
	nudged      bool
}

func NewSynchronizer(docs DocumentStore, link Connectivity, keys Keys, target Target, logger *log.Logger, now func() time.Time, opts Options) *Synchronizer {
	if now == nil {
		now = time.Now
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}
	if opts.Retry <= 0 {
		opts.Retry = time.Minute
	}
	return &Synchronizer{docs: docs, link: link, keys: keys, target: target, logger: logger, now: now, opts: opts}
}

// Nudge makes the next connected Due true regardless of retry spacing.
// It is called when an update notification arrives.
func (s *Synchronizer) Nudge() { s.nudged = true }

// Due reports whether Reconcile should run now: on the first connected
// evaluation, after a Nudge, when updates are pending, or once the
// interval elapsed.
func (s *Synchronizer) Due(now time.Time, connected, updatesPending bool) bool {
	if !connected {
		return false
	}
	if s.lastAttempt.IsZero() || s.nudged {
		return true
	}
	if now.Sub(s.lastAttempt) < s.opts.Retry {
		return false
	}
	if updatesPending {
		return true
	}
	return now.Sub(s.lastSuccess) >= s.opts.Interval
}

func (s *Synchronizer) LastSuccess() time.Time { return s.lastSuccess }

func (s *Synchronizer) fetch(ctx context.Context, key string) (Document, bool, error) {
	doc, err := s.docs.Fetch(ctx, key)
	if errors.Is(err, ErrDocumentNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

// Reconcile fetches both documents and applies the effective one section
// by section. Sections already applied stay applied when a later step
// fails. Rejected fields are returned as joined *FieldError values.
func (s *Synchronizer) Reconcile(ctx context.Context) (Result, error) {
	if !s.link.IsConnected() {
		return Result{}, ErrOffline
	}
	s.lastAttempt = s.now()
	s.nudged = false

	overrides, haveOverrides, err := s.fetch(ctx, s.keys.Device)
	if err != nil {
		return Result{}, fmt.Errorf("device overrides: %w", err)
	}
	haveOverrides = haveOverrides && !overrides.Empty()
	defaults, haveDefaults, err := s.fetch(ctx, s.keys.Fleet)
	if err != nil {
		if !haveOverrides {
			return Result{}, fmt.Errorf("fleet defaults: %w", err)
		}
		s.logger.Printf("[config] fleet defaults unavailable, applying device overrides only: %v", err)
		defaults, haveDefaults = nil, false
	}

	var (
		doc Document
		res Result
	)
	switch {
	case haveOverrides:
		doc, res.Source = Merge(defaults, overrides), SourceDeviceOverrides
	case haveDefaults:
		doc, res.Source = defaults, SourceFleetDefaults
	default:
		s.logger.Printf("[config] no config found (%s, %s)", s.keys.Device, s.keys.Fleet)
		return Result{Source: SourceNone}, nil
	}
	s.logger.Printf("[config] applying %s", res.Source)

	var rejected []error
	for i, section := range Sections {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("aborted after %d of %d sections: %w", i, len(Sections), err)
		}
		if !s.link.IsConnected() {
			return res, fmt.Errorf("aborted after %d of %d sections: %w", i, len(Sections), ErrOffline)
		}
		values := doc[section]
		if len(values) == 0 {
			continue
		}
		applied, err := ApplySection(s.target, section, values)
		res.Applied += len(applied)
		if len(applied) > 0 {
			s.logger.Printf("[config] %s accepted: %s", section, formatApplied(applied))
		}
		if err != nil {
			s.logger.Printf("[config] %s rejected: %v", section, strings.ReplaceAll(err.Error(), "\n", "; "))
			res.Rejected += countFieldErrors(err)
			rejected = append(rejected, err)
		}
	}
	if len(rejected) > 0 {
		return res, errors.Join(rejected...)
	}

	if res.Source == SourceFleetDefaults && !haveOverrides {
		if err := s.docs.Write(ctx, s.keys.Device, Snapshot(s.target)); err != nil {
			return res, fmt.Errorf("bootstrap device overrides: %w", err)
		}
		res.Bootstrapped = true
		s.logger.Printf("[config] wrote device overrides %s from fleet defaults", s.keys.Device)
	}

	s.target.Settings.SetUpdatesPending(false)
	if err := s.target.Settings.Flush(true); err != nil {
		return res, fmt.Errorf("flush settings: %w", err)
	}
	if err := s.target.Thresholds.Flush(true); err != nil {
		return res, fmt.Errorf("flush thresholds: %w", err)
	}
	s.lastSuccess = s.now()
	return res, nil
}

func formatApplied(applied []Applied) string {
	parts := make([]string, len(applied))
	for i, a := range applied {
		parts[i] = fmt.Sprintf("%s=%v", a.Key, a.Value)
	}
	return strings.Join(parts, " ")
}

func countFieldErrors(err error) int {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return len(joined.Unwrap())
	}
	return 1
}
