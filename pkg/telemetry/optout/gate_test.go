package optout

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"neurotravel/pkg/platform/sentinel"
	"neurotravel/pkg/telemetry/prefs"
)

type failingStore struct {
	getErr, setErr error
}

func (f failingStore) Get(context.Context, string) (string, error) { return "", f.getErr }
func (f failingStore) Set(context.Context, string, string) error   { return f.setErr }
func (f failingStore) Delete(context.Context, string) error        { return nil }

type GateSuite struct {
	suite.Suite
	ctx    context.Context
	store  *prefs.InMemoryStore
	logger *slog.Logger
}

func TestGateSuite(t *testing.T) {
	suite.Run(t, new(GateSuite))
}

func (s *GateSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = prefs.NewInMemoryStore()
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (s *GateSuite) load() *Gate {
	g, err := Load(s.ctx, s.store, WithLogger(s.logger))
	s.Require().NoError(err)
	return g
}

func (s *GateSuite) TestLoad() {
	s.Run("missing flag means enabled", func() {
		s.True(s.load().Enabled())
	})

	s.Run("persisted flag means disabled", func() {
		s.Require().NoError(s.store.Set(s.ctx, StorageKey, "true"))
		s.False(s.load().Enabled())
	})

	s.Run("unreadable store fails closed", func() {
		g, err := Load(s.ctx, failingStore{getErr: sentinel.ErrUnavailable}, WithLogger(s.logger))
		s.ErrorIs(err, sentinel.ErrUnavailable)
		s.Require().NotNil(g)
		s.False(g.Enabled())
	})
}

func (s *GateSuite) TestOptOut() {
	g := s.load()
	var cleared int
	g.OnOptOut(func() { cleared++ })
	g.OnOptOut(func() { cleared++ })

	s.Require().NoError(g.OptOut(s.ctx))

	s.False(g.Enabled())
	s.Equal(2, cleared)
	v, err := s.store.Get(s.ctx, StorageKey)
	s.Require().NoError(err)
	s.Equal("true", v)

	s.Run("survives a reload", func() {
		s.False(s.load().Enabled())
	})
}

func (s *GateSuite) TestOptOut_PersistFailureStillDisables() {
	g, err := Load(s.ctx, failingStore{getErr: sentinel.ErrNotFound, setErr: errors.New("disk full")}, WithLogger(s.logger))
	s.Require().NoError(err)

	s.Error(g.OptOut(s.ctx))
	s.False(g.Enabled())
}

func (s *GateSuite) TestOptIn() {
	g := s.load()
	s.Require().NoError(g.OptOut(s.ctx))
	s.Require().NoError(g.OptIn(s.ctx))

	s.True(g.Enabled())
	_, err := s.store.Get(s.ctx, StorageKey)
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.True(s.load().Enabled())
}

func (s *GateSuite) TestWhileEnabled() {
	g := s.load()

	ran := false
	s.True(g.WhileEnabled(func() { ran = true }))
	s.True(ran)

	s.Require().NoError(g.OptOut(s.ctx))
	s.False(g.WhileEnabled(func() { s.Fail("must not run while opted out") }))
}

func (s *GateSuite) TestOptOut_WaitsForRecordInProgress() {
	g := s.load()
	entered := make(chan struct{})
	release := make(chan struct{})
	var hookSawRecord bool
	recorded := false
	g.OnOptOut(func() { hookSawRecord = recorded })

	go g.WhileEnabled(func() {
		close(entered)
		<-release
		recorded = true
	})
	<-entered

	done := make(chan error, 1)
	go func() { done <- g.OptOut(s.ctx) }()

	select {
	case <-done:
		s.Fail("opt-out completed while a record was being written")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	s.Require().NoError(<-done)
	s.True(hookSawRecord, "hooks run after the in-progress record, so they can discard it")
	s.False(g.Enabled())
}
