package invalidator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"memberpass/internal/card/ports/mocks"
	id "memberpass/pkg/domain"
)

type WorkerSuite struct {
	suite.Suite
	ctrl   *gomock.Controller
	source *mocks.MockMutationSource
	cache  *recordingCache
}

func TestWorkerSuite(t *testing.T) {
	suite.Run(t, new(WorkerSuite))
}

func (s *WorkerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.source = mocks.NewMockMutationSource(s.ctrl)
	s.cache = &recordingCache{}
}

type recordingCache struct {
	mu          sync.Mutex
	invalidated []id.MemberID
}

func (c *recordingCache) Invalidate(memberID id.MemberID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, memberID)
}

func (c *recordingCache) seen() []id.MemberID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]id.MemberID(nil), c.invalidated...)
}

func (s *WorkerSuite) TestNew() {
	_, err := New(nil, s.cache)
	s.Error(err)
	_, err = New(s.source, nil)
	s.Error(err)
}

func (s *WorkerSuite) TestInvalidatesReportedMembers() {
	ctx, cancel := context.WithCancel(context.Background())
	changes := make(chan id.MemberID, 3)
	changes <- "M1"
	changes <- "M2"
	changes <- "M1"
	s.source.EXPECT().Subscribe(gomock.Any()).Return((<-chan id.MemberID)(changes), nil)

	w, err := New(s.source, s.cache)
	s.Require().NoError(err)

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	s.Eventually(func() bool { return len(s.cache.seen()) == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	s.ErrorIs(<-done, context.Canceled)
	s.Equal([]id.MemberID{"M1", "M2", "M1"}, s.cache.seen())
}

func (s *WorkerSuite) TestResubscribesAfterFailure() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	closed := make(chan id.MemberID)
	close(closed)
	second := make(chan id.MemberID, 1)
	second <- "M9"

	gomock.InOrder(
		s.source.EXPECT().Subscribe(gomock.Any()).Return(nil, errors.New("broker unavailable")),
		s.source.EXPECT().Subscribe(gomock.Any()).Return((<-chan id.MemberID)(closed), nil),
		s.source.EXPECT().Subscribe(gomock.Any()).Return((<-chan id.MemberID)(second), nil),
	)

	w, err := New(s.source, s.cache, WithName("test"))
	s.Require().NoError(err)

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	s.Eventually(func() bool { return len(s.cache.seen()) == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
	s.Equal([]id.MemberID{"M9"}, s.cache.seen())
}
