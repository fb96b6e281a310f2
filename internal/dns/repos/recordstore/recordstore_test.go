package recordstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/haukened/dnscore/internal/dns/domain"
)

type mockRepository struct {
	mock.Mock
}

func (m *mockRepository) LoadAll(ctx context.Context) ([]domain.Record, error) {
	args := m.Called(ctx)
	rs, _ := args.Get(0).([]domain.Record)
	return rs, args.Error(1)
}

func (m *mockRepository) SaveAll(ctx context.Context, records []domain.Record) error {
	return m.Called(ctx, records).Error(0)
}

func (m *mockRepository) Add(ctx context.Context, r domain.Record) error {
	return m.Called(ctx, r).Error(0)
}

func (m *mockRepository) Delete(ctx context.Context, name string, t domain.RRType) error {
	return m.Called(ctx, name, t).Error(0)
}

func (m *mockRepository) Clear(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockRepository) Close() error {
	return m.Called().Error(0)
}

func a(name, value string) domain.Record {
	return domain.Record{Domain: name, Type: domain.RRTypeA, Value: value, TTL: 300}
}

func TestQuery_WildcardSpecificity(t *testing.T) {
	ctx := context.Background()
	s := New(Options{})
	s.AddRecord(ctx, a("*.example.com", "10.0.0.1"))     // X
	s.AddRecord(ctx, a("*.dev.example.com", "10.0.0.2")) // Y

	got, ok := s.Query("api.dev.example.com", domain.RRTypeA)
	require.True(t, ok)
	assert.Equal(t, []domain.Record{a("*.dev.example.com", "10.0.0.2")}, got)

	got, ok = s.Query("www.example.com", domain.RRTypeA)
	require.True(t, ok)
	assert.Equal(t, []domain.Record{a("*.example.com", "10.0.0.1")}, got)

	got, ok = s.Query("deep.api.dev.example.com", domain.RRTypeA)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.2", got[0].Value)
}

func TestQuery_ExactBeatsWildcard(t *testing.T) {
	ctx := context.Background()
	s := New(Options{})
	s.AddRecord(ctx, a("*.example.com", "10.0.0.1"))
	s.AddRecord(ctx, a("www.example.com", "10.0.0.9"))

	got, ok := s.Query("www.example.com", domain.RRTypeA)
	require.True(t, ok)
	assert.Equal(t, []domain.Record{a("www.example.com", "10.0.0.9")}, got)
}

func TestQuery_BaseDomainExcludedFromOwnWildcard(t *testing.T) {
	s := New(Options{})
	s.AddRecord(context.Background(), a("*.example.com", "10.0.0.1"))

	_, ok := s.Query("example.com", domain.RRTypeA)
	assert.False(t, ok)
}

func TestQuery_SingleLabelNeverMatchesWildcard(t *testing.T) {
	s := New(Options{})
	s.AddRecord(context.Background(), a("*.com", "10.0.0.1"))

	_, ok := s.Query("localhost", domain.RRTypeA)
	assert.False(t, ok)
	_, ok = s.Query("example.com", domain.RRTypeA)
	assert.True(t, ok)
}

func TestQuery_CaseInsensitive(t *testing.T) {
	s := New(Options{})
	s.AddRecord(context.Background(), a("Example.COM", "10.0.0.1"))

	for _, name := range []string{"example.com", "EXAMPLE.COM", "Example.Com"} {
		got, ok := s.Query(name, domain.RRTypeA)
		require.True(t, ok, name)
		assert.Equal(t, "10.0.0.1", got[0].Value)
	}
}

func TestQuery_TypeMismatch(t *testing.T) {
	s := New(Options{})
	s.AddRecord(context.Background(), a("example.com", "10.0.0.1"))

	_, ok := s.Query("example.com", domain.RRTypeAAAA)
	assert.False(t, ok)
	_, ok = s.Query("", domain.RRTypeA)
	assert.False(t, ok)
}

func TestQuery_ANYReturnsUnionOfTypes(t *testing.T) {
	ctx := context.Background()
	s := New(Options{})
	s.AddRecords(ctx, []domain.Record{
		a("example.com", "10.0.0.1"),
		{Domain: "example.com", Type: domain.RRTypeTXT, Value: "hello", TTL: 60},
		{Domain: "example.com", Type: domain.RRTypeMX, Value: "10 mail.example.com", TTL: 60},
		a("other.com", "10.0.0.2"),
	})

	got, ok := s.Query("EXAMPLE.com", domain.RRTypeANY)
	require.True(t, ok)
	assert.Len(t, got, 3)
	for _, r := range got {
		assert.Equal(t, "example.com", r.Domain)
	}

	_, ok = s.Query("missing.com", domain.RRTypeANY)
	assert.False(t, ok)
}

func TestQuery_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := New(Options{})
	s.AddRecord(ctx, a("example.com", "10.0.0.1"))

	first, ok := s.Query("example.com", domain.RRTypeA)
	require.True(t, ok)
	first[0].Value = "tampered"

	s.AddRecord(ctx, a("example.com", "10.0.0.2"))
	assert.Len(t, first, 1, "earlier result must not observe later additions")

	again, _ := s.Query("example.com", domain.RRTypeA)
	assert.Equal(t, "10.0.0.1", again[0].Value)
	assert.Len(t, again, 2)
}

func TestAddRecord_Dedup(t *testing.T) {
	ctx := context.Background()
	s := New(Options{})
	assert.True(t, s.AddRecord(ctx, a("example.com", "10.0.0.1")))
	assert.False(t, s.AddRecord(ctx, a("EXAMPLE.com", "10.0.0.1")))
	// a different TTL is a different record
	assert.True(t, s.AddRecord(ctx, domain.Record{Domain: "example.com", Type: domain.RRTypeA, Value: "10.0.0.1", TTL: 60}))
	assert.Equal(t, 2, s.Count())
}

func TestAddRecord_RejectsInvalid(t *testing.T) {
	s := New(Options{})
	assert.False(t, s.AddRecord(context.Background(), domain.Record{Domain: "", Type: domain.RRTypeA, Value: "1.2.3.4", TTL: 1}))
	assert.False(t, s.AddRecord(context.Background(), domain.Record{Domain: "a.com", Type: domain.RRTypeANY, Value: "x", TTL: 1}))
	assert.Zero(t, s.Count())
}

func TestRemoveRecord(t *testing.T) {
	ctx := context.Background()
	s := New(Options{})
	s.AddRecord(ctx, a("example.com", "10.0.0.1"))
	s.AddRecord(ctx, a("example.com", "10.0.0.2"))
	s.AddRecord(ctx, a("other.com", "10.0.0.3"))

	assert.False(t, s.RemoveRecord(ctx, "missing.com", domain.RRTypeA))
	assert.Equal(t, 3, s.Count())

	assert.True(t, s.RemoveRecord(ctx, "Example.com", domain.RRTypeA))
	_, ok := s.Query("example.com", domain.RRTypeA)
	assert.False(t, ok)
	assert.Equal(t, []domain.Record{a("other.com", "10.0.0.3")}, s.GetAllRecords())
}

func TestClearAndGetAllRecords(t *testing.T) {
	ctx := context.Background()
	s := New(Options{})
	records := []domain.Record{a("b.com", "10.0.0.1"), a("a.com", "10.0.0.2"), a("b.com", "10.0.0.3")}
	assert.Equal(t, 3, s.AddRecords(ctx, records))

	assert.Equal(t, []domain.Record{records[0], records[2], records[1]}, s.GetAllRecords())

	s.Clear(ctx)
	assert.Empty(t, s.GetAllRecords())
	assert.Zero(t, s.Count())
}

func TestPersistence_SavesAfterEachChange(t *testing.T) {
	ctx := context.Background()
	repo := &mockRepository{}
	s := New(Options{Repository: repo})

	repo.On("SaveAll", ctx, []domain.Record{a("a.com", "10.0.0.1")}).Return(nil).Once()
	s.AddRecord(ctx, a("a.com", "10.0.0.1"))

	// duplicate add, missing remove and empty clear change nothing and do not save
	s.AddRecord(ctx, a("a.com", "10.0.0.1"))
	s.RemoveRecord(ctx, "none.com", domain.RRTypeA)

	repo.On("SaveAll", ctx, []domain.Record{}).Return(nil).Once()
	s.RemoveRecord(ctx, "a.com", domain.RRTypeA)
	s.Clear(ctx)

	repo.AssertExpectations(t)
	repo.AssertNumberOfCalls(t, "SaveAll", 2)
}

func TestPersistence_SaveErrorKeepsMemoryState(t *testing.T) {
	ctx := context.Background()
	repo := &mockRepository{}
	repo.On("SaveAll", mock.Anything, mock.Anything).Return(errors.New("disk full"))
	s := New(Options{Repository: repo})

	assert.True(t, s.AddRecord(ctx, a("a.com", "10.0.0.1")))
	_, ok := s.Query("a.com", domain.RRTypeA)
	assert.True(t, ok)
}

func TestLoad_Deduplicates(t *testing.T) {
	ctx := context.Background()
	repo := &mockRepository{}
	repo.On("LoadAll", ctx).Return([]domain.Record{
		a("a.com", "10.0.0.1"),
		a("A.COM", "10.0.0.1"),
		a("a.com", "10.0.0.2"),
		{Domain: "", Type: domain.RRTypeA, Value: "bad", TTL: 1},
		a("*.b.com", "10.0.0.3"),
	}, nil)
	s := New(Options{Repository: repo})

	require.NoError(t, s.Load(ctx))
	assert.Equal(t, 3, s.Count())
	got, ok := s.Query("x.b.com", domain.RRTypeA)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.3", got[0].Value)
}

func TestLoad_ErrorLeavesStoreUnchanged(t *testing.T) {
	ctx := context.Background()
	repo := &mockRepository{}
	repo.On("SaveAll", mock.Anything, mock.Anything).Return(nil)
	repo.On("LoadAll", ctx).Return(nil, errors.New("corrupt"))
	s := New(Options{Repository: repo})
	s.AddRecord(ctx, a("a.com", "10.0.0.1"))

	assert.Error(t, s.Load(ctx))
	assert.Equal(t, 1, s.Count())
}

func TestAutoSave_DefersUntilFlush(t *testing.T) {
	ctx := context.Background()
	repo := &mockRepository{}
	s := New(Options{Repository: repo, AutoSaveInterval: time.Hour})

	s.AddRecord(ctx, a("a.com", "10.0.0.1"))
	s.AddRecord(ctx, a("b.com", "10.0.0.2"))
	repo.AssertNotCalled(t, "SaveAll", mock.Anything, mock.Anything)

	repo.On("SaveAll", ctx, []domain.Record{a("a.com", "10.0.0.1"), a("b.com", "10.0.0.2")}).Return(nil).Once()
	s.Flush(ctx)
	s.Flush(ctx) // clean: no second save
	repo.AssertExpectations(t)
}

func TestRunAutoSave_FlushesOnTickAndShutdown(t *testing.T) {
	repo := &mockRepository{}
	var mu sync.Mutex
	saves := 0
	repo.On("SaveAll", mock.Anything, mock.Anything).Return(nil).Run(func(mock.Arguments) {
		mu.Lock()
		saves++
		mu.Unlock()
	})
	s := New(Options{Repository: repo, AutoSaveInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.RunAutoSave(ctx)
		close(done)
	}()

	s.AddRecord(context.Background(), a("a.com", "10.0.0.1"))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return saves == 1
	}, time.Second, 5*time.Millisecond)

	// a change pending at shutdown is flushed on the way out
	s.dirty.Store(true)
	cancel()
	<-done
	mu.Lock()
	assert.Equal(t, 2, saves)
	mu.Unlock()
}

func TestRunAutoSave_DisabledReturnsImmediately(t *testing.T) {
	s := New(Options{})
	done := make(chan struct{})
	go func() {
		s.RunAutoSave(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunAutoSave should return when autosave is disabled")
	}
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	ctx := context.Background()
	s := New(Options{})
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				name := fmt.Sprintf("h%d.w%d.example.com", i%20, w)
				s.AddRecord(ctx, a(name, fmt.Sprintf("10.0.%d.%d", w, i%250)))
				if i%10 == 0 {
					s.RemoveRecord(ctx, name, domain.RRTypeA)
				}
			}
		}(w)
	}
	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				if rs, ok := s.Query(fmt.Sprintf("h%d.w%d.example.com", i%20, i%4), domain.RRTypeA); ok {
					assert.NotEmpty(t, rs)
				}
				_ = s.GetAllRecords()
			}
		}()
	}
	wg.Wait()
}
