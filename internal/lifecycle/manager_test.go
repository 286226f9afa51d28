package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"because/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// memRepo is an in-memory Repository that records every save.
type memRepo struct {
	mu      sync.Mutex
	items   []domain.Item
	saves   int
	saveErr error
}

func (r *memRepo) Load(context.Context) ([]domain.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return domain.CloneItems(r.items), nil
}

func (r *memRepo) Save(_ context.Context, items []domain.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
	if r.saveErr != nil {
		return r.saveErr
	}
	r.items = domain.CloneItems(items)
	return nil
}

func (r *memRepo) Close() error { return nil }

func (r *memRepo) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saveErr = err
}

func (r *memRepo) snapshot() []domain.Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	return domain.CloneItems(r.items)
}

func (r *memRepo) saveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saves
}

// fixedClassifier answers with the same topics every time.
type fixedClassifier []domain.Topic

func (f fixedClassifier) Classify(context.Context, string, string) []domain.Topic {
	return append([]domain.Topic(nil), f...)
}

// gatedClassifier blocks each call until released and answers by reason.
type gatedClassifier struct {
	release chan struct{}
	answers map[string][]domain.Topic
}

func (g *gatedClassifier) Classify(_ context.Context, _, reason string) []domain.Topic {
	<-g.release
	return g.answers[reason]
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestManager(t *testing.T, repo *memRepo, c Classifier, window time.Duration) *Manager {
	t.Helper()
	m := New(repo, c, Options{UndoWindow: window}, testLogger())
	require.NoError(t, m.Load(context.Background()))
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m
}

func ids(items []domain.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestAdd_ClassifiesAndPersists(t *testing.T) {
	repo := &memRepo{}
	m := newTestManager(t, repo, fixedClassifier{domain.TopicLearning, domain.TopicReference}, time.Second)

	item, err := m.Add(context.Background(), "  https://go.dev/blog  ", "  to understand the new iterator design ")
	require.NoError(t, err)
	assert.NotEmpty(t, item.ID)
	assert.Equal(t, "https://go.dev/blog", item.Content)
	assert.Equal(t, "to understand the new iterator design", item.Reason)
	assert.True(t, item.Classifying)
	assert.Empty(t, item.Topics)

	m.Wait()

	got, ok := m.Get(item.ID)
	require.True(t, ok)
	assert.False(t, got.Classifying)
	assert.Equal(t, []domain.Topic{domain.TopicLearning, domain.TopicReference}, got.Topics)

	stored := repo.snapshot()
	require.Len(t, stored, 1)
	assert.Equal(t, got.Topics, stored[0].Topics)
	assert.Equal(t, 2, repo.saveCount(), "one save on add, one for topics")
}

func TestAdd_InsertsAtHeadWithUniqueIDs(t *testing.T) {
	m := newTestManager(t, &memRepo{}, fixedClassifier{domain.TopicWork}, time.Second)
	ctx := context.Background()

	first, err := m.Add(ctx, "first", "for the quarterly planning doc")
	require.NoError(t, err)
	second, err := m.Add(ctx, "second", "share with the team on Monday")
	require.NoError(t, err)
	m.Wait()

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, []string{second.ID, first.ID}, ids(m.Items()))
}

func TestAdd_Validation(t *testing.T) {
	repo := &memRepo{}
	m := newTestManager(t, repo, fixedClassifier{domain.TopicWork}, time.Second)
	ctx := context.Background()

	cases := map[string][2]string{
		"empty content":   {"", "some reason"},
		"empty reason":    {"content", ""},
		"blank content":   {"   ", "some reason"},
		"single vague":    {"x", "cool"},
		"two vague words": {"x", "Nice, interesting!"},
		"too short":       {"x", "hm"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := m.Add(ctx, in[0], in[1])
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrValidation)

			var ve *domain.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.NotEmpty(t, ve.Hint)
		})
	}
	assert.Empty(t, m.Items())
	assert.Zero(t, repo.saveCount())

	_, err := m.Add(ctx, "x", "cool pattern for retries")
	assert.NoError(t, err, "vague words inside a longer reason are fine")
	m.Wait()
}

func TestAdd_RollsBackOnSaveFailure(t *testing.T) {
	repo := &memRepo{}
	var calls int
	var mu sync.Mutex
	c := classifierFunc(func() []domain.Topic {
		mu.Lock()
		calls++
		mu.Unlock()
		return domain.FallbackTopics()
	})
	m := newTestManager(t, repo, c, time.Second)

	repo.setErr(&domain.StorageError{Kind: domain.KindQuotaExceeded, Op: "write"})
	_, err := m.Add(context.Background(), "https://example.com", "read before the design review")
	require.Error(t, err)
	assert.True(t, domain.IsQuotaExceeded(err))
	assert.Empty(t, m.Items())

	m.Wait()
	mu.Lock()
	assert.Zero(t, calls, "no classification after a failed add")
	mu.Unlock()
}

type classifierFunc func() []domain.Topic

func (f classifierFunc) Classify(context.Context, string, string) []domain.Topic { return f() }

func TestAdd_TopicWriteFailureKeepsItem(t *testing.T) {
	repo := &memRepo{}
	g := &gatedClassifier{release: make(chan struct{}), answers: map[string][]domain.Topic{
		"ideas for the side project": {domain.TopicIdeas},
	}}
	m := newTestManager(t, repo, g, time.Second)

	item, err := m.Add(context.Background(), "https://example.com", "ideas for the side project")
	require.NoError(t, err)

	repo.setErr(errors.New("disk gone"))
	close(g.release)
	m.Wait()

	got, ok := m.Get(item.ID)
	require.True(t, ok)
	assert.Equal(t, []domain.Topic{domain.TopicIdeas}, got.Topics)
	assert.Equal(t, "ideas for the side project", got.Reason)
	assert.Error(t, m.TakeBackgroundError())
	assert.NoError(t, m.TakeBackgroundError(), "the error is cleared once taken")

	repo.setErr(nil)
}

func TestEdit_ReclassifiesAndDiscardsStaleResult(t *testing.T) {
	repo := &memRepo{}
	g := &gatedClassifier{release: make(chan struct{}), answers: map[string][]domain.Topic{
		"initial reason here": {domain.TopicPersonal},
		"updated reason here":  {domain.TopicWork},
	}}
	m := newTestManager(t, repo, g, time.Second)
	ctx := context.Background()

	item, err := m.Add(ctx, "https://example.com", "initial reason here")
	require.NoError(t, err)

	edited, err := m.Edit(ctx, item.ID, "https://example.com/v2", "updated reason here")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/v2", edited.Content)
	assert.Equal(t, item.CreatedAt, edited.CreatedAt)

	close(g.release)
	m.Wait()

	got, ok := m.Get(item.ID)
	require.True(t, ok)
	assert.Equal(t, []domain.Topic{domain.TopicWork}, got.Topics, "only the latest edit's result applies")
	assert.False(t, got.Classifying)
}

func TestEdit_FailuresRestorePreviousValues(t *testing.T) {
	repo := &memRepo{}
	m := newTestManager(t, repo, fixedClassifier{domain.TopicWork}, time.Second)
	ctx := context.Background()

	item, err := m.Add(ctx, "https://example.com", "notes for the offsite")
	require.NoError(t, err)
	m.Wait()

	_, err = m.Edit(ctx, item.ID, "", "new reason")
	assert.ErrorIs(t, err, domain.ErrValidation)

	repo.setErr(&domain.StorageError{Kind: domain.KindIO, Op: "write"})
	_, err = m.Edit(ctx, item.ID, "https://other.example", "different reason")
	assert.ErrorIs(t, err, domain.ErrIO)
	repo.setErr(nil)

	got, ok := m.Get(item.ID)
	require.True(t, ok)
	assert.Equal(t, "https://example.com", got.Content)
	assert.Equal(t, "notes for the offsite", got.Reason)
	assert.False(t, got.Classifying)

	_, err = m.Edit(ctx, "missing", "a", "b")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReclassify_GuardsConcurrentRequests(t *testing.T) {
	repo := &memRepo{}
	g := &gatedClassifier{release: make(chan struct{}), answers: map[string][]domain.Topic{
		"compare with our cache": {domain.TopicReference},
	}}
	m := newTestManager(t, repo, g, time.Second)

	item, err := m.Add(context.Background(), "https://example.com", "compare with our cache")
	require.NoError(t, err)

	assert.ErrorIs(t, m.Reclassify(item.ID), domain.ErrAlreadyClassifying)
	close(g.release)
	m.Wait()

	require.NoError(t, m.Reclassify(item.ID))
	m.Wait()
	got, _ := m.Get(item.ID)
	assert.Equal(t, []domain.Topic{domain.TopicReference}, got.Topics)

	assert.ErrorIs(t, m.Reclassify("missing"), domain.ErrNotFound)
}

func TestReclassify_EmptyResultFallsBackToOther(t *testing.T) {
	m := newTestManager(t, &memRepo{}, fixedClassifier{}, time.Second)
	item, err := m.Add(context.Background(), "https://example.com", "just in case it helps")
	require.NoError(t, err)
	m.Wait()

	got, _ := m.Get(item.ID)
	assert.Equal(t, []domain.Topic{domain.TopicOther}, got.Topics)
}

func seed(t *testing.T, m *Manager, n int) []domain.Item {
	t.Helper()
	reasons := []string{"first reason text", "second reason text", "third reason text", "fourth reason text"}
	for i := 0; i < n; i++ {
		_, err := m.Add(context.Background(), "https://example.com/"+reasons[i], reasons[i])
		require.NoError(t, err)
	}
	m.Wait()
	return m.Items()
}

func TestDelete_UndoRestoresPositionWithoutPersistedRemoval(t *testing.T) {
	repo := &memRepo{}
	m := newTestManager(t, repo, fixedClassifier{domain.TopicWork}, time.Hour)
	before := seed(t, m, 3)
	saves := repo.saveCount()

	removed, err := m.Delete(before[1].ID)
	require.NoError(t, err)
	assert.Equal(t, before[1].ID, removed.ID)
	assert.Equal(t, []string{before[0].ID, before[2].ID}, ids(m.Items()), "removal is visible immediately")
	assert.Len(t, m.Pending(), 1)

	restored, err := m.Undo()
	require.NoError(t, err)
	assert.Equal(t, before[1].ID, restored.ID)
	assert.Equal(t, ids(before), ids(m.Items()))
	assert.Equal(t, saves, repo.saveCount(), "undo inside the window never writes a removal")
	assert.Equal(t, ids(before), ids(repo.snapshot()))

	_, err = m.Undo()
	assert.ErrorIs(t, err, domain.ErrNothingToUndo)
}

func TestDelete_CommitsAfterWindow(t *testing.T) {
	repo := &memRepo{}
	m := newTestManager(t, repo, fixedClassifier{domain.TopicWork}, 20*time.Millisecond)
	before := seed(t, m, 2)

	_, err := m.Delete(before[0].ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		stored := repo.snapshot()
		return len(stored) == 1 && stored[0].ID == before[1].ID
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{before[1].ID}, ids(m.Items()))
	_, err = m.Undo()
	assert.ErrorIs(t, err, domain.ErrNothingToUndo, "undo is gone once the window closes")
}

func TestDelete_OtherWritesKeepPendingItemPersisted(t *testing.T) {
	repo := &memRepo{}
	m := newTestManager(t, repo, fixedClassifier{domain.TopicWork}, time.Hour)
	before := seed(t, m, 3)

	_, err := m.Delete(before[2].ID)
	require.NoError(t, err)
	_, err = m.Delete(before[0].ID)
	require.NoError(t, err)

	added, err := m.Add(context.Background(), "https://new.example", "while deletes are pending")
	require.NoError(t, err)
	m.Wait()

	want := []string{added.ID, before[0].ID, before[1].ID, before[2].ID}
	assert.Equal(t, want, ids(repo.snapshot()), "pending deletes stay persisted at their positions")

	_, err = m.Undo()
	require.NoError(t, err)
	_, err = m.Undo()
	require.NoError(t, err)
	assert.Equal(t, want, ids(m.Items()))
}

func TestDelete_CommitFailureIsNotReverted(t *testing.T) {
	repo := &memRepo{}
	m := newTestManager(t, repo, fixedClassifier{domain.TopicWork}, 10*time.Millisecond)
	before := seed(t, m, 1)

	repo.setErr(errors.New("disk gone"))
	_, err := m.Delete(before[0].ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(m.Pending()) == 0 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, m.Items())
	assert.Error(t, m.TakeBackgroundError())
	repo.setErr(nil)
}

func TestClose_CommitsPendingDeletes(t *testing.T) {
	repo := &memRepo{}
	m := New(repo, fixedClassifier{domain.TopicWork}, Options{UndoWindow: time.Hour}, testLogger())
	require.NoError(t, m.Load(context.Background()))
	before := seed(t, m, 2)

	_, err := m.Delete(before[0].ID)
	require.NoError(t, err)
	require.NoError(t, m.Close(context.Background()))

	assert.Equal(t, []string{before[1].ID}, ids(repo.snapshot()))
}

func TestClose_RejectsLaterMutations(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, &memRepo{}, fixedClassifier{domain.TopicWork}, time.Hour)
	before := seed(t, m, 1)
	require.NoError(t, m.Close(ctx))

	_, err := m.Add(ctx, "https://late.example", "arrives after shutdown")
	assert.ErrorIs(t, err, domain.ErrClosed)
	_, err = m.Edit(ctx, before[0].ID, "https://late.example", "arrives after shutdown")
	assert.ErrorIs(t, err, domain.ErrClosed)
	assert.ErrorIs(t, m.Reclassify(before[0].ID), domain.ErrClosed)
	_, err = m.Delete(before[0].ID)
	assert.ErrorIs(t, err, domain.ErrClosed)
	assert.Len(t, m.Items(), 1)
}

func TestClose_WaitsForAddsRacingShutdown(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, &memRepo{}, fixedClassifier{domain.TopicWork}, time.Hour)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		added []string
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			it, err := m.Add(ctx, fmt.Sprintf("https://example.com/%d", i), fmt.Sprintf("racing shutdown number %d", i))
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrClosed)
				return
			}
			mu.Lock()
			added = append(added, it.ID)
			mu.Unlock()
		}(i)
	}
	require.NoError(t, m.Close(ctx))
	wg.Wait()

	for _, id := range added {
		got, ok := m.Get(id)
		require.True(t, ok)
		assert.False(t, got.Classifying, "every accepted add is classified before close returns")
	}
}

func TestDelete_Unknown(t *testing.T) {
	m := newTestManager(t, &memRepo{}, fixedClassifier{}, time.Second)
	_, err := m.Delete("nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFilter(t *testing.T) {
	m := newTestManager(t, &memRepo{}, fixedClassifier{}, time.Second)
	m.items = []domain.Item{
		{ID: "1", Content: "https://go.dev/Blog", Reason: "learn iterators", Topics: []domain.Topic{domain.TopicLearning}},
		{ID: "2", Content: "Recipe notes", Reason: "weekend cooking", Topics: []domain.Topic{domain.TopicPersonal, domain.TopicIdeas}},
		{ID: "3", Content: "https://example.com", Reason: "no topics yet"},
	}

	assert.Equal(t, []string{"1", "2", "3"}, ids(m.Filter("", "")))
	assert.Equal(t, []string{"1"}, ids(m.Filter("BLOG", "")))
	assert.Equal(t, []string{"2"}, ids(m.Filter("cooking", "")))
	assert.Equal(t, []string{"2"}, ids(m.Filter("", domain.TopicIdeas)))
	assert.Equal(t, []string{"3"}, ids(m.Filter("", domain.TopicOther)), "no topics counts as Other")
	assert.Empty(t, m.Filter("blog", domain.TopicPersonal))
	assert.Equal(t, []string{"1", "2", "3"}, ids(m.Items()), "filtering does not mutate")
}

func TestStats(t *testing.T) {
	assert.Empty(t, computeStats(nil).Labels)

	s := computeStats([]domain.Item{
		{Topics: []domain.Topic{domain.TopicLearning, domain.TopicWork}},
		{Topics: []domain.Topic{domain.TopicLearning}},
		{Topics: []domain.Topic{domain.TopicOther}},
		{},
	})
	require.Len(t, s.Labels, 7)
	assert.Equal(t, domain.TopicOther, s.Labels[6])
	assert.Equal(t, []int{2, 0, 0, 1, 0, 0, 2}, s.Counts)
	assert.InDelta(t, 100.0, s.Values[0], 0.001)
	assert.InDelta(t, 50.0, s.Values[3], 0.001)
}

func TestResolveID(t *testing.T) {
	m := newTestManager(t, &memRepo{}, fixedClassifier{}, time.Second)
	m.items = []domain.Item{{ID: "abc123"}, {ID: "abd456"}, {ID: "xyz789"}}

	id, err := m.ResolveID("abc123")
	require.NoError(t, err)
	assert.Equal(t, "abc123", id)

	id, err = m.ResolveID(" xy ")
	require.NoError(t, err)
	assert.Equal(t, "xyz789", id)

	_, err = m.ResolveID("ab")
	assert.ErrorIs(t, err, domain.ErrAmbiguousID)
	_, err = m.ResolveID("q")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = m.ResolveID("")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
