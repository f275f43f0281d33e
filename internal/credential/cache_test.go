package credential

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tis24dev/panbackup/internal/logging"
	"github.com/tis24dev/panbackup/internal/types"
)

type testCred struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (c testCred) Usable(now time.Time) bool {
	return c.Token != "" && now.Before(c.ExpiresAt)
}

type memStore struct {
	mu      sync.Mutex
	value   *testCred
	loadErr error
	saveErr error
	saves   int
}

func (m *memStore) Load() (testCred, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return testCred{}, false, m.loadErr
	}
	if m.value == nil {
		return testCred{}, false, nil
	}
	return *m.value, true, nil
}

func (m *memStore) Save(v testCred) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.value = &v
	return nil
}

// lockingStore simulates another process refreshing while we wait for the lock.
type lockingStore struct {
	memStore
	onLock func()
}

func (l *lockingStore) Lock(ctx context.Context) (func(), error) {
	if l.onLock != nil {
		l.onLock()
	}
	return func() {}, nil
}

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

func testLogger(buf *bytes.Buffer) *logging.Logger {
	logger := logging.New(types.LogLevelDebug, false)
	logger.SetOutput(buf)
	return logger
}

type countingRefresher struct {
	calls atomic.Int32
	prevs []*testCred
	mu    sync.Mutex
	err   error
}

func (r *countingRefresher) refresh(ctx context.Context, prev *testCred) (testCred, error) {
	n := r.calls.Add(1)
	r.mu.Lock()
	r.prevs = append(r.prevs, prev)
	r.mu.Unlock()
	if r.err != nil {
		return testCred{}, r.err
	}
	return testCred{Token: "fresh-" + string(rune('0'+n)), ExpiresAt: testNow.Add(time.Hour)}, nil
}

func TestGetUsesCachedCredentialWithoutRefresh(t *testing.T) {
	store := &memStore{value: &testCred{Token: "cached", ExpiresAt: testNow.Add(time.Minute)}}
	r := &countingRefresher{}
	cache := NewCache[testCred]("test", testLogger(&bytes.Buffer{}), store, r.refresh, fixedNow)

	for i := 0; i < 3; i++ {
		got, err := cache.Get(context.Background())
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Token != "cached" {
			t.Fatalf("token = %q", got.Token)
		}
	}
	if r.calls.Load() != 0 {
		t.Fatalf("refresh called %d times, want 0", r.calls.Load())
	}
	if store.saves != 0 {
		t.Fatalf("store saved %d times, want 0", store.saves)
	}
}

func TestGetRefreshesExactlyOnceWhenEmpty(t *testing.T) {
	store := &memStore{}
	r := &countingRefresher{}
	cache := NewCache[testCred]("test", testLogger(&bytes.Buffer{}), store, r.refresh, fixedNow)

	for i := 0; i < 3; i++ {
		if _, err := cache.Get(context.Background()); err != nil {
			t.Fatalf("Get: %v", err)
		}
	}
	if r.calls.Load() != 1 {
		t.Fatalf("refresh called %d times, want 1", r.calls.Load())
	}
	if r.prevs[0] != nil {
		t.Fatal("first refresh must not receive a previous credential")
	}
	if store.value == nil || store.value.Token != "fresh-1" {
		t.Fatalf("refreshed credential not persisted: %+v", store.value)
	}
}

func TestGetRefreshesExpiredAndPassesPrevious(t *testing.T) {
	store := &memStore{value: &testCred{Token: "old", ExpiresAt: testNow.Add(-time.Second)}}
	r := &countingRefresher{}
	cache := NewCache[testCred]("test", testLogger(&bytes.Buffer{}), store, r.refresh, fixedNow)

	got, err := cache.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Token != "fresh-1" {
		t.Fatalf("token = %q", got.Token)
	}
	if r.prevs[0] == nil || r.prevs[0].Token != "old" {
		t.Fatalf("refresh should receive the expired credential, got %+v", r.prevs[0])
	}
}

func TestConcurrentGetSharesSingleRefresh(t *testing.T) {
	store := &memStore{}
	release := make(chan struct{})
	var calls atomic.Int32
	refresh := func(ctx context.Context, prev *testCred) (testCred, error) {
		calls.Add(1)
		<-release
		return testCred{Token: "shared", ExpiresAt: testNow.Add(time.Hour)}, nil
	}
	cache := NewCache[testCred]("test", testLogger(&bytes.Buffer{}), store, refresh, fixedNow)

	const workers = 8
	var wg sync.WaitGroup
	tokens := make([]string, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := cache.Get(context.Background())
			tokens[i], errs[i] = got.Token, err
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("refresh called %d times, want 1", calls.Load())
	}
	for i := range tokens {
		if errs[i] != nil || tokens[i] != "shared" {
			t.Fatalf("worker %d got %q, %v", i, tokens[i], errs[i])
		}
	}
}

func TestInvalidateForcesRefreshWithRejectedCredential(t *testing.T) {
	store := &memStore{value: &testCred{Token: "rejected", ExpiresAt: testNow.Add(time.Hour)}}
	r := &countingRefresher{}
	cache := NewCache[testCred]("test", testLogger(&bytes.Buffer{}), store, r.refresh, fixedNow)

	first, _ := cache.Get(context.Background())
	if first.Token != "rejected" {
		t.Fatalf("expected cached token, got %q", first.Token)
	}
	cache.Invalidate(first)
	got, err := cache.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Token != "fresh-1" || r.calls.Load() != 1 {
		t.Fatalf("token=%q calls=%d", got.Token, r.calls.Load())
	}
	if r.prevs[0] == nil || r.prevs[0].Token != "rejected" {
		t.Fatalf("refresh should receive the rejected credential, got %+v", r.prevs[0])
	}
}

func TestSharedRejectionRefreshesOnce(t *testing.T) {
	store := &memStore{value: &testCred{Token: "shared", ExpiresAt: testNow.Add(time.Hour)}}
	r := &countingRefresher{}
	cache := NewCache[testCred]("test", testLogger(&bytes.Buffer{}), store, r.refresh, fixedNow)

	a, _ := cache.Get(context.Background())
	b, _ := cache.Get(context.Background())

	cache.Invalidate(a)
	a2, err := cache.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	// b was rejected too, but a already replaced it.
	cache.Invalidate(b)
	b2, err := cache.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if r.calls.Load() != 1 {
		t.Fatalf("refresh called %d times, want 1", r.calls.Load())
	}
	if a2.Token != "fresh-1" || b2.Token != "fresh-1" {
		t.Fatalf("a2=%q b2=%q, want both fresh-1", a2.Token, b2.Token)
	}
}

func TestConcurrentSharedRejectionRefreshesOnce(t *testing.T) {
	store := &memStore{value: &testCred{Token: "shared", ExpiresAt: testNow.Add(time.Hour)}}
	r := &countingRefresher{}
	cache := NewCache[testCred]("test", testLogger(&bytes.Buffer{}), store, r.refresh, fixedNow)

	const workers = 6
	used := make([]testCred, workers)
	for i := range used {
		used[i], _ = cache.Get(context.Background())
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cache.Invalidate(used[i])
			if _, err := cache.Get(context.Background()); err != nil {
				t.Errorf("worker %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if r.calls.Load() != 1 {
		t.Fatalf("refresh called %d times, want 1", r.calls.Load())
	}
}

func TestInvalidateWithoutCurrentCredentialIsIgnored(t *testing.T) {
	store := &memStore{}
	r := &countingRefresher{}
	cache := NewCache[testCred]("test", testLogger(&bytes.Buffer{}), store, r.refresh, fixedNow)

	cache.Invalidate(testCred{Token: "unknown"})
	if _, err := cache.Get(context.Background()); err != nil {
		t.Fatal(err)
	}
	cache.Invalidate(testCred{Token: "unknown"})
	if _, err := cache.Get(context.Background()); err != nil {
		t.Fatal(err)
	}
	if r.calls.Load() != 1 {
		t.Fatalf("refresh called %d times, want 1", r.calls.Load())
	}
}

func TestRefreshFailureIsReturnedAndRetriedNextTime(t *testing.T) {
	store := &memStore{}
	r := &countingRefresher{err: errors.New("authorization denied")}
	cache := NewCache[testCred]("test", testLogger(&bytes.Buffer{}), store, r.refresh, fixedNow)

	if _, err := cache.Get(context.Background()); err == nil || !strings.Contains(err.Error(), "denied") {
		t.Fatalf("expected refresh error, got %v", err)
	}
	r.err = nil
	if _, err := cache.Get(context.Background()); err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if r.calls.Load() != 2 {
		t.Fatalf("refresh called %d times, want 2", r.calls.Load())
	}
}

func TestUnreadableStateForcesAuthentication(t *testing.T) {
	var logs bytes.Buffer
	store := &memStore{loadErr: &PersistenceError{Op: "decode", Path: "x", Err: errors.New("bad json")}}
	r := &countingRefresher{}
	cache := NewCache[testCred]("test", testLogger(&logs), store, r.refresh, fixedNow)

	if _, err := cache.Get(context.Background()); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if r.calls.Load() != 1 {
		t.Fatalf("refresh called %d times, want 1", r.calls.Load())
	}
	if !strings.Contains(logs.String(), "unreadable") {
		t.Fatalf("expected warning about unreadable state, got %q", logs.String())
	}
}

func TestSaveFailureDoesNotFailGet(t *testing.T) {
	var logs bytes.Buffer
	store := &memStore{saveErr: errors.New("read-only filesystem")}
	r := &countingRefresher{}
	cache := NewCache[testCred]("test", testLogger(&logs), store, r.refresh, fixedNow)

	got, err := cache.Get(context.Background())
	if err != nil || got.Token != "fresh-1" {
		t.Fatalf("Get = %+v, %v", got, err)
	}
	if !strings.Contains(logs.String(), "Could not persist") {
		t.Fatalf("expected persistence warning, got %q", logs.String())
	}
	if strings.Contains(logs.String(), "fresh-1") {
		t.Fatal("credential value must not be logged")
	}
}

func TestRefreshReusesCredentialFromOtherProcess(t *testing.T) {
	store := &lockingStore{}
	store.value = &testCred{Token: "stale", ExpiresAt: testNow.Add(-time.Minute)}
	store.onLock = func() {
		store.memStore.value = &testCred{Token: "from-peer", ExpiresAt: testNow.Add(time.Hour)}
	}
	r := &countingRefresher{}
	cache := NewCache[testCred]("test", testLogger(&bytes.Buffer{}), store, r.refresh, fixedNow)

	got, err := cache.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Token != "from-peer" || r.calls.Load() != 0 {
		t.Fatalf("token=%q refreshes=%d", got.Token, r.calls.Load())
	}
}

func TestRejectedCredentialIsNotReloadedFromStore(t *testing.T) {
	rejected := testCred{Token: "rejected", ExpiresAt: testNow.Add(time.Hour)}
	store := &lockingStore{}
	store.value = &rejected
	r := &countingRefresher{}
	cache := NewCache[testCred]("test", testLogger(&bytes.Buffer{}), store, r.refresh, fixedNow)

	if _, err := cache.Get(context.Background()); err != nil {
		t.Fatal(err)
	}
	cache.Invalidate(rejected)
	got, err := cache.Get(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got.Token != "fresh-1" {
		t.Fatalf("rejected credential was reused: %q", got.Token)
	}
}

func TestFileStoreRoundTripAndPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token.json")
	store := NewFileStore[testCred](path)

	if _, ok, err := store.Load(); err != nil || ok {
		t.Fatalf("Load on missing file = ok:%v err:%v", ok, err)
	}

	want := testCred{Token: "abc", ExpiresAt: testNow}
	if err := store.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, ok, err := store.Load()
	if err != nil || !ok {
		t.Fatalf("Load = ok:%v err:%v", ok, err)
	}
	if got.Token != want.Token || !got.ExpiresAt.Equal(want.ExpiresAt) {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("credential file mode = %o, want 600", info.Mode().Perm())
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Fatalf("temporary file left behind: %s", e.Name())
		}
	}
}

func TestFileStoreCorruptFileForcesReauthentication(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	if err := os.WriteFile(path, []byte(`{"token": "abc", "expires_at":`), 0o600); err != nil {
		t.Fatal(err)
	}
	store := NewFileStore[testCred](path)

	_, _, err := store.Load()
	var perr *PersistenceError
	if !errors.As(err, &perr) || perr.Op != "decode" {
		t.Fatalf("expected decode PersistenceError, got %v", err)
	}

	r := &countingRefresher{}
	cache := NewCache[testCred]("test", testLogger(&bytes.Buffer{}), store, r.refresh, fixedNow)
	if _, err := cache.Get(context.Background()); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if r.calls.Load() != 1 {
		t.Fatalf("refresh called %d times, want 1", r.calls.Load())
	}
	got, ok, err := store.Load()
	if err != nil || !ok || got.Token != "fresh-1" {
		t.Fatalf("corrupt file not replaced: %+v ok:%v err:%v", got, ok, err)
	}
}

func TestFileStoreLock(t *testing.T) {
	store := NewFileStore[testCred](filepath.Join(t.TempDir(), "token.json"))
	unlock, err := store.Lock(context.Background())
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	unlock()
	unlock, err = store.Lock(context.Background())
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	unlock()
}
