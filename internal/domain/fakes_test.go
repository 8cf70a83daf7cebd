package domain

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// memSortedSet is an in-memory SortedSetStore with sorted-set ordering:
// ascending score, insertion order breaking ties.
type memSortedSet struct {
	mu   sync.Mutex
	sets map[string]map[string]*ssEntry
	seq  int
}

type ssEntry struct {
	score float64
	seq   int
}

func newMemSortedSet() *memSortedSet {
	return &memSortedSet{sets: make(map[string]map[string]*ssEntry)}
}

func (m *memSortedSet) ZAdd(_ context.Context, set string, members ...Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sets[set] == nil {
		m.sets[set] = make(map[string]*ssEntry)
	}
	for _, mem := range members {
		if entry, ok := m.sets[set][mem.Member]; ok {
			entry.score = mem.Score
			continue
		}
		m.seq++
		m.sets[set][mem.Member] = &ssEntry{score: mem.Score, seq: m.seq}
	}
	return nil
}

func (m *memSortedSet) ZRem(_ context.Context, set string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mem := range members {
		delete(m.sets[set], mem)
	}
	return nil
}

func (m *memSortedSet) ZScore(_ context.Context, set, member string) (float64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.sets[set][member]
	if !ok {
		return 0, false, nil
	}
	return entry.score, true, nil
}

func (m *memSortedSet) ordered(set string) []Member {
	type pair struct {
		member string
		entry  *ssEntry
	}
	var pairs []pair
	for member, entry := range m.sets[set] {
		pairs = append(pairs, pair{member, entry})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].entry.score != pairs[j].entry.score {
			return pairs[i].entry.score < pairs[j].entry.score
		}
		return pairs[i].entry.seq < pairs[j].entry.seq
	})
	members := make([]Member, len(pairs))
	for i, p := range pairs {
		members[i] = Member{Member: p.member, Score: p.entry.score}
	}
	return members
}

func (m *memSortedSet) ZRangeByRank(_ context.Context, set string, start, stop int64) ([]Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.ordered(set)
	if start >= int64(len(all)) {
		return nil, nil
	}
	if stop < 0 || stop >= int64(len(all)) {
		stop = int64(len(all)) - 1
	}
	if stop < start {
		return nil, nil
	}
	return all[start : stop+1], nil
}

func (m *memSortedSet) ZRangeByScore(_ context.Context, set string, min, max float64) ([]Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var members []Member
	for _, entry := range m.ordered(set) {
		if entry.Score >= min && entry.Score <= max {
			members = append(members, entry)
		}
	}
	return members, nil
}

func (m *memSortedSet) ZCard(_ context.Context, set string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.sets[set])), nil
}

// memKV is an in-memory KeyValueStore with lazy expiry.
type memKV struct {
	mu      sync.Mutex
	entries map[string]kvEntry
}

type kvEntry struct {
	value     string
	expiresAt time.Time
}

func newMemKV() *memKV {
	return &memKV{entries: make(map[string]kvEntry)}
}

func (m *memKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok {
		return "", false, nil
	}
	if !entry.expiresAt.IsZero() && !entry.expiresAt.After(time.Now()) {
		delete(m.entries, key)
		return "", false, nil
	}
	return entry.value, true, nil
}

func (m *memKV) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := kvEntry{value: value}
	if ttl != 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	m.entries[key] = entry
	return nil
}

func (m *memKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// fakeClient is a scriptable FeedClient.
type fakeClient struct {
	hot       []Post
	hotErr    error
	byID      map[string]*Post
	byIDErr   map[string]error
	newPosts  []Post
	nsfwSubs  map[string]bool
	nsfwErr   map[string]error
	submitted []submission
	deleted   []string
	nextID    int
}

type submission struct {
	subreddit string
	title     string
	url       string
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		byID:     make(map[string]*Post),
		byIDErr:  make(map[string]error),
		nsfwSubs: make(map[string]bool),
		nsfwErr:  make(map[string]error),
	}
}

func (f *fakeClient) HotPosts(_ context.Context, _ string, limit int) ([]Post, error) {
	if f.hotErr != nil {
		return nil, f.hotErr
	}
	if len(f.hot) > limit {
		return f.hot[:limit], nil
	}
	return f.hot, nil
}

func (f *fakeClient) PostByID(_ context.Context, fullname string) (*Post, error) {
	if err, ok := f.byIDErr[fullname]; ok {
		return nil, err
	}
	post, ok := f.byID[fullname]
	if !ok {
		return nil, fmt.Errorf("post %s not found", fullname)
	}
	copied := *post
	return &copied, nil
}

func (f *fakeClient) NewPosts(_ context.Context, _ string, limit int) ([]Post, error) {
	if len(f.newPosts) > limit {
		return f.newPosts[:limit], nil
	}
	return f.newPosts, nil
}

func (f *fakeClient) SubmitLink(_ context.Context, subreddit, title, url string) (*Post, error) {
	f.submitted = append(f.submitted, submission{subreddit: subreddit, title: title, url: url})
	f.nextID++
	return &Post{
		ID:        fmt.Sprintf("t3_mirror%d", f.nextID),
		Title:     title,
		Subreddit: subreddit,
		URL:       url,
	}, nil
}

func (f *fakeClient) DeletePost(_ context.Context, fullname string) error {
	f.deleted = append(f.deleted, fullname)
	return nil
}

func (f *fakeClient) SubredditNSFW(_ context.Context, name string) (bool, error) {
	if err, ok := f.nsfwErr[name]; ok {
		return false, err
	}
	return f.nsfwSubs[name], nil
}

// fakeScheduler records one-shot scheduling and serves a fixed next cron
// firing time.
type fakeScheduler struct {
	nextFire  time.Time
	hasCron   bool
	onceNames []string
	onceTimes []time.Time
}

func (f *fakeScheduler) ScheduleOnce(name string, at time.Time) {
	f.onceNames = append(f.onceNames, name)
	f.onceTimes = append(f.onceTimes, at)
}

func (f *fakeScheduler) NextFire(string) (time.Time, bool) {
	return f.nextFire, f.hasCron
}
