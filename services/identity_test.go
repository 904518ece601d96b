package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"social-inbox/models"
)

// fakeLookup answers profile lookups from fixed values
type fakeLookup struct {
	mu           sync.Mutex
	participant  *ProfileInfo
	profile      *ProfileInfo
	calls        int
	participantN int
}

func (f *fakeLookup) ParticipantProfile(ctx context.Context, pageID, customerID string, platform models.Platform) (*ProfileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.participantN++
	if f.participant == nil {
		return nil, errors.New("participants unavailable")
	}
	return f.participant, nil
}

func (f *fakeLookup) UserProfile(ctx context.Context, pageID, customerID string, platform models.Platform) (*ProfileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.profile == nil {
		return nil, errors.New("profile unavailable")
	}
	return f.profile, nil
}

func (f *fakeLookup) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestIdentity_ParticipantsThenPic(t *testing.T) {
	ctx := context.Background()
	store := createTestStore(t)
	lookup := &fakeLookup{
		participant: &ProfileInfo{Name: "Nino Beridze"},
		profile:     &ProfileInfo{Name: "Nino", Pic: "https://cdn.example/nino.jpg"},
	}
	r := NewIdentityResolver(store, lookup, NewLedger(store))

	got := r.Resolve(ctx, "100", "abc", models.PlatformFacebook)
	assert.Equal(t, "Nino Beridze", got.Name)
	assert.Equal(t, "https://cdn.example/nino.jpg", got.Pic)
	assert.Equal(t, models.ProfileFromParticipants, got.Source)

	cached, err := store.GetProfile(ctx, "100", "abc")
	require.NoError(t, err)
	assert.Equal(t, "Nino Beridze", cached.Name)
}

func TestIdentity_FreshCacheSkipsLookup(t *testing.T) {
	ctx := context.Background()
	store := createTestStore(t)
	lookup := &fakeLookup{profile: &ProfileInfo{Name: "Nino"}}
	r := NewIdentityResolver(store, lookup, nil)

	require.NoError(t, store.SaveProfile(ctx, &models.CustomerProfile{
		PageID: "100", CustomerID: "abc", Name: "Cached Nino",
		Source: models.ProfileFromAPI, UpdatedAt: time.Now(),
	}))

	got := r.Resolve(ctx, "100", "abc", models.PlatformFacebook)
	assert.Equal(t, "Cached Nino", got.Name)
	assert.Equal(t, models.ProfileFromCache, got.Source)
	assert.Equal(t, 0, lookup.callCount())
}

func TestIdentity_FallsBackToProfileAPI(t *testing.T) {
	ctx := context.Background()
	store := createTestStore(t)
	lookup := &fakeLookup{profile: &ProfileInfo{Name: "nino.ig", Pic: "https://cdn.example/ig.jpg"}}
	r := NewIdentityResolver(store, lookup, nil)

	got := r.Resolve(ctx, "100", "abc", models.PlatformInstagram)
	assert.Equal(t, "nino.ig", got.Name)
	assert.Equal(t, models.ProfileFromAPI, got.Source)
}

func TestIdentity_StaleGoodNameNeverRegresses(t *testing.T) {
	ctx := context.Background()
	store := createTestStore(t)
	// Lookups only return the raw id, which is not a real name
	lookup := &fakeLookup{
		participant: &ProfileInfo{Name: "abc"},
		profile:     &ProfileInfo{Name: ""},
	}
	r := NewIdentityResolver(store, lookup, nil)

	require.NoError(t, store.SaveProfile(ctx, &models.CustomerProfile{
		PageID: "100", CustomerID: "abc", Name: "Nino",
		Source: models.ProfileFromAPI, UpdatedAt: time.Now().Add(-48 * time.Hour),
	}))

	got := r.Resolve(ctx, "100", "abc", models.PlatformFacebook)
	assert.Equal(t, "Nino", got.Name)

	cached, err := store.GetProfile(ctx, "100", "abc")
	require.NoError(t, err)
	assert.Equal(t, "Nino", cached.Name)
}

func TestIdentity_Placeholder(t *testing.T) {
	r := NewIdentityResolver(createTestStore(t), &fakeLookup{}, nil)

	got := r.Resolve(context.Background(), "100", "abc", models.PlatformFacebook)
	assert.Equal(t, models.PlaceholderName, got.Name)
	assert.Equal(t, models.ProfilePlaceholder, got.Source)
}

func TestIdentity_BackfillsEarlierRows(t *testing.T) {
	ctx := context.Background()
	store := createTestStore(t)
	ledger := NewLedger(store)

	early := customerMessage("100_abc", "hi", time.Now())
	early.CustomerName = models.PlaceholderName
	require.NoError(t, ledger.Append(ctx, early))

	r := NewIdentityResolver(store, &fakeLookup{profile: &ProfileInfo{Name: "Nino", Pic: "https://cdn.example/n.jpg"}}, ledger)
	r.Resolve(ctx, "100", "abc", models.PlatformFacebook)

	got, err := ledger.Get(ctx, early.ID)
	require.NoError(t, err)
	assert.Equal(t, "Nino", got.CustomerName)
	assert.Equal(t, "https://cdn.example/n.jpg", got.CustomerPic)
}

func TestIdentity_CachedNeverCallsPlatform(t *testing.T) {
	ctx := context.Background()
	store := createTestStore(t)
	lookup := &fakeLookup{profile: &ProfileInfo{Name: "Nino"}}
	r := NewIdentityResolver(store, lookup, nil)

	got := r.Cached(ctx, "100", "abc")
	assert.Equal(t, models.PlaceholderName, got.Name)
	assert.Equal(t, 0, lookup.callCount())
}
