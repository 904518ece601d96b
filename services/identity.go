package services

import (
	"context"
	"log/slog"
	"time"

	"social-inbox/models"
)

// ProfileCacheTTL is how long a resolved identity is trusted without a lookup
const ProfileCacheTTL = 24 * time.Hour

// IdentityResolver resolves customer display identities with fallbacks:
// cached profile, conversation participants, profile API, then placeholder.
// A good name is never replaced by a worse one.
type IdentityResolver struct {
	profiles ProfileStore
	lookup   ProfileLookup
	ledger   *Ledger
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewIdentityResolver creates a resolver. lookup may be nil, in which case
// only the cache and the placeholder are used.
func NewIdentityResolver(profiles ProfileStore, lookup ProfileLookup, ledger *Ledger) *IdentityResolver {
	return &IdentityResolver{
		profiles: profiles,
		lookup:   lookup,
		ledger:   ledger,
		ttl:      ProfileCacheTTL,
		now:      time.Now,
		logger:   slog.Default().With("component", "identity"),
	}
}

// Resolve returns the best known identity of customerID on pageID
func (r *IdentityResolver) Resolve(ctx context.Context, pageID, customerID string, platform models.Platform) models.CustomerProfile {
	cached, err := r.profiles.GetProfile(ctx, pageID, customerID)
	if err != nil && !isNotFound(err) {
		r.logger.Warn("Failed to read cached profile", "customerID", customerID, "error", err)
	}
	if err != nil {
		cached = nil
	}

	if cached.HasGoodName() && r.now().Sub(cached.UpdatedAt) < r.ttl {
		result := *cached
		result.Source = models.ProfileFromCache
		return result
	}

	if found := r.lookupRemote(ctx, pageID, customerID, platform); found != nil {
		if cached.HasGoodName() && found.Pic == "" {
			found.Pic = cached.Pic
		}
		r.store(ctx, cached, found)
		return *found
	}

	// Lookups failed: a stale good name still beats the placeholder
	if cached.HasGoodName() {
		result := *cached
		result.Source = models.ProfileFromCache
		return result
	}

	return models.CustomerProfile{
		PageID:     pageID,
		CustomerID: customerID,
		Name:       models.PlaceholderName,
		Source:     models.ProfilePlaceholder,
		UpdatedAt:  r.now().UTC(),
	}
}

// Cached returns the cached identity without any platform call, or the
// placeholder
func (r *IdentityResolver) Cached(ctx context.Context, pageID, customerID string) models.CustomerProfile {
	cached, err := r.profiles.GetProfile(ctx, pageID, customerID)
	if err == nil && cached.HasGoodName() {
		result := *cached
		result.Source = models.ProfileFromCache
		return result
	}
	return models.CustomerProfile{
		PageID:     pageID,
		CustomerID: customerID,
		Name:       models.PlaceholderName,
		Source:     models.ProfilePlaceholder,
		UpdatedAt:  r.now().UTC(),
	}
}

func (r *IdentityResolver) lookupRemote(ctx context.Context, pageID, customerID string, platform models.Platform) *models.CustomerProfile {
	if r.lookup == nil {
		return nil
	}

	profile := func(info *ProfileInfo, source models.ProfileSource) *models.CustomerProfile {
		return &models.CustomerProfile{
			PageID:     pageID,
			CustomerID: customerID,
			Name:       info.Name,
			Pic:        info.Pic,
			Source:     source,
			UpdatedAt:  r.now().UTC(),
		}
	}

	info, err := r.lookup.ParticipantProfile(ctx, pageID, customerID, platform)
	if err == nil && models.IsGoodName(info.Name, customerID) {
		found := profile(info, models.ProfileFromParticipants)
		// Participants carry no avatar
		if pic, err := r.lookup.UserProfile(ctx, pageID, customerID, platform); err == nil {
			found.Pic = pic.Pic
		}
		return found
	}
	if err != nil {
		r.logger.Debug("Participant lookup failed", "customerID", customerID, "error", err)
	}

	info, err = r.lookup.UserProfile(ctx, pageID, customerID, platform)
	if err == nil && models.IsGoodName(info.Name, customerID) {
		return profile(info, models.ProfileFromAPI)
	}
	if err != nil {
		r.logger.Debug("Profile lookup failed", "customerID", customerID, "error", err)
	}
	return nil
}

// store caches found and repairs earlier ledger rows when the identity changed
func (r *IdentityResolver) store(ctx context.Context, previous, found *models.CustomerProfile) {
	if err := r.profiles.SaveProfile(ctx, found); err != nil {
		r.logger.Warn("Failed to cache profile", "customerID", found.CustomerID, "error", err)
	}

	changed := !previous.HasGoodName() || previous.Name != found.Name || previous.Pic != found.Pic
	if !changed || r.ledger == nil {
		return
	}

	conversationID := models.ConversationID(found.PageID, found.CustomerID)
	n, err := r.ledger.BackfillIdentity(ctx, conversationID, found.Name, found.Pic)
	if err != nil {
		r.logger.Warn("Failed to backfill customer identity",
			"conversationID", conversationID,
			"error", err,
		)
		return
	}
	if n > 0 {
		r.logger.Info("Backfilled customer identity",
			"conversationID", conversationID,
			"rows", n,
		)
	}
}
