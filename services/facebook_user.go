package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"social-inbox/models"
)

// ProfileInfo is a customer identity returned by a Graph lookup
type ProfileInfo struct {
	Name string
	Pic  string
}

// ProfileLookup resolves customer identities from the platform
type ProfileLookup interface {
	// ParticipantProfile finds the customer among the page conversation participants
	ParticipantProfile(ctx context.Context, pageID, customerID string, platform models.Platform) (*ProfileInfo, error)
	// UserProfile calls the user profile endpoint directly
	UserProfile(ctx context.Context, pageID, customerID string, platform models.Platform) (*ProfileInfo, error)
}

type participantsResponse struct {
	Data []struct {
		Participants struct {
			Data []struct {
				ID       string `json:"id"`
				Name     string `json:"name"`
				Username string `json:"username"`
			} `json:"data"`
		} `json:"participants"`
	} `json:"data"`
}

// ParticipantProfile looks the customer up through GET /{page-id}/conversations
func (g *GraphClient) ParticipantProfile(ctx context.Context, pageID, customerID string, platform models.Platform) (*ProfileInfo, error) {
	q := url.Values{}
	q.Set("user_id", customerID)
	q.Set("fields", "participants")
	if platform == models.PlatformInstagram {
		q.Set("platform", "instagram")
	} else {
		q.Set("platform", "messenger")
	}

	var result participantsResponse
	apiURL := fmt.Sprintf("%s/%s/conversations?%s", g.baseURL, pageID, q.Encode())
	if err := g.do(ctx, pageID, http.MethodGet, apiURL, "", nil, &result); err != nil {
		return nil, err
	}

	for _, conv := range result.Data {
		for _, p := range conv.Participants.Data {
			if p.ID != customerID {
				continue
			}
			name := p.Name
			if name == "" {
				name = p.Username
			}
			return &ProfileInfo{Name: name}, nil
		}
	}
	return nil, fmt.Errorf("participant %s: %w", customerID, ErrNotFound)
}

type userProfileResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Username   string `json:"username"`
	ProfilePic string `json:"profile_pic"`
}

// UserProfile fetches GET /{psid} with the fields the platform supports
func (g *GraphClient) UserProfile(ctx context.Context, pageID, customerID string, platform models.Platform) (*ProfileInfo, error) {
	q := url.Values{}
	if platform == models.PlatformInstagram {
		q.Set("fields", "name,username,profile_pic")
	} else {
		q.Set("fields", "first_name,last_name,name,profile_pic")
	}

	var result userProfileResponse
	apiURL := fmt.Sprintf("%s/%s?%s", g.baseURL, url.PathEscape(customerID), q.Encode())
	if err := g.do(ctx, pageID, http.MethodGet, apiURL, "", nil, &result); err != nil {
		return nil, err
	}

	name := result.Name
	if name == "" {
		name = strings.TrimSpace(result.FirstName + " " + result.LastName)
	}
	if name == "" {
		name = result.Username
	}
	return &ProfileInfo{Name: name, Pic: result.ProfilePic}, nil
}
