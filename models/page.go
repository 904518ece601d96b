package models

import (
	"time"
)

// Page represents a connected Facebook page or Instagram account and the
// credential used to act on its behalf
type Page struct {
	PageID      string    `bson:"_id" json:"page_id" yaml:"page_id"`
	Name        string    `bson:"name" json:"name" yaml:"name"`
	Platform    Platform  `bson:"platform" json:"platform" yaml:"platform"`
	AccessToken string    `bson:"access_token" json:"-" yaml:"access_token"`
	UpdatedAt   time.Time `bson:"updated_at" json:"updated_at" yaml:"-"`
}

// ProfileSource records which lookup tier produced a customer identity
type ProfileSource string

const (
	ProfileFromCache        ProfileSource = "cache"
	ProfileFromParticipants ProfileSource = "participants"
	ProfileFromAPI          ProfileSource = "profile"
	ProfilePlaceholder      ProfileSource = "placeholder"
)

// PlaceholderName is shown when no real customer name could be resolved
const PlaceholderName = "Customer"

// CustomerProfile is the cached display identity of a customer on a page
type CustomerProfile struct {
	PageID     string        `bson:"page_id" json:"page_id"`
	CustomerID string        `bson:"customer_id" json:"customer_id"`
	Name       string        `bson:"name" json:"name"`
	Pic        string        `bson:"pic,omitempty" json:"pic,omitempty"`
	Source     ProfileSource `bson:"source" json:"source"`
	UpdatedAt  time.Time     `bson:"updated_at" json:"updated_at"`
}

// HasGoodName reports whether the profile carries a real display name rather
// than an empty value, the placeholder, or the raw platform id
func (p *CustomerProfile) HasGoodName() bool {
	return p != nil && IsGoodName(p.Name, p.CustomerID)
}

// IsGoodName is the name quality rule used to prevent regressions
func IsGoodName(name, customerID string) bool {
	return name != "" && name != PlaceholderName && name != customerID
}
