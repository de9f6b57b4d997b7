package domain

import "time"

// Post is a single insect observation record. It is the logical entity both
// stores persist; the ID is assigned once at creation time and is stable
// across stores.
type Post struct {
	// ID is an opaque identifier derived from the creation timestamp.
	ID string `json:"id"`

	// Name is the common (Japanese) name of the insect.
	Name string `json:"name"`

	// ScientificName is the binomial name, if known.
	ScientificName string `json:"scientificName,omitempty"`

	// Location is a free-text place name.
	Location string `json:"location"`

	Description string `json:"description"`

	// Environment describes the habitat the insect was found in.
	Environment string `json:"environment"`

	IsPublic bool `json:"isPublic"`

	// Images is the ordered list of image URIs. Only references are stored,
	// never binary content.
	Images []string `json:"images"`

	// Timestamp is the creation time. Serialized as RFC 3339.
	Timestamp time.Time `json:"timestamp"`

	LikesCount int `json:"likesCount"`

	// Tags are derived once at creation time; they are not recomputed if the
	// derivation rules change later.
	Tags []string `json:"tags"`

	// User is a snapshot of the author taken at creation time. It is a value,
	// not a reference: later profile edits do not update existing posts.
	User UserRef `json:"user"`
}

// UserRef is the denormalized author snapshot embedded in a Post.
type UserRef struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar,omitempty"`
}

// User is an account profile.
type User struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	Email       string    `json:"email"`
	Avatar      string    `json:"avatar,omitempty"`
	Bio         string    `json:"bio,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Ref returns the snapshot of u embedded in posts.
func (u *User) Ref() UserRef {
	return UserRef{ID: u.ID, DisplayName: u.DisplayName, Avatar: u.Avatar}
}

// AddPostInput is the caller-supplied part of a new post. The service fills
// in the ID, timestamp, tags, and author snapshot.
type AddPostInput struct {
	Name           string   `json:"name" validate:"required"`
	ScientificName string   `json:"scientificName"`
	Location       string   `json:"location"`
	Description    string   `json:"description"`
	Environment    string   `json:"environment"`
	IsPublic       bool     `json:"isPublic"`
	Images         []string `json:"images" validate:"required,min=1,dive,required"`
}

// PostPatch is a partial update. Nil fields are left unchanged.
type PostPatch struct {
	Name           *string `json:"name,omitempty"`
	ScientificName *string `json:"scientificName,omitempty"`
	Location       *string `json:"location,omitempty"`
	Description    *string `json:"description,omitempty"`
	Environment    *string `json:"environment,omitempty"`
	IsPublic       *bool   `json:"isPublic,omitempty"`
}

// Apply overlays the patch onto p.
func (patch PostPatch) Apply(p *Post) {
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.ScientificName != nil {
		p.ScientificName = *patch.ScientificName
	}
	if patch.Location != nil {
		p.Location = *patch.Location
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.Environment != nil {
		p.Environment = *patch.Environment
	}
	if patch.IsPublic != nil {
		p.IsPublic = *patch.IsPublic
	}
}

// Statistics are aggregate counts over the post store.
type Statistics struct {
	TotalPosts    int `json:"totalPosts"`
	TotalLikes    int `json:"totalLikes"`
	UniqueSpecies int `json:"uniqueSpecies"`
	UniqueUsers   int `json:"uniqueUsers"`
}

// SyncReport summarizes one reconciliation pass.
type SyncReport struct {
	// MirroredPosts is the number of posts copied into the relational mirror.
	MirroredPosts int `json:"mirroredPosts"`

	// BackfilledPosts is the number of posts copied into the primary store.
	BackfilledPosts int `json:"backfilledPosts"`
}
