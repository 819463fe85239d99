package models

// User is an authenticated identity as carried inside a verified token.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Profile is the denormalized display record stored alongside a user and
// attached to presence snapshots for rendering.
type Profile struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FullName  string `json:"full_name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// ProfileStats summarizes a user's board participation.
type ProfileStats struct {
	OwnedBoards  int `json:"ownedBoards"`
	JoinedBoards int `json:"joinedBoards"`
}

// FallbackProfile synthesizes a display profile from the auth identity so a
// presence snapshot is never missing one while the real profile is in flight.
func FallbackProfile(user User) Profile {
	name := user.Name
	if name == "" {
		name = user.Email
	}
	return Profile{
		ID:        user.ID,
		Email:     user.Email,
		FullName:  name,
		AvatarURL: user.AvatarURL,
	}
}
