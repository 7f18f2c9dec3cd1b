package student

import (
	"encoding/json"
	"errors"
)

var (
	// ErrNetworkTimeout means the profile service did not answer in time.
	ErrNetworkTimeout = errors.New("profile service timeout")
	// ErrNetworkFailure covers transport errors and unexpected HTTP statuses.
	ErrNetworkFailure = errors.New("profile service failure")
)

// Filiere is the student's track; its short name is used as the promotion label.
type Filiere struct {
	ID        int    `json:"id"`
	ShortName string `json:"shortName"`
}

// Orientation is the student's orientation; its title is used as the faculty label.
type Orientation struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
}

// Profile is the student record returned by the profile service and kept in the cache.
type Profile struct {
	ID          int64        `json:"id"`
	Matricule   string       `json:"matricule"`
	FullName    string       `json:"fullname"`
	Active      int          `json:"active"`
	Avatar      *string      `json:"avatar,omitempty"`
	Noms        *string      `json:"noms,omitempty"`
	Name        *string      `json:"name,omitempty"`
	Filiere     *Filiere     `json:"schoolFilieres,omitempty"`
	Orientation *Orientation `json:"schoolOrientations,omitempty"`
}

// Eligible reports whether attendance may be recorded for the student.
func (p Profile) Eligible() bool { return p.Active == 1 }

// Promotion returns the filière short name, if any.
func (p Profile) Promotion() *string {
	if p.Filiere == nil || p.Filiere.ShortName == "" {
		return nil
	}
	v := p.Filiere.ShortName
	return &v
}

// Faculte returns the orientation title, if any.
func (p Profile) Faculte() *string {
	if p.Orientation == nil || p.Orientation.Title == "" {
		return nil
	}
	v := p.Orientation.Title
	return &v
}

// Encode serializes the profile the way it is stored in the cache.
func (p Profile) Encode() (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// DecodeProfile parses a cached payload. Unknown fields are ignored.
func DecodeProfile(payload string) (Profile, error) {
	var p Profile
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return Profile{}, err
	}
	return p, nil
}
