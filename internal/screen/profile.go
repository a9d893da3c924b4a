package screen

import (
	"unicode/utf8"

	"bustracker/internal/fleet"
)

type ProfileView struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	PhotoURL string `json:"photoURL,omitempty"`
	Initial  string `json:"initial"`
	Role     string `json:"role"`
}

func Profile(p *fleet.Principal) ProfileView {
	v := ProfileView{Name: "User", Initial: "U", Role: "Passenger"}
	if p == nil {
		return v
	}
	v.Email = p.Email
	v.PhotoURL = p.PhotoURL
	if p.DisplayName != "" {
		v.Name = p.DisplayName
	}
	for _, s := range []string{p.DisplayName, p.Email} {
		if r, size := utf8.DecodeRuneInString(s); size > 0 {
			v.Initial = string(r)
			break
		}
	}
	return v
}
