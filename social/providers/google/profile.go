package google

import "github.com/goliatone/go-campus-auth/social"

type userInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

func mapProfile(info *userInfo) *social.Profile {
	if info == nil {
		return nil
	}
	return &social.Profile{
		Provider:       "google",
		ProviderUserID: info.Sub,
		Email:          info.Email,
		EmailVerified:  info.EmailVerified,
		Name:           info.Name,
		AvatarURL:      info.Picture,
	}
}
