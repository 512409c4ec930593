package user

type CurrentUserResponse struct {
	*Profile
	Permissions []string `json:"permissions"`
}
