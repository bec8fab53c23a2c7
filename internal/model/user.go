package model

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type User struct {
	ID           int64  `json:"id"`
	Login        string `json:"login"`
	PasswordHash string `json:"-"`
	Role         string `json:"role"`
	Token        string `json:"-"`
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
