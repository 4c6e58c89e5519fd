package entity

type User struct {
	ID uint64

	Username    string
	Email       *string
	PhoneNumber string
	IsActive    bool
}

// RouterUsername is the PPP secret name provisioned for the user.
func (u *User) RouterUsername() string {
	if u.Username != "" {
		return u.Username
	}
	return u.PhoneNumber
}
