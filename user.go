package onvif

import (
	"context"

	"github.com/elgs/gostrgen"
	"github.com/juju/errors"
)

// GetUsers retrieves all users from the camera
func (c *DeviceClient) GetUsers(ctx context.Context) ([]User, error) {
	var resp struct {
		Users []struct {
			Username  string `xml:"Username"`
			UserLevel string `xml:"UserLevel"`
		} `xml:"User"`
	}
	op := newOperation(nsDevice, "tds", "GetUsers")
	if err := c.channel.call(ctx, op, &resp); err != nil {
		return nil, errors.Annotate(err, "getting users")
	}

	users := make([]User, 0, len(resp.Users))
	for _, u := range resp.Users {
		users = append(users, User{
			Username:  u.Username,
			UserLevel: UserLevel(u.UserLevel),
		})
	}
	return users, nil
}

// CreateUsers creates multiple users on the camera
func (c *DeviceClient) CreateUsers(ctx context.Context, users []User) error {
	op := newOperation(nsDevice, "tds", "CreateUsers")
	for _, user := range users {
		appendUser(op, user)
	}
	if err := c.channel.call(ctx, op, nil); err != nil {
		return errors.Annotate(err, "creating users")
	}
	return nil
}

// CreateUser creates a single user on the camera (convenience wrapper)
func (c *DeviceClient) CreateUser(ctx context.Context, username, password string, level UserLevel) error {
	return c.CreateUsers(ctx, []User{{
		Username:  username,
		Password:  password,
		UserLevel: level,
	}})
}

// SetUser modifies an existing user's password and/or level
func (c *DeviceClient) SetUser(ctx context.Context, user User) error {
	op := newOperation(nsDevice, "tds", "SetUser")
	appendUser(op, user)
	if err := c.channel.call(ctx, op, nil); err != nil {
		return errors.Annotate(err, "setting user")
	}
	return nil
}

// SetUserPassword changes a user's password and keeps its current level.
func (c *DeviceClient) SetUserPassword(ctx context.Context, username, newPassword string) error {
	users, err := c.GetUsers(ctx)
	if err != nil {
		return err
	}

	for _, u := range users {
		if u.Username == username {
			return c.SetUser(ctx, User{
				Username:  username,
				Password:  newPassword,
				UserLevel: u.UserLevel,
			})
		}
	}
	return errors.NotFoundf("user %q", username)
}

// DeleteUsers deletes multiple users from the camera
func (c *DeviceClient) DeleteUsers(ctx context.Context, usernames []string) error {
	op := newOperation(nsDevice, "tds", "DeleteUsers")
	for _, username := range usernames {
		addText(op.body, "tds:Username", username)
	}
	if err := c.channel.call(ctx, op, nil); err != nil {
		return errors.Annotate(err, "deleting users")
	}
	return nil
}

// DeleteUser deletes a single user from the camera (convenience wrapper)
func (c *DeviceClient) DeleteUser(ctx context.Context, username string) error {
	return c.DeleteUsers(ctx, []string{username})
}

// GenerateUserPassword returns a random password of the given length made
// of letters and digits, which every device password policy accepts.
func GenerateUserPassword(length int) (string, error) {
	if length < 8 {
		return "", errors.NotValidf("password length %d", length)
	}
	return gostrgen.RandGen(length, gostrgen.Lower|gostrgen.Upper|gostrgen.Digit, "", "")
}

func appendUser(op operation, user User) {
	el := op.body.CreateElement("tds:User")
	addText(el, "tt:Username", user.Username)
	if user.Password != "" {
		addText(el, "tt:Password", user.Password)
	}
	addText(el, "tt:UserLevel", string(user.UserLevel))
}
