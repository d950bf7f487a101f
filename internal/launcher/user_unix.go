//go:build !windows

package launcher

import (
	"fmt"
	"os/user"
	"strconv"

	"golang.org/x/sys/unix"
)

// credOps are the lookups and syscalls UserSwitcher depends on.
type credOps struct {
	lookupUser  func(string) (*user.User, error)
	lookupGroup func(string) (*user.Group, error)
	setgroups   func([]int) error
	setgid      func(int) error
	setuid      func(int) error
}

var osCredOps = credOps{
	lookupUser:  lookupUser,
	lookupGroup: lookupGroup,
	setgroups:   unix.Setgroups,
	setgid:      unix.Setgid,
	setuid:      unix.Setuid,
}

// UserSwitcher drops to User and/or Group. With neither set it does nothing.
// Group defaults to the user's primary group.
type UserSwitcher struct {
	User  string
	Group string

	ops *credOps
}

func (s *UserSwitcher) Switch() error {
	if s.User == "" && s.Group == "" {
		return nil
	}
	ops := s.ops
	if ops == nil {
		ops = &osCredOps
	}
	uid, gid := -1, -1
	if s.User != "" {
		u, err := ops.lookupUser(s.User)
		if err != nil {
			return fmt.Errorf("%w: lookup user %q: %w", ErrPrivilege, s.User, err)
		}
		if uid, err = strconv.Atoi(u.Uid); err != nil {
			return fmt.Errorf("%w: uid %q: %w", ErrPrivilege, u.Uid, err)
		}
		if gid, err = strconv.Atoi(u.Gid); err != nil {
			return fmt.Errorf("%w: gid %q: %w", ErrPrivilege, u.Gid, err)
		}
	}
	if s.Group != "" {
		g, err := ops.lookupGroup(s.Group)
		if err != nil {
			return fmt.Errorf("%w: lookup group %q: %w", ErrPrivilege, s.Group, err)
		}
		if gid, err = strconv.Atoi(g.Gid); err != nil {
			return fmt.Errorf("%w: gid %q: %w", ErrPrivilege, g.Gid, err)
		}
	}
	// groups and gid first: after setuid we no longer may change them
	if err := ops.setgroups([]int{gid}); err != nil {
		return fmt.Errorf("%w: setgroups: %w", ErrPrivilege, err)
	}
	if err := ops.setgid(gid); err != nil {
		return fmt.Errorf("%w: setgid %d: %w", ErrPrivilege, gid, err)
	}
	if uid >= 0 {
		if err := ops.setuid(uid); err != nil {
			return fmt.Errorf("%w: setuid %d: %w", ErrPrivilege, uid, err)
		}
	}
	return nil
}

// lookupUser accepts a name or a numeric uid.
func lookupUser(name string) (*user.User, error) {
	u, err := user.Lookup(name)
	if err == nil {
		return u, nil
	}
	if _, aerr := strconv.Atoi(name); aerr == nil {
		return user.LookupId(name)
	}
	return nil, err
}

// lookupGroup accepts a name or a numeric gid.
func lookupGroup(name string) (*user.Group, error) {
	g, err := user.LookupGroup(name)
	if err == nil {
		return g, nil
	}
	if _, aerr := strconv.Atoi(name); aerr == nil {
		return user.LookupGroupId(name)
	}
	return nil, err
}
