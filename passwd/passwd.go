// Package passwd resolves user and group names to numeric ids.
package passwd

import (
	"fmt"
	"os/user"
	"strconv"
)

// ParseUID accepts either a numeric UID or a user name.
func ParseUID(uid string) (int, error) {
	n, err := strconv.ParseUint(uid, 10, 31)
	if err != nil {
		return parseUserName(uid)
	}
	return int(n), nil
}

// ParseGID accepts either a numeric GID or a group name.
func ParseGID(gid string) (int, error) {
	n, err := strconv.ParseUint(gid, 10, 31)
	if err != nil {
		return parseGroupName(gid)
	}
	return int(n), nil
}

// GetGIDForUID returns the primary group of the given user (name or number).
// If the user has no passwd entry the GID is assumed to equal the UID.
func GetGIDForUID(uid string) (int, error) {
	n, err := ParseUID(uid)
	if err != nil {
		return 0, err
	}

	u, err := user.LookupId(strconv.Itoa(n))
	if err != nil {
		if _, ok := err.(user.UnknownUserIdError); ok {
			return n, nil
		}
		return 0, fmt.Errorf("cannot get GID for UID %d: %w", n, err)
	}

	return atoi(u.Gid)
}

// GetExtraGIDs returns the supplementary groups of the given user, including
// the primary group. A user without a passwd entry has only gid.
func GetExtraGIDs(uid, gid int) ([]int, error) {
	u, err := user.LookupId(strconv.Itoa(uid))
	if err != nil {
		if _, ok := err.(user.UnknownUserIdError); ok {
			return []int{gid}, nil
		}
		return nil, fmt.Errorf("cannot retrieve groups for UID %d: %w", uid, err)
	}

	ids, err := u.GroupIds()
	if err != nil {
		return nil, fmt.Errorf("cannot retrieve groups for UID %d: %w", uid, err)
	}

	gids := []int{gid}
	for _, s := range ids {
		g, err := atoi(s)
		if err != nil {
			return nil, err
		}
		if g != gid {
			gids = append(gids, g)
		}
	}

	return gids, nil
}

func parseUserName(username string) (int, error) {
	u, err := user.Lookup(username)
	if err != nil {
		return 0, fmt.Errorf("cannot convert username to uid: %s: %w", username, err)
	}
	return atoi(u.Uid)
}

func parseGroupName(groupname string) (int, error) {
	g, err := user.LookupGroup(groupname)
	if err != nil {
		return 0, fmt.Errorf("cannot convert group name to gid: %s: %w", groupname, err)
	}
	return atoi(g.Gid)
}

func atoi(s string) (int, error) {
	n, err := strconv.ParseUint(s, 10, 31)
	if err != nil {
		return 0, fmt.Errorf("malformed id %q: %w", s, err)
	}
	return int(n), nil
}
