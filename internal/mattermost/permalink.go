package mattermost

import "strings"

// postIDLength is the fixed length of Mattermost post id tokens.
const postIDLength = 26

// ValidPostID reports whether id looks like a real post token:
// exactly 26 lowercase-alphanumeric characters. Anything else must
// not be turned into a link.
func ValidPostID(id string) bool {
	if len(id) != postIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

// PermalinkFunc builds a bridge.Notifier deep-link resolver for one
// server/team pair. Malformed ids yield ok=false rather than a bogus
// URL.
func PermalinkFunc(serverURL, team string) func(postID string) (string, bool) {
	base := strings.TrimRight(serverURL, "/")
	return func(postID string) (string, bool) {
		if team == "" || !ValidPostID(postID) {
			return "", false
		}
		return base + "/" + team + "/pl/" + postID, true
	}
}
