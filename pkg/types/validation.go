package types

// IsValidUserID reports whether a user id is usable as a channel name and a
// broker routing key. AMQP routing patterns give '.', '*' and '#' special
// meaning, so they are excluded, as are the reserved internal names.
func IsValidUserID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	if id == Wildcard || id == SuperUser || id == Everyone {
		return false
	}
	for _, r := range id {
		switch r {
		case '.', '*', '#', ' ':
			return false
		}
	}
	return true
}

// IsValidResourceType reports whether t is one of the two resource kinds.
func IsValidResourceType(t string) bool {
	return t == ResourceTypeFile || t == ResourceTypeFolder
}

// IsValidServiceStatus reports whether s is a known provider status.
func IsValidServiceStatus(s string) bool {
	return ServiceStatusRank(s) > 0
}
