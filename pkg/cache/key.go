package cache

import "fmt"

// keyPrefix namespaces every cache entry. The version segment allows a
// clean break when the stored shape changes.
const keyPrefix = "harvest:v1"

// Key identifies one cached lookup result.
type Key struct {
	// Kind is the lookup family ("tag_experts", "user_detail").
	Kind string

	// ID is the entity id within the kind.
	ID int64
}

// TagExpertsKey returns the key for a tag's subject-matter-expert list.
func TagExpertsKey(tagID int64) Key {
	return Key{Kind: "tag_experts", ID: tagID}
}

// UserDetailKey returns the key for a legacy user detail record.
func UserDetailKey(userID int64) Key {
	return Key{Kind: "user_detail", ID: userID}
}

// String renders the Redis key: harvest:v1:<kind>:<id>.
func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%d", keyPrefix, k.Kind, k.ID)
}
