package store

import (
	"encoding/json"
	"fmt"
)

// Object is a record in the hierarchical object store. The store is the
// source of truth; local copies live in the mirror.
type Object struct {
	ID     string         `json:"_id"`
	Type   string         `json:"type,omitempty"`
	Common *Common        `json:"common,omitempty"`
	Native map[string]any `json:"native,omitempty"`
	ACL    *ACL           `json:"acl,omitempty"`
	TS     int64          `json:"ts,omitempty"` // epoch ms of last write
}

// Common is the shared attribute bag of an object.
type Common struct {
	Name       string `json:"name,omitempty"`
	Role       string `json:"role,omitempty"`
	Type       string `json:"type,omitempty"`
	Read       bool   `json:"read,omitempty"`
	Write      bool   `json:"write,omitempty"`
	Def        any    `json:"def,omitempty"`
	Version    string `json:"version,omitempty"`
	Language   string `json:"language,omitempty"`
	ActiveRepo string `json:"activeRepo,omitempty"`
}

// ACL is the access-control block of an object.
type ACL struct {
	Owner       string `json:"owner,omitempty"`
	Group       string `json:"ownerGroup,omitempty"`
	Permissions uint16 `json:"object,omitempty"`
}

// State is a single state value with acknowledge flag.
type State struct {
	Val any   `json:"val"`
	Ack bool  `json:"ack"`
	TS  int64 `json:"ts,omitempty"`
}

// Change is one entry of the store's change-notification stream.
// A nil Object signals a deletion.
type Change struct {
	ID     string  `json:"id"`
	Object *Object `json:"object"`
}

// RepoEntry describes the latest available release of one component.
// Messages carry conditional update notices; decoded by the update engine.
type RepoEntry struct {
	Version  string          `json:"version"`
	Icon     string          `json:"icon,omitempty"`
	Meta     string          `json:"meta,omitempty"`
	Messages json.RawMessage `json:"messages,omitempty"`
}

// RepoSource is one named repository inside the system repositories object.
type RepoSource struct {
	Link string               `json:"link,omitempty"`
	JSON map[string]RepoEntry `json:"json,omitempty"`
}

// RepositorySnapshot extracts the component snapshot of the named repository
// from the system repositories object. The second return reports whether the
// repository exists and carries a fetched snapshot.
func RepositorySnapshot(obj *Object, repoName string) (map[string]RepoEntry, bool) {
	if obj == nil || obj.Native == nil {
		return nil, false
	}
	raw, ok := obj.Native["repositories"]
	if !ok {
		return nil, false
	}
	// native is decoded as generic JSON; round-trip into the typed shape
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil, false
	}
	var repos map[string]RepoSource
	if err := json.Unmarshal(buf, &repos); err != nil {
		return nil, false
	}
	src, ok := repos[repoName]
	if !ok || src.JSON == nil {
		return nil, false
	}
	return src.JSON, true
}

// NativeString reads a string field out of an object's native bag.
func (o *Object) NativeString(key string) string {
	if o == nil || o.Native == nil {
		return ""
	}
	s, _ := o.Native[key].(string)
	return s
}

func (o *Object) String() string {
	if o == nil {
		return "<nil>"
	}
	return fmt.Sprintf("Object(%s type=%s)", o.ID, o.Type)
}
