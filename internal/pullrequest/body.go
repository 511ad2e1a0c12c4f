// Package pullrequest submits catalog changes to the metadata repository as
// GitHub pull requests and reads their state back.
package pullrequest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/go-github/v68/github"
)

// ChangeType is the kind of change a submission makes.
type ChangeType string

const (
	ChangeAdd    ChangeType = "Add"
	ChangeUpdate ChangeType = "Update"
	ChangeDelete ChangeType = "Delete"
)

// Valid reports whether c is a known change type.
func (c ChangeType) Valid() bool {
	switch c {
	case ChangeAdd, ChangeUpdate, ChangeDelete:
		return true
	}
	return false
}

// State is the review state of a submission.
type State string

const (
	StatePending  State = "Pending"
	StateMerged   State = "Merged"
	StateRejected State = "Rejected"
)

// StateOf derives the submission state of a pull request. The merged flag
// is only present on single-PR fetches, so merged_at is used instead.
func StateOf(pr *github.PullRequest) State {
	if pr.GetState() == "open" {
		return StatePending
	}
	if pr.MergedAt != nil {
		return StateMerged
	}
	return StateRejected
}

// ErrIncompatibleBody is returned by Deserialize for pull request bodies that
// were not written by Serialize, e.g. manually opened PRs.
var ErrIncompatibleBody = errors.New("pullrequest: incompatible body")

// Body is the machine-readable description stored in a submission's PR body.
// URL, CreatedAt and State come from the pull request itself and are not
// serialized.
type Body struct {
	Filename   string     `json:"filename"`
	ItemType   string     `json:"item_type"`
	ChangeType ChangeType `json:"change_type"`
	User       string     `json:"user"`
	DataOwner  bool       `json:"data_owner"`

	URL       string     `json:"url,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	State     State      `json:"state,omitempty"`
}

type serializedBody struct {
	Filename   *string     `json:"filename"`
	ItemType   *string     `json:"item_type"`
	ChangeType *ChangeType `json:"change_type"`
	User       *string     `json:"user"`
	DataOwner  *bool       `json:"data_owner"`
}

// Serialize renders the PR body text.
func (b Body) Serialize() (string, error) {
	data, err := json.Marshal(serializedBody{
		Filename:   &b.Filename,
		ItemType:   &b.ItemType,
		ChangeType: &b.ChangeType,
		User:       &b.User,
		DataOwner:  &b.DataOwner,
	})
	if err != nil {
		return "", fmt.Errorf("pullrequest: serialize body: %w", err)
	}
	return string(data), nil
}

// Deserialize parses a PR body written by Serialize. Unknown or missing keys
// make the body incompatible.
func Deserialize(data, url string, state State, createdAt time.Time) (Body, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.DisallowUnknownFields()

	var raw serializedBody
	if err := dec.Decode(&raw); err != nil {
		return Body{}, fmt.Errorf("%w: %v", ErrIncompatibleBody, err)
	}
	if dec.More() {
		return Body{}, fmt.Errorf("%w: trailing data", ErrIncompatibleBody)
	}
	if raw.Filename == nil || raw.ItemType == nil || raw.ChangeType == nil || raw.User == nil || raw.DataOwner == nil {
		return Body{}, fmt.Errorf("%w: missing keys", ErrIncompatibleBody)
	}
	if !raw.ChangeType.Valid() {
		return Body{}, fmt.Errorf("%w: change type %q", ErrIncompatibleBody, *raw.ChangeType)
	}

	b := Body{
		Filename:   *raw.Filename,
		ItemType:   *raw.ItemType,
		ChangeType: *raw.ChangeType,
		User:       *raw.User,
		DataOwner:  *raw.DataOwner,
		URL:        url,
		State:      state,
	}
	if !createdAt.IsZero() {
		b.CreatedAt = &createdAt
	}
	return b, nil
}
