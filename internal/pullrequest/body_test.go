package pullrequest

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-github/v68/github"
)

func TestBody_SerializeOmitsPRFields(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b := Body{
		Filename:   "ndvi.json",
		ItemType:   "product",
		ChangeType: ChangeAdd,
		User:       "alice",
		DataOwner:  true,
		URL:        "https://github.com/esa/catalog/pull/1",
		CreatedAt:  &created,
		State:      StatePending,
	}
	s, err := b.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		t.Fatalf("serialized body is not JSON: %v", err)
	}
	for _, k := range []string{"url", "created_at", "state"} {
		if _, ok := m[k]; ok {
			t.Errorf("serialized body contains %q", k)
		}
	}
	for _, k := range []string{"filename", "item_type", "change_type", "user", "data_owner"} {
		if _, ok := m[k]; !ok {
			t.Errorf("serialized body missing %q", k)
		}
	}
	if m["change_type"] != "Add" {
		t.Errorf("change_type = %v, want Add", m["change_type"])
	}
}

func TestDeserialize_RoundTrip(t *testing.T) {
	orig := Body{Filename: "a.json", ItemType: "item", ChangeType: ChangeDelete, User: "bob"}
	s, err := orig.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	got, err := Deserialize(s, "https://x/pull/3", StateMerged, created)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if got.Filename != "a.json" || got.ChangeType != ChangeDelete || got.User != "bob" || got.DataOwner {
		t.Errorf("fields = %+v", got)
	}
	if got.URL != "https://x/pull/3" || got.State != StateMerged {
		t.Errorf("PR fields = %q %q", got.URL, got.State)
	}
	if got.CreatedAt == nil || !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v", got.CreatedAt)
	}
}

func TestDeserialize_Incompatible(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"free text", "This PR adds a new product."},
		{"null", "null"},
		{"missing key", `{"filename":"a","item_type":"i","change_type":"Add","user":"u"}`},
		{"unknown key", `{"filename":"a","item_type":"i","change_type":"Add","user":"u","data_owner":false,"extra":1}`},
		{"old format", `{"item_id":"myfile.json","username":"my-user"}`},
		{"bad change type", `{"filename":"a","item_type":"i","change_type":"Rename","user":"u","data_owner":false}`},
		{"wrong type", `{"filename":1,"item_type":"i","change_type":"Add","user":"u","data_owner":false}`},
		{"trailing data", `{"filename":"a","item_type":"i","change_type":"Add","user":"u","data_owner":false} {}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Deserialize(tt.data, "", StatePending, time.Time{})
			if !errors.Is(err, ErrIncompatibleBody) {
				t.Errorf("err = %v, want ErrIncompatibleBody", err)
			}
		})
	}
}

func TestStateOf(t *testing.T) {
	merged := github.Timestamp{Time: time.Now()}
	tests := []struct {
		name string
		pr   *github.PullRequest
		want State
	}{
		{"open", &github.PullRequest{State: github.Ptr("open")}, StatePending},
		{"open with merged_at", &github.PullRequest{State: github.Ptr("open"), MergedAt: &merged}, StatePending},
		{"merged", &github.PullRequest{State: github.Ptr("closed"), MergedAt: &merged}, StateMerged},
		{"closed", &github.PullRequest{State: github.Ptr("closed")}, StateRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StateOf(tt.pr); got != tt.want {
				t.Errorf("StateOf = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestChangeType_Valid(t *testing.T) {
	for _, c := range []ChangeType{ChangeAdd, ChangeUpdate, ChangeDelete} {
		if !c.Valid() {
			t.Errorf("%q should be valid", c)
		}
	}
	if ChangeType("add").Valid() {
		t.Error("lowercase add should be invalid")
	}
}
