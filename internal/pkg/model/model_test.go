package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseForwardAction(t *testing.T) {
	cluster, ok := ParseForwardAction("forward:remote-dc")
	assert.True(t, ok)
	assert.Equal(t, "remote-dc", cluster)

	_, ok = ParseForwardAction("tag")
	assert.False(t, ok)

	_, ok = ParseForwardAction("forward:")
	assert.False(t, ok)
}

func TestHunt_CanRead(t *testing.T) {
	h := Hunt{UserID: "alice"}

	assert.True(t, h.CanRead("alice", false))
	assert.False(t, h.CanRead("bob", false))
	assert.True(t, h.CanRead("bob", true))
}

func TestHunt_Redacted_BlanksSearchQueryIDAndUserID(t *testing.T) {
	h := Hunt{
		ID:         "hunt-1",
		UserID:     "alice",
		Search:     "needle",
		SearchType: "ascii",
		Query:      HuntQuery{Expression: "foo"},
		Name:       "my hunt",
	}

	r := h.Redacted()
	assert.Equal(t, "", r.ID)
	assert.Equal(t, "", r.UserID)
	assert.Equal(t, "", r.Search)
	assert.Equal(t, "", r.SearchType)
	assert.Equal(t, HuntQuery{}, r.Query)
	assert.Equal(t, "my hunt", r.Name)
}

func TestSession_FileNumbers_SingleFile(t *testing.T) {
	s := Session{FileID: []int64{5}, PacketPos: []int64{100, 200, 300}}

	got := s.FileNumbers()
	assert.Equal(t, []FileID{
		{FileNum: 5, Offset: 100},
		{FileNum: 5, Offset: 200},
		{FileNum: 5, Offset: 300},
	}, got)
}

func TestSession_FileNumbers_SwitchesOnNegativeEntry(t *testing.T) {
	s := Session{FileID: []int64{1}, PacketPos: []int64{100, -2, 50, 60}}

	got := s.FileNumbers()
	assert.Equal(t, []FileID{
		{FileNum: 1, Offset: 100},
		{FileNum: 2, Offset: 50},
		{FileNum: 2, Offset: 60},
	}, got)
}
