package httpfront

import (
	"testing"

	"github.com/endorses/packhound/internal/pkg/model"
	"github.com/stretchr/testify/assert"
)

func TestGateCreateEnabled(t *testing.T) {
	assert.True(t, gateCreateEnabled(authUser{IsAdmin: true}))
	assert.True(t, gateCreateEnabled(authUser{User: model.User{CreateEnabled: true}}))
	assert.False(t, gateCreateEnabled(authUser{}))
}

func TestGateRemoveEnabled(t *testing.T) {
	assert.True(t, gateRemoveEnabled(authUser{IsAdmin: true}))
	assert.True(t, gateRemoveEnabled(authUser{User: model.User{RemoveEnabled: true}}))
	assert.False(t, gateRemoveEnabled(authUser{}))
}

func TestGatePacketSearch(t *testing.T) {
	assert.True(t, gatePacketSearch(authUser{IsAdmin: true}))
	assert.True(t, gatePacketSearch(authUser{User: model.User{PacketSearch: true}}))
	assert.False(t, gatePacketSearch(authUser{}))
}

func TestGateHideStats_IsInverseOfFlag(t *testing.T) {
	// no HideStats set -> visible
	assert.True(t, gateHideStats(authUser{}))
	// HideStats set -> hidden, unless admin
	assert.False(t, gateHideStats(authUser{User: model.User{HideStats: true}}))
	assert.True(t, gateHideStats(authUser{User: model.User{HideStats: true}, IsAdmin: true}))
}

func TestGateHideFiles_IsInverseOfFlag(t *testing.T) {
	assert.True(t, gateHideFiles(authUser{}))
	assert.False(t, gateHideFiles(authUser{User: model.User{HideFiles: true}}))
	assert.True(t, gateHideFiles(authUser{User: model.User{HideFiles: true}, IsAdmin: true}))
}

func TestGateDisablePcapDownload_IsInverseOfFlag(t *testing.T) {
	assert.True(t, gateDisablePcapDownload(authUser{}))
	assert.False(t, gateDisablePcapDownload(authUser{User: model.User{DisablePcapDownload: true}}))
	assert.True(t, gateDisablePcapDownload(authUser{User: model.User{DisablePcapDownload: true}, IsAdmin: true}))
}

func TestGateNone_AlwaysTrue(t *testing.T) {
	assert.True(t, gateNone(authUser{}))
}
