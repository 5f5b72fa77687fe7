// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package campaign

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCampaignNameIsLastARNSegment(t *testing.T) {
	s := &Scheme{CampaignARN: "arn:aws:iotfleetwise:us-east-1:123456789012:campaign/MyCampaign"}
	assert.Equal(t, "MyCampaign", s.CampaignName())
}

func TestCampaignNameWithNoSlashIsWholeString(t *testing.T) {
	s := &Scheme{CampaignARN: "JustAName"}
	assert.Equal(t, "JustAName", s.CampaignName())
}

func TestIsActiveRespectsStartAndExpiry(t *testing.T) {
	s := &Scheme{StartTimeMs: 1000, ExpiryTimeMs: 2000}
	assert.False(t, s.IsActive(500), "before start must be inactive")
	assert.True(t, s.IsActive(1000), "at start must be active")
	assert.True(t, s.IsActive(1999), "just before expiry must be active")
	assert.False(t, s.IsActive(2000), "at expiry must be inactive")
}

func TestIsActiveWithNoExpiryNeverExpires(t *testing.T) {
	s := &Scheme{StartTimeMs: 1000, ExpiryTimeMs: 0}
	assert.True(t, s.IsActive(1_000_000_000))
}

func TestCollectSignalDefaultsToPartitionZero(t *testing.T) {
	cs := CollectSignal{SignalID: 1}
	assert.Nil(t, cs.PartitionID, "nil PartitionID means defaults to partition 0 per spec §4.F")
}
