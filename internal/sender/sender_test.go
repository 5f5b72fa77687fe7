// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sender

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	maxSize int

	mu    sync.Mutex
	sizes []int
	fail  bool
}

func (f *fakeTransport) GetMaxSendSize() int { return f.maxSize }

func (f *fakeTransport) SendBuffer(topic string, data []byte, onDone func(ConnectivityError)) {
	f.mu.Lock()
	f.sizes = append(f.sizes, len(data))
	f.mu.Unlock()
	if f.fail {
		onDone(ConnTransmissionError)
		return
	}
	onDone(ConnSuccess)
}

func (f *fakeTransport) calls() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.sizes))
	copy(out, f.sizes)
	return out
}

func TestAppendFlushesOnceThresholdCrossed(t *testing.T) {
	tr := &fakeTransport{maxSize: 1000}
	s := New(tr, "topic/edge")
	// threshold starts at 80% of 1000 = 800
	require.NoError(t, s.Append(1, make([]byte, 900), false))
	assert.Len(t, tr.calls(), 1)
}

func TestAppendBelowThresholdDoesNotUpload(t *testing.T) {
	tr := &fakeTransport{maxSize: 1000}
	s := New(tr, "topic/edge")
	require.NoError(t, s.Append(1, make([]byte, 10), false))
	assert.Empty(t, tr.calls())
}

func TestFlushForcesUploadRegardlessOfThreshold(t *testing.T) {
	tr := &fakeTransport{maxSize: 1000}
	s := New(tr, "topic/edge")
	require.NoError(t, s.Append(1, make([]byte, 10), false))
	require.NoError(t, s.Flush(1, false))
	assert.Len(t, tr.calls(), 1)
}

func TestFlushOnEmptyBufferIsNoOp(t *testing.T) {
	tr := &fakeTransport{maxSize: 1000}
	s := New(tr, "topic/edge")
	require.NoError(t, s.Flush(99, false))
	assert.Empty(t, tr.calls())
}

// spec §4.G step 3: a small payload (well under payloadSizeLimitMinPercent
// of maxSendSize) raises the threshold; a large one lowers it.
func TestAdaptRaisesThresholdAfterSmallPayload(t *testing.T) {
	tr := &fakeTransport{maxSize: 1000}
	s := New(tr, "topic/edge")
	before := s.uncompressed.TransmitSizeThreshold

	require.NoError(t, s.uploadProto(make([]byte, 100), false, 0))
	assert.Greater(t, s.uncompressed.TransmitSizeThreshold, before)
}

func TestAdaptLowersThresholdAfterLargePayload(t *testing.T) {
	tr := &fakeTransport{maxSize: 1000}
	s := New(tr, "topic/edge")
	before := s.uncompressed.TransmitSizeThreshold

	require.NoError(t, s.uploadProto(make([]byte, 950), false, 0))
	assert.Less(t, s.uncompressed.TransmitSizeThreshold, before)
}

func TestProcessSerializedDataInvokesOnDoneExactlyOnce(t *testing.T) {
	tr := &fakeTransport{maxSize: 1000}
	s := New(tr, "topic/edge")

	var calls int
	var result ConnectivityError
	done := make(chan struct{})
	s.ProcessSerializedData(make([]byte, 10), false, func(ce ConnectivityError) {
		calls++
		result = ce
		close(done)
	})
	<-done
	assert.Equal(t, 1, calls)
	assert.Equal(t, ConnSuccess, result)
}

func TestProcessSerializedDataReportsTransportFailure(t *testing.T) {
	tr := &fakeTransport{maxSize: 1000, fail: true}
	s := New(tr, "topic/edge")

	done := make(chan ConnectivityError, 1)
	s.ProcessSerializedData(make([]byte, 10), false, func(ce ConnectivityError) { done <- ce })
	assert.Equal(t, ConnTransmissionError, <-done)
}

// spec §4.G step 2 / §9: oversized payloads are halved and retried, bounded
// by UploadProtoRecursionLimit (= 2, i.e. up to quarters), then dropped.
func TestOversizedPayloadIsSplitAndRetried(t *testing.T) {
	tr := &fakeTransport{maxSize: 100}
	s := New(tr, "topic/edge")

	require.NoError(t, s.uploadProto(make([]byte, 350), false, 0))
	for _, size := range tr.calls() {
		assert.LessOrEqual(t, size, 100)
	}
	// 350 halved twice (depth 0->1->2, the recursion limit) yields quarters
	// of ~87-88 bytes each, all individually under the 100-byte cap.
	assert.NotEmpty(t, tr.calls())
}

func TestPayloadStillTooLargeAfterLimitIsDroppedNotErrored(t *testing.T) {
	tr := &fakeTransport{maxSize: 1}
	s := New(tr, "topic/edge")
	// Even quartered, nothing fits under maxSize=1; uploadProto must give
	// up silently rather than erroring the caller.
	err := s.uploadProto(make([]byte, 16), false, 0)
	assert.NoError(t, err)
}
