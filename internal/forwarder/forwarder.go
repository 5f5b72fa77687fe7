// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package forwarder implements the Stream Forwarder (spec §4.H): a
// background worker that reads eligible partitions, respects the rate
// limiter, drives uploads through the sender, and tracks IoT-job
// completion and end-time cutoffs.
package forwarder

import (
	"sync"
	"time"

	"github.com/clustercockpit/cc-edge-agent/internal/sender"
	"github.com/clustercockpit/cc-edge-agent/internal/stream"
	"github.com/clustercockpit/cc-edge-agent/pkg/clock"
	"github.com/clustercockpit/cc-edge-agent/pkg/log"
	"github.com/clustercockpit/cc-edge-agent/pkg/ratelimiter"
)

var forwarderLog = log.WithComponent("stream-forwarder")

// Source identifies why a partition is being forwarded (spec §4.H).
type Source int

const (
	SourceCondition Source = iota
	SourceIoTJob
)

// JobCompletionCallback is invoked once all partitions opened on behalf of
// an IoT job have drained, outside the forwarder's mutex.
type JobCompletionCallback func(campaignARN string)

type uploadEntry struct {
	enabledSources map[Source]bool
}

type jobEndTime struct {
	endTimeMs int64 // 0 means "no upper bound"
}

// Forwarder is the background worker driving uploads out of the Stream
// Manager's partitions.
type Forwarder struct {
	clock       clock.Clock
	streams     *stream.Manager
	rateLimiter *ratelimiter.RateLimiter
	sender      Sender

	idleTime time.Duration

	mu                      sync.Mutex
	cond                    *sync.Cond
	partitionsToUpload      map[stream.PartitionKey]*uploadEntry
	partitionsWaitingForData map[stream.PartitionKey]int64 // deadline ms
	jobCampaignToPartitions map[string]map[stream.PartitionKey]bool
	jobCampaignToEndTime    map[string]*jobEndTime

	stopFlag bool
	stopCh   chan struct{} // closed once, by Stop, to wake sleepIdle early
	stopped  chan struct{} // closed once Run has returned

	onJobComplete JobCompletionCallback

	// partitionsForCampaign enumerates a campaign's partitions, used by
	// BeginJobForward to locate the full partition set a job covers.
	partitionsForCampaign func(campaignARN string) []stream.PartitionKey
}

// Sender is the subset of internal/sender.Sender the forwarder drives
// records through (spec §6: Sender.sendBuffer with a synchronous onDone
// hand-off).
type Sender interface {
	ProcessSerializedData(payload []byte, compress bool, onDone func(sender.ConnectivityError))
}

// New creates a Forwarder. partitionsForCampaign must enumerate every open
// partition belonging to a campaign ARN (used by BeginJobForward).
func New(c clock.Clock, streams *stream.Manager, limiter *ratelimiter.RateLimiter, snd Sender, idleTime time.Duration, partitionsForCampaign func(string) []stream.PartitionKey, onJobComplete JobCompletionCallback) *Forwarder {
	f := &Forwarder{
		clock:                    c,
		streams:                  streams,
		rateLimiter:              limiter,
		sender:                   snd,
		idleTime:                 idleTime,
		partitionsToUpload:       map[stream.PartitionKey]*uploadEntry{},
		partitionsWaitingForData: map[stream.PartitionKey]int64{},
		jobCampaignToPartitions:  map[string]map[stream.PartitionKey]bool{},
		jobCampaignToEndTime:     map[string]*jobEndTime{},
		stopCh:                   make(chan struct{}),
		stopped:                  make(chan struct{}),
		onJobComplete:            onJobComplete,
		partitionsForCampaign:    partitionsForCampaign,
	}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Run executes the worker loop (spec §4.H steps 1-5) until Stop is called.
// Intended to run in its own goroutine, one per the role-per-goroutine
// scheduling model.
func (f *Forwarder) Run() {
	for {
		f.mu.Lock()
		if f.stopFlag {
			f.mu.Unlock()
			close(f.stopped)
			return
		}

		now := f.clock.SystemTimeMillis()
		f.expireWaitingLocked(now)

		toRead, onlySkipped := f.snapshotLocked(now)

		if len(toRead) == 0 {
			if onlySkipped {
				f.mu.Unlock()
				f.sleepIdle()
				continue
			}
			f.cond.Wait() // woken by BeginForward/BeginJobForward/Stop
			f.mu.Unlock()
			continue
		}
		f.mu.Unlock()

		toRemove := f.readCycle(toRead)

		if len(toRemove) > 0 {
			f.mu.Lock()
			for _, key := range toRemove {
				delete(f.partitionsToUpload, key)
			}
			f.mu.Unlock()
		}

		f.sleepIdle()
	}
}

func (f *Forwarder) sleepIdle() {
	timer := time.NewTimer(f.idleTime)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-f.stopCh:
	}
}

func (f *Forwarder) expireWaitingLocked(now int64) {
	for key, deadline := range f.partitionsWaitingForData {
		if now >= deadline {
			delete(f.partitionsWaitingForData, key)
		}
	}
}

type readTask struct {
	key       stream.PartitionKey
	endTimeMs int64 // 0 = no job cutoff
	hasJob    bool
}

// snapshotLocked builds this cycle's read set, skipping partitions still
// waiting for data (spec §4.H step 2). Caller holds f.mu.
func (f *Forwarder) snapshotLocked(now int64) (toRead []readTask, onlySkipped bool) {
	anySkipped := false
	for key, entry := range f.partitionsToUpload {
		if len(entry.enabledSources) == 0 {
			continue
		}
		if _, waiting := f.partitionsWaitingForData[key]; waiting {
			anySkipped = true
			continue
		}
		task := readTask{key: key}
		if entry.enabledSources[SourceIoTJob] {
			if jt, ok := f.jobCampaignToEndTime[key.CampaignARN]; ok {
				task.endTimeMs = jt.endTimeMs
				task.hasJob = true
			}
		}
		toRead = append(toRead, task)
	}
	return toRead, len(toRead) == 0 && anySkipped
}

// readCycle processes one cycle's worth of partitions (spec §4.H step 4)
// and returns partitions to remove from mPartitionsToUpload.
func (f *Forwarder) readCycle(tasks []readTask) []stream.PartitionKey {
	var toRemove []stream.PartitionKey

	for _, task := range tasks {
		rec, checkpoint, code := f.streams.ReadFromStream(task.key)

		if task.hasJob && code == stream.Success && task.endTimeMs != 0 && rec.TriggerTimeMs >= task.endTimeMs {
			f.completeJobSource(task.key)
			continue
		}

		switch code {
		case stream.Success:
			if !f.rateLimiter.ConsumeToken() {
				continue
			}
			f.deliver(rec, checkpoint)

		case stream.EndOfStream:
			f.mu.Lock()
			f.partitionsWaitingForData[task.key] = f.clock.SystemTimeMillis() + 1000
			f.mu.Unlock()
			if task.hasJob {
				f.completeJobSource(task.key)
			}

		case stream.StreamNotFound:
			toRemove = append(toRemove, task.key)

		case stream.ErrorGeneric:
			forwarderLog.Errorf("read from stream %+v failed", task.key)
		}
	}
	return toRemove
}

// deliver hands one record to the sender and blocks for its synchronous
// onDone callback (spec §4.H step 4, §5 deadlock-by-design note).
func (f *Forwarder) deliver(rec stream.Record, checkpoint stream.Checkpoint) {
	done := make(chan sender.ConnectivityError, 1)
	f.sender.ProcessSerializedData(rec.SerializedPayload, false, func(ce sender.ConnectivityError) {
		done <- ce
	})
	result := <-done

	if result == sender.ConnSuccess {
		if err := checkpoint(); err != nil {
			forwarderLog.Errorf("checkpoint failed: %v", err)
		}
		return
	}
	forwarderLog.Warnf("upload failed (%d), record not checkpointed", result)
}

// completeJobSource removes IOT_JOB from one partition's enabled set and,
// if the job's partition set has drained, fires the completion callback
// outside the mutex (spec §4.H job completion, §5 callback-outside-lock
// rule).
func (f *Forwarder) completeJobSource(key stream.PartitionKey) {
	var completedCampaign string
	var fire bool

	f.mu.Lock()
	if entry, ok := f.partitionsToUpload[key]; ok {
		delete(entry.enabledSources, SourceIoTJob)
	}
	if parts, ok := f.jobCampaignToPartitions[key.CampaignARN]; ok {
		delete(parts, key)
		if len(parts) == 0 {
			delete(f.jobCampaignToPartitions, key.CampaignARN)
			delete(f.jobCampaignToEndTime, key.CampaignARN)
			completedCampaign = key.CampaignARN
			fire = true
		}
	}
	f.mu.Unlock()

	if fire && f.onJobComplete != nil {
		f.onJobComplete(completedCampaign)
	}
}

// BeginForward adds source to a partition's enabled set and wakes the
// worker (spec §4.H).
func (f *Forwarder) BeginForward(key stream.PartitionKey, source Source) {
	f.mu.Lock()
	entry, ok := f.partitionsToUpload[key]
	if !ok {
		entry = &uploadEntry{enabledSources: map[Source]bool{}}
		f.partitionsToUpload[key] = entry
	}
	entry.enabledSources[source] = true
	f.mu.Unlock()
	f.cond.Signal()
}

// CancelForward removes source from a partition's enabled set, dropping
// the partition entirely if the set becomes empty (spec §4.H).
func (f *Forwarder) CancelForward(key stream.PartitionKey, source Source) {
	f.mu.Lock()
	if entry, ok := f.partitionsToUpload[key]; ok {
		delete(entry.enabledSources, source)
		if len(entry.enabledSources) == 0 {
			delete(f.partitionsToUpload, key)
		}
	}
	f.mu.Unlock()
}

// BeginJobForward enumerates all partitions of campaignARN and enables
// IOT_JOB forwarding with the given end time. If a job already targets the
// campaign, the recorded end time is merged via mergeEndTime: a zero
// ("no upper bound") on either side wins outright and clears any prior
// bound, matching the upstream StreamForwarder merge exactly rather than
// "fixing" it.
func (f *Forwarder) BeginJobForward(campaignARN string, endTimeMs int64) {
	parts := f.partitionsForCampaign(campaignARN)
	if len(parts) == 0 {
		return
	}

	f.mu.Lock()
	set, ok := f.jobCampaignToPartitions[campaignARN]
	if !ok {
		set = map[stream.PartitionKey]bool{}
		f.jobCampaignToPartitions[campaignARN] = set
	}
	for _, key := range parts {
		set[key] = true
		entry, ok := f.partitionsToUpload[key]
		if !ok {
			entry = &uploadEntry{enabledSources: map[Source]bool{}}
			f.partitionsToUpload[key] = entry
		}
		entry.enabledSources[SourceIoTJob] = true
	}

	if existing, ok := f.jobCampaignToEndTime[campaignARN]; ok {
		existing.endTimeMs = mergeEndTime(existing.endTimeMs, endTimeMs)
	} else {
		f.jobCampaignToEndTime[campaignARN] = &jobEndTime{endTimeMs: endTimeMs}
	}
	f.mu.Unlock()
	f.cond.Signal()
}

// mergeEndTime is the literal merge arithmetic from the original
// StreamForwarder: zero means "no upper bound", so if either side is zero
// the merged value is zero, overwriting any prior bound. Only when both
// sides carry a real bound does the merge take their maximum (spec §9,
// Open Question 1).
func mergeEndTime(a, b int64) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	if b > a {
		return b
	}
	return a
}

// Stop signals the worker to exit after its current cycle (spec §4.H
// shutdown: partially-processed records are not checkpointed).
func (f *Forwarder) Stop() {
	f.mu.Lock()
	f.stopFlag = true
	f.mu.Unlock()
	close(f.stopCh)
	f.cond.Broadcast()
	<-f.stopped
}
