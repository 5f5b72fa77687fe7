// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package sender implements the Telemetry Sender (spec §4.G): it
// serializes collected data into sized chunks, compresses optionally,
// uploads via a Transport, and adapts the chunk threshold to observed
// payload size.
package sender

import (
	"bytes"
	"compress/gzip"
	"fmt"

	"github.com/clustercockpit/cc-edge-agent/pkg/log"
)

var senderLog = log.WithComponent("telemetry-sender")

// UploadProtoRecursionLimit bounds uploadProto's halve-and-retry loop
// (spec §4.G, §9: "a deliberate cap that trades deliverability against
// payload granularity").
const UploadProtoRecursionLimit = 2

// ConnectivityError mirrors the sender collaborator's result space
// (spec §6).
type ConnectivityError int

const (
	ConnSuccess ConnectivityError = iota
	ConnNotConfigured
	ConnWrongInputData
	ConnTypeNotSupported
	ConnNoConnection
	ConnQuotaReached
	ConnTransmissionError
)

// Transport is the external collaborator the sender hands finished
// payloads to (spec §6: Sender.getMaxSendSize/sendBuffer).
type Transport interface {
	GetMaxSendSize() int
	SendBuffer(topic string, data []byte, onDone func(ConnectivityError))
}

// PayloadAdaptionConfig is one of the two (compressed/uncompressed)
// adaptive-threshold configs (spec §4.G).
type PayloadAdaptionConfig struct {
	TransmitThresholdStartPercent int
	PayloadSizeLimitMinPercent    int
	PayloadSizeLimitMaxPercent    int
	TransmitThresholdAdaptPercent int
	TransmitSizeThreshold         int
}

// DefaultPayloadAdaptionConfig seeds TransmitSizeThreshold from
// TransmitThresholdStartPercent of maxSendSize.
func DefaultPayloadAdaptionConfig(maxSendSize int) PayloadAdaptionConfig {
	c := PayloadAdaptionConfig{
		TransmitThresholdStartPercent: 80,
		PayloadSizeLimitMinPercent:    70,
		PayloadSizeLimitMaxPercent:    90,
		TransmitThresholdAdaptPercent: 10,
	}
	c.TransmitSizeThreshold = maxSendSize * c.TransmitThresholdStartPercent / 100
	return c
}

// Sender buffers signal payloads per collection-event id and ships them
// through a Transport, adapting its chunk threshold as uploads succeed.
type Sender struct {
	transport  Transport
	topic      string

	uncompressed PayloadAdaptionConfig
	compressed   PayloadAdaptionConfig

	buffers map[uint32]*bytes.Buffer
}

// New creates a Sender over transport, publishing to topic.
func New(transport Transport, topic string) *Sender {
	maxSize := transport.GetMaxSendSize()
	return &Sender{
		transport:    transport,
		topic:        topic,
		uncompressed: DefaultPayloadAdaptionConfig(maxSize),
		compressed:   DefaultPayloadAdaptionConfig(maxSize),
		buffers:      map[uint32]*bytes.Buffer{},
	}
}

// Append streams one signal payload into the buffer for eventID. If the
// buffer's size crosses the active threshold, it is flushed via
// uploadProto (spec §4.G step 1).
func (s *Sender) Append(eventID uint32, payload []byte, compress bool) error {
	buf, ok := s.buffers[eventID]
	if !ok {
		buf = &bytes.Buffer{}
		s.buffers[eventID] = buf
	}
	buf.Write(payload)

	cfg := s.configFor(compress)
	if buf.Len() >= cfg.TransmitSizeThreshold {
		data := buf.Bytes()
		buf.Reset()
		return s.uploadProto(data, compress, 0)
	}
	return nil
}

// Flush force-uploads any remaining buffered data for eventID, regardless
// of threshold (e.g. at scheme expiry / afterDurationMs elapse).
func (s *Sender) Flush(eventID uint32, compress bool) error {
	buf, ok := s.buffers[eventID]
	if !ok || buf.Len() == 0 {
		return nil
	}
	data := buf.Bytes()
	buf.Reset()
	return s.uploadProto(data, compress, 0)
}

func (s *Sender) configFor(compress bool) *PayloadAdaptionConfig {
	if compress {
		return &s.compressed
	}
	return &s.uncompressed
}

// ProcessSerializedData is the forwarder's synchronous hand-off entry
// point (spec §4.H step 4): it uploads an already-serialized stream
// record through uploadProto, invoking onDone exactly once.
func (s *Sender) ProcessSerializedData(payload []byte, compress bool, onDone func(ConnectivityError)) {
	err := s.uploadProto(payload, compress, 0)
	if err != nil {
		senderLog.Errorf("process serialized data: %v", err)
		onDone(ConnTransmissionError)
		return
	}
	onDone(ConnSuccess)
}

// uploadProto serializes (already raw bytes here — proto encoding belongs
// to the upstream caller per spec §6), optionally compresses, and hands to
// the transport. If the resulting payload exceeds the transport's max
// size, the buffered content is split in half and retried, bounded by
// UploadProtoRecursionLimit (spec §4.G step 2).
func (s *Sender) uploadProto(data []byte, compress bool, depth int) error {
	out := data
	if compress {
		compressed, err := gzipCompress(data)
		if err != nil {
			return fmt.Errorf("sender: compress: %w", err)
		}
		out = compressed
	}

	maxSize := s.transport.GetMaxSendSize()
	if len(out) > maxSize {
		if depth >= UploadProtoRecursionLimit {
			senderLog.Warnf("payload still exceeds max send size after %d splits, dropping", depth)
			return nil
		}
		mid := len(data) / 2
		if mid == 0 {
			return nil
		}
		if err := s.uploadProto(data[:mid], compress, depth+1); err != nil {
			return err
		}
		return s.uploadProto(data[mid:], compress, depth+1)
	}

	done := make(chan ConnectivityError, 1)
	s.transport.SendBuffer(s.topic, out, func(ce ConnectivityError) { done <- ce })
	result := <-done

	if result == ConnSuccess {
		s.adapt(compress, len(out), maxSize)
		return nil
	}
	return fmt.Errorf("sender: transport error %d", result)
}

// adapt implements spec §4.G step 3: after a successful upload, shrink or
// grow the transmit threshold based on how far the payload landed from
// the configured percent band of maxSendSize.
func (s *Sender) adapt(compress bool, payloadSize, maxSendSize int) {
	cfg := s.configFor(compress)
	minBound := maxSendSize * cfg.PayloadSizeLimitMinPercent / 100
	maxBound := maxSendSize * cfg.PayloadSizeLimitMaxPercent / 100

	switch {
	case payloadSize < minBound:
		cfg.TransmitSizeThreshold += cfg.TransmitSizeThreshold * cfg.TransmitThresholdAdaptPercent / 100
	case payloadSize > maxBound:
		cfg.TransmitSizeThreshold -= cfg.TransmitSizeThreshold * cfg.TransmitThresholdAdaptPercent / 100
	}
	if cfg.TransmitSizeThreshold > maxSendSize {
		cfg.TransmitSizeThreshold = maxSendSize
	}
	if cfg.TransmitSizeThreshold < 1 {
		cfg.TransmitSizeThreshold = 1
	}
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
