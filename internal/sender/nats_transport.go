// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sender

import (
	"fmt"

	"github.com/clustercockpit/cc-edge-agent/pkg/log"
	"github.com/nats-io/nats.go"
)

var natsTransportLog = log.WithComponent("nats-transport")

// NatsConfig configures a NatsTransport (adapted from the teacher's
// pkg/nats.NatsConfig).
type NatsConfig struct {
	Address       string `json:"address"`
	Username      string `json:"username"`
	Password      string `json:"password"`
	CredsFilePath string `json:"creds-file-path"`
	MaxSendSize   int    `json:"max-send-size"`
}

// NatsTransport publishes forwarded payloads onto a NATS subject. It is
// adapted from the teacher's pkg/nats.Client: same connect/reconnect
// wiring, but publish is fire-and-forget-then-flush rather than
// request/reply, since the edge agent never expects a response.
type NatsTransport struct {
	conn        *nats.Conn
	maxSendSize int
}

// NewNatsTransport connects to the configured NATS server.
func NewNatsTransport(cfg NatsConfig) (*NatsTransport, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("nats transport: address is required")
	}

	var opts []nats.Option
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.CredsFilePath != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredsFilePath))
	}
	opts = append(opts, nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
		if err != nil {
			natsTransportLog.Warnf("disconnected: %v", err)
		}
	}))
	opts = append(opts, nats.ReconnectHandler(func(nc *nats.Conn) {
		natsTransportLog.Infof("reconnected to %s", nc.ConnectedUrl())
	}))
	opts = append(opts, nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
		natsTransportLog.Errorf("connection error: %v", err)
	}))

	nc, err := nats.Connect(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats transport: connect: %w", err)
	}
	natsTransportLog.Infof("connected to %s", cfg.Address)

	maxSize := cfg.MaxSendSize
	if maxSize <= 0 {
		maxSize = 1 << 20 // 1MiB default, equal to the server's default max_payload
	}

	return &NatsTransport{conn: nc, maxSendSize: maxSize}, nil
}

// GetMaxSendSize implements Transport.
func (t *NatsTransport) GetMaxSendSize() int {
	return t.maxSendSize
}

// SendBuffer implements Transport by publishing data to topic and flushing
// synchronously so onDone reflects whether the broker actually accepted it.
func (t *NatsTransport) SendBuffer(topic string, data []byte, onDone func(ConnectivityError)) {
	if t.conn == nil || !t.conn.IsConnected() {
		onDone(ConnNoConnection)
		return
	}
	if err := t.conn.Publish(topic, data); err != nil {
		natsTransportLog.Errorf("publish to '%s' failed: %v", topic, err)
		onDone(ConnTransmissionError)
		return
	}
	if err := t.conn.Flush(); err != nil {
		natsTransportLog.Errorf("flush after publish to '%s' failed: %v", topic, err)
		onDone(ConnTransmissionError)
		return
	}
	onDone(ConnSuccess)
}

// Close tears down the underlying connection.
func (t *NatsTransport) Close() {
	if t.conn != nil {
		t.conn.Close()
		natsTransportLog.Info("connection closed")
	}
}
