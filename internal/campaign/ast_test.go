// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package campaign

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsLiteral(t *testing.T) {
	assert.True(t, (&Node{NodeType: NodeFloat}).IsLiteral())
	assert.True(t, (&Node{NodeType: NodeBoolean}).IsLiteral())
	assert.True(t, (&Node{NodeType: NodeString}).IsLiteral())
	assert.False(t, (&Node{NodeType: NodeSignal}).IsLiteral())
	assert.False(t, (&Node{NodeType: NodeCustomFunction}).IsLiteral())
}

func TestReferencesSignalWalksDescendants(t *testing.T) {
	leaf := &Node{NodeType: NodeSignal, SignalID: 7}
	root := &Node{NodeType: NodeOperatorAnd, Left: &Node{NodeType: NodeBoolean}, Right: leaf}
	assert.True(t, root.ReferencesSignal())

	allLiteral := &Node{NodeType: NodeOperatorAnd, Left: &Node{NodeType: NodeBoolean, BooleanValue: true}, Right: &Node{NodeType: NodeFloat, FloatingValue: 1}}
	assert.False(t, allLiteral.ReferencesSignal())
}

func TestReferencesSignalThroughCustomFunctionParams(t *testing.T) {
	root := &Node{
		NodeType: NodeCustomFunction,
		Function: FunctionInfo{CustomFunctionParams: []*Node{{NodeType: NodeSignal, SignalID: 1}}},
	}
	assert.True(t, root.ReferencesSignal())
}

func TestUsesVolatileFunction(t *testing.T) {
	assert.True(t, (&Node{NodeType: NodeCustomFunction}).UsesVolatileFunction())
	assert.True(t, (&Node{NodeType: NodeIsNullFunction}).UsesVolatileFunction())
	assert.False(t, (&Node{NodeType: NodeSignal}).UsesVolatileFunction())

	nested := &Node{NodeType: NodeOperatorOr, Left: &Node{NodeType: NodeCustomFunction}, Right: &Node{NodeType: NodeBoolean}}
	assert.True(t, nested.UsesVolatileFunction())
}

func TestNilNodeTraversalIsSafe(t *testing.T) {
	var n *Node
	assert.False(t, n.ReferencesSignal())
	assert.False(t, n.UsesVolatileFunction())
}
