// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package campaign

import "github.com/clustercockpit/cc-edge-agent/internal/signal"

// NodeType tags the kind of one expression AST node (spec §3).
type NodeType int

const (
	NodeNone NodeType = iota
	NodeFloat
	NodeSignal
	NodeBoolean
	NodeString
	NodeOperatorAdd
	NodeOperatorSub
	NodeOperatorMul
	NodeOperatorDiv
	NodeOperatorAnd
	NodeOperatorOr
	NodeOperatorNot
	NodeOperatorEQ
	NodeOperatorNE
	NodeOperatorLT
	NodeOperatorLE
	NodeOperatorGT
	NodeOperatorGE
	NodeWindowFunction
	NodeCustomFunction
	NodeIsNullFunction
)

// WindowFunction names a windowed aggregation applied to a signal.
type WindowFunction int

const (
	WindowNone WindowFunction = iota
	WindowLastAvg
	WindowLastMin
	WindowLastMax
	WindowPrevLastAvg
)

// FunctionInfo carries the window/custom-function payload of a node.
type FunctionInfo struct {
	Window             WindowFunction
	CustomFunctionName string
	CustomFunctionParams []*Node
	InvocationID       uint32
}

// Node is one expression AST node, exactly as produced by the cloud
// collection scheme: edges are raw pointers, owned by the enclosing
// scheme's node pool. internal/inspection copies these into a contiguous
// arena and rewrites the pointers into indices (spec §4.E, §9).
type Node struct {
	NodeType NodeType

	Left  *Node
	Right *Node

	FloatingValue float64
	BooleanValue  bool
	StringValue   string
	SignalID      signal.ID

	Function FunctionInfo
}

// IsLiteral reports whether n is a leaf literal (no signal, no function).
func (n *Node) IsLiteral() bool {
	switch n.NodeType {
	case NodeFloat, NodeBoolean, NodeString:
		return true
	default:
		return false
	}
}

// ReferencesSignal reports whether n or any descendant reads a signal
// value, used by the inspection extractor to classify a condition as
// "static" (spec §4.E).
func (n *Node) ReferencesSignal() bool {
	if n == nil {
		return false
	}
	if n.NodeType == NodeSignal {
		return true
	}
	for _, p := range n.Function.CustomFunctionParams {
		if p.ReferencesSignal() {
			return true
		}
	}
	return n.Left.ReferencesSignal() || n.Right.ReferencesSignal()
}

// UsesVolatileFunction reports whether n or any descendant is a
// custom-function or is-null check — these can never be memoized and force
// their owning condition to be re-evaluated every cycle (spec §4.E).
func (n *Node) UsesVolatileFunction() bool {
	if n == nil {
		return false
	}
	if n.NodeType == NodeCustomFunction || n.NodeType == NodeIsNullFunction {
		return true
	}
	for _, p := range n.Function.CustomFunctionParams {
		if p.UsesVolatileFunction() {
			return true
		}
	}
	return n.Left.UsesVolatileFunction() || n.Right.UsesVolatileFunction()
}
