// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package model

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/united-manufacturing-hub/alarm-client/pkg/alarm/path"
)

var (
	// ErrDuplicateChild is returned by AddChild when the parent already has
	// a child of that name. Remove the existing child first.
	ErrDuplicateChild = errors.New("child with that name already exists")

	// ErrNotInterior is returned when a child is added to a leaf.
	ErrNotInterior = errors.New("node is not an interior node")

	// ErrAttached is returned when a node that still has a parent is added elsewhere.
	ErrAttached = errors.New("node is already attached to a parent")
)

// Kind tags the variant of a Node.
type Kind int

const (
	KindInterior Kind = iota
	KindLeaf
)

func (k Kind) String() string {
	switch k {
	case KindLeaf:
		return "leaf"
	case KindInterior:
		return "interior"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

type leafData struct {
	config LeafConfig
	state  LeafState
}

type interiorData struct {
	children map[string]*Node
	// reported is the severity the alarm server last published for this node.
	reported SeverityLevel
}

// Node is an item of the alarm tree: either a leaf (a monitored channel)
// or an interior node that groups children. Exactly one of leaf and
// interior is set, matching kind.
//
// Each node is owned by its parent. The parent pointer is a back-reference
// for path reconstruction and is never used to keep a parent alive.
//
// Every node guards its own fields, so other goroutines may read a tree
// while the replication engine mutates it. Locks are always taken parent
// before child and never held while visiting another node.
type Node struct {
	mu     sync.RWMutex
	name   string
	kind   Kind
	parent *Node
	config ItemConfig

	leaf     *leafData
	interior *interiorData
}

// NewInterior creates a detached interior node.
func NewInterior(name string) *Node {
	return &Node{
		name:     name,
		kind:     KindInterior,
		interior: &interiorData{children: make(map[string]*Node)},
	}
}

// NewLeaf creates a detached leaf whose PV defaults to its name.
func NewLeaf(name string) *Node {
	return &Node{
		name: name,
		kind: KindLeaf,
		leaf: &leafData{config: DefaultLeafConfig(name)},
	}
}

// New creates a detached node of the given kind.
func New(name string, kind Kind) *Node {
	if kind == KindLeaf {
		return NewLeaf(name)
	}
	return NewInterior(name)
}

func (n *Node) Name() string {
	return n.name
}

func (n *Node) Kind() Kind {
	return n.kind
}

func (n *Node) IsLeaf() bool {
	return n.kind == KindLeaf
}

func (n *Node) Parent() *Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.parent
}

// PathName walks up to the root and joins the names on the way.
func (n *Node) PathName() string {
	var names []string
	for current := n; current != nil; current = current.Parent() {
		names = append(names, current.name)
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	p, err := path.Join(names...)
	if err != nil {
		// Only possible for a node with an empty name.
		return ""
	}
	return p
}

// Child looks up a direct child by exact name.
func (n *Node) Child(name string) *Node {
	if n.interior == nil {
		return nil
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.interior.children[name]
}

// Children returns the direct children ordered by name.
func (n *Node) Children() []*Node {
	if n.interior == nil {
		return nil
	}
	n.mu.RLock()
	children := make([]*Node, 0, len(n.interior.children))
	for _, child := range n.interior.children {
		children = append(children, child)
	}
	n.mu.RUnlock()

	sort.Slice(children, func(i, j int) bool {
		return children[i].name < children[j].name
	})
	return children
}

// ChildCount returns the number of direct children.
func (n *Node) ChildCount() int {
	if n.interior == nil {
		return 0
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.interior.children)
}

// AddChild attaches child and sets its parent back-reference.
func (n *Node) AddChild(child *Node) error {
	if n.interior == nil {
		return fmt.Errorf("cannot add %s to %s: %w", child.name, n.name, ErrNotInterior)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.interior.children[child.name]; exists {
		return fmt.Errorf("cannot add %s to %s: %w", child.name, n.name, ErrDuplicateChild)
	}

	child.mu.Lock()
	defer child.mu.Unlock()
	if child.parent != nil {
		return fmt.Errorf("cannot add %s to %s: %w", child.name, n.name, ErrAttached)
	}
	child.parent = n
	n.interior.children[child.name] = child
	return nil
}

// DetachFromParent removes n from its parent and clears the back-reference.
// Calling it on a detached node does nothing.
func (n *Node) DetachFromParent() {
	parent := n.Parent()
	if parent == nil {
		return
	}

	parent.mu.Lock()
	defer parent.mu.Unlock()
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.parent != parent {
		return
	}
	if parent.interior.children[n.name] == n {
		delete(parent.interior.children, n.name)
	}
	n.parent = nil
}

// Find walks down from n along the given names.
// It returns nil when any of them does not exist.
func (n *Node) Find(names ...string) *Node {
	current := n
	for _, name := range names {
		current = current.Child(name)
		if current == nil {
			return nil
		}
	}
	return current
}

// Walk visits n and all descendants depth-first, parents before children,
// siblings ordered by name. Returning false from fn skips the subtree.
func (n *Node) Walk(fn func(node *Node, depth int) bool) {
	n.walk(fn, 0)
}

func (n *Node) walk(fn func(node *Node, depth int) bool, depth int) {
	if !fn(n, depth) {
		return
	}
	for _, child := range n.Children() {
		child.walk(fn, depth+1)
	}
}

// Config returns a copy of the common configuration.
func (n *Node) Config() ItemConfig {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.config.clone()
}

// SetConfig replaces the common configuration.
func (n *Node) SetConfig(config ItemConfig) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.config.Equal(config) {
		return false
	}
	n.config = config.clone()
	return true
}

// LeafConfig returns the leaf configuration. ok is false for interior nodes.
func (n *Node) LeafConfig() (config LeafConfig, ok bool) {
	if n.leaf == nil {
		return LeafConfig{}, false
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.leaf.config, true
}

// SetLeafConfig replaces the leaf configuration. It reports false for
// interior nodes and when nothing changed.
func (n *Node) SetLeafConfig(config LeafConfig) bool {
	if n.leaf == nil {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.leaf.config == config {
		return false
	}
	n.leaf.config = config
	return true
}

// LeafState returns the alarm state. ok is false for interior nodes.
func (n *Node) LeafState() (state LeafState, ok bool) {
	if n.leaf == nil {
		return LeafState{}, false
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.leaf.state, true
}

// SetLeafState replaces the alarm state of a leaf.
func (n *Node) SetLeafState(state LeafState) bool {
	if n.leaf == nil {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.leaf.state.Equal(state) {
		return false
	}
	n.leaf.state = state
	return true
}

// ReportedSeverity is the severity the alarm server last published for an
// interior node. It does not take part in the roll-up, see Severity.
func (n *Node) ReportedSeverity() SeverityLevel {
	if n.interior == nil {
		return n.Severity()
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.interior.reported
}

// SetReportedSeverity records a server-side severity for an interior node.
func (n *Node) SetReportedSeverity(severity SeverityLevel) bool {
	if n.interior == nil {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.interior.reported == severity {
		return false
	}
	n.interior.reported = severity
	return true
}

// Severity of a leaf is its alarm severity. For an interior node it is the
// maximum over all descendant leaves, computed on every call, and OK when
// there are none.
func (n *Node) Severity() SeverityLevel {
	if n.leaf != nil {
		n.mu.RLock()
		defer n.mu.RUnlock()
		return n.leaf.state.Severity
	}
	severity := SeverityOK
	for _, child := range n.Children() {
		severity = MaxSeverity(severity, child.Severity())
		if severity == SeverityUndefined {
			break
		}
	}
	return severity
}

func (n *Node) String() string {
	return fmt.Sprintf("%s %s (%s)", n.kind, n.PathName(), n.Severity())
}
