package repo

import "github.com/google/uuid"

// NodeID identifies a node in the repository tree. The zero value is not a
// valid identifier and is used as the "no node" sentinel (e.g. the parent of
// the root node).
type NodeID struct {
	uuid.UUID
}

// NewNodeID returns a fresh random node identifier.
func NewNodeID() NodeID { return NodeID{uuid.New()} }

// IsZero reports whether id is the "no node" sentinel.
func (id NodeID) IsZero() bool { return id.UUID == uuid.Nil }

// ItemID identifies either a node or a property: a tagged union rather than a
// type hierarchy. For a node, Node is the node itself and Name is empty; for
// a property, Node is the parent node and Name is the property name.
//
// ItemID is comparable and is used directly as a map key.
type ItemID struct {
	Node NodeID
	Name string
}

// NodeItem wraps a node identifier as an ItemID.
func NodeItem(n NodeID) ItemID { return ItemID{Node: n} }

// PropertyItem builds the ItemID of the property called name on parent.
func PropertyItem(parent NodeID, name string) ItemID {
	return ItemID{Node: parent, Name: name}
}

// IsNode reports whether id denotes a node.
func (id ItemID) IsNode() bool { return id.Name == "" }

// IsProperty reports whether id denotes a property.
func (id ItemID) IsProperty() bool { return id.Name != "" }

// IsZero reports whether id is the zero ItemID.
func (id ItemID) IsZero() bool { return id.Node.IsZero() && id.Name == "" }

func (id ItemID) String() string {
	if id.IsProperty() {
		return id.Node.String() + "/" + id.Name
	}
	return id.Node.String()
}
