// Package lexical implements the bidirectional mapping between Lexical
// JSON and the CRDT tree (spec.md §4.1, Tree Converter) and the stable
// lexical-key <-> tree-id mapping that sits alongside it (spec.md §4.2,
// Node Mapper).
package lexical

import (
	"github.com/gloudx/lexicaloro/internal/crdt"
)

var excludedFields = map[string]struct{}{
	"children":   {},
	"__key":      {},
	"key":        {},
	"lexicalKey": {},
}

// Import clears tree and mapper and rebuilds them from a Lexical JSON
// document rooted at state["root"]. Sibling order in the resulting tree
// equals array order in state (spec.md's ordering guarantee).
func Import(tree *crdt.Tree, mapper *KeyMapper, state map[string]any) (crdt.NodeID, error) {
	rootRaw, ok := state["root"]
	if !ok {
		return crdt.UndefNodeID, ErrInvalidInput
	}
	rootMap, ok := rootRaw.(map[string]any)
	if !ok {
		return crdt.UndefNodeID, ErrInvalidInput
	}
	elementType, ok := rootMap["type"].(string)
	if !ok || elementType == "" {
		return crdt.UndefNodeID, ErrInvalidInput
	}

	tree.Reset()
	mapper.Clear()

	rootID, err := tree.CreateNode(crdt.UndefNodeID, 0, elementType, cleanBag(rootMap))
	if err != nil {
		return crdt.UndefNodeID, err
	}
	if err := mapper.Create(newLexicalKey(), rootID); err != nil {
		return crdt.UndefNodeID, err
	}

	if err := importChildren(tree, mapper, rootID, rootMap["children"]); err != nil {
		return crdt.UndefNodeID, err
	}
	return rootID, nil
}

func importChildren(tree *crdt.Tree, mapper *KeyMapper, parent crdt.NodeID, childrenRaw any) error {
	if childrenRaw == nil {
		return nil
	}
	children, ok := childrenRaw.([]any)
	if !ok {
		return ErrInvalidInput
	}
	for index, raw := range children {
		childMap, ok := raw.(map[string]any)
		if !ok {
			return ErrInvalidInput
		}
		elementType, ok := childMap["type"].(string)
		if !ok || elementType == "" {
			return ErrInvalidInput
		}
		id, err := tree.CreateNode(parent, index, elementType, cleanBag(childMap))
		if err != nil {
			return err
		}
		if err := mapper.Create(newLexicalKey(), id); err != nil {
			return err
		}
		if err := importChildren(tree, mapper, id, childMap["children"]); err != nil {
			return err
		}
	}
	return nil
}

// Export materializes the tree (or the subtree rooted at an explicit id)
// back into Lexical JSON. __key fields are freshly minted on every call;
// they are not persisted identity (spec.md "Key regeneration").
func Export(tree *crdt.Tree, root ...crdt.NodeID) (map[string]any, error) {
	var rootID crdt.NodeID
	if len(root) > 0 && root[0].Defined() {
		rootID = root[0]
	} else {
		id, ok := tree.Root()
		if !ok {
			return nil, ErrEmptyDocument
		}
		rootID = id
	}

	node, err := exportNode(tree, rootID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"root": node}, nil
}

func exportNode(tree *crdt.Tree, id crdt.NodeID) (map[string]any, error) {
	elementType, lexical, ok := tree.Meta(id)
	if !ok {
		return nil, ErrInvalidInput
	}

	out := make(map[string]any, len(lexical)+3)
	for k, v := range lexical {
		out[k] = v
	}
	out["type"] = elementType
	out["__key"] = newLexicalKey()

	kids := tree.Children(id)
	if len(kids) > 0 {
		children := make([]any, len(kids))
		for i, kid := range kids {
			childNode, err := exportNode(tree, kid)
			if err != nil {
				return nil, err
			}
			children[i] = childNode
		}
		out["children"] = children
	}
	return out, nil
}

func cleanBag(m map[string]any) map[string]any {
	return CleanFields(m)
}

// CleanFields strips the fields Lexical's JSON schema owns (children, and
// the various spellings of the node's key) from a raw node object, leaving
// the bag stored as tree metadata. Exported so model.AddBlock/UpdateBlock
// can apply the same rule to caller-supplied node data.
func CleanFields(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if _, excluded := excludedFields[k]; excluded {
			continue
		}
		out[k] = v
	}
	return out
}

// NewKey returns a freshly minted Lexical node key, exported so callers
// outside this package (model.AddBlock) can bind new mapper entries using
// the same generator Import/Export use.
func NewKey() string {
	return newLexicalKey()
}
