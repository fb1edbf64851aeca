// Package merkle stores conversations as a content-addressed Merkle DAG.
//
// Every message is a node whose hash covers its content and its parent's
// hash, so two conversations that share a prefix share the nodes of that
// prefix, and different replies to the same history branch from it.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/papercomputeco/staffdesk/pkg/llm"
)

// Bucket is the content of a node. Backend and Usage describe how a reply was
// produced and are not part of the hash, so a reply resent as history resolves
// to the node that recorded it.
type Bucket struct {
	Type    string     `json:"type"`
	Role    llm.Role   `json:"role"`
	Content string     `json:"content"`
	Model   string     `json:"model,omitempty"`
	Backend string     `json:"backend,omitempty"`
	Usage   *llm.Usage `json:"usage,omitempty"`
}

// Node represents a single content-addressed node in a Merkle DAG
type Node struct {
	// Hash is the content-addressed identifier (SHA-256, hex-encoded)
	Hash string `json:"hash"`

	// ParentHash links to the previous node hash.
	// This will be nil for root nodes.
	ParentHash *string `json:"parent_hash"`

	Bucket Bucket `json:"bucket"`

	// CreatedAt is when the node was first stored. It is not hashed.
	CreatedAt time.Time `json:"created_at"`
}

type hashInput struct {
	Parent  string   `json:"parent,omitempty"`
	Type    string   `json:"type"`
	Role    llm.Role `json:"role"`
	Content string   `json:"content"`
	Model   string   `json:"model,omitempty"`
}

// NewNode creates a new node with the computed hash for the provided bucket
func NewNode(bucket Bucket, parent *Node) *Node {
	n := &Node{
		Bucket:    bucket,
		CreatedAt: time.Now().UTC(),
	}

	if parent != nil {
		h := parent.Hash
		n.ParentHash = &h
	}

	n.Hash = n.computeHash()
	return n
}

// MessageBucket is the bucket of one conversation message.
func MessageBucket(msg llm.Message, model, backend string) Bucket {
	return Bucket{
		Type:    "message",
		Role:    msg.Role,
		Content: msg.Content,
		Model:   model,
		Backend: backend,
	}
}

func (n *Node) computeHash() string {
	i := hashInput{
		Type:    n.Bucket.Type,
		Role:    n.Bucket.Role,
		Content: n.Bucket.Content,
		Model:   n.Bucket.Model,
	}
	if n.ParentHash != nil {
		i.Parent = *n.ParentHash
	}

	// Struct field order makes the encoding deterministic.
	data, err := json.Marshal(i)
	if err != nil {
		panic("failed to marshal hash input: " + err.Error())
	}

	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Message returns the conversation message stored in the node.
func (n *Node) Message() llm.Message {
	return llm.Message{Role: n.Bucket.Role, Content: n.Bucket.Content}
}
