package manifest

import (
	"crypto/sha256"
	"fmt"

	"github.com/cbergoon/merkletree"
)

// Content implements merkletree.Content for CID-based leaves
type Content struct {
	cid string
}

// NewContent creates a new Content from a CID
func NewContent(cid string) Content {
	return Content{cid: cid}
}

// CalculateHash implements the Content interface
func (c Content) CalculateHash() ([]byte, error) {
	h := sha256.New()
	if _, err := h.Write([]byte(c.cid)); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

// Equals implements the Content interface
func (c Content) Equals(other merkletree.Content) (bool, error) {
	otherContent, ok := other.(Content)
	if !ok {
		return false, fmt.Errorf("type mismatch")
	}
	return c.cid == otherContent.cid, nil
}

// BuildTree builds a Merkle tree from a run's result CIDs
func BuildTree(cids []string) (*merkletree.MerkleTree, error) {
	if len(cids) == 0 {
		return nil, fmt.Errorf("cannot build tree from empty CID list")
	}

	var contents []merkletree.Content
	for _, cid := range cids {
		contents = append(contents, NewContent(cid))
	}

	tree, err := merkletree.NewTree(contents)
	if err != nil {
		return nil, fmt.Errorf("failed to build Merkle tree: %w", err)
	}

	return tree, nil
}

// Root computes the Merkle root over a run's result CIDs
func Root(cids []string) ([]byte, error) {
	tree, err := BuildTree(cids)
	if err != nil {
		return nil, err
	}
	return tree.MerkleRoot(), nil
}

// VerifyRun rebuilds the tree from CIDs and compares against the recorded root
func VerifyRun(cids []string, expectedRoot []byte) error {
	tree, err := BuildTree(cids)
	if err != nil {
		return fmt.Errorf("failed to build tree for verification: %w", err)
	}

	valid, err := tree.VerifyTree()
	if err != nil {
		return fmt.Errorf("tree verification failed: %w", err)
	}
	if !valid {
		return fmt.Errorf("tree structure is invalid")
	}

	actualRoot := tree.MerkleRoot()
	if !bytesEqual(actualRoot, expectedRoot) {
		return fmt.Errorf("merkle root mismatch: expected %x, got %x", expectedRoot, actualRoot)
	}

	return nil
}

// VerifyContent verifies that a specific CID is covered by the tree
func VerifyContent(tree *merkletree.MerkleTree, cid string) (bool, error) {
	if tree == nil {
		return false, fmt.Errorf("cannot verify content in nil tree")
	}

	verified, err := tree.VerifyContent(NewContent(cid))
	if err != nil {
		return false, fmt.Errorf("failed to verify content: %w", err)
	}

	return verified, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
