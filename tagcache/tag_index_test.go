/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package tagcache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTagIndex(t *testing.T) {
	ti := make(tagIndex)

	ti.add("k1", []string{"a"})
	ti.add("k2", []string{"a", "b"})
	ti.add("k3", nil)

	require.Len(t, ti.keysWithAnyTag([]string{"a"}), 2)
	require.Len(t, ti.keysWithAnyTag([]string{"b"}), 1)
	require.Len(t, ti.keysWithAnyTag([]string{"a", "b"}), 2)
	require.Empty(t, ti.keysWithAnyTag([]string{"missing"}))

	ti.remove("k2", []string{"a", "b"})
	require.Len(t, ti.keysWithAnyTag([]string{"a"}), 1)
	require.Empty(t, ti.keysWithAnyTag([]string{"b"}))
	_, hasEmptyTag := ti["b"]
	require.False(t, hasEmptyTag, "empty tag sets should be dropped from the index")

	// Removing tags that were never indexed is a no-op.
	ti.remove("k1", []string{"missing"})
	require.Len(t, ti.keysWithAnyTag([]string{"a"}), 1)
}
