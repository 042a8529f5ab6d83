package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/battycoda/battycoda/internal/datastore"
	"github.com/battycoda/battycoda/internal/errors"
)

func TestParseKind(t *testing.T) {
	k, err := ParseKind("clustering")
	require.NoError(t, err)
	assert.Equal(t, datastore.KindClustering, k)

	_, err = ParseKind("detection")
	assert.ErrorIs(t, err, errors.ErrValidation)
}

func TestParseID(t *testing.T) {
	id, err := ParseID("recording id", "42")
	require.NoError(t, err)
	assert.Equal(t, uint(42), id)

	for _, bad := range []string{"0", "-1", "abc", ""} {
		_, err := ParseID("recording id", bad)
		assert.ErrorIs(t, err, errors.ErrValidation, bad)
	}
}
