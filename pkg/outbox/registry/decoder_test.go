package registry

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/eventpass-backend/pkg/enums"
)

type snapshotStub struct {
	Status string `json:"status"`
}

func TestDecodersRoundTrip(t *testing.T) {
	d := NewDecoders()
	require.NoError(t, RegisterJSON[snapshotStub](d, enums.EventPayoutSnapshotCaptured, 1))

	got, err := Decode[snapshotStub](d, enums.EventPayoutSnapshotCaptured, 1, json.RawMessage(`{"status":"captured"}`))
	require.NoError(t, err)
	assert.Equal(t, "captured", got.Status)
}

func TestDecodersRejectDuplicateAndBadVersion(t *testing.T) {
	d := NewDecoders()
	require.NoError(t, RegisterJSON[snapshotStub](d, enums.EventPayoutSnapshotCaptured, 1))
	assert.Error(t, RegisterJSON[snapshotStub](d, enums.EventPayoutSnapshotCaptured, 1))
	assert.Error(t, RegisterJSON[snapshotStub](d, enums.EventPayoutSnapshotCaptured, 0))
	require.NoError(t, RegisterJSON[snapshotStub](d, enums.EventPayoutSnapshotCaptured, 2))
	assert.Equal(t, []int{1, 2}, d.Versions(enums.EventPayoutSnapshotCaptured))
}

func TestDecodeFailures(t *testing.T) {
	d := NewDecoders()
	require.NoError(t, RegisterJSON[snapshotStub](d, enums.EventPayoutSnapshotCaptured, 1))

	_, err := Decode[snapshotStub](d, enums.EventPayoutSnapshotCaptured, 3, json.RawMessage(`{}`))
	assert.True(t, errors.Is(err, ErrNoDecoder))

	_, err = Decode[snapshotStub](d, enums.EventPayoutSnapshotCaptured, 1, nil)
	assert.Error(t, err)

	_, err = Decode[snapshotStub](d, enums.EventPayoutSnapshotCaptured, 1, json.RawMessage(`{"status":`))
	assert.Error(t, err)

	type other struct{}
	_, err = Decode[other](d, enums.EventPayoutSnapshotCaptured, 1, json.RawMessage(`{}`))
	assert.Error(t, err)
}
