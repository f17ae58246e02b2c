package rtc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishSlotIsExclusive(t *testing.T) {
	req := require.New(t)
	r := &Room{}

	req.NoError(r.reservePublish())
	// A second caller in the negotiation window is turned away.
	req.ErrorIs(r.reservePublish(), ErrAlreadyPublished)

	// Failed negotiation frees the slot for a retry.
	r.finishPublish(nil)
	req.NoError(r.reservePublish())

	r.finishPublish(newTestPublication(t))
	req.ErrorIs(r.reservePublish(), ErrAlreadyPublished)
}
