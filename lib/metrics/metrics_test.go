package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestResolution(t *testing.T) {
	resolved := testutil.ToFloat64(Resolutions.WithLabelValues(SlotContract, Resolved))
	unresolved := testutil.ToFloat64(Resolutions.WithLabelValues(SlotContract, Unresolved))

	Resolution(SlotContract, true)
	Resolution(SlotContract, false)
	Resolution(SlotContract, false)

	assert.Equal(t, resolved+1, testutil.ToFloat64(Resolutions.WithLabelValues(SlotContract, Resolved)))
	assert.Equal(t, unresolved+2, testutil.ToFloat64(Resolutions.WithLabelValues(SlotContract, Unresolved)))
}
