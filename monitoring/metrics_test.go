package monitoring

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestTrackHTTPRequest(t *testing.T) {
	before := testutil.ToFloat64(httpRequests.WithLabelValues("POST", "409"))
	TrackHTTPRequest("POST", 409)
	TrackHTTPRequest("POST", 409)

	assert.Equal(t, before+2, testutil.ToFloat64(httpRequests.WithLabelValues("POST", "409")))
}

func TestSetRank(t *testing.T) {
	rank := 3
	SetRank(42, &rank)
	assert.Equal(t, float64(3), testutil.ToFloat64(waitingRank.WithLabelValues("42")))

	SetRank(42, nil)
	assert.Equal(t, float64(0), testutil.ToFloat64(waitingRank.WithLabelValues("42")))
}

func TestChannelCounters(t *testing.T) {
	opens := testutil.ToFloat64(channelOpens.WithLabelValues("sse"))
	closure := testutil.ToFloat64(channelMessages.WithLabelValues("closure"))

	TrackChannelOpen("sse")
	TrackChannelMessage("closure")

	assert.Equal(t, opens+1, testutil.ToFloat64(channelOpens.WithLabelValues("sse")))
	assert.Equal(t, closure+1, testutil.ToFloat64(channelMessages.WithLabelValues("closure")))
}
