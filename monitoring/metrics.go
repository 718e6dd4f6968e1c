package monitoring

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waiting_client_http_requests_total",
			Help: "Outbound REST requests by method and status code",
		},
		[]string{"method", "code"},
	)

	tokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waiting_client_token_refreshes_total",
			Help: "Access token refresh attempts by result",
		},
		[]string{"result"},
	)

	channelOpens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waiting_client_channel_opens_total",
			Help: "Push channel connections opened per transport",
		},
		[]string{"transport"},
	)

	channelCloses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waiting_client_channel_closes_total",
			Help: "Push channel connections closed by reason",
		},
		[]string{"reason"},
	)

	channelMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waiting_client_channel_messages_total",
			Help: "Inbound push messages by decoded kind",
		},
		[]string{"kind"},
	)

	waitingRank = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "waiting_client_rank",
			Help: "Current queue rank of this user per store, 0 when not ranked",
		},
		[]string{"store_id"},
	)

	ownerPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waiting_client_owner_polls_total",
			Help: "Owner console snapshot fetches by result",
		},
		[]string{"result"},
	)
)

func TrackHTTPRequest(method string, code int) {
	httpRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
}

func TrackTokenRefresh(result string) {
	tokenRefreshes.WithLabelValues(result).Inc()
}

func TrackChannelOpen(transport string) {
	channelOpens.WithLabelValues(transport).Inc()
}

func TrackChannelClose(reason string) {
	channelCloses.WithLabelValues(reason).Inc()
}

func TrackChannelMessage(kind string) {
	channelMessages.WithLabelValues(kind).Inc()
}

// SetRank records the user's rank for a store. A nil rank resets the gauge.
func SetRank(storeID int64, rank *int) {
	label := strconv.FormatInt(storeID, 10)
	if rank == nil {
		waitingRank.WithLabelValues(label).Set(0)
		return
	}
	waitingRank.WithLabelValues(label).Set(float64(*rank))
}

func TrackOwnerPoll(result string) {
	ownerPolls.WithLabelValues(result).Inc()
}
