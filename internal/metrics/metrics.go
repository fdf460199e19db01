package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BidsPlacedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auction_bids_placed_total",
		Help: "Total number of accepted auction bids",
	})

	BidsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auction_bids_rejected_total",
		Help: "Total number of rejected auction bids",
	}, []string{"reason"})

	AuctionsFinalizedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auctions_finalized_total",
		Help: "Total number of finalized auctions",
	}, []string{"outcome"})

	OffersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "offers_created_total",
		Help: "Total number of offers created with frozen funds",
	})

	OffersAcceptedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "offers_accepted_total",
		Help: "Total number of accepted offers",
	})

	OffersRefusedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "offers_refused_total",
		Help: "Total number of refused or cancelled offers",
	})

	BundlesSoldTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bundles_sold_total",
		Help: "Total number of sold bundles",
	})

	CommissionNanotonsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_commission_nanotons_total",
		Help: "Total commission retained by the platform, in nanotons",
	})

	LockAcquireLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "resource_lock_acquire_latency_seconds",
		Help:    "Latency of resource lock acquisition",
		Buckets: prometheus.DefBuckets,
	})

	LockTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "resource_lock_timeouts_total",
		Help: "Total number of resource lock acquisition timeouts",
	})

	SweepProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sweep_processed_total",
		Help: "Total number of entities processed by background sweeps",
	}, []string{"sweep", "result"})
)
