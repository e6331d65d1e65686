package obs

import (
	"runtime"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ats_build_info",
			Help: "Build and runtime information; the store label is postgres or memory.",
		},
		[]string{"version", "commit", "go_version", "store"},
	)
)

// StoreLabel names the record store for ats_build_info.
func StoreLabel(persistent bool) string {
	if persistent {
		return "postgres"
	}
	return "memory"
}

// InitBuildInfo publishes the running build. Calling it again replaces the
// previous series so a process reports exactly one.
func InitBuildInfo(version, commit, store string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	buildInfo.Reset()
	buildInfo.WithLabelValues(version, commit, runtime.Version(), store).Set(1)
}
