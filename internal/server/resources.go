package server

import (
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/ascii-chat/ascii-chat/internal/metrics"
)

// resourceSampleInterval is how often the server samples its own
// process resource usage.
const resourceSampleInterval = 15 * time.Second

// resourceSampleLoop periodically samples this process's RSS and CPU
// percent via gopsutil and publishes them as metrics. Any single sample
// whose RSS exceeds 64x the send-queue byte budget is logged at error
// level as a possible leak, so operators see memory growth before the
// process is killed.
func (sc *ServerContext) resourceSampleLoop() {
	defer sc.wg.Done()

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Warn("resource sampling disabled, could not open self process handle", "error", err)
		return
	}

	ticker := time.NewTicker(resourceSampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sc.stopCh:
			return
		case <-ticker.C:
			sc.sampleOnce(proc)
		}
	}
}

func (sc *ServerContext) sampleOnce(proc *process.Process) {
	if memInfo, err := proc.MemoryInfo(); err == nil && memInfo != nil {
		metrics.ServerResidentMemoryBytes.Set(float64(memInfo.RSS))
		if sc.Options.SendQueueBudgetBytes > 0 && memInfo.RSS > uint64(sc.Options.SendQueueBudgetBytes)*64 {
			log.Error("resident memory far exceeds expected working set, possible leak", "rssBytes", memInfo.RSS)
		}
	}
	if pct, err := proc.CPUPercent(); err == nil {
		metrics.ServerCPUPercent.Set(pct)
	}
}
