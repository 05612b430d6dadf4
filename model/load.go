package model

import "time"

// ServerLoad is a best effort sample of the host. Sections that could not be
// read are null.
type ServerLoad struct {
	Timestamp time.Time    `json:"timestamp"`
	UptimeSec *float64     `json:"uptimeSec"`
	LoadAvg   *[3]float64  `json:"loadavg"`
	CPU       LoadCPU      `json:"cpu"`
	Memory    *LoadMemory  `json:"memory"`
	Disk      *LoadDisk    `json:"disk"`
	Network   *LoadNetwork `json:"network"`
	Docker    *LoadDocker  `json:"docker"`
}

type LoadCPU struct {
	Cores int `json:"cores"`
}

type LoadMemory struct {
	TotalBytes int64 `json:"totalBytes"`
	FreeBytes  int64 `json:"freeBytes"`
	UsedBytes  int64 `json:"usedBytes"`
}

// LoadDisk describes the root filesystem
type LoadDisk struct {
	TotalBytes     int64   `json:"totalBytes"`
	UsedBytes      int64   `json:"usedBytes"`
	AvailableBytes int64   `json:"availableBytes"`
	UsedPercent    float64 `json:"usedPercent"`
}

// LoadNetwork sums the counters of every interface but lo
type LoadNetwork struct {
	RxBytes int64 `json:"rxBytes"`
	TxBytes int64 `json:"txBytes"`
}

type LoadDocker struct {
	Containers []ContainerStats `json:"containers"`
}

// ContainerStats is one row of docker stats. Unparsable values are null.
type ContainerStats struct {
	Name          string   `json:"name"`
	CPUPercent    *float64 `json:"cpuPercent"`
	MemUsageBytes *int64   `json:"memUsageBytes"`
	MemLimitBytes *int64   `json:"memLimitBytes"`
	NetRxBytes    *int64   `json:"netRxBytes"`
	NetTxBytes    *int64   `json:"netTxBytes"`
	PIDs          *int64   `json:"pids"`
}
