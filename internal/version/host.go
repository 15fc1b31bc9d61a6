package version

import (
	"runtime"

	"github.com/klauspost/cpuid/v2"
)

// Host describes the machine the binary runs on.
type Host struct {
	GoVersion string
	Arch      string
	CPU       string
	Cores     int
	Threads   int
	// Features lists the SIMD extensions relevant to the convolution kernels.
	Features []string
}

var simdFeatures = []struct {
	name string
	id   cpuid.FeatureID
}{
	{"sse4.2", cpuid.SSE42},
	{"avx", cpuid.AVX},
	{"avx2", cpuid.AVX2},
	{"fma", cpuid.FMA3},
	{"f16c", cpuid.F16C},
	{"avx512f", cpuid.AVX512F},
	{"avx512dq", cpuid.AVX512DQ},
	{"asimd", cpuid.ASIMD},
	{"fphp", cpuid.FPHP},
}

func DetectHost() Host {
	h := Host{
		GoVersion: runtime.Version(),
		Arch:      runtime.GOARCH,
		CPU:       cpuid.CPU.BrandName,
		Cores:     cpuid.CPU.PhysicalCores,
		Threads:   cpuid.CPU.LogicalCores,
	}
	if h.CPU == "" {
		h.CPU = "unknown"
	}
	if h.Threads == 0 {
		h.Threads = runtime.NumCPU()
	}
	for _, f := range simdFeatures {
		if cpuid.CPU.Supports(f.id) {
			h.Features = append(h.Features, f.name)
		}
	}
	return h
}
