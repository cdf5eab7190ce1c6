package profiling

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/getmentor/airtable-connector/config"
	"github.com/getmentor/airtable-connector/pkg/logger"
	"github.com/grafana/pyroscope-go"
	"go.uber.org/zap"
)

const defaultAppName = "airtable-connector"

var allProfileTypes = []pyroscope.ProfileType{
	pyroscope.ProfileCPU,
	pyroscope.ProfileAllocSpace,
	pyroscope.ProfileAllocObjects,
	pyroscope.ProfileGoroutines,
	pyroscope.ProfileMutexCount,
	pyroscope.ProfileMutexDuration,
	pyroscope.ProfileBlockCount,
	pyroscope.ProfileBlockDuration,
}

var sampleTypes = map[string][]pyroscope.ProfileType{
	"cpu":           {pyroscope.ProfileCPU},
	"alloc_space":   {pyroscope.ProfileAllocSpace},
	"alloc_objects": {pyroscope.ProfileAllocObjects},
	"goroutines":    {pyroscope.ProfileGoroutines},
	"mutex":         {pyroscope.ProfileMutexCount, pyroscope.ProfileMutexDuration},
	"block":         {pyroscope.ProfileBlockCount, pyroscope.ProfileBlockDuration},
}

// Start begins continuous profiling when enabled. The returned function stops
// the profiler and is safe to call when profiling is disabled.
func Start(cfg config.ProfilingConfig, service config.ObservabilityConfig, environment string) (func(), error) {
	if !cfg.Enabled {
		logger.Info("Continuous profiling disabled")
		return func() {}, nil
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("profiling endpoint is required when profiling is enabled")
	}

	uploadInterval := time.Duration(cfg.UploadIntervalSeconds) * time.Second
	if uploadInterval <= 0 {
		uploadInterval = 15 * time.Second
	}

	profileTypes, err := ParseSampleTypes(cfg.SampleTypes)
	if err != nil {
		return nil, err
	}

	appName := strings.TrimSpace(cfg.AppName)
	if appName == "" {
		appName = defaultAppName
	}

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: appName,
		ServerAddress:   endpoint,
		UploadRate:      uploadInterval,
		ProfileTypes:    profileTypes,
		Tags:            Tags(service, environment),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start profiler: %w", err)
	}

	logger.Info("Continuous profiling initialized",
		zap.String("application_name", appName),
		zap.String("endpoint", endpoint),
		zap.Duration("upload_interval", uploadInterval))

	return func() {
		if stopErr := profiler.Stop(); stopErr != nil {
			logger.Error("Failed to stop profiler", zap.Error(stopErr))
		}
	}, nil
}

// ParseSampleTypes turns a comma-separated O11Y_PROFILING_SAMPLE_TYPES value
// into pyroscope profile types. Empty means all of them.
func ParseSampleTypes(value string) ([]pyroscope.ProfileType, error) {
	if strings.TrimSpace(value) == "" {
		return allProfileTypes, nil
	}

	var types []pyroscope.ProfileType
	seen := make(map[pyroscope.ProfileType]bool)

	for _, raw := range strings.Split(value, ",") {
		key := strings.ToLower(strings.TrimSpace(raw))
		if key == "" {
			continue
		}
		mapped, ok := sampleTypes[key]
		if !ok {
			known := make([]string, 0, len(sampleTypes))
			for k := range sampleTypes {
				known = append(known, k)
			}
			sort.Strings(known)
			return nil, fmt.Errorf("unsupported O11Y_PROFILING_SAMPLE_TYPES value %q (known: %s)", key, strings.Join(known, ", "))
		}
		for _, t := range mapped {
			if !seen[t] {
				seen[t] = true
				types = append(types, t)
			}
		}
	}

	if len(types) == 0 {
		return allProfileTypes, nil
	}
	return types, nil
}

// Tags labels every uploaded profile; empty values are dropped
func Tags(service config.ObservabilityConfig, environment string) map[string]string {
	tags := map[string]string{
		"service_name":    service.ServiceName,
		"namespace":       service.ServiceNamespace,
		"service_version": service.ServiceVersion,
		"instance":        service.ServiceInstanceID,
		"environment":     environment,
	}
	for k, v := range tags {
		if v == "" {
			delete(tags, k)
		}
	}
	return tags
}
