package mlmodels

import (
	"strings"

	"sentinel-soc/internal/schema"
)

// FeatureExtractor turns a log entry into the numeric vector a model was
// trained on. Extractors never fail; missing optional fields contribute
// zeros.
type FeatureExtractor func(entry *schema.LogEntry) []float64

// Known model names. The registry only loads artifacts for these; an
// unknown artifact file in the model directory is logged and ignored.
const (
	ModelMultiOSLogAnomaly = "multi_os_log_anomaly"
	ModelTextLogAnomaly    = "text_log_anomaly"
	ModelInsiderThreat     = "insider_threat"
	ModelNetworkIntrusion  = "network_intrusion"
	ModelWebAttack         = "web_attack"
	ModelTimeSeriesNetwork = "time_series_network"
)

// KnownModels lists every model name the registry will attempt to load,
// in a stable order.
var KnownModels = []string{
	ModelMultiOSLogAnomaly,
	ModelTextLogAnomaly,
	ModelInsiderThreat,
	ModelNetworkIntrusion,
	ModelWebAttack,
	ModelTimeSeriesNetwork,
}

// DefaultExtractors maps model names to their feature extractors.
// Injectable so tests can substitute fixed vectors.
func DefaultExtractors() map[string]FeatureExtractor {
	return map[string]FeatureExtractor{
		ModelMultiOSLogAnomaly: extractLogShape,
		ModelTextLogAnomaly:    extractTextStats,
		ModelInsiderThreat:     extractInsiderSignals,
		ModelNetworkIntrusion:  extractNetworkStats,
		ModelWebAttack:         extractWebSignals,
		ModelTimeSeriesNetwork: extractNetworkStats,
	}
}

// levelOrdinal encodes log levels as increasing severity numbers.
func levelOrdinal(level schema.LogLevel) float64 {
	switch level {
	case schema.LevelDebug:
		return 0
	case schema.LevelInfo:
		return 1
	case schema.LevelWarning:
		return 2
	case schema.LevelError:
		return 3
	case schema.LevelCritical:
		return 4
	default:
		return 1
	}
}

func extractLogShape(e *schema.LogEntry) []float64 {
	msg := e.Message
	var special float64
	for _, r := range msg {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == ' ') {
			special++
		}
	}
	return []float64{
		float64(len(msg)),
		float64(len(strings.Fields(msg))),
		special,
		levelOrdinal(e.Level),
	}
}

func extractTextStats(e *schema.LogEntry) []float64 {
	text := e.SearchableText()
	var digits, upper float64
	for _, r := range text {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r >= 'A' && r <= 'Z':
			upper++
		}
	}
	n := float64(len(text))
	if n == 0 {
		n = 1
	}
	return []float64{n, digits / n, upper / n, levelOrdinal(e.Level)}
}

func extractInsiderSignals(e *schema.LogEntry) []float64 {
	var hasProcess, hasCommand float64
	var cmdLen float64
	if e.ProcessInfo != nil {
		hasProcess = 1
	}
	if e.CommandLine != "" {
		hasCommand = 1
		cmdLen = float64(len(e.CommandLine))
	}
	hour := float64(e.Timestamp.UTC().Hour())
	return []float64{hasProcess, hasCommand, cmdLen, hour, levelOrdinal(e.Level)}
}

func extractNetworkStats(e *schema.LogEntry) []float64 {
	var srcPort, dstPort, outbound float64
	if e.NetworkInfo != nil {
		srcPort = float64(e.NetworkInfo.SourcePort)
		dstPort = float64(e.NetworkInfo.DestPort)
		if e.NetworkInfo.Direction == "outbound" {
			outbound = 1
		}
	}
	return []float64{srcPort, dstPort, outbound, levelOrdinal(e.Level)}
}

func extractWebSignals(e *schema.LogEntry) []float64 {
	text := strings.ToLower(e.SearchableText())
	markers := []string{"select", "union", "script", "../", "%27", "etc/passwd"}
	var hits float64
	for _, m := range markers {
		if strings.Contains(text, m) {
			hits++
		}
	}
	return []float64{hits, float64(len(text)), levelOrdinal(e.Level)}
}
