package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"fimcheck/config"
	"fimcheck/logger"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	otelLog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
)

type otelLogger struct {
	provider *sdklog.LoggerProvider
	logger   otelLog.Logger
	timeout  time.Duration
	endpoint string
	policy   otelPolicy
}

type otelPolicy struct {
	includePaths bool
}

func newOtelLogger(cfg *config.Config) (*otelLogger, error) {
	if cfg == nil {
		return nil, nil
	}
	endpoint := resolveOtelEndpoint(cfg)
	if endpoint == "" {
		return nil, nil
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		return nil, fmt.Errorf("otel endpoint must include scheme (http or https)")
	}

	opts := []otlploghttp.Option{otlploghttp.WithEndpointURL(endpoint)}
	if len(cfg.OtelHeaders) > 0 {
		opts = append(opts, otlploghttp.WithHeaders(cfg.OtelHeaders))
	}
	if cfg.OtelTimeout > 0 {
		opts = append(opts, otlploghttp.WithTimeout(cfg.OtelTimeout))
	}

	exp, err := otlploghttp.New(context.Background(), opts...)
	if err != nil {
		return nil, err
	}

	serviceName := cfg.OtelServiceName
	if serviceName == "" {
		serviceName = "fimcheck"
	}
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(serviceName),
	)
	provider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exp)),
		sdklog.WithResource(res),
	)

	return &otelLogger{
		provider: provider,
		logger:   provider.Logger("fimcheck"),
		timeout:  cfg.OtelTimeout,
		endpoint: endpoint,
		policy:   otelPolicy{includePaths: cfg.OtelExportPaths},
	}, nil
}

func resolveOtelEndpoint(cfg *config.Config) string {
	if cfg == nil {
		return ""
	}
	if endpoint := strings.TrimSpace(cfg.OtelEndpoint); endpoint != "" {
		return endpoint
	}
	if !cfg.OtelFromEnv {
		return ""
	}
	if endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_LOGS_ENDPOINT")); endpoint != "" {
		return endpoint
	}
	return strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
}

func (o *otelLogger) Endpoint() string {
	if o == nil {
		return ""
	}
	return o.endpoint
}

func (o *otelLogger) Emit(recordType string, payload interface{}) {
	if o == nil || o.logger == nil {
		return
	}
	record := buildRecord(recordType, payload, o.policy, time.Now())
	o.logger.Emit(context.Background(), record)
}

func buildRecord(recordType string, payload interface{}, policy otelPolicy, now time.Time) otelLog.Record {
	safePayload := sanitizePayload(recordType, payload, policy)

	var record otelLog.Record
	record.SetTimestamp(now)
	record.SetObservedTimestamp(now)
	record.SetEventName("fimcheck.record")
	record.AddAttributes(
		otelLog.String("record_type", recordType),
		otelLog.String("schema_version", SchemaVersion),
	)
	if recordType == "change" {
		record.SetSeverity(otelLog.SeverityWarn)
		record.SetSeverityText("WARN")
	} else {
		record.SetSeverity(otelLog.SeverityInfo)
		record.SetSeverityText("INFO")
	}
	if attrs := semanticAttributes(recordType, safePayload, policy); len(attrs) > 0 {
		record.AddAttributes(attrs...)
	}

	value := toLogValue(payloadToMap(safePayload))
	if value.Kind() != otelLog.KindEmpty {
		record.SetBody(value)
	} else if data, err := jsonMarshal(safePayload); err == nil {
		record.SetBody(otelLog.StringValue(string(data)))
	}
	return record
}

func (o *otelLogger) Shutdown() {
	if o == nil || o.provider == nil {
		return
	}
	timeout := o.timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := o.provider.Shutdown(ctx); err != nil {
		logger.Debugf("OTEL shutdown failed: %v", err)
	}
}

// sanitizePayload strips location details from change and metrics records
// unless path export is enabled.
func sanitizePayload(recordType string, payload interface{}, policy otelPolicy) interface{} {
	data := payloadToMap(payload)
	if len(data) == 0 {
		return payload
	}

	switch recordType {
	case "change":
		if policy.includePaths {
			return data
		}
		sanitized := cloneMap(data)
		delete(sanitized, "path")
		delete(sanitized, "folder")
		return sanitized
	case "metrics":
		if policy.includePaths {
			return data
		}
		sanitized := cloneMap(data)
		delete(sanitized, "root")
		return sanitized
	default:
		return payload
	}
}

func cloneMap(src map[string]interface{}) map[string]interface{} {
	dst := make(map[string]interface{}, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func toLogValue(value interface{}) otelLog.Value {
	switch v := value.(type) {
	case nil:
		return otelLog.Value{}
	case string:
		return otelLog.StringValue(v)
	case bool:
		return otelLog.BoolValue(v)
	case int:
		return otelLog.IntValue(v)
	case int64:
		return otelLog.Int64Value(v)
	case float64:
		return otelLog.Float64Value(v)
	case map[string]interface{}:
		if len(v) == 0 {
			return otelLog.Value{}
		}
		return otelLog.MapValue(toLogKeyValues(v)...)
	case []string:
		values := make([]otelLog.Value, 0, len(v))
		for _, item := range v {
			values = append(values, otelLog.StringValue(item))
		}
		return otelLog.SliceValue(values...)
	case []interface{}:
		values := make([]otelLog.Value, 0, len(v))
		for _, item := range v {
			values = append(values, toLogValue(item))
		}
		return otelLog.SliceValue(values...)
	default:
		return otelLog.Value{}
	}
}

// toLogKeyValues converts values in key order so exported bodies are stable.
func toLogKeyValues(values map[string]interface{}) []otelLog.KeyValue {
	kvs := make([]otelLog.KeyValue, 0, len(values))
	for _, key := range sortedKeys(values) {
		kvs = append(kvs, otelLog.KeyValue{Key: key, Value: toLogValue(values[key])})
	}
	return kvs
}

func semanticAttributes(recordType string, payload interface{}, policy otelPolicy) []otelLog.KeyValue {
	data := payloadToMap(payload)
	if len(data) == 0 {
		return nil
	}

	switch recordType {
	case "change":
		return changeSemanticAttributes(data, policy)
	case "metrics":
		return metricsSemanticAttributes(data)
	default:
		return nil
	}
}

func changeSemanticAttributes(data map[string]interface{}, policy otelPolicy) []otelLog.KeyValue {
	var kvs []otelLog.KeyValue

	kvs = appendStringAttr(kvs, "fimcheck.change.kind", getStringField(data, "kind"))
	name := getStringField(data, "name")
	if name != "" {
		kvs = append(kvs, otelLog.String(string(semconv.FileNameKey), name))
		if ext := strings.TrimPrefix(path.Ext(name), "."); ext != "" {
			kvs = append(kvs, otelLog.String(string(semconv.FileExtensionKey), ext))
		}
	}
	if policy.includePaths {
		kvs = appendStringAttr(kvs, string(semconv.FilePathKey), getStringField(data, "path"))
		kvs = appendStringAttr(kvs, string(semconv.FileDirectoryKey), getStringField(data, "folder"))
	}
	return kvs
}

func metricsSemanticAttributes(data map[string]interface{}) []otelLog.KeyValue {
	var kvs []otelLog.KeyValue

	kvs = appendStringAttr(kvs, "fimcheck.metrics.start_time", getStringField(data, "start_time"))
	kvs = appendStringAttr(kvs, "fimcheck.metrics.end_time", getStringField(data, "end_time"))
	for _, key := range []string{"folders", "files", "failures", "added", "removed", "changed"} {
		if value, ok := getInt64Field(data, key); ok {
			kvs = append(kvs, otelLog.Int64("fimcheck.metrics."+key, value))
		}
	}
	return kvs
}

func payloadToMap(payload interface{}) map[string]interface{} {
	switch v := payload.(type) {
	case map[string]interface{}:
		return v
	case nil:
		return nil
	default:
		data, err := jsonMarshal(payload)
		if err != nil {
			return nil
		}
		var decoded map[string]interface{}
		if err := json.Unmarshal(data, &decoded); err != nil {
			return nil
		}
		return decoded
	}
}

func getStringField(values map[string]interface{}, key string) string {
	value, ok := values[key]
	if !ok || value == nil {
		return ""
	}
	if str, ok := value.(string); ok {
		return str
	}
	return fmt.Sprint(value)
}

func getInt64Field(values map[string]interface{}, key string) (int64, bool) {
	value, ok := values[key]
	if !ok || value == nil {
		return 0, false
	}
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case json.Number:
		if parsed, err := v.Int64(); err == nil {
			return parsed, true
		}
	}
	return 0, false
}

func appendStringAttr(kvs []otelLog.KeyValue, key, value string) []otelLog.KeyValue {
	if value == "" {
		return kvs
	}
	return append(kvs, otelLog.String(key, value))
}
