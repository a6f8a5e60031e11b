/*
Package metrics exposes bucketcache's Prometheus metrics.

Families (namespace defaults to "bucketcache"):

	bucketcache_cache_lookups_total{op,result}        result: found, not_found, unavailable
	bucketcache_cache_writes_total{op,status}
	bucketcache_cache_inconsistencies_total{kind}
	bucketcache_cache_circuit_state{name}
	bucketcache_remote_operations_total{operation,status}
	bucketcache_remote_operation_duration_seconds{operation}
	bucketcache_remote_bytes_total{operation}
	bucketcache_command_executions_total{command,status}
	bucketcache_command_duration_seconds{command}

A nil *Collector is valid and records nothing, so components can be built
without metrics in tests.
*/
package metrics
