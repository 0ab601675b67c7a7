// Package client provides the `strata` command-line client.
//
// The CLI talks to the Strata HTTP API to perform common scope and
// record operations from a terminal. It is primarily intended for
// developers and operators.
//
// Installation
//
//	go install github.com/rzbill/strata/cmd/strata@latest
//
// # Address configuration
//
// The HTTP base URL is discovered by the application that embeds the
// commands via a BaseURLFunc. When using the standalone binary, it
// reads STRATA_HTTP and defaults to http://127.0.0.1:8180.
//
// Usage
//
//	strata scope configure --name orders --class traceable --max-hot-records 2048
//	strata scope list
//
//	strata record append --scope orders --data '{"hello":"world"}'
//	strata record list --scope orders --min-seq 1 --limit 10
//	strata record list --scope orders --filter 'json.kind == "order"'
//
//	# Record a failed delivery attempt for sequence 7
//	strata record delivery --scope orders --seq 7 --failure timeout
//	strata record metrics --scope orders
//
//	# Force pending records into the cold archive
//	strata archive flush --scope orders
//
//	# Rebuild the cold archive, dropping everything below sequence 100
//	strata retention replace --scope orders --cutoff-seq 100
//
// Notes
//
//   - record list merges the cold archive, the archive queue, and the
//     hot window into one ascending view.
//   - --filter takes a CEL expression over scope, seq, ts_ms, size,
//     text, json, and now_ms.
package client
