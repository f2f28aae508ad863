// Package srt implements SRT ingest: a listener (Server) accepting publish
// connections and a caller (Caller) pulling from remote SRT listeners. Each
// connection is registered with the ingest registry under the format named
// in its stream id.
package srt
