// Package main hosts the mdl CLI entrypoint and command graph.
//
// The Cobra command tree logs in to Momentos, lists the user's groups and
// downloads group recordings and transcripts. It resolves configuration and
// credentials once per invocation and wires the internal packages together;
// the download behaviour itself lives in internal/download.
package main
