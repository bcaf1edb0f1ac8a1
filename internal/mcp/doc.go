// Package mcp exposes the retrieval pipeline as an MCP server.
//
// The server uses the MCP SDK (github.com/modelcontextprotocol/go-sdk/mcp)
// on the stdio transport and registers two tools: retrieve_news runs the
// full pipeline for a profile and explain_score shows the heuristic
// breakdown of a single article.
package mcp
